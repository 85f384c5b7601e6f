/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/fabricnet/time/nic/pcapio"
	"github.com/fabricnet/time/ptp/slave"
	"github.com/fabricnet/time/ptp/slave/stats"
)

var (
	cfgPath        string
	ifaceMap       []string
	logLevel       string
	monitoringPort int
	promPort       int
	promInterval   time.Duration
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "ptpslave",
		Short: "IEEE 1588v2 one-step slave for the switch fabric",
		RunE: func(_ *cobra.Command, _ []string) error {
			return run()
		},
	}
	rootCmd.Flags().StringVar(&cfgPath, "config", "", "path to the session table config")
	rootCmd.Flags().StringSliceVar(&ifaceMap, "port", nil, "port mapping as id=iface, e.g. --port 5=eth5 (repeatable)")
	rootCmd.Flags().StringVar(&logLevel, "loglevel", "info", "set a log level. Can be: debug, info, warning, error")
	rootCmd.Flags().IntVar(&monitoringPort, "monitoringport", 8889, "port to run the json monitoring server on")
	rootCmd.Flags().IntVar(&promPort, "promport", 9889, "port to expose prometheus metrics on, 0 disables")
	rootCmd.Flags().DurationVar(&promInterval, "prominterval", 10*time.Second, "prometheus gauge refresh interval")
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func parseIfaceMap(entries []string) (map[int]string, error) {
	m := map[int]string{}
	for _, e := range entries {
		parts := strings.SplitN(e, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid port mapping %q, want id=iface", e)
		}
		id, err := strconv.Atoi(parts[0])
		if err != nil {
			return nil, fmt.Errorf("invalid port id in %q: %w", e, err)
		}
		m[id] = parts[1]
	}
	return m, nil
}

func run() error {
	switch logLevel {
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warning":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	default:
		return fmt.Errorf("unrecognized log level: %v", logLevel)
	}

	if cfgPath == "" {
		return fmt.Errorf("--config is required")
	}
	cfg, err := slave.ReadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("reading config from %q: %w", cfgPath, err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	ports, err := parseIfaceMap(ifaceMap)
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		return fmt.Errorf("at least one --port mapping is required")
	}

	conn, err := pcapio.New(ports)
	if err != nil {
		return err
	}
	defer conn.Close()

	engine := slave.New(cfg, conn, conn, nil)
	if err := engine.Init(); err != nil {
		return err
	}
	if err := engine.Configure(cfg.Sessions); err != nil {
		return err
	}
	if err := engine.Start(); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		stats.NewJSONStats(engine).Start(monitoringPort)
		return nil
	})
	if promPort > 0 {
		eg.Go(func() error {
			stats.NewPrometheusExporter(engine, promPort, promInterval).Start()
			return nil
		})
	}
	eg.Go(func() error {
		<-ctx.Done()
		log.Infof("shutting down")
		engine.Stop()
		engine.Cleanup()
		os.Exit(0)
		return nil
	})
	return eg.Wait()
}
