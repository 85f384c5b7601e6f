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

package stats

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// PrometheusExporter publishes session snapshots as labeled gauges
type PrometheusExporter struct {
	registry   *prometheus.Registry
	snap       Snapshotter
	listenPort int
	interval   time.Duration

	offset      *prometheus.GaugeVec
	delay       *prometheus.GaugeVec
	synced      *prometheus.GaugeVec
	syncRX      *prometheus.GaugeVec
	delayReqTX  *prometheus.GaugeVec
	delayRespRX *prometheus.GaugeVec
	timeouts    *prometheus.GaugeVec
	syncErrors  *prometheus.GaugeVec
	cycles      *prometheus.GaugeVec
}

var sessionLabels = []string{"port", "vlan"}

// NewPrometheusExporter creates a new instance of PrometheusExporter
func NewPrometheusExporter(snap Snapshotter, listenPort int, refreshInterval time.Duration) *PrometheusExporter {
	e := &PrometheusExporter{
		registry:   prometheus.NewRegistry(),
		snap:       snap,
		listenPort: listenPort,
		interval:   refreshInterval,
	}
	gauge := func(name, help string) *prometheus.GaugeVec {
		g := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, sessionLabels)
		e.registry.MustRegister(g)
		return g
	}
	e.offset = gauge("ptp_slave_offset_ns", "clock offset of the last completed cycle")
	e.delay = gauge("ptp_slave_delay_ns", "one-way path delay of the last completed cycle")
	e.synced = gauge("ptp_slave_synced", "1 when the session is in SYNCED state")
	e.syncRX = gauge("ptp_slave_sync_rx_total", "Sync messages received")
	e.delayReqTX = gauge("ptp_slave_delay_req_tx_total", "Delay_Req messages transmitted")
	e.delayRespRX = gauge("ptp_slave_delay_resp_rx_total", "Delay_Resp messages accepted")
	e.timeouts = gauge("ptp_slave_timeouts_total", "Sync and Delay_Resp timeouts")
	e.syncErrors = gauge("ptp_slave_errors_total", "transmit errors")
	e.cycles = gauge("ptp_slave_cycles_total", "completed offset/delay cycles")
	return e
}

// Start refreshes gauges on the configured interval and serves /metrics
func (e *PrometheusExporter) Start() {
	go func() {
		for range time.Tick(e.interval) {
			e.Refresh()
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{}))
	addr := fmt.Sprintf(":%d", e.listenPort)
	log.Infof("Starting prometheus exporter on %s", addr)
	log.Fatal(http.ListenAndServe(addr, mux))
}

// Refresh pulls one snapshot and updates every gauge
func (e *PrometheusExporter) Refresh() {
	out := make([]SessionStats, e.snap.MaxSessions())
	n := e.snap.SnapshotStats(out)
	for _, s := range out[:n] {
		l := prometheus.Labels{
			"port": strconv.Itoa(s.PortID),
			"vlan": strconv.Itoa(int(s.VLANID)),
		}
		e.offset.With(l).Set(float64(s.OffsetNS))
		e.delay.With(l).Set(float64(s.DelayNS))
		if s.IsSynced {
			e.synced.With(l).Set(1)
		} else {
			e.synced.With(l).Set(0)
		}
		e.syncRX.With(l).Set(float64(s.SyncRX))
		e.delayReqTX.With(l).Set(float64(s.DelayReqTX))
		e.delayRespRX.With(l).Set(float64(s.DelayRespRX))
		e.timeouts.With(l).Set(float64(s.SyncTimeout))
		e.syncErrors.With(l).Set(float64(s.SyncErrors))
		e.cycles.With(l).Set(float64(s.SyncCycles))
	}
}
