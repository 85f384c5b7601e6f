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

package slave

import (
	"fmt"
	"os"
	"time"

	yaml "gopkg.in/yaml.v2"
)

// Session table limits
const (
	MaxPorts           = 8
	MaxSessionsPerPort = 4
	MaxSessions        = MaxPorts * MaxSessionsPerPort
)

// Protocol timers
const (
	DefaultSyncTimeout      = 3 * time.Second
	DefaultDelayRespTimeout = 2 * time.Second
	// deliberate gap between Sync receipt and Delay_Req emission, spreads
	// the request away from the Sync burst on the fabric
	DefaultDelayReqInterval = 100 * time.Millisecond
)

// Data-plane sizing
const (
	DefaultPollBatch = 32
	DefaultTxPoolCap = 1024
)

// SessionConfig describes one PTP session. Immutable once registered.
// The TX side may point at a different port than the RX side; the fabric
// routes the two legs of the exchange independently.
type SessionConfig struct {
	RxPort    int    `yaml:"rx_port"`
	RxVLAN    uint16 `yaml:"rx_vlan"`
	TxPort    int    `yaml:"tx_port"`
	TxVLAN    uint16 `yaml:"tx_vlan"`
	TxVLIndex uint16 `yaml:"tx_vl_idx"`
}

// Validate SessionConfig is sane
func (c *SessionConfig) Validate() error {
	if c.RxPort < 0 || c.RxPort >= MaxPorts {
		return fmt.Errorf("rx_port %d out of range [0, %d)", c.RxPort, MaxPorts)
	}
	if c.TxPort < 0 || c.TxPort >= MaxPorts {
		return fmt.Errorf("tx_port %d out of range [0, %d)", c.TxPort, MaxPorts)
	}
	if c.RxVLAN > 0x0FFF {
		return fmt.Errorf("rx_vlan %d is not a valid 802.1Q VLAN id", c.RxVLAN)
	}
	if c.TxVLAN > 0x0FFF {
		return fmt.Errorf("tx_vlan %d is not a valid 802.1Q VLAN id", c.TxVLAN)
	}
	return nil
}

// Config specifies engine run options
type Config struct {
	// static session set, registered at boot, never mutated at runtime
	Sessions []SessionConfig `yaml:"sessions"`

	// dedicated NIC queues for PTP traffic
	RxQueue int `yaml:"rx_queue"`
	TxQueue int `yaml:"tx_queue"`

	// how many frames one poll pulls at most
	PollBatch int `yaml:"poll_batch"`
	// how long a worker sleeps when the queue came back empty; 0 keeps the
	// loop as a pure busy poll
	IdleSleep time.Duration `yaml:"idle_sleep"`

	SyncTimeout      time.Duration `yaml:"sync_timeout"`
	DelayRespTimeout time.Duration `yaml:"delay_resp_timeout"`
	DelayReqInterval time.Duration `yaml:"delay_req_interval"`

	TxPoolCap int `yaml:"tx_pool_cap"`
}

// DefaultConfig returns Config initialized with default values
func DefaultConfig() *Config {
	return &Config{
		RxQueue:          1,
		TxQueue:          1,
		PollBatch:        DefaultPollBatch,
		IdleSleep:        50 * time.Microsecond,
		SyncTimeout:      DefaultSyncTimeout,
		DelayRespTimeout: DefaultDelayRespTimeout,
		DelayReqInterval: DefaultDelayReqInterval,
		TxPoolCap:        DefaultTxPoolCap,
	}
}

// Validate config is sane
func (c *Config) Validate() error {
	if len(c.Sessions) == 0 {
		return fmt.Errorf("at least one session must be configured")
	}
	if len(c.Sessions) > MaxSessions {
		return fmt.Errorf("%d sessions configured, at most %d supported", len(c.Sessions), MaxSessions)
	}
	perPort := map[int]int{}
	vlans := map[int]map[uint16]bool{}
	for i, s := range c.Sessions {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("session %d: %w", i, err)
		}
		perPort[s.RxPort]++
		if perPort[s.RxPort] > MaxSessionsPerPort {
			return fmt.Errorf("session %d: more than %d sessions on rx_port %d", i, MaxSessionsPerPort, s.RxPort)
		}
		if vlans[s.RxPort] == nil {
			vlans[s.RxPort] = map[uint16]bool{}
		}
		if vlans[s.RxPort][s.RxVLAN] {
			return fmt.Errorf("session %d: duplicate rx_vlan %d on rx_port %d", i, s.RxVLAN, s.RxPort)
		}
		vlans[s.RxPort][s.RxVLAN] = true
	}
	if c.PollBatch <= 0 {
		return fmt.Errorf("poll_batch must be positive")
	}
	if c.TxPoolCap <= 0 {
		return fmt.Errorf("tx_pool_cap must be positive")
	}
	if c.SyncTimeout <= 0 || c.DelayRespTimeout <= 0 || c.DelayReqInterval <= 0 {
		return fmt.Errorf("timers must be positive")
	}
	return nil
}

// ReadConfig reads config from the file
func ReadConfig(path string) (*Config, error) {
	c := DefaultConfig()
	cData, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(cData, c); err != nil {
		return nil, err
	}
	return c, nil
}
