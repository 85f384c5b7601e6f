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

import "fmt"

// port is one slot of the session table
type port struct {
	enabled  bool
	sessions []*Session

	// at most one steering rule per port
	rule    RuleHandle
	hasRule bool
}

// sessionTable is the fixed two-level table: up to MaxPorts ingress ports,
// each hosting up to MaxSessionsPerPort sessions keyed by RX VLAN. Built at
// configure time, never mutated until shutdown. The table owns every
// Session; workers get non-owning references to their port's slice.
type sessionTable struct {
	ports [MaxPorts]port
}

func (t *sessionTable) addSession(cfg SessionConfig, timers *timing) error {
	if cfg.RxPort < 0 || cfg.RxPort >= MaxPorts {
		return fmt.Errorf("rx_port %d out of range [0, %d)", cfg.RxPort, MaxPorts)
	}
	p := &t.ports[cfg.RxPort]
	if len(p.sessions) >= MaxSessionsPerPort {
		return fmt.Errorf("rx_port %d already has %d sessions", cfg.RxPort, MaxSessionsPerPort)
	}
	for _, s := range p.sessions {
		if s.cfg.RxVLAN == cfg.RxVLAN {
			return fmt.Errorf("rx_port %d already has a session for vlan %d", cfg.RxPort, cfg.RxVLAN)
		}
	}
	p.sessions = append(p.sessions, newSession(cfg, timers))
	p.enabled = true
	return nil
}

// lookup finds the session owning vlan on the given port, nil if none
func (t *sessionTable) lookup(portID int, vlan uint16) *Session {
	for _, s := range t.ports[portID].sessions {
		if s.cfg.RxVLAN == vlan {
			return s
		}
	}
	return nil
}

// enabledPorts returns ids of ports owning at least one session
func (t *sessionTable) enabledPorts() []int {
	var ids []int
	for i := range t.ports {
		if t.ports[i].enabled {
			ids = append(ids, i)
		}
	}
	return ids
}

// allSessions returns every session in port, then configuration, order
func (t *sessionTable) allSessions() []*Session {
	var all []*Session
	for i := range t.ports {
		all = append(all, t.ports[i].sessions...)
	}
	return all
}

func (t *sessionTable) reset() {
	*t = sessionTable{}
}
