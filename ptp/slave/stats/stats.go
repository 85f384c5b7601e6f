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

/*
Package stats implements monitoring for the PTP slave engine: per-session
snapshot types, a JSON HTTP endpoint and a Prometheus exporter.
*/
package stats

import (
	"fmt"
)

// SessionStats is a point-in-time snapshot of one session, fit for JSON
// monitoring output
type SessionStats struct {
	PortID      int    `json:"port_id"`
	VLANID      uint16 `json:"vlan_id"`
	State       string `json:"state"`
	OffsetNS    int64  `json:"offset_ns"`
	DelayNS     int64  `json:"delay_ns"`
	SyncRX      int64  `json:"sync_rx"`
	DelayReqTX  int64  `json:"delay_req_tx"`
	DelayRespRX int64  `json:"delay_resp_rx"`
	SyncTimeout int64  `json:"sync_timeout"`
	SyncErrors  int64  `json:"sync_errors"`
	SeqErrors   int64  `json:"seq_errors"`
	SyncCycles  int64  `json:"sync_cycles"`
	IsSynced    bool   `json:"is_synced"`
}

// Snapshotter is implemented by the engine control surface
type Snapshotter interface {
	// SnapshotStats fills out with per-session stats and returns how many
	// entries it filled
	SnapshotStats(out []SessionStats) int
	// MaxSessions bounds the snapshot buffer a reader needs
	MaxSessions() int
}

// Counters flattens snapshots into a key -> value map, one block of keys per
// session, for the /counters monitoring endpoint
func Counters(snap []SessionStats) map[string]int64 {
	res := make(map[string]int64)
	for _, s := range snap {
		prefix := fmt.Sprintf("ptp.slave.port%d.vlan%d", s.PortID, s.VLANID)
		res[prefix+".offset_ns"] = s.OffsetNS
		res[prefix+".delay_ns"] = s.DelayNS
		res[prefix+".sync_rx"] = s.SyncRX
		res[prefix+".delay_req_tx"] = s.DelayReqTX
		res[prefix+".delay_resp_rx"] = s.DelayRespRX
		res[prefix+".sync_timeout"] = s.SyncTimeout
		res[prefix+".sync_errors"] = s.SyncErrors
		res[prefix+".seq_errors"] = s.SeqErrors
		res[prefix+".sync_cycles"] = s.SyncCycles
		if s.IsSynced {
			res[prefix+".is_synced"] = 1
		} else {
			res[prefix+".is_synced"] = 0
		}
	}
	return res
}
