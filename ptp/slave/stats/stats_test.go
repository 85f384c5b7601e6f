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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSnapshotter serves a fixed snapshot
type fakeSnapshotter struct {
	snap []SessionStats
}

func (f *fakeSnapshotter) SnapshotStats(out []SessionStats) int {
	return copy(out, f.snap)
}

func (f *fakeSnapshotter) MaxSessions() int { return 32 }

var testSnap = []SessionStats{
	{
		PortID:      5,
		VLANID:      225,
		State:       "SYNCED",
		OffsetNS:    -74_925_000,
		DelayNS:     74_975_000,
		SyncRX:      10,
		DelayReqTX:  9,
		DelayRespRX: 8,
		SyncCycles:  8,
		IsSynced:    true,
	},
	{
		PortID: 1,
		VLANID: 300,
		State:  "LISTENING",
	},
}

func TestCounters(t *testing.T) {
	res := Counters(testSnap)
	assert.Equal(t, int64(-74_925_000), res["ptp.slave.port5.vlan225.offset_ns"])
	assert.Equal(t, int64(74_975_000), res["ptp.slave.port5.vlan225.delay_ns"])
	assert.Equal(t, int64(10), res["ptp.slave.port5.vlan225.sync_rx"])
	assert.Equal(t, int64(1), res["ptp.slave.port5.vlan225.is_synced"])
	assert.Equal(t, int64(0), res["ptp.slave.port1.vlan300.is_synced"])
	assert.Equal(t, int64(0), res["ptp.slave.port1.vlan300.sync_rx"])
	assert.Len(t, res, 20)
}

func TestJSONStatsHandlers(t *testing.T) {
	s := NewJSONStats(&fakeSnapshotter{snap: testSnap})

	rec := httptest.NewRecorder()
	s.handleSessionsRequest(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var got []SessionStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, testSnap, got)

	rec = httptest.NewRecorder()
	s.handleCountersRequest(rec, httptest.NewRequest(http.MethodGet, "/counters", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var counters map[string]int64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &counters))
	assert.Equal(t, int64(8), counters["ptp.slave.port5.vlan225.sync_cycles"])
}

func TestPrometheusExporterRefresh(t *testing.T) {
	e := NewPrometheusExporter(&fakeSnapshotter{snap: testSnap}, 0, time.Minute)
	e.Refresh()

	metrics, err := e.registry.Gather()
	require.NoError(t, err)
	found := map[string]float64{}
	for _, mf := range metrics {
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, l := range m.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			if labels["port"] == "5" && labels["vlan"] == "225" {
				found[mf.GetName()] = m.GetGauge().GetValue()
			}
		}
	}
	assert.Equal(t, float64(-74_925_000), found["ptp_slave_offset_ns"])
	assert.Equal(t, float64(74_975_000), found["ptp_slave_delay_ns"])
	assert.Equal(t, float64(1), found["ptp_slave_synced"])
	assert.Equal(t, float64(10), found["ptp_slave_sync_rx_total"])
	assert.Equal(t, float64(8), found["ptp_slave_cycles_total"])
}
