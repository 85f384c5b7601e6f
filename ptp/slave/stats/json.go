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
	"fmt"
	"net/http"

	log "github.com/sirupsen/logrus"
)

// JSONStats is what we want to report as stats via http
type JSONStats struct {
	snap Snapshotter
}

// NewJSONStats returns a new JSONStats
func NewJSONStats(snap Snapshotter) *JSONStats {
	return &JSONStats{snap: snap}
}

// Start runs http server
func (s *JSONStats) Start(monitoringport int) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleSessionsRequest)
	mux.HandleFunc("/counters", s.handleCountersRequest)
	addr := fmt.Sprintf(":%d", monitoringport)
	log.Infof("Starting http json server on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("Failed to start listener: %v", err)
	}
}

func (s *JSONStats) collect() []SessionStats {
	out := make([]SessionStats, s.snap.MaxSessions())
	n := s.snap.SnapshotStats(out)
	return out[:n]
}

// handleSessionsRequest serves per-session snapshots
func (s *JSONStats) handleSessionsRequest(w http.ResponseWriter, _ *http.Request) {
	js, err := json.Marshal(s.collect())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err = w.Write(js); err != nil {
		log.Errorf("Failed to reply: %v", err)
	}
}

// handleCountersRequest serves the same data flattened to key/value pairs
func (s *JSONStats) handleCountersRequest(w http.ResponseWriter, _ *http.Request) {
	js, err := json.Marshal(Counters(s.collect()))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err = w.Write(js); err != nil {
		log.Errorf("Failed to reply: %v", err)
	}
}
