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
	"sync/atomic"

	ptp "github.com/fabricnet/time/ptp/protocol"
	log "github.com/sirupsen/logrus"
)

// timing groups the protocol timers in nanoseconds so the session tick does
// no Duration conversions in the hot loop
type timing struct {
	syncTimeout      int64
	delayRespTimeout int64
	delayReqInterval int64
}

// delayReqTransmitter sends the session's Delay_Req and records t3 on it
type delayReqTransmitter interface {
	sendDelayReq(s *Session) error
}

// Session is the runtime state of one (rx_port, rx_vlan) endpoint.
// All fields except the atomic counters are owned by the RX worker of
// cfg.RxPort; the control surface reads them field by field and tolerates
// torn reads, as documented on Engine.SnapshotStats.
type Session struct {
	cfg    SessionConfig
	timers *timing

	state State

	ourIdentity    ptp.PortIdentity
	masterIdentity ptp.PortIdentity
	masterDomain   uint8

	syncSeqID         uint16
	delayReqSeqID     uint16
	lastDelayReqSeqID uint16

	// the four canonical timestamps of the current cycle, wall-clock ns
	t1, t2, t3, t4 int64
	// monotonic companions of t2/t3 for interval math
	t2Mono, t3Mono int64

	lastSyncMono   int64
	lastTransition int64

	offsetNS int64
	delayNS  int64
	isSynced bool

	// counters; atomics so the control surface can read and reset them
	// from another thread
	syncRX      int64
	delayReqTX  int64
	delayRespRX int64
	syncTimeout int64
	syncErrors  int64
	seqErrors   int64
	syncCycles  int64
}

func newSession(cfg SessionConfig, timers *timing) *Session {
	return &Session{
		cfg:    cfg,
		timers: timers,
		state:  StateInit,
		// the first Delay_Req goes out with sequence id 1
		delayReqSeqID: 1,
		ourIdentity:   ptp.SlavePortIdentity,
	}
}

func (s *Session) setState(st State, now int64) {
	if s.state == st {
		return
	}
	log.Debugf("session port=%d vlan=%d: %s -> %s", s.cfg.RxPort, s.cfg.RxVLAN, s.state, st)
	if s.state == StateSynced {
		s.isSynced = false
	}
	s.state = st
	s.lastTransition = now
}

// handleSync processes a one-step Sync. Master info and counters are always
// updated; the t1/t2 pair and the state advance only from LISTENING, SYNCED
// or ERROR, so a Sync arriving in SYNC_RECEIVED or DELAY_REQ_SENT cannot
// corrupt the in-flight exchange. A Sync seen in INIT only moves counters.
func (s *Session) handleSync(p *ptp.SyncDelayReq, wallNS, monoNS int64) {
	atomic.AddInt64(&s.syncRX, 1)
	s.masterIdentity = p.SourcePortIdentity
	s.masterDomain = p.DomainNumber
	s.syncSeqID = p.SequenceID
	s.lastSyncMono = monoNS

	switch s.state {
	case StateListening, StateSynced, StateError:
		s.t1 = int64(p.OriginTimestamp.Nanoseconds64())
		s.t2 = wallNS
		s.t2Mono = monoNS
		s.setState(StateSyncReceived, monoNS)
	}
}

// handleDelayResp processes a Delay_Resp. Only the sequence id gates
// acceptance: the master echoes zeros or unrelated bytes in the requesting
// port identity, so that field is deliberately not checked.
func (s *Session) handleDelayResp(p *ptp.DelayResp, monoNS int64) {
	if p.SequenceID != s.lastDelayReqSeqID {
		// stale, or belongs to a different slave on the same VLAN
		return
	}
	if s.state != StateDelayReqSent {
		// matching sequence id but no request outstanding: a late duplicate
		atomic.AddInt64(&s.seqErrors, 1)
		return
	}
	atomic.AddInt64(&s.delayRespRX, 1)
	s.t4 = int64(p.ReceiveTimestamp.Nanoseconds64())
	if s.t4 == 0 {
		// master omitted its receive timestamp; the cycle completed at the
		// protocol level but this round has no usable clock relationship
		s.offsetNS, s.delayNS = 0, 0
	} else {
		s.offsetNS, s.delayNS = computeOffsetDelay(s.t1, s.t2, s.t3, s.t4)
	}
	s.setState(StateSynced, monoNS)
	s.isSynced = true
	atomic.AddInt64(&s.syncCycles, 1)
}

// tick advances the state machine against the monotonic clock. Called once
// per worker iteration.
func (s *Session) tick(now int64, tx delayReqTransmitter) {
	switch s.state {
	case StateInit:
		s.setState(StateListening, now)
	case StateListening:
		if s.lastSyncMono != 0 && now-s.lastSyncMono > s.timers.syncTimeout {
			atomic.AddInt64(&s.syncTimeout, 1)
			// count the silence once, not on every tick
			s.lastSyncMono = 0
		}
	case StateSyncReceived:
		if now-s.lastTransition >= s.timers.delayReqInterval {
			if err := tx.sendDelayReq(s); err != nil {
				log.Warningf("session port=%d vlan=%d: delay_req tx: %v", s.cfg.RxPort, s.cfg.RxVLAN, err)
				atomic.AddInt64(&s.syncErrors, 1)
				s.setState(StateError, now)
				return
			}
			s.setState(StateDelayReqSent, s.t3Mono)
		}
	case StateDelayReqSent:
		if now-s.lastTransition > s.timers.delayRespTimeout {
			atomic.AddInt64(&s.syncTimeout, 1)
			s.setState(StateListening, now)
		}
	case StateSynced:
		if now-s.lastSyncMono > s.timers.syncTimeout {
			atomic.AddInt64(&s.syncTimeout, 1)
			s.lastSyncMono = 0
			s.setState(StateListening, now)
		}
	case StateError:
		if now-s.lastTransition > s.timers.syncTimeout {
			s.setState(StateListening, now)
		}
	}
}

func (s *Session) resetCounters() {
	atomic.StoreInt64(&s.syncRX, 0)
	atomic.StoreInt64(&s.delayReqTX, 0)
	atomic.StoreInt64(&s.delayRespRX, 0)
	atomic.StoreInt64(&s.syncTimeout, 0)
	atomic.StoreInt64(&s.syncErrors, 0)
	atomic.StoreInt64(&s.seqErrors, 0)
	atomic.StoreInt64(&s.syncCycles, 0)
}
