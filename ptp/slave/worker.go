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
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fatih/color"
	log "github.com/sirupsen/logrus"

	ptp "github.com/fabricnet/time/ptp/protocol"
)

// debugPaceEvery bounds how often the hot loop emits its per-frame summary
// line, so debug logging does not become the bottleneck it is measuring
const debugPaceEvery = 256

// worker is the busy-poll RX loop of one ingress port. It exclusively owns
// its port's sessions; every mutation of a Session happens here.
type worker struct {
	portID   int
	cpu      int // -1 means not pinned
	sessions []*Session

	io     PacketIO
	clk    Clock
	sender *delayReqSender
	cfg    *Config

	stop *atomic.Bool

	frames    uint64
	dropped   uint64
	scratch   *ptp.SyncDelayReq
	scratchDR *ptp.DelayResp
}

func newWorker(portID, cpu int, sessions []*Session, io PacketIO, clk Clock, sender *delayReqSender, cfg *Config, stop *atomic.Bool) *worker {
	return &worker{
		portID:    portID,
		cpu:       cpu,
		sessions:  sessions,
		io:        io,
		clk:       clk,
		sender:    sender,
		cfg:       cfg,
		stop:      stop,
		scratch:   &ptp.SyncDelayReq{},
		scratchDR: &ptp.DelayResp{},
	}
}

// run is the worker loop. It never returns an error: frames that fail to
// parse are dropped and counted, everything else is logged and life goes on.
func (w *worker) run(wg *sync.WaitGroup) {
	defer wg.Done()
	if w.cpu >= 0 {
		runtime.LockOSThread()
		if err := pinToCPU(w.cpu); err != nil {
			log.Warningf("worker port=%d: pinning to cpu %d: %v", w.portID, w.cpu, err)
		} else {
			log.Infof("worker port=%d pinned to cpu %d", w.portID, w.cpu)
		}
	}
	log.Infof("worker port=%d polling queue %d with %d sessions", w.portID, w.cfg.RxQueue, len(w.sessions))

	// move every session out of INIT before the first poll, so a Sync that
	// is already queued at start is handled from LISTENING
	start := w.clk.MonoNS()
	for _, s := range w.sessions {
		s.tick(start, w.sender)
	}

	out := make([][]byte, w.cfg.PollBatch)
	for !w.stop.Load() {
		n := w.io.RxBurst(w.portID, w.cfg.RxQueue, out)
		// t2 candidates, sampled as close to the dequeue as we can get
		wall := w.clk.WallNS()
		mono := w.clk.MonoNS()
		for i := 0; i < n; i++ {
			w.handleFrame(out[i], wall, mono)
			out[i] = nil
		}

		now := w.clk.MonoNS()
		for _, s := range w.sessions {
			s.tick(now, w.sender)
		}

		if n == 0 && w.cfg.IdleSleep > 0 {
			time.Sleep(w.cfg.IdleSleep)
		}
		runtime.Gosched()
	}
	log.Infof("worker port=%d stopped after %d frames (%d dropped)", w.portID, w.frames, w.dropped)
}

func (w *worker) handleFrame(b []byte, wallNS, monoNS int64) {
	payload, vlan, ok := ptp.ClassifyFrame(b)
	if !ok {
		// steering fell back to the default queue, or the filter let
		// something odd through
		atomic.AddUint64(&w.dropped, 1)
		return
	}
	frames := atomic.AddUint64(&w.frames, 1)
	s := w.lookup(vlan)
	if s == nil {
		atomic.AddUint64(&w.dropped, 1)
		if frames%debugPaceEvery == 0 {
			log.Debugf("port %d: PTP frame for vlan %d with no session", w.portID, vlan)
		}
		return
	}

	msgType, err := ptp.ProbeMsgType(payload)
	if err != nil {
		atomic.AddUint64(&w.dropped, 1)
		return
	}
	switch msgType {
	case ptp.MessageSync:
		if err := w.scratch.UnmarshalBinary(payload); err != nil {
			atomic.AddUint64(&w.dropped, 1)
			return
		}
		w.logReceive(s, ptp.MessageSync, w.scratch.SequenceID)
		s.handleSync(w.scratch, wallNS, monoNS)
	case ptp.MessageDelayResp:
		if err := w.scratchDR.UnmarshalBinary(payload); err != nil {
			atomic.AddUint64(&w.dropped, 1)
			return
		}
		w.logReceive(s, ptp.MessageDelayResp, w.scratchDR.SequenceID)
		s.handleDelayResp(w.scratchDR, monoNS)
	case ptp.MessageFollowUp, ptp.MessageAnnounce:
		// accepted and dropped; one-step only, no BMCA
	default:
		// other message types are ignored without counting as errors
	}
}

func (w *worker) lookup(vlan uint16) *Session {
	for _, s := range w.sessions {
		if s.cfg.RxVLAN == vlan {
			return s
		}
	}
	return nil
}

// logReceive emits a paced debug line about inbound traffic
func (w *worker) logReceive(s *Session, t ptp.MessageType, seq uint16) {
	if atomic.LoadUint64(&w.frames)%debugPaceEvery != 0 {
		return
	}
	log.Debug(color.BlueString("master -> %s (port=%d vlan=%d seq=%d)", t, s.cfg.RxPort, s.cfg.RxVLAN, seq))
}
