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
Package slave implements the PTP session engine of the forwarding appliance:
a one-step IEEE 1588v2 slave running up to 32 independent sessions, each
bound to an (ingress port, VLAN) pair, with per-session asymmetric routing
of the Delay_Req leg. One busy-poll worker per ingress port owns that port's
sessions; the control surface configures, starts, stops and snapshots them.
*/
package slave

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	ptp "github.com/fabricnet/time/ptp/protocol"
	"github.com/fabricnet/time/ptp/slave/stats"
)

// Control-surface sentinels
var (
	ErrNotInitialized    = errors.New("engine is not initialized")
	ErrAlreadyRunning    = errors.New("engine is already running")
	ErrNotConfigured     = errors.New("no sessions configured")
	ErrSteeringFailed    = errors.New("flow steering failed on every port")
	ErrAlreadyConfigured = errors.New("sessions already configured")
)

// Engine owns the session table and the workers. One Engine per process is
// the expected deployment, but nothing here is global: everything hangs off
// this value.
type Engine struct {
	mu sync.Mutex

	cfg   *Config
	io    PacketIO
	flows FlowRuler
	clk   Clock

	table  sessionTable
	timers timing

	pools   map[int]*txPool
	workers []*worker
	cpuPins map[int]int

	stop atomic.Bool
	wg   sync.WaitGroup

	localMAC net.HardwareAddr

	initialized bool
	configured  bool
	running     bool
}

// New creates an Engine over the given collaborator surfaces. Pass a nil
// clock to use the system clock.
func New(cfg *Config, io PacketIO, flows FlowRuler, clk Clock) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if clk == nil {
		clk = newSystemClock()
	}
	return &Engine{
		cfg:     cfg,
		io:      io,
		flows:   flows,
		clk:     clk,
		pools:   map[int]*txPool{},
		cpuPins: map[int]int{},
	}
}

// Init converts the configured timers to nanoseconds and captures the local
// MAC used for reporting.
// One-shot; Cleanup undoes it.
func (e *Engine) Init() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.initialized {
		return nil
	}
	e.timers = timing{
		syncTimeout:      e.cfg.SyncTimeout.Nanoseconds(),
		delayRespTimeout: e.cfg.DelayRespTimeout.Nanoseconds(),
		delayReqInterval: e.cfg.DelayReqInterval.Nanoseconds(),
	}
	e.localMAC = firstHardwareAddr()
	log.Infof("ptp slave engine initialized, reporting MAC %s, identity %s",
		e.localMAC, ptp.SlavePortIdentity)
	e.initialized = true
	return nil
}

// Configure populates the session table from the static session set.
// Fails closed: an invalid entry leaves no partial extra state beyond the
// sessions already added. Must happen before Start.
func (e *Engine) Configure(sessions []SessionConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return ErrAlreadyRunning
	}
	if e.configured {
		return ErrAlreadyConfigured
	}
	if len(sessions) == 0 {
		return ErrNotConfigured
	}
	if len(sessions) > MaxSessions {
		return fmt.Errorf("%d sessions, at most %d supported", len(sessions), MaxSessions)
	}
	for i, cfg := range sessions {
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("session %d: %w", i, err)
		}
		if err := e.table.addSession(cfg, &e.timers); err != nil {
			return fmt.Errorf("session %d: %w", i, err)
		}
	}
	e.configured = true
	log.Infof("configured %d sessions on %d ports", len(sessions), len(e.table.enabledPorts()))
	return nil
}

// PinWorker binds the worker of an ingress port to a CPU. Takes effect at
// Start.
func (e *Engine) PinWorker(portID, cpu int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if portID < 0 || portID >= MaxPorts {
		return fmt.Errorf("port %d out of range [0, %d)", portID, MaxPorts)
	}
	if cpu < 0 {
		return fmt.Errorf("cpu %d is not a valid CPU id", cpu)
	}
	e.cpuPins[portID] = cpu
	return nil
}

// Start installs flow rules and launches one worker per enabled port.
// A port whose NIC rejects every steering pattern still starts on the
// default RX queue; Start fails only when steering failed on every port,
// which in practice means the flow surface is broken.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return ErrNotInitialized
	}
	if e.running {
		return ErrAlreadyRunning
	}
	if !e.configured {
		return ErrNotConfigured
	}

	ports := e.table.enabledPorts()
	steered := 0
	for _, portID := range ports {
		handle, ok := installSteering(e.flows, portID, e.cfg.RxQueue)
		if ok {
			e.table.ports[portID].rule = handle
			e.table.ports[portID].hasRule = true
			steered++
		}
	}
	if steered == 0 {
		return ErrSteeringFailed
	}

	e.stop.Store(false)
	e.workers = e.workers[:0]
	for _, portID := range ports {
		pool := newTxPool(e.cfg.TxPoolCap, ptp.DelayReqFrameSize)
		e.pools[portID] = pool
		sender := newDelayReqSender(e.io, pool, e.clk, e.cfg.TxQueue)
		cpu := -1
		if pinned, ok := e.cpuPins[portID]; ok {
			cpu = pinned
		}
		w := newWorker(portID, cpu, e.table.ports[portID].sessions, e.io, e.clk, sender, e.cfg, &e.stop)
		e.workers = append(e.workers, w)
		e.wg.Add(1)
		go w.run(&e.wg)
	}
	e.running = true
	log.Infof("started %d workers, %d/%d ports steered", len(e.workers), steered, len(ports))
	return nil
}

// Stop raises the stop flag, joins every worker, then tears down flow rules
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}
	e.stop.Store(true)
	e.wg.Wait()
	for portID := range e.table.ports {
		p := &e.table.ports[portID]
		if !p.hasRule {
			continue
		}
		if err := e.flows.DestroyRule(portID, p.rule); err != nil {
			log.Warningf("port %d: destroying flow rule: %v", portID, err)
		}
		p.hasRule = false
	}
	e.running = false
	log.Infof("ptp slave engine stopped")
}

// Cleanup releases buffer pools and resets the initialized flag. The engine
// must be stopped first.
func (e *Engine) Cleanup() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		log.Warningf("Cleanup called on a running engine, ignoring")
		return
	}
	e.pools = map[int]*txPool{}
	e.table.reset()
	e.configured = false
	e.initialized = false
}

// MaxSessions bounds the snapshot buffer a stats reader needs
func (e *Engine) MaxSessions() int {
	return MaxSessions
}

// SnapshotStats fills out with one entry per configured session and returns
// how many entries it filled. Counters are read atomically; the offset/delay
// pair is copied field by field and may momentarily disagree with the cycle
// counter, which readers needing coherence handle by sampling twice.
func (e *Engine) SnapshotStats(out []stats.SessionStats) int {
	n := 0
	for _, s := range e.table.allSessions() {
		if n >= len(out) {
			break
		}
		out[n] = stats.SessionStats{
			PortID:      s.cfg.RxPort,
			VLANID:      s.cfg.RxVLAN,
			State:       s.state.String(),
			OffsetNS:    s.offsetNS,
			DelayNS:     s.delayNS,
			SyncRX:      atomic.LoadInt64(&s.syncRX),
			DelayReqTX:  atomic.LoadInt64(&s.delayReqTX),
			DelayRespRX: atomic.LoadInt64(&s.delayRespRX),
			SyncTimeout: atomic.LoadInt64(&s.syncTimeout),
			SyncErrors:  atomic.LoadInt64(&s.syncErrors),
			SeqErrors:   atomic.LoadInt64(&s.seqErrors),
			SyncCycles:  atomic.LoadInt64(&s.syncCycles),
			IsSynced:    s.isSynced,
		}
		n++
	}
	return n
}

// ResetStats zeros all per-session counters. State and the in-flight cycle
// are left alone.
func (e *Engine) ResetStats() {
	for _, s := range e.table.allSessions() {
		s.resetCounters()
	}
}

// firstHardwareAddr finds a MAC to report; purely informational
func firstHardwareAddr() net.HardwareAddr {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) == 0 {
			continue
		}
		return iface.HardwareAddr
	}
	return nil
}
