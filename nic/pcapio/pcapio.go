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
Package pcapio adapts ordinary kernel interfaces to the engine's NIC
surfaces using libpcap. It exists so the slave runs on a plain linux box:
RX/TX bursts map to pcap reads and injections, and the flow-steering
patterns map to BPF filters, which reject and fall through the same way a
NIC classifier does. The engine itself never imports this package.
*/
package pcapio

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/gopacket/pcap"
	log "github.com/sirupsen/logrus"

	"github.com/fabricnet/time/ptp/slave"
)

const (
	snapshotLen = 256
	// keeps RxBurst close to non-blocking without spinning the kernel
	readTimeout = time.Millisecond
)

// bpf programs standing in for the NIC classifier patterns
var patternFilters = map[slave.FlowPattern]string{
	slave.FlowPatternVLANAnyOuter:      "vlan and ether proto 0x88f7",
	slave.FlowPatternVLANExplicitOuter: "ether[12:2] = 0x8100 and ether[16:2] = 0x88f7",
	slave.FlowPatternUntagged:          "ether proto 0x88f7",
}

// Conn implements slave.PacketIO and slave.FlowRuler over one pcap handle
// per port
type Conn struct {
	mu         sync.Mutex
	handles    map[int]*pcap.Handle
	rulePort   map[slave.RuleHandle]int
	nextHandle slave.RuleHandle
}

// New opens one live handle per entry of ifaceByPort (port id -> interface
// name)
func New(ifaceByPort map[int]string) (*Conn, error) {
	c := &Conn{
		handles:  map[int]*pcap.Handle{},
		rulePort: map[slave.RuleHandle]int{},
	}
	for portID, iface := range ifaceByPort {
		h, err := openHandle(iface)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("opening %s for port %d: %w", iface, portID, err)
		}
		c.handles[portID] = h
		log.Infof("port %d mapped to %s", portID, iface)
	}
	return c, nil
}

// openHandle activates a live capture tuned for busy polling: short read
// timeout plus immediate mode so frames are not held back for batching
func openHandle(iface string) (*pcap.Handle, error) {
	inactive, err := pcap.NewInactiveHandle(iface)
	if err != nil {
		return nil, err
	}
	defer inactive.CleanUp()
	if err := inactive.SetSnapLen(snapshotLen); err != nil {
		return nil, err
	}
	if err := inactive.SetPromisc(true); err != nil {
		return nil, err
	}
	if err := inactive.SetTimeout(readTimeout); err != nil {
		return nil, err
	}
	if err := inactive.SetImmediateMode(true); err != nil {
		return nil, err
	}
	return inactive.Activate()
}

// RxBurst pulls up to len(out) frames from the port's handle. The queue id
// is ignored: a pcap handle has a single stream, the BPF filter plays the
// role of the dedicated queue.
func (c *Conn) RxBurst(port, _ int, out [][]byte) int {
	c.mu.Lock()
	h := c.handles[port]
	c.mu.Unlock()
	if h == nil {
		return 0
	}
	n := 0
	for n < len(out) {
		data, _, err := h.ReadPacketData()
		if err != nil {
			break
		}
		out[n] = data
		n++
	}
	return n
}

// TxBurst injects frames on the port's handle and returns how many went out
func (c *Conn) TxBurst(port, _ int, frames [][]byte) int {
	c.mu.Lock()
	h := c.handles[port]
	c.mu.Unlock()
	if h == nil {
		return 0
	}
	sent := 0
	for _, f := range frames {
		if err := h.WritePacketData(f); err != nil {
			log.Warningf("port %d: injecting frame: %v", port, err)
			continue
		}
		sent++
	}
	return sent
}

// CreateRule compiles and installs the BPF program for a pattern. A pattern
// the kernel cannot compile is rejected, which drives the engine's fallback
// cascade.
func (c *Conn) CreateRule(port int, pattern slave.FlowPattern, _ slave.FlowAction) (slave.RuleHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := c.handles[port]
	if h == nil {
		return 0, fmt.Errorf("no handle for port %d", port)
	}
	filter, ok := patternFilters[pattern]
	if !ok {
		return 0, fmt.Errorf("unknown flow pattern %d", pattern)
	}
	if err := h.SetBPFFilter(filter); err != nil {
		return 0, fmt.Errorf("installing %q: %w", filter, err)
	}
	c.nextHandle++
	c.rulePort[c.nextHandle] = port
	return c.nextHandle, nil
}

// DestroyRule clears the port's filter
func (c *Conn) DestroyRule(port int, handle slave.RuleHandle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	owner, ok := c.rulePort[handle]
	if !ok || owner != port {
		return fmt.Errorf("unknown rule handle %d for port %d", handle, port)
	}
	delete(c.rulePort, handle)
	h := c.handles[port]
	if h == nil {
		return nil
	}
	return h.SetBPFFilter("")
}

// Close releases every handle
func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for portID, h := range c.handles {
		h.Close()
		delete(c.handles, portID)
	}
}
