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
	"sync"
	"time"

	ptp "github.com/fabricnet/time/ptp/protocol"
)

// fakeClock is a hand-cranked Clock
type fakeClock struct {
	mu   sync.Mutex
	wall int64
	mono int64
}

func (c *fakeClock) WallNS() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wall
}

func (c *fakeClock) MonoNS() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mono
}

func (c *fakeClock) set(wall, mono int64) {
	c.mu.Lock()
	c.wall = wall
	c.mono = mono
	c.mu.Unlock()
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.wall += d.Nanoseconds()
	c.mono += d.Nanoseconds()
	c.mu.Unlock()
}

// sentFrame records one TxBurst frame
type sentFrame struct {
	port  int
	queue int
	data  []byte
}

// fakeIO is an in-memory PacketIO: per-port RX queues, recorded TX
type fakeIO struct {
	mu       sync.Mutex
	rx       map[int][][]byte
	sent     []sentFrame
	txAccept bool
}

func newFakeIO() *fakeIO {
	return &fakeIO{rx: map[int][][]byte{}, txAccept: true}
}

func (f *fakeIO) push(port int, frames ...[]byte) {
	f.mu.Lock()
	f.rx[port] = append(f.rx[port], frames...)
	f.mu.Unlock()
}

func (f *fakeIO) RxBurst(port, _ int, out [][]byte) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	q := f.rx[port]
	n := 0
	for n < len(out) && n < len(q) {
		out[n] = q[n]
		n++
	}
	f.rx[port] = q[n:]
	return n
}

func (f *fakeIO) TxBurst(port, queue int, frames [][]byte) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.txAccept {
		return 0
	}
	for _, fr := range frames {
		data := make([]byte, len(fr))
		copy(data, fr)
		f.sent = append(f.sent, sentFrame{port: port, queue: queue, data: data})
	}
	return len(frames)
}

func (f *fakeIO) sentFrames() []sentFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentFrame, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeIO) setTxAccept(ok bool) {
	f.mu.Lock()
	f.txAccept = ok
	f.mu.Unlock()
}

// createdRule records one accepted CreateRule call
type createdRule struct {
	port    int
	pattern FlowPattern
	action  FlowAction
	handle  RuleHandle
}

// fakeFlows is a FlowRuler that accepts a configurable set of patterns
type fakeFlows struct {
	mu        sync.Mutex
	accept    map[FlowPattern]bool
	created   []createdRule
	destroyed []RuleHandle
	next      RuleHandle
}

func newFakeFlows(accept ...FlowPattern) *fakeFlows {
	m := map[FlowPattern]bool{}
	for _, p := range accept {
		m[p] = true
	}
	return &fakeFlows{accept: m}
}

func (f *fakeFlows) CreateRule(port int, pattern FlowPattern, action FlowAction) (RuleHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.accept[pattern] {
		return 0, fmt.Errorf("pattern %s not supported", pattern)
	}
	f.next++
	f.created = append(f.created, createdRule{port: port, pattern: pattern, action: action, handle: f.next})
	return f.next, nil
}

func (f *fakeFlows) DestroyRule(_ int, handle RuleHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed = append(f.destroyed, handle)
	return nil
}

// frame builders for injecting traffic

func buildSyncFrame(vlan uint16, seq uint16, secLow uint32, ns uint32) []byte {
	sync := &ptp.SyncDelayReq{
		Header: ptp.Header{
			SdoIDAndMsgType:    ptp.NewSdoIDAndMsgType(ptp.MessageSync, 0),
			Version:            ptp.Version,
			MessageLength:      ptp.SyncDelayReqSize,
			DomainNumber:       ptp.DomainNumber,
			SourcePortIdentity: ptp.PortIdentity{ClockIdentity: 0xAABBCCDD00000001, PortNumber: 3},
			SequenceID:         seq,
		},
		SyncDelayReqBody: ptp.SyncDelayReqBody{
			OriginTimestamp: ptp.Timestamp{SecondsLow: secLow, Nanoseconds: ns},
		},
	}
	payload, err := sync.MarshalBinary()
	if err != nil {
		panic(err)
	}
	return tagFrame(vlan, payload)
}

func buildDelayRespFrame(vlan uint16, seq uint16, secLow uint32, ns uint32) []byte {
	resp := &ptp.DelayResp{
		Header: ptp.Header{
			SdoIDAndMsgType:    ptp.NewSdoIDAndMsgType(ptp.MessageDelayResp, 0),
			Version:            ptp.Version,
			MessageLength:      ptp.DelayRespSize,
			DomainNumber:       ptp.DomainNumber,
			SourcePortIdentity: ptp.PortIdentity{ClockIdentity: 0xAABBCCDD00000001, PortNumber: 3},
			SequenceID:         seq,
		},
		DelayRespBody: ptp.DelayRespBody{
			ReceiveTimestamp: ptp.Timestamp{SecondsLow: secLow, Nanoseconds: ns},
		},
	}
	payload, err := resp.MarshalBinary()
	if err != nil {
		panic(err)
	}
	return tagFrame(vlan, payload)
}

func tagFrame(vlan uint16, payload []byte) []byte {
	b := make([]byte, ptp.EthHeaderSize+ptp.VLANTagSize+len(payload))
	b[12] = 0x81
	b[13] = 0x00
	b[14] = byte(vlan >> 8)
	b[15] = byte(vlan)
	b[16] = 0x88
	b[17] = 0xF7
	copy(b[18:], payload)
	return b
}

// failingPool always fails, for TX error paths
type failingPool struct{}

func (failingPool) Alloc() ([]byte, error) { return nil, ErrPoolExhausted }
func (failingPool) Free([]byte)            {}
