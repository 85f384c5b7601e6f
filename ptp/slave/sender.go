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
	"errors"
	"fmt"
	"sync/atomic"

	ptp "github.com/fabricnet/time/ptp/protocol"
)

// ErrTxFailed means the NIC accepted zero frames on transmit
var ErrTxFailed = errors.New("nic accepted no frames")

// delayReqSender builds and transmits Delay_Req frames for the sessions of
// one RX port, drawing buffers from that port's pool. t3 is sampled as
// tightly around the transmit call as the runtime permits.
type delayReqSender struct {
	io      PacketIO
	pool    BufferPool
	clk     Clock
	txQueue int

	// scratch slice so TxBurst takes no per-send allocation
	scratch [][]byte
}

func newDelayReqSender(io PacketIO, pool BufferPool, clk Clock, txQueue int) *delayReqSender {
	return &delayReqSender{
		io:      io,
		pool:    pool,
		clk:     clk,
		txQueue: txQueue,
		scratch: make([][]byte, 1),
	}
}

func (d *delayReqSender) sendDelayReq(s *Session) error {
	buf, err := d.pool.Alloc()
	if err != nil {
		return fmt.Errorf("allocating delay_req buffer: %w", err)
	}
	n, err := ptp.BuildDelayReqFrame(buf, s.cfg.TxVLAN, s.cfg.TxVLIndex, s.delayReqSeqID)
	if err != nil {
		d.pool.Free(buf)
		return err
	}
	d.scratch[0] = buf[:n]

	monoBefore := d.clk.MonoNS()
	wall := d.clk.WallNS()
	accepted := d.io.TxBurst(s.cfg.TxPort, d.txQueue, d.scratch)
	monoAfter := d.clk.MonoNS()
	d.scratch[0] = nil
	d.pool.Free(buf)
	if accepted == 0 {
		return ErrTxFailed
	}

	s.t3 = wall
	s.t3Mono = (monoBefore + monoAfter) / 2
	s.lastDelayReqSeqID = s.delayReqSeqID
	s.delayReqSeqID++ // wraps at 2**16 by construction
	atomic.AddInt64(&s.delayReqTX, 1)
	return nil
}
