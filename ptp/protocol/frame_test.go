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

package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wrapTagged builds Ethernet + 802.1Q framing around a PTP payload
func wrapTagged(vlan uint16, payload []byte) []byte {
	b := make([]byte, ptpOffsetTagged+len(payload))
	b[ethTypeOffset] = 0x81
	b[ethTypeOffset+1] = 0x00
	b[vlanTCIOffset] = byte(vlan >> 8)
	b[vlanTCIOffset+1] = byte(vlan)
	b[innerTypeOffset] = 0x88
	b[innerTypeOffset+1] = 0xF7
	copy(b[ptpOffsetTagged:], payload)
	return b
}

func wrapUntagged(payload []byte) []byte {
	b := make([]byte, ptpOffsetUntagged+len(payload))
	b[ethTypeOffset] = 0x88
	b[ethTypeOffset+1] = 0xF7
	copy(b[ptpOffsetUntagged:], payload)
	return b
}

func validPayload(t *testing.T) []byte {
	t.Helper()
	sync := &SyncDelayReq{
		Header: Header{
			SdoIDAndMsgType: NewSdoIDAndMsgType(MessageSync, 0),
			Version:         Version,
			MessageLength:   44,
		},
	}
	b, err := sync.MarshalBinary()
	require.NoError(t, err)
	return b
}

func TestClassifyFrameTagged(t *testing.T) {
	frame := wrapTagged(225, validPayload(t))
	payload, vlan, ok := ClassifyFrame(frame)
	require.True(t, ok)
	assert.Equal(t, uint16(225), vlan)
	assert.Len(t, payload, 44)
}

func TestClassifyFrameTaggedPCPBits(t *testing.T) {
	// priority bits in the TCI must not leak into the VLAN id
	frame := wrapTagged(0xE000|97, validPayload(t))
	_, vlan, ok := ClassifyFrame(frame)
	require.True(t, ok)
	assert.Equal(t, uint16(97), vlan)
}

func TestClassifyFrameUntagged(t *testing.T) {
	frame := wrapUntagged(validPayload(t))
	payload, vlan, ok := ClassifyFrame(frame)
	require.True(t, ok)
	assert.Equal(t, uint16(0), vlan)
	assert.Len(t, payload, 44)
}

func TestClassifyFrameNotPTP(t *testing.T) {
	// IPv4
	frame := wrapUntagged(validPayload(t))
	frame[ethTypeOffset] = 0x08
	frame[ethTypeOffset+1] = 0x00
	_, _, ok := ClassifyFrame(frame)
	require.False(t, ok)

	// VLAN tag with non-PTP inner type
	frame = wrapTagged(225, validPayload(t))
	frame[innerTypeOffset] = 0x08
	frame[innerTypeOffset+1] = 0x00
	_, _, ok = ClassifyFrame(frame)
	require.False(t, ok)
}

func TestClassifyFrameTooShort(t *testing.T) {
	_, _, ok := ClassifyFrame([]byte{0x01, 0x02})
	require.False(t, ok)

	// ethernet header only, no PTP header behind it
	frame := wrapUntagged(nil)
	_, _, ok = ClassifyFrame(frame)
	require.False(t, ok)

	// declared message length exceeds what the frame carries
	payload := validPayload(t)
	payload[2] = 0x01 // length 300
	payload[3] = 0x2c
	_, _, ok = ClassifyFrame(wrapTagged(225, payload))
	require.False(t, ok)
}

func TestBuildDelayReqFrame(t *testing.T) {
	b := make([]byte, DelayReqFrameSize)
	n, err := BuildDelayReqFrame(b, 97, 4420, 7)
	require.NoError(t, err)
	require.Equal(t, DelayReqFrameSize, n)

	// dst MAC carries the VL index in the last two octets
	assert.Equal(t, []byte{0x03, 0x00, 0x00, 0x00, 0x11, 0x44}, b[0:6])
	assert.Equal(t, []byte(DelayReqSrcMAC), b[6:12])
	// outer 0x8100, TCI = vlan, inner 0x88F7
	assert.Equal(t, []byte{0x81, 0x00, 0x00, 0x61, 0x88, 0xF7}, b[12:18])

	// the frame must classify as PTP on our own RX path
	payload, vlan, ok := ClassifyFrame(b[:n])
	require.True(t, ok)
	assert.Equal(t, uint16(97), vlan)

	req := new(SyncDelayReq)
	require.NoError(t, req.UnmarshalBinary(payload))
	assert.Equal(t, MessageDelayReq, req.MessageType())
	assert.Equal(t, uint16(DelayReqMessageLength), req.MessageLength)
	assert.Equal(t, DomainNumber, req.DomainNumber)
	assert.Equal(t, DelayReqFlags, req.FlagField)
	assert.Equal(t, ControlDelayReq, req.ControlField)
	assert.Equal(t, DelayReqLogInterval, req.LogMessageInterval)
	assert.Equal(t, SlavePortIdentity, req.SourcePortIdentity)
	assert.Equal(t, uint16(7), req.SequenceID)
	assert.True(t, req.OriginTimestamp.Empty())

	// padding past the 44 semantic octets stays zero
	for i := ptpOffsetTagged + SyncDelayReqSize; i < DelayReqFrameSize; i++ {
		require.Zero(t, b[i], "padding byte %d", i)
	}
}

func TestBuildDelayReqFrameVLIndexBoundaries(t *testing.T) {
	b := make([]byte, DelayReqFrameSize)
	_, err := BuildDelayReqFrame(b, 0, 0x0000, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x03, 0x00, 0x00, 0x00, 0x00, 0x00}, b[0:6])

	_, err = BuildDelayReqFrame(b, 0, 0xFFFF, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x03, 0x00, 0x00, 0x00, 0xFF, 0xFF}, b[0:6])
}

func TestBuildDelayReqFrameShortBuffer(t *testing.T) {
	b := make([]byte, DelayReqFrameSize-1)
	_, err := BuildDelayReqFrame(b, 97, 4420, 0)
	require.Error(t, err)
}

func TestBuildDelayReqFrameReusedBuffer(t *testing.T) {
	// pool buffers come back dirty, the builder must pre-zero
	b := make([]byte, DelayReqFrameSize)
	for i := range b {
		b[i] = 0xAA
	}
	n, err := BuildDelayReqFrame(b, 97, 4420, 1)
	require.NoError(t, err)
	for i := ptpOffsetTagged + SyncDelayReqSize; i < n; i++ {
		require.Zero(t, b[i])
	}
}
