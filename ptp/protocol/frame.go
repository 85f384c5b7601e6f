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
	"fmt"
	"net"
)

// EtherTypes seen on the PTP path
const (
	EthTypePTP  uint16 = 0x88F7
	EthTypeVLAN uint16 = 0x8100
)

// Ethernet framing offsets
const (
	EthHeaderSize     = 14
	VLANTagSize       = 4
	ethTypeOffset     = 12
	vlanTCIOffset     = 14
	innerTypeOffset   = 16
	ptpOffsetUntagged = EthHeaderSize
	ptpOffsetTagged   = EthHeaderSize + VLANTagSize
)

// DelayReqMessageLength is the PTP messageLength the fabric master expects on
// Delay_Req. The standard minimum is 44; the master parses a zero-padded
// trailing region up to 106.
const DelayReqMessageLength = 106

// DelayReqFrameSize is the full Delay_Req frame: Ethernet + 802.1Q + padded PTP
const DelayReqFrameSize = EthHeaderSize + VLANTagSize + DelayReqMessageLength // 124 bytes

// DelayReqSrcMAC is the fixed source MAC of every Delay_Req the slave emits
var DelayReqSrcMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x20}

// DelayReqDstMAC returns the destination MAC for a given VL index. The fabric
// routes on the last two octets of the destination MAC.
func DelayReqDstMAC(vlIdx uint16) net.HardwareAddr {
	return net.HardwareAddr{0x03, 0x00, 0x00, 0x00, byte(vlIdx >> 8), byte(vlIdx)}
}

// ClassifyFrame decides whether an Ethernet frame carries PTP and locates the
// payload. Returns the PTP payload, the VLAN id (0 if untagged) and whether
// the frame is PTP at all. A frame is PTP iff the outer or inner EtherType is
// 0x88F7 and the declared message length fits within the frame.
func ClassifyFrame(b []byte) (payload []byte, vlan uint16, ok bool) {
	if len(b) < EthHeaderSize {
		return nil, 0, false
	}
	outer := uint16(b[ethTypeOffset])<<8 | uint16(b[ethTypeOffset+1])
	switch outer {
	case EthTypePTP:
		payload = b[ptpOffsetUntagged:]
	case EthTypeVLAN:
		if len(b) < ptpOffsetTagged {
			return nil, 0, false
		}
		tci := uint16(b[vlanTCIOffset])<<8 | uint16(b[vlanTCIOffset+1])
		inner := uint16(b[innerTypeOffset])<<8 | uint16(b[innerTypeOffset+1])
		if inner != EthTypePTP {
			return nil, 0, false
		}
		vlan = tci & 0x0FFF
		payload = b[ptpOffsetTagged:]
	default:
		return nil, 0, false
	}
	if len(payload) < HeaderSize {
		return nil, 0, false
	}
	declared := int(uint16(payload[2])<<8 | uint16(payload[3]))
	if declared < HeaderSize || declared > len(payload) {
		return nil, 0, false
	}
	return payload, vlan, true
}

// BuildDelayReqFrame writes a complete Delay_Req frame into b and returns its
// size. The frame matches the fabric master bit for bit: VL-index routed
// destination MAC, fixed source MAC, single 802.1Q tag carrying vlan, and a
// Delay_Req padded to 106 octets with an advertised length of 106. The origin
// timestamp stays zero; the slave samples its own TX time out of band.
func BuildDelayReqFrame(b []byte, vlan, vlIdx, seq uint16) (int, error) {
	if len(b) < DelayReqFrameSize {
		return 0, fmt.Errorf("not enough buffer to write Delay_Req frame: %d < %d", len(b), DelayReqFrameSize)
	}
	for i := 0; i < DelayReqFrameSize; i++ {
		b[i] = 0
	}
	copy(b[0:6], DelayReqDstMAC(vlIdx))
	copy(b[6:12], DelayReqSrcMAC)
	b[ethTypeOffset] = byte(EthTypeVLAN >> 8)
	b[ethTypeOffset+1] = byte(EthTypeVLAN & 0xFF)
	b[vlanTCIOffset] = byte((vlan & 0x0FFF) >> 8)
	b[vlanTCIOffset+1] = byte(vlan)
	b[innerTypeOffset] = byte(EthTypePTP >> 8)
	b[innerTypeOffset+1] = byte(EthTypePTP & 0xFF)

	req := &SyncDelayReq{
		Header: Header{
			SdoIDAndMsgType:    NewSdoIDAndMsgType(MessageDelayReq, 0),
			Version:            Version,
			MessageLength:      DelayReqMessageLength,
			DomainNumber:       DomainNumber,
			FlagField:          DelayReqFlags,
			SourcePortIdentity: SlavePortIdentity,
			SequenceID:         seq,
			ControlField:       ControlDelayReq,
			LogMessageInterval: DelayReqLogInterval,
		},
	}
	if _, err := req.MarshalBinaryTo(b[ptpOffsetTagged:]); err != nil {
		return 0, err
	}
	return DelayReqFrameSize, nil
}
