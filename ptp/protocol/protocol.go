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
Package protocol implements the subset of IEEE 1588-2019 spoken over the
fabric: one-step Sync, Delay_Req and Delay_Resp over Ethernet with 802.1Q
tagging, plus the framing and the Delay_Req builder with the fabric
master's compatibility quirks.
*/
package protocol

import (
	"encoding/binary"
	"fmt"
)

// what version of PTP protocol we implement
const (
	Version uint8 = 2
)

// DomainNumber is the single PTP domain used across the fabric
const DomainNumber uint8 = 10

// Control field values, Table 42 (obsolete per IEEE but the master checks them)
const (
	ControlSync     uint8 = 0
	ControlDelayReq uint8 = 1
	ControlFollowUp uint8 = 2
	ControlOther    uint8 = 5
)

// DelayReqFlags is the flagField value the fabric master expects on Delay_Req
const DelayReqFlags uint16 = 0x0102

// DelayReqLogInterval advertises one Delay_Req every 0.5s (log2 = -1)
const DelayReqLogInterval LogInterval = -1

// Header Table 35 Common PTP message header
type Header struct {
	SdoIDAndMsgType     SdoIDAndMsgType // first 4 bits is SdoId, next 4 bits are msgtype
	Version             uint8
	MessageLength       uint16
	DomainNumber        uint8
	MinorSdoID          uint8
	FlagField           uint16
	CorrectionField     Correction
	MessageTypeSpecific uint32
	SourcePortIdentity  PortIdentity
	SequenceID          uint16
	ControlField        uint8
	LogMessageInterval  LogInterval // see Table 42 Values of logMessageInterval field
}

// HeaderSize is the on-wire size of the common PTP header
const HeaderSize = 34 // bytes

// unmarshalHeader is not a Header.UnmarshalBinary to prevent all packets
// from having default (and incomplete) UnmarshalBinary implementation through embedding
func unmarshalHeader(p *Header, b []byte) {
	p.SdoIDAndMsgType = SdoIDAndMsgType(b[0])
	p.Version = b[1]
	p.MessageLength = binary.BigEndian.Uint16(b[2:])
	p.DomainNumber = b[4]
	p.MinorSdoID = b[5]
	p.FlagField = binary.BigEndian.Uint16(b[6:])
	p.CorrectionField = Correction(binary.BigEndian.Uint64(b[8:]))
	p.MessageTypeSpecific = binary.BigEndian.Uint32(b[16:])
	p.SourcePortIdentity.ClockIdentity = ClockIdentity(binary.BigEndian.Uint64(b[20:]))
	p.SourcePortIdentity.PortNumber = binary.BigEndian.Uint16(b[28:])
	p.SequenceID = binary.BigEndian.Uint16(b[30:])
	p.ControlField = b[32]
	p.LogMessageInterval = LogInterval(b[33])
}

// headerMarshalBinaryTo is not a Header.MarshalBinaryTo to prevent all packets
// from having default (and incomplete) MarshalBinaryTo implementation through embedding
func headerMarshalBinaryTo(p *Header, b []byte) int {
	b[0] = byte(p.SdoIDAndMsgType)
	b[1] = p.Version
	binary.BigEndian.PutUint16(b[2:], p.MessageLength)
	b[4] = p.DomainNumber
	b[5] = p.MinorSdoID
	binary.BigEndian.PutUint16(b[6:], p.FlagField)
	binary.BigEndian.PutUint64(b[8:], uint64(p.CorrectionField))
	binary.BigEndian.PutUint32(b[16:], p.MessageTypeSpecific)
	binary.BigEndian.PutUint64(b[20:], uint64(p.SourcePortIdentity.ClockIdentity))
	binary.BigEndian.PutUint16(b[28:], p.SourcePortIdentity.PortNumber)
	binary.BigEndian.PutUint16(b[30:], p.SequenceID)
	b[32] = p.ControlField
	b[33] = byte(p.LogMessageInterval)
	return HeaderSize
}

// MessageType returns MessageType
func (p *Header) MessageType() MessageType {
	return p.SdoIDAndMsgType.MsgType()
}

// SetSequence populates sequence field
func (p *Header) SetSequence(sequence uint16) {
	p.SequenceID = sequence
}

func checkPacketLength(p *Header, l int) error {
	if int(p.MessageLength) > l {
		return fmt.Errorf("cannot decode message of length %d from %d bytes", p.MessageLength, l)
	}
	return nil
}

// SyncDelayReqBody Table 44 Sync and Delay_Req message fields
type SyncDelayReqBody struct {
	OriginTimestamp Timestamp
}

// SyncDelayReq is a full Sync/Delay_Req packet
type SyncDelayReq struct {
	Header
	SyncDelayReqBody
}

// SyncDelayReqSize is the minimum on-wire size of Sync and Delay_Req
const SyncDelayReqSize = HeaderSize + timestampSize // 44 bytes

// MarshalBinaryTo marshals SyncDelayReq into b
func (p *SyncDelayReq) MarshalBinaryTo(b []byte) (int, error) {
	if len(b) < SyncDelayReqSize {
		return 0, fmt.Errorf("not enough buffer to write SyncDelayReq")
	}
	n := headerMarshalBinaryTo(&p.Header, b)
	return n + timestampMarshalBinaryTo(p.OriginTimestamp, b[n:]), nil
}

// MarshalBinary converts packet to []bytes
func (p *SyncDelayReq) MarshalBinary() ([]byte, error) {
	buf := make([]byte, SyncDelayReqSize)
	n, err := p.MarshalBinaryTo(buf)
	return buf[:n], err
}

// UnmarshalBinary unmarshals bytes to SyncDelayReq
func (p *SyncDelayReq) UnmarshalBinary(b []byte) error {
	if len(b) < SyncDelayReqSize {
		return fmt.Errorf("not enough data to decode SyncDelayReq")
	}
	unmarshalHeader(&p.Header, b)
	if err := checkPacketLength(&p.Header, len(b)); err != nil {
		return err
	}
	timestampUnmarshalBinary(&p.OriginTimestamp, b[HeaderSize:])
	return nil
}

// FollowUpBody Table 45 Follow_Up message fields
type FollowUpBody struct {
	PreciseOriginTimestamp Timestamp
}

// FollowUp is a full Follow_Up packet. One-step slaves accept it and drop it.
type FollowUp struct {
	Header
	FollowUpBody
}

// MarshalBinaryTo marshals FollowUp into b
func (p *FollowUp) MarshalBinaryTo(b []byte) (int, error) {
	if len(b) < HeaderSize+timestampSize {
		return 0, fmt.Errorf("not enough buffer to write FollowUp")
	}
	n := headerMarshalBinaryTo(&p.Header, b)
	return n + timestampMarshalBinaryTo(p.PreciseOriginTimestamp, b[n:]), nil
}

// MarshalBinary converts packet to []bytes
func (p *FollowUp) MarshalBinary() ([]byte, error) {
	buf := make([]byte, HeaderSize+timestampSize)
	n, err := p.MarshalBinaryTo(buf)
	return buf[:n], err
}

// UnmarshalBinary unmarshals bytes to FollowUp
func (p *FollowUp) UnmarshalBinary(b []byte) error {
	if len(b) < HeaderSize+timestampSize {
		return fmt.Errorf("not enough data to decode FollowUp")
	}
	unmarshalHeader(&p.Header, b)
	if err := checkPacketLength(&p.Header, len(b)); err != nil {
		return err
	}
	timestampUnmarshalBinary(&p.PreciseOriginTimestamp, b[HeaderSize:])
	return nil
}

// DelayRespBody Table 46 Delay_Resp message fields
type DelayRespBody struct {
	ReceiveTimestamp       Timestamp
	RequestingPortIdentity PortIdentity
}

// DelayResp is a full Delay_Resp packet
type DelayResp struct {
	Header
	DelayRespBody
}

// DelayRespSize is the on-wire size of Delay_Resp
const DelayRespSize = HeaderSize + timestampSize + 10 // 54 bytes

// MarshalBinaryTo marshals DelayResp into b
func (p *DelayResp) MarshalBinaryTo(b []byte) (int, error) {
	if len(b) < DelayRespSize {
		return 0, fmt.Errorf("not enough buffer to write DelayResp")
	}
	n := headerMarshalBinaryTo(&p.Header, b)
	n += timestampMarshalBinaryTo(p.ReceiveTimestamp, b[n:])
	binary.BigEndian.PutUint64(b[n:], uint64(p.RequestingPortIdentity.ClockIdentity))
	binary.BigEndian.PutUint16(b[n+8:], p.RequestingPortIdentity.PortNumber)
	return n + 10, nil
}

// MarshalBinary converts packet to []bytes
func (p *DelayResp) MarshalBinary() ([]byte, error) {
	buf := make([]byte, DelayRespSize)
	n, err := p.MarshalBinaryTo(buf)
	return buf[:n], err
}

// UnmarshalBinary unmarshals bytes to DelayResp
func (p *DelayResp) UnmarshalBinary(b []byte) error {
	if len(b) < DelayRespSize {
		return fmt.Errorf("not enough data to decode DelayResp")
	}
	unmarshalHeader(&p.Header, b)
	if err := checkPacketLength(&p.Header, len(b)); err != nil {
		return err
	}
	timestampUnmarshalBinary(&p.ReceiveTimestamp, b[HeaderSize:])
	p.RequestingPortIdentity.ClockIdentity = ClockIdentity(binary.BigEndian.Uint64(b[HeaderSize+timestampSize:]))
	p.RequestingPortIdentity.PortNumber = binary.BigEndian.Uint16(b[HeaderSize+timestampSize+8:])
	return nil
}

// AnnounceBody Table 43 Announce message fields
type AnnounceBody struct {
	OriginTimestamp      Timestamp
	CurrentUTCOffset     int16
	Reserved             uint8
	GrandmasterPriority1 uint8
	GrandmasterQuality   uint32
	GrandmasterPriority2 uint8
	GrandmasterIdentity  ClockIdentity
	StepsRemoved         uint16
	TimeSource           uint8
}

// Announce is a full Announce packet. The slave accepts it and drops it,
// the decoder exists so such frames never count as parse errors.
type Announce struct {
	Header
	AnnounceBody
}

// AnnounceSize is the on-wire size of Announce without TLVs
const AnnounceSize = HeaderSize + 30 // 64 bytes

// MarshalBinaryTo marshals Announce into b
func (p *Announce) MarshalBinaryTo(b []byte) (int, error) {
	if len(b) < AnnounceSize {
		return 0, fmt.Errorf("not enough buffer to write Announce")
	}
	n := headerMarshalBinaryTo(&p.Header, b)
	n += timestampMarshalBinaryTo(p.OriginTimestamp, b[n:])
	binary.BigEndian.PutUint16(b[n:], uint16(p.CurrentUTCOffset))
	b[n+2] = p.Reserved
	b[n+3] = p.GrandmasterPriority1
	binary.BigEndian.PutUint32(b[n+4:], p.GrandmasterQuality)
	b[n+8] = p.GrandmasterPriority2
	binary.BigEndian.PutUint64(b[n+9:], uint64(p.GrandmasterIdentity))
	binary.BigEndian.PutUint16(b[n+17:], p.StepsRemoved)
	b[n+19] = p.TimeSource
	return n + 20, nil
}

// UnmarshalBinary unmarshals bytes to Announce
func (p *Announce) UnmarshalBinary(b []byte) error {
	if len(b) < AnnounceSize {
		return fmt.Errorf("not enough data to decode Announce")
	}
	unmarshalHeader(&p.Header, b)
	if err := checkPacketLength(&p.Header, len(b)); err != nil {
		return err
	}
	n := HeaderSize
	timestampUnmarshalBinary(&p.OriginTimestamp, b[n:])
	n += timestampSize
	p.CurrentUTCOffset = int16(binary.BigEndian.Uint16(b[n:]))
	p.Reserved = b[n+2]
	p.GrandmasterPriority1 = b[n+3]
	p.GrandmasterQuality = binary.BigEndian.Uint32(b[n+4:])
	p.GrandmasterPriority2 = b[n+8]
	p.GrandmasterIdentity = ClockIdentity(binary.BigEndian.Uint64(b[n+9:]))
	p.StepsRemoved = binary.BigEndian.Uint16(b[n+17:])
	p.TimeSource = b[n+19]
	return nil
}

// Packet is an interface to abstract all different packets
type Packet interface {
	MessageType() MessageType
	SetSequence(uint16)
}

// DecodePacket provides single entry point to try and decode []bytes of a PTP
// payload to one of the recognized PTPv2 packets.
// Unrecognized message types return an error; the RX path drops those frames
// without counting them as protocol errors.
func DecodePacket(b []byte) (Packet, error) {
	msgType, err := ProbeMsgType(b)
	if err != nil {
		return nil, err
	}
	switch msgType {
	case MessageSync, MessageDelayReq:
		p := &SyncDelayReq{}
		if err := p.UnmarshalBinary(b); err != nil {
			return nil, err
		}
		return p, nil
	case MessageFollowUp:
		p := &FollowUp{}
		if err := p.UnmarshalBinary(b); err != nil {
			return nil, err
		}
		return p, nil
	case MessageDelayResp:
		p := &DelayResp{}
		if err := p.UnmarshalBinary(b); err != nil {
			return nil, err
		}
		return p, nil
	case MessageAnnounce:
		p := &Announce{}
		if err := p.UnmarshalBinary(b); err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unsupported type %s", msgType)
	}
}
