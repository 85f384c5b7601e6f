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
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// 2 ** 16
const twoPow16 = 65536

const nsPerSecond = 1_000_000_000

// MessageType is type for Message Types
type MessageType uint8

// As per Table 36 Values of messageType field
const (
	MessageSync      MessageType = 0x0
	MessageDelayReq  MessageType = 0x1
	MessageFollowUp  MessageType = 0x8
	MessageDelayResp MessageType = 0x9
	MessageAnnounce  MessageType = 0xB
)

// MessageTypeToString is a map from MessageType to string
var MessageTypeToString = map[MessageType]string{
	MessageSync:      "SYNC",
	MessageDelayReq:  "DELAY_REQ",
	MessageFollowUp:  "FOLLOW_UP",
	MessageDelayResp: "DELAY_RESP",
	MessageAnnounce:  "ANNOUNCE",
}

func (m MessageType) String() string {
	if s, ok := MessageTypeToString[m]; ok {
		return s
	}
	return fmt.Sprintf("UNKNOWN_0x%X", uint8(m))
}

// SdoIDAndMsgType is a uint8 where first 4 bits contain SdoID and last 4 bits MessageType
type SdoIDAndMsgType uint8

// MsgType extracts MessageType from SdoIDAndMsgType
func (m SdoIDAndMsgType) MsgType() MessageType {
	return MessageType(m & 0xf) // last 4 bits
}

// NewSdoIDAndMsgType builds new SdoIDAndMsgType from MessageType and flags
func NewSdoIDAndMsgType(msgType MessageType, sdoID uint8) SdoIDAndMsgType {
	return SdoIDAndMsgType(sdoID<<4 | uint8(msgType))
}

// ProbeMsgType reads first 8 bits of data and tries to decode it to SdoIDAndMsgType, then return MessageType
func ProbeMsgType(data []byte) (msg MessageType, err error) {
	if len(data) < 1 {
		return 0, fmt.Errorf("not enough data to probe MsgType")
	}
	return SdoIDAndMsgType(data[0]).MsgType(), nil
}

// The ClockIdentity type identifies unique entities within a PTP Network, e.g. a PTP Instance or an entity of a common service.
type ClockIdentity uint64

// String formats ClockIdentity same way ptp4l pmc client does
func (c ClockIdentity) String() string {
	ptr := make([]byte, 8)
	binary.BigEndian.PutUint64(ptr, uint64(c))
	return fmt.Sprintf("%02x%02x%02x.%02x%02x.%02x%02x%02x",
		ptr[0], ptr[1], ptr[2], ptr[3],
		ptr[4], ptr[5], ptr[6], ptr[7],
	)
}

// The PortIdentity type identifies a PTP Port or a Link Port
type PortIdentity struct {
	ClockIdentity ClockIdentity
	PortNumber    uint16
}

// String formats PortIdentity same way ptp4l pmc client does
func (p PortIdentity) String() string {
	return fmt.Sprintf("%s-%d", p.ClockIdentity, p.PortNumber)
}

// SlavePortIdentity is the identity every slave session transmits.
// The fabric master echoes this identity back verbatim in Delay_Resp,
// so it must stay fixed; a MAC-derived identity breaks correlation.
var SlavePortIdentity = PortIdentity{
	ClockIdentity: 0x2C1A000000000000,
	PortNumber:    0,
}

/*
Timestamp type represents a positive time with respect to the epoch.
On the wire: 16 bits of seconds-high, 32 bits of seconds-low, 32 bits
of nanoseconds, all big-endian. The fabric master populates only
seconds-low; seconds-high is kept for byte-exact round-trips but is
ignored by all arithmetic and emitted as zero by builders.
*/
type Timestamp struct {
	SecondsHigh uint16
	SecondsLow  uint32
	Nanoseconds uint32
}

// timestampSize is the on-wire size of Timestamp
const timestampSize = 10

// Nanoseconds64 converts Timestamp to nanoseconds since the epoch.
// SecondsHigh is dropped, which matches what the master actually sends.
func (t Timestamp) Nanoseconds64() uint64 {
	return uint64(t.SecondsLow)*nsPerSecond + uint64(t.Nanoseconds)
}

// Empty timestamp
func (t Timestamp) Empty() bool {
	return t.SecondsHigh == 0 && t.SecondsLow == 0 && t.Nanoseconds == 0
}

// Time turns Timestamp into normal Go time.Time
func (t Timestamp) Time() time.Time {
	if t.Empty() {
		return time.Time{}
	}
	return time.Unix(int64(t.SecondsLow), int64(t.Nanoseconds))
}

// String representation of the timestamp
func (t Timestamp) String() string {
	if t.Empty() {
		return "Timestamp(empty)"
	}
	return fmt.Sprintf("Timestamp(%s)", t.Time())
}

// NewTimestamp allows to create Timestamp from nanoseconds since the epoch
func NewTimestamp(ns uint64) Timestamp {
	return Timestamp{
		SecondsLow:  uint32(ns / nsPerSecond),
		Nanoseconds: uint32(ns % nsPerSecond),
	}
}

func timestampUnmarshalBinary(t *Timestamp, b []byte) {
	t.SecondsHigh = binary.BigEndian.Uint16(b)
	t.SecondsLow = binary.BigEndian.Uint32(b[2:])
	t.Nanoseconds = binary.BigEndian.Uint32(b[6:])
}

func timestampMarshalBinaryTo(t Timestamp, b []byte) int {
	binary.BigEndian.PutUint16(b, t.SecondsHigh)
	binary.BigEndian.PutUint32(b[2:], t.SecondsLow)
	binary.BigEndian.PutUint32(b[6:], t.Nanoseconds)
	return timestampSize
}

// IntFloat is a float64 stored in int64
type IntFloat int64

// Value decodes IntFloat to float64
func (t IntFloat) Value() float64 {
	return float64(t) / twoPow16
}

/*
Correction is the value of the correction measured in nanoseconds and multiplied by 2**16.
For example, 2.5 ns is represented as 0000 0000 0002 8000 base 16
A value of one in all bits, except the most significant, of the field shall indicate that the correction is too big to be represented.
*/
type Correction IntFloat

// Nanoseconds decodes Correction to human-understandable nanoseconds
func (t Correction) Nanoseconds() float64 {
	if t.TooBig() {
		return math.Inf(1)
	}
	return IntFloat(t).Value()
}

func (t Correction) String() string {
	if t.TooBig() {
		return "Correction(Too big)"
	}
	return fmt.Sprintf("Correction(%.3fns)", t.Nanoseconds())
}

// TooBig means correction is too big to be represented.
func (t Correction) TooBig() bool {
	return t == 0x7fffffffffffffff // one in all bits, except the most significant
}

// LogInterval shall be the logarithm, to base 2, of the requested period in seconds.
// In layman's terms, it's specified as a power of two in seconds.
type LogInterval int8

// Duration returns LogInterval as time.Duration
func (i LogInterval) Duration() time.Duration {
	secs := math.Pow(2, float64(i))
	return time.Duration(secs * float64(time.Second))
}
