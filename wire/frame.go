// Copyright 2021 PairMesh, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package wire converts between in-memory mesh frames and the byte layout
// exchanged over the radio. The codec is pure and deterministic: it never
// touches the peer or routing tables and never blocks.
package wire

import "fmt"

// Address is the 6-byte link-layer identifier of a mesh node.
type Address [6]byte

// Broadcast is the all-ones address recognized by every node on the channel.
var Broadcast = Address{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

// String renders the address in the conventional colon-hex MAC notation.
func (a Address) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", a[0], a[1], a[2], a[3], a[4], a[5])
}

// IsBroadcast reports whether the address is the all-ones broadcast address.
func (a Address) IsBroadcast() bool {
	return a == Broadcast
}

// Type identifies the purpose of a Frame.
type Type byte

// The six frame types the mesh protocol understands. Any other byte value
// round-trips through Encode/Decode but the Frame Processor has no dispatch
// case for it and treats it as a no-op.
const (
	TypeDiscovery    Type = 0x01
	TypeHeartbeat    Type = 0x02
	TypeData         Type = 0x03
	TypeRouteRequest Type = 0x04
	TypeRouteReply   Type = 0x05
	TypeAck          Type = 0x06
)

func (t Type) String() string {
	switch t {
	case TypeDiscovery:
		return "DISCOVERY"
	case TypeHeartbeat:
		return "HEARTBEAT"
	case TypeData:
		return "DATA"
	case TypeRouteRequest:
		return "ROUTE_REQUEST"
	case TypeRouteReply:
		return "ROUTE_REPLY"
	case TypeAck:
		return "ACK"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", byte(t))
	}
}

// MaxDataSize is the largest payload a Frame may carry.
const MaxDataSize = 200

// HeaderSize is the fixed width of everything in a Frame but the payload.
const HeaderSize = 18

// Frame is the unit of mesh communication. DataLen is not stored separately;
// it is always len(Data), both on the wire and in memory.
type Frame struct {
	Type     Type
	Src      Address
	Dst      Address
	HopCount uint8
	Sequence uint16
	Data     []byte
}

// DataLen returns the payload length, the same value the wire's data_len
// field carries.
func (f *Frame) DataLen() int {
	return len(f.Data)
}

// Size returns the total wire size of the frame, 18+len(Data) bytes.
func (f *Frame) Size() int {
	return HeaderSize + len(f.Data)
}
