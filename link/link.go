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

// Package link describes the narrow contract between the mesh core and the
// link driver (radio hardware, or the in-memory simlink harness) that the
// core treats as an external collaborator. Nothing in this package touches
// the peer or routing tables.
package link

import "github.com/meshvane/meshcore/wire"

// Broadcaster sends an already-encoded frame to every node in range.
type Broadcaster interface {
	Broadcast(frame []byte) error
}

// Unicaster sends an already-encoded frame to a single address.
type Unicaster interface {
	Unicast(addr wire.Address, frame []byte) error
}

// PeerRegistrar is an optional capability: drivers that need to register a
// destination before first unicast (e.g. ESP-NOW's peer list) implement it.
// The core calls EnsurePeer before every Unicast, including the first one
// to a newly learned address; drivers without per-destination registration
// can skip implementing this interface.
type PeerRegistrar interface {
	EnsurePeer(addr wire.Address) error
}

// Driver is the full link driver contract the core consumes. PeerRegistrar
// is intentionally not embedded here: callers should type-assert for it,
// since most drivers don't need it.
type Driver interface {
	Broadcaster
	Unicaster
}

// Received is what the link driver hands the engine for every frame it
// picks up off the air, via a recvqueue.Mailbox rather than a direct
// callback (see package recvqueue for why).
type Received struct {
	// SrcFromLink is the source address as reported by the link layer
	// itself (e.g. the radio driver's notion of who sent this). It is
	// advisory; the authoritative source is the decoded frame's Src field.
	SrcFromLink wire.Address
	Frame       []byte
	RSSI        *int8
}
