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

// Package bridge holds the Gateway Bridge: a thin, wire-silent derived view
// of the nearest known gateway peer and the backbone prefix it claims to
// serve. Nothing here touches the mesh frame format; it only reads the peer
// table and is refreshed by the host loop alongside Engine.Tick.
package bridge

import (
	"sync"
	"time"

	"inet.af/netaddr"

	"github.com/meshvane/meshcore/peer"
	"github.com/meshvane/meshcore/wire"
)

// GatewayRoute is a snapshot of the nearest known gateway, as recorded by
// the most recent Refresh.
type GatewayRoute struct {
	GatewayAddress wire.Address
	Prefix         netaddr.IPPrefix
	HopCount       uint8
	AdvertisedAt   time.Time
}

// Bridge tracks the mesh's current path to the outside world. A node that
// is itself a gateway uses Advertise to declare the prefix it bridges to;
// a node that merely relays toward one only ever observes Current.
type Bridge struct {
	mu      sync.Mutex
	prefix  netaddr.IPPrefix
	current GatewayRoute
	known   bool
}

// New returns an empty Bridge with no gateway observed yet.
func New() *Bridge {
	return &Bridge{}
}

// Advertise declares the backbone prefix this node bridges to, when it is
// itself running in gateway mode. The wire frame carries no field for this;
// it is config-level, out-of-band state (§4.7).
func (b *Bridge) Advertise(prefix netaddr.IPPrefix) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prefix = prefix
}

// NearestGatewayFinder is satisfied by both *peer.Table and *core.Engine,
// so Refresh can be driven directly from either a bare table (tests) or a
// running node (the host loop) without this package importing core.
type NearestGatewayFinder interface {
	NearestGateway() (peer.Entry, bool)
}

// Refresh re-reads the nearest gateway and records a new GatewayRoute
// snapshot. It does not touch the wire.
func (b *Bridge) Refresh(peers NearestGatewayFinder) {
	gw, ok := peers.NearestGateway()

	b.mu.Lock()
	defer b.mu.Unlock()

	if !ok {
		b.known = false
		b.current = GatewayRoute{}
		return
	}

	b.known = true
	b.current = GatewayRoute{
		GatewayAddress: gw.Address,
		Prefix:         b.prefix,
		HopCount:       gw.HopCount,
		AdvertisedAt:   time.Now(),
	}
}

// Current returns the most recent gateway snapshot. On a non-gateway node
// that has never called Advertise, Prefix is the zero value; callers must
// treat that as "unknown backbone, but a path exists" rather than "no
// gateway."
func (b *Bridge) Current() (GatewayRoute, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current, b.known
}
