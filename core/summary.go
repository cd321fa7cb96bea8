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

package core

import (
	"time"

	"github.com/meshvane/meshcore/wire"
)

// PeerSummary is the JSON-friendly projection of a peer.Entry.
type PeerSummary struct {
	Address   string    `json:"address"`
	RSSI      int8      `json:"rssi"`
	LastSeen  time.Time `json:"last_seen"`
	HopCount  uint8     `json:"hop_count"`
	IsGateway bool      `json:"is_gateway"`
}

// RouteSummary is the JSON-friendly projection of a route.Entry.
type RouteSummary struct {
	Destination string    `json:"destination"`
	NextHop     string    `json:"next_hop"`
	HopCount    uint8     `json:"hop_count"`
	LastUpdated time.Time `json:"last_updated"`
}

// Summary is a point-in-time snapshot of the engine's state, the shape the
// introspection API and the monitor TUI both consume.
type Summary struct {
	OwnAddress  string         `json:"own_address"`
	GatewayMode bool           `json:"gateway_mode"`
	PeerCount   int            `json:"peer_count"`
	RouteCount  int            `json:"route_count"`
	Peers       []PeerSummary  `json:"peers"`
	Routes      []RouteSummary `json:"routes"`
	SnapshotAt  time.Time      `json:"snapshot_at"`
}

func addrString(a wire.Address) string { return a.String() }
