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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshvane/meshcore/config"
	"github.com/meshvane/meshcore/link"
	"github.com/meshvane/meshcore/peer"
	"github.com/meshvane/meshcore/recvqueue"
	"github.com/meshvane/meshcore/wire"
)

// fakeLink is an in-memory link.Driver that records everything sent
// through it instead of actually transmitting anything.
type fakeLink struct {
	mu         sync.Mutex
	broadcasts [][]byte
	unicasts   map[wire.Address][][]byte
}

func newFakeLink() *fakeLink {
	return &fakeLink{unicasts: make(map[wire.Address][][]byte)}
}

func (f *fakeLink) Broadcast(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts = append(f.broadcasts, frame)
	return nil
}

func (f *fakeLink) Unicast(addr wire.Address, frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unicasts[addr] = append(f.unicasts[addr], frame)
	return nil
}

func (f *fakeLink) broadcastCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.broadcasts)
}

func (f *fakeLink) unicastsTo(addr wire.Address) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unicasts[addr]
}

func addrN(n byte) wire.Address {
	return wire.Address{0xAA, 0xAA, 0xAA, 0xAA, 0xAA, n}
}

func newTestEngine(t *testing.T, own wire.Address, gateway bool) (*Engine, *fakeLink) {
	t.Helper()
	cfg := config.New()
	cfg.OwnAddress = own.String()
	cfg.GatewayMode = gateway
	cfg.Tunables.PeerTimeout = 2 * time.Second
	cfg.Tunables.HeartbeatInterval = time.Hour // tests drive heartbeats explicitly.

	fl := newFakeLink()
	e, err := New(cfg, fl, recvqueue.NewMailbox(16))
	require.NoError(t, err)
	return e, fl
}

func encode(t *testing.T, f *wire.Frame) []byte {
	t.Helper()
	buf, err := wire.Encode(f)
	require.NoError(t, err)
	return buf
}

func findPeer(e *Engine, addr wire.Address) (peer.Entry, bool) {
	var found peer.Entry
	var ok bool
	e.Peers(func(pe peer.Entry) bool {
		if pe.Address == addr {
			found, ok = pe, true
			return false
		}
		return true
	})
	return found, ok
}

func TestSelfFrameIgnored(t *testing.T) {
	a := assert.New(t)
	e, fl := newTestEngine(t, addrN(1), false)

	f := &wire.Frame{Type: wire.TypeDiscovery, Src: e.OwnAddress(), Dst: wire.Broadcast, Data: []byte{0}}
	e.handleReceived(link.Received{Frame: encode(t, f)}, time.Now())

	a.Equal(0, e.PeerCount())
	a.Equal(0, fl.broadcastCount())
}

func TestTwoNodeDiscovery(t *testing.T) {
	a := assert.New(t)
	nodeA, _ := newTestEngine(t, addrN(1), false)
	nodeB, linkB := newTestEngine(t, addrN(2), true)

	now := time.Now()

	discovery := &wire.Frame{
		Type: wire.TypeDiscovery, Src: nodeA.OwnAddress(), Dst: wire.Broadcast,
		HopCount: 0, Sequence: 1, Data: []byte{0},
	}
	nodeB.handleReceived(link.Received{Frame: encode(t, discovery)}, now)

	pe, ok := findPeer(nodeB, nodeA.OwnAddress())
	a.True(ok)
	a.False(pe.IsGateway)

	replies := linkB.unicastsTo(nodeA.OwnAddress())
	if a.Len(replies, 1) {
		reply, err := wire.Decode(replies[0])
		require.NoError(t, err)
		a.Equal(wire.TypeDiscovery, reply.Type)
		a.EqualValues(1, reply.HopCount)
		a.Equal([]byte{1}, reply.Data) // B is gateway-mode, payload carries the flag.
	}

	nodeA.handleReceived(link.Received{Frame: replies[0]}, now)
	gw, ok := nodeA.NearestGateway()
	a.True(ok)
	a.Equal(nodeB.OwnAddress(), gw.Address)
}

func TestHopLimitDrop(t *testing.T) {
	a := assert.New(t)
	e, fl := newTestEngine(t, addrN(3), false)

	f := &wire.Frame{
		Type: wire.TypeData, Src: addrN(9), Dst: addrN(10),
		HopCount: 4, Sequence: 1, Data: []byte("x"),
	}
	e.handleReceived(link.Received{Frame: encode(t, f)}, time.Now())

	if a.Equal(1, fl.broadcastCount()) {
		forwarded, err := wire.Decode(fl.broadcasts[0])
		require.NoError(t, err)
		a.EqualValues(5, forwarded.HopCount)
	}

	// The second hop receives hop_count=5; 5 < MaxHopCount(5) is false, drop.
	e2, fl2 := newTestEngine(t, addrN(4), false)
	redelivered := &wire.Frame{
		Type: wire.TypeData, Src: addrN(9), Dst: addrN(10),
		HopCount: 5, Sequence: 1, Data: []byte("x"),
	}
	e2.handleReceived(link.Received{Frame: encode(t, redelivered)}, time.Now())
	a.Equal(0, fl2.broadcastCount())
}

func TestStalePeerEvictionScenario(t *testing.T) {
	a := assert.New(t)
	e, _ := newTestEngine(t, addrN(1), false)

	t0 := time.Now()
	f := &wire.Frame{Type: wire.TypeHeartbeat, Src: addrN(5), Dst: wire.Broadcast, Sequence: 1}
	e.handleReceived(link.Received{Frame: encode(t, f)}, t0)
	a.Equal(1, e.PeerCount())

	// Force a heartbeat tick past PeerTimeout so EvictStale runs.
	e.mu.Lock()
	e.lastHeartbeat = time.Time{}
	e.tun.HeartbeatInterval = 0
	e.mu.Unlock()

	e.Tick(t0.Add(3 * time.Second))
	a.Equal(0, e.PeerCount())

	// Re-insert after the timeout; expect a fresh entry.
	f2 := &wire.Frame{Type: wire.TypeHeartbeat, Src: addrN(5), Dst: wire.Broadcast, Sequence: 2}
	e.handleReceived(link.Received{Frame: encode(t, f2)}, t0.Add(4*time.Second))
	a.Equal(1, e.PeerCount())
}

func TestDataDeliveryScenario(t *testing.T) {
	a := assert.New(t)
	e, fl := newTestEngine(t, addrN(1), false)

	var gotSrc wire.Address
	var gotPayload []byte
	calls := 0
	e.SetDataCallback(func(src wire.Address, payload []byte) {
		calls++
		gotSrc = src
		gotPayload = payload
	})

	f := &wire.Frame{
		Type: wire.TypeData, Src: addrN(9), Dst: e.OwnAddress(),
		HopCount: 2, Sequence: 1, Data: []byte("hi"),
	}
	e.handleReceived(link.Received{Frame: encode(t, f)}, time.Now())

	a.Equal(1, calls)
	a.Equal(addrN(9), gotSrc)
	a.Equal([]byte("hi"), gotPayload)
	a.Equal(0, fl.broadcastCount())
}

func TestDuplicateBroadcastStorm(t *testing.T) {
	a := assert.New(t)
	neighbor1, fl1 := newTestEngine(t, addrN(2), false)
	neighbor2, fl2 := newTestEngine(t, addrN(3), false)

	now := time.Now()
	origin := &wire.Frame{
		Type: wire.TypeData, Src: addrN(1), Dst: addrN(250), // unreachable destination
		HopCount: 0, Sequence: 7, Data: []byte("x"),
	}
	buf := encode(t, origin)

	// Both neighbors hear X's original broadcast directly.
	neighbor1.handleReceived(link.Received{Frame: buf}, now)
	neighbor2.handleReceived(link.Received{Frame: buf}, now)

	require.Equal(t, 1, fl1.broadcastCount())
	require.Equal(t, 1, fl2.broadcastCount())

	// Each neighbor's rebroadcast reaches the other, which has already
	// seen (X, 7) via the duplicate-filter's record of the original.
	neighbor1.handleReceived(link.Received{Frame: fl2.broadcasts[0]}, now)
	neighbor2.handleReceived(link.Received{Frame: fl1.broadcasts[0]}, now)

	a.Equal(1, fl1.broadcastCount(), "neighbor1 must not rebroadcast the duplicate")
	a.Equal(1, fl2.broadcastCount(), "neighbor2 must not rebroadcast the duplicate")
}

func TestRouteEvictionCascadeScenario(t *testing.T) {
	a := assert.New(t)
	e, _ := newTestEngine(t, addrN(1), false)

	t0 := time.Now()
	discovery := &wire.Frame{Type: wire.TypeDiscovery, Src: addrN(5), Dst: wire.Broadcast, Sequence: 1, Data: []byte{0}}
	e.handleReceived(link.Received{Frame: encode(t, discovery)}, t0)

	_, ok := findPeer(e, addrN(5))
	require.True(t, ok)
	e.mu.Lock()
	_, routeOK := e.routes.Find(addrN(5))
	e.mu.Unlock()
	require.True(t, routeOK)

	e.mu.Lock()
	e.lastHeartbeat = time.Time{}
	e.tun.HeartbeatInterval = 0
	e.mu.Unlock()

	e.Tick(t0.Add(3 * time.Second))

	e.mu.Lock()
	_, routeStillOK := e.routes.Find(addrN(5))
	e.mu.Unlock()
	a.False(routeStillOK)
}

func TestRouteRequestReplyRoundTrip(t *testing.T) {
	a := assert.New(t)
	requester, _ := newTestEngine(t, addrN(1), false)
	holder, _ := newTestEngine(t, addrN(2), false)

	now := time.Now()
	// holder already has a route to the queried destination.
	holder.mu.Lock()
	holder.routes.Update(addrN(9), addrN(9), 1, now)
	holder.mu.Unlock()

	payload := make([]byte, 6)
	dest := addrN(9)
	copy(payload, dest[:])
	req := &wire.Frame{Type: wire.TypeRouteRequest, Src: requester.OwnAddress(), Dst: wire.Broadcast, Sequence: 1, Data: payload}
	holder.handleReceived(link.Received{Frame: encode(t, req)}, now)

	requester.handleReceived(link.Received{Frame: reqLinkUnicastOrFail(t, holder, requester.OwnAddress())}, now)
	requester.mu.Lock()
	re, ok := requester.routes.Find(dest)
	requester.mu.Unlock()
	a.True(ok)
	a.EqualValues(2, re.HopCount)
}

// reqLinkUnicastOrFail fetches the ROUTE_REPLY holder sent to to, failing
// the test loudly rather than silently passing if none was sent.
func reqLinkUnicastOrFail(t *testing.T, holder *Engine, to wire.Address) []byte {
	t.Helper()
	fl, ok := holder.link.(*fakeLink)
	require.True(t, ok)
	msgs := fl.unicastsTo(to)
	require.Len(t, msgs, 1)
	return msgs[0]
}
