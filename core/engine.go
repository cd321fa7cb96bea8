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

// Package core is the mesh protocol engine: the Frame Processor and the
// Periodic Driver, sitting on top of the wire codec and the peer/routing
// tables. Engine is the single struct the design notes ask for in place of
// the original firmware's file-scope globals; it owns both tables and is
// the only mutator of either.
package core

import (
	"crypto/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/meshvane/meshcore/config"
	"github.com/meshvane/meshcore/dedup"
	"github.com/meshvane/meshcore/errs"
	"github.com/meshvane/meshcore/link"
	"github.com/meshvane/meshcore/peer"
	"github.com/meshvane/meshcore/recvqueue"
	"github.com/meshvane/meshcore/route"
	"github.com/meshvane/meshcore/wire"
)

// DataCallback is invoked once per DATA frame addressed to this node.
type DataCallback func(src wire.Address, payload []byte)

// Engine is the mesh protocol engine for a single node. It owns the peer
// table, the routing table, the dedup cache, the sequence counter, and the
// heartbeat clock. The link driver and application hold a reference to it;
// there is no global/singleton state anywhere in this package.
type Engine struct {
	link    link.Driver
	mailbox *recvqueue.Mailbox
	tun     config.Tunables

	mu          sync.Mutex
	ownAddr     wire.Address
	gatewayMode bool
	channelHint int

	peers  *peer.Table
	routes *route.Table
	seen   *dedup.Cache

	sequence      uint16
	lastHeartbeat time.Time

	callback DataCallback
}

// New returns a new Engine for one mesh node. If cfg.OwnAddress is empty a
// random locally-administered address is generated.
func New(cfg *config.Config, driver link.Driver, mailbox *recvqueue.Mailbox) (*Engine, error) {
	own, err := resolveOwnAddress(cfg.OwnAddress)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		link:        driver,
		mailbox:     mailbox,
		tun:         cfg.Tunables,
		ownAddr:     own,
		gatewayMode: cfg.GatewayMode,
		channelHint: cfg.ChannelHint,
		peers:       peer.New(cfg.Tunables.MaxPeers, cfg.Tunables.PeerTimeout),
		routes:      route.New(cfg.Tunables.MaxPeers, cfg.Tunables.PeerTimeout),
		seen:        dedup.New(cfg.Tunables.DedupCacheSize),
	}
	return e, nil
}

func resolveOwnAddress(configured string) (wire.Address, error) {
	if configured != "" {
		return config.ParseAddress(configured)
	}

	var addr wire.Address
	if _, err := rand.Read(addr[:]); err != nil {
		return addr, err
	}
	// Locally-administered, unicast: clear the multicast bit, set the
	// locally-administered bit, the conventional way to mint a MAC that
	// will never collide with a manufacturer-assigned one.
	addr[0] = (addr[0] &^ 0x01) | 0x02
	return addr, nil
}

// OwnAddress returns the node's own address.
func (e *Engine) OwnAddress() wire.Address {
	return e.ownAddr
}

// SetDataCallback registers the function invoked once per DATA frame
// addressed to this node.
func (e *Engine) SetDataCallback(fn DataCallback) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.callback = fn
}

// SetGatewayMode toggles whether this node advertises itself as a gateway
// in DISCOVERY/HEARTBEAT payloads.
func (e *Engine) SetGatewayMode(gateway bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gatewayMode = gateway
}

// GatewayMode reports whether this node currently advertises itself as a
// gateway.
func (e *Engine) GatewayMode() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gatewayMode
}

// PeerCount returns the number of peers currently in the table.
func (e *Engine) PeerCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.peers.Count()
}

// NearestGateway returns the nearest known gateway peer, if any.
func (e *Engine) NearestGateway() (peer.Entry, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.peers.NearestGateway()
}

// Peers exposes the peer table for read-only observers. fn must not mutate
// the table.
func (e *Engine) Peers(fn func(peer.Entry) bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.peers.Range(fn)
}

// Routes exposes the routing table for read-only observers.
func (e *Engine) Routes(fn func(route.Entry) bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.routes.Range(fn)
}

// nextSequence returns the next originator-local sequence number, wrapping
// at 16 bits as §3 permits. Callers must hold e.mu.
func (e *Engine) nextSequence() uint16 {
	s := e.sequence
	e.sequence++
	return s
}

// Summary returns a point-in-time snapshot of the engine's state.
func (e *Engine) Summary() Summary {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Summary{
		OwnAddress:  e.ownAddr.String(),
		GatewayMode: e.gatewayMode,
		PeerCount:   e.peers.Count(),
		RouteCount:  e.routes.Count(),
		SnapshotAt:  time.Now(),
	}
	e.peers.Range(func(pe peer.Entry) bool {
		s.Peers = append(s.Peers, PeerSummary{
			Address:   addrString(pe.Address),
			RSSI:      pe.RSSI,
			LastSeen:  pe.LastSeen,
			HopCount:  pe.HopCount,
			IsGateway: pe.IsGateway,
		})
		return true
	})
	e.routes.Range(func(re route.Entry) bool {
		s.Routes = append(s.Routes, RouteSummary{
			Destination: addrString(re.Destination),
			NextHop:     addrString(re.NextHop),
			HopCount:    re.HopCount,
			LastUpdated: re.LastUpdated,
		})
		return true
	})
	return s
}

// Tick is the Periodic Driver (§4.5): it emits a heartbeat when due, ages
// out stale peers and routes, cascades route eviction for peers that just
// timed out, and drains the receive mailbox into the Frame Processor. It is
// the only place the engine's own clock-driven behavior lives.
func (e *Engine) Tick(now time.Time) {
	e.mu.Lock()
	if now.Sub(e.lastHeartbeat) >= e.tun.HeartbeatInterval {
		e.lastHeartbeat = now
		e.emitHeartbeatLocked()

		evicted := e.peers.EvictStale(now)
		e.routes.EvictStale(now)
		for _, addr := range evicted {
			e.routes.RemoveByNextHop(addr)
		}
	}
	e.mu.Unlock()

	e.mailbox.Drain(func(r link.Received) {
		e.handleReceived(r, now)
	})
}

// emitHeartbeatLocked broadcasts a HEARTBEAT whose payload is
// [peer_count, gateway_flag]. Callers must hold e.mu.
func (e *Engine) emitHeartbeatLocked() {
	gatewayFlag := byte(0)
	if e.gatewayMode {
		gatewayFlag = 1
	}
	f := &wire.Frame{
		Type:     wire.TypeHeartbeat,
		Src:      e.ownAddr,
		Dst:      wire.Broadcast,
		HopCount: 0,
		Sequence: e.nextSequence(),
		Data:     []byte{byte(e.peers.Count()), gatewayFlag},
	}
	e.sendDirectLocked(f)
}

// handleReceived decodes and runs the Frame Processor (§4.4) for one
// reception pulled off the mailbox.
func (e *Engine) handleReceived(r link.Received, now time.Time) {
	f, err := wire.Decode(r.Frame)
	if err != nil {
		zap.L().Warn("Decode received frame failed", zap.Error(err))
		return
	}

	// Step 1: self-filter.
	if f.Src == e.ownAddr {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Step 2: duplicate-filter. Record regardless of outcome; only the
	// dispatch in step 4 is skipped for a repeat.
	duplicate := e.seen.Seen(f.Src, f.Sequence)

	// Step 3: peer update always runs, duplicate or not. A new source at a
	// full table makes room by evicting stale peers; that eviction is done
	// here so routes through the evicted peers are cascaded as in Tick.
	if _, known := e.peers.Find(f.Src); !known && e.peers.Count() >= e.tun.MaxPeers {
		for _, addr := range e.peers.EvictStale(now) {
			e.routes.RemoveByNextHop(addr)
		}
	}
	rssi := int8(0)
	if r.RSSI != nil {
		rssi = *r.RSSI
	}
	gatewayHint := false
	if f.Type == wire.TypeDiscovery {
		gatewayHint = len(f.Data) > 0 && f.Data[0] != 0
	} else if existing, ok := e.peers.Find(f.Src); ok {
		gatewayHint = existing.IsGateway
	}
	e.peers.Touch(f.Src, rssi, f.HopCount, gatewayHint, now)

	if duplicate {
		return
	}

	// Step 4: dispatch on type.
	switch f.Type {
	case wire.TypeDiscovery:
		e.handleDiscoveryLocked(f, now)
	case wire.TypeHeartbeat:
		// No further action; the peer update above is sufficient.
	case wire.TypeData:
		e.handleDataLocked(f, now)
	case wire.TypeRouteRequest:
		e.handleRouteRequestLocked(f, now)
	case wire.TypeRouteReply:
		e.handleRouteReplyLocked(f, now)
	case wire.TypeAck:
		// Reserved; no-op.
	default:
		// Unknown types are tolerated, never dispatched.
	}
}

func (e *Engine) handleDiscoveryLocked(f *wire.Frame, now time.Time) {
	e.routes.Update(f.Src, f.Src, 1, now)

	if f.HopCount >= e.tun.DiscoveryHopLimit {
		return
	}

	gatewayFlag := byte(0)
	if e.gatewayMode {
		gatewayFlag = 1
	}
	reply := &wire.Frame{
		Type:     wire.TypeDiscovery,
		Src:      e.ownAddr,
		Dst:      f.Src,
		HopCount: f.HopCount + 1,
		Sequence: e.nextSequence(),
		Data:     []byte{gatewayFlag},
	}
	e.sendDirectLocked(reply)
}

func (e *Engine) handleDataLocked(f *wire.Frame, now time.Time) {
	if f.Dst == e.ownAddr {
		if e.callback != nil {
			e.callback(f.Src, f.Data)
		}
		return
	}

	if f.HopCount >= e.tun.MaxHopCount {
		return
	}

	forwarded := &wire.Frame{
		Type:     wire.TypeData,
		Src:      f.Src,
		Dst:      f.Dst,
		HopCount: f.HopCount + 1,
		Sequence: f.Sequence,
		Data:     f.Data,
	}
	e.forwardLocked(forwarded)
}

func (e *Engine) handleRouteRequestLocked(f *wire.Frame, now time.Time) {
	var queried wire.Address
	if len(f.Data) >= 6 {
		copy(queried[:], f.Data[:6])
	}

	if queried == e.ownAddr {
		e.sendRouteReplyLocked(f.Src, queried, 1)
		return
	}
	if re, ok := e.routes.Find(queried); ok {
		e.sendRouteReplyLocked(f.Src, queried, re.HopCount+1)
		return
	}

	if f.HopCount >= e.tun.MaxHopCount {
		return
	}
	rebroadcast := &wire.Frame{
		Type:     wire.TypeRouteRequest,
		Src:      f.Src,
		Dst:      wire.Broadcast,
		HopCount: f.HopCount + 1,
		Sequence: f.Sequence,
		Data:     f.Data,
	}
	e.sendDirectLocked(rebroadcast)
}

func (e *Engine) sendRouteReplyLocked(to, destination wire.Address, hopCount uint8) {
	payload := make([]byte, 7)
	copy(payload[:6], destination[:])
	payload[6] = hopCount

	reply := &wire.Frame{
		Type:     wire.TypeRouteReply,
		Src:      e.ownAddr,
		Dst:      to,
		HopCount: 0,
		Sequence: e.nextSequence(),
		Data:     payload,
	}
	e.sendDirectLocked(reply)
}

func (e *Engine) handleRouteReplyLocked(f *wire.Frame, now time.Time) {
	if len(f.Data) < 7 {
		return
	}
	var destination wire.Address
	copy(destination[:], f.Data[:6])
	hopCount := f.Data[6]
	e.routes.Update(destination, f.Src, hopCount, now)
}

// sendDirectLocked encodes and sends f straight to f.Dst: broadcast frames
// (heartbeats, route requests) go to the link driver's Broadcast, anything
// else is unicast directly to f.Dst. It is for replies to a neighbor we
// just heard from, where f.Dst already is the link-layer next hop and no
// routing-table lookup is needed. Callers must hold e.mu.
func (e *Engine) sendDirectLocked(f *wire.Frame) {
	buf, err := wire.Encode(f)
	if err != nil {
		zap.L().Warn("Encode outgoing frame failed", zap.Stringer("type", f.Type), zap.Error(err))
		return
	}

	if f.Dst.IsBroadcast() {
		if err := e.link.Broadcast(buf); err != nil {
			zap.L().Warn("Broadcast frame failed", zap.Stringer("type", f.Type), zap.Error(errs.WrapLinkSend(err, "broadcast")))
		}
		return
	}
	e.sendTo(f.Dst, f.Type, buf)
}

// forwardLocked encodes and sends f toward its ultimate destination f.Dst:
// if a route is known, the frame is unicast to the route's next hop;
// otherwise it is broadcast. This is the DATA forwarding/origination
// policy (§4.4), distinct from sendDirectLocked's reply-to-a-neighbor
// policy. Callers must hold e.mu.
func (e *Engine) forwardLocked(f *wire.Frame) {
	buf, err := wire.Encode(f)
	if err != nil {
		zap.L().Warn("Encode outgoing frame failed", zap.Stringer("type", f.Type), zap.Error(err))
		return
	}

	if f.Dst.IsBroadcast() {
		if err := e.link.Broadcast(buf); err != nil {
			zap.L().Warn("Broadcast frame failed", zap.Stringer("type", f.Type), zap.Error(errs.WrapLinkSend(err, "broadcast")))
		}
		return
	}

	if re, ok := e.routes.Find(f.Dst); ok {
		e.sendTo(re.NextHop, f.Type, buf)
		return
	}
	if err := e.link.Broadcast(buf); err != nil {
		zap.L().Warn("Broadcast frame failed", zap.Stringer("type", f.Type), zap.Error(errs.WrapLinkSend(err, "broadcast")))
	}
}

func (e *Engine) sendTo(nextHop wire.Address, frameType wire.Type, buf []byte) {
	if registrar, ok := e.link.(link.PeerRegistrar); ok {
		if err := registrar.EnsurePeer(nextHop); err != nil {
			zap.L().Warn("EnsurePeer failed", zap.Stringer("addr", nextHop), zap.Error(errs.WrapLinkSend(err, "ensure peer")))
		}
	}
	if err := e.link.Unicast(nextHop, buf); err != nil {
		zap.L().Warn("Unicast frame failed", zap.Stringer("type", frameType), zap.Stringer("addr", nextHop), zap.Error(errs.WrapLinkSend(err, "unicast")))
	}
}

// SendData originates a DATA frame to dst with hop_count=0 and a fresh
// sequence number, truncating payload at MaxDataSize. Route lookup selects
// the outgoing link-layer address exactly as in forwarding. There is no
// retry or acknowledgement at this layer.
func (e *Engine) SendData(dst wire.Address, payload []byte) error {
	if len(payload) > wire.MaxDataSize {
		payload = payload[:wire.MaxDataSize]
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	seq := e.nextSequence()
	// Self-originated frames are recorded in the seen-cache too. A copy
	// reflected back to us by a neighbor keeps our Src, so handleReceived's
	// self-filter drops it before the seen-cache is consulted.
	e.seen.Seen(e.ownAddr, seq)

	f := &wire.Frame{
		Type:     wire.TypeData,
		Src:      e.ownAddr,
		Dst:      dst,
		HopCount: 0,
		Sequence: seq,
		Data:     payload,
	}
	e.forwardLocked(f)
	return nil
}
