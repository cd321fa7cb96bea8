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

// Package simlink is an in-memory link.Driver implementation that fans a
// broadcast out to every other node registered on the same simulated
// channel, with configurable random loss and latency. It is the concrete
// body the core spec treats as an external collaborator ("the link
// driver"), letting a multi-node mesh run in one process for demonstration
// and integration testing, without any radio hardware.
package simlink

import (
	"math/rand"
	"sync"
	"time"

	"github.com/meshvane/meshcore/link"
	"github.com/meshvane/meshcore/recvqueue"
	"github.com/meshvane/meshcore/wire"
)

// Channel is a shared simulated broadcast medium. Every Driver joined to
// the same Channel can reach every other.
type Channel struct {
	mu       sync.Mutex
	nodes    map[wire.Address]*recvqueue.Mailbox
	lossRate float64
	latency  time.Duration
}

// NewChannel returns a Channel with the given per-delivery loss probability
// (0..1) and fixed delivery latency.
func NewChannel(lossRate float64, latency time.Duration) *Channel {
	return &Channel{
		nodes:    make(map[wire.Address]*recvqueue.Mailbox),
		lossRate: lossRate,
		latency:  latency,
	}
}

// Join registers addr on the channel and returns the link.Driver that node
// should pass to core.New. Receptions arrive on mailbox, the same mailbox
// the node's Engine.Tick drains.
func (c *Channel) Join(addr wire.Address, mailbox *recvqueue.Mailbox) *Driver {
	c.mu.Lock()
	c.nodes[addr] = mailbox
	c.mu.Unlock()
	return &Driver{channel: c, own: addr}
}

// Leave removes addr from the channel; it stops receiving further frames.
func (c *Channel) Leave(addr wire.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.nodes, addr)
}

func (c *Channel) deliver(from, to wire.Address, frame []byte) {
	c.mu.Lock()
	mailbox, ok := c.nodes[to]
	c.mu.Unlock()
	if !ok {
		return
	}
	if c.lossRate > 0 && rand.Float64() < c.lossRate {
		return
	}

	rssi := simulatedRSSI()
	send := func() {
		mailbox.Push(link.Received{SrcFromLink: from, Frame: frame, RSSI: &rssi})
	}
	if c.latency <= 0 {
		send()
		return
	}
	time.AfterFunc(c.latency, send)
}

// simulatedRSSI returns a plausible signed RSSI reading; the core only
// uses it for display/advisory purposes, never for protocol decisions.
func simulatedRSSI() int8 {
	return int8(-40 - rand.Intn(40))
}

// Driver is one node's link.Driver handle onto a Channel.
type Driver struct {
	channel *Channel
	own     wire.Address
}

// Broadcast fans frame out to every other node currently joined to the
// channel.
func (d *Driver) Broadcast(frame []byte) error {
	d.channel.mu.Lock()
	targets := make([]wire.Address, 0, len(d.channel.nodes))
	for addr := range d.channel.nodes {
		if addr != d.own {
			targets = append(targets, addr)
		}
	}
	d.channel.mu.Unlock()

	for _, to := range targets {
		d.channel.deliver(d.own, to, frame)
	}
	return nil
}

// Unicast delivers frame to addr only, subject to the channel's configured
// loss and latency. Unknown destinations are silently dropped, matching a
// real radio's best-effort semantics.
func (d *Driver) Unicast(addr wire.Address, frame []byte) error {
	d.channel.deliver(d.own, addr, frame)
	return nil
}

var _ link.Driver = (*Driver)(nil)
