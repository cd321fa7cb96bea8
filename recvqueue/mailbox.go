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

// Package recvqueue is the trampoline between whatever context the link
// driver receives frames on (an ISR, a service task, a goroutine) and the
// engine's single logical execution context. The design notes require this:
// the receive path must never re-enter the Frame Processor recursively.
package recvqueue

import (
	"go.uber.org/atomic"

	"github.com/meshvane/meshcore/link"
)

// Mailbox is a bounded, single-consumer queue of pending receptions. Push is
// safe to call from any goroutine (the link driver's receive context); Drain
// is meant to be called only from the engine's own Tick.
type Mailbox struct {
	ch      chan link.Received
	dropped atomic.Uint64
}

// NewMailbox returns a mailbox with room for capacity pending receptions.
func NewMailbox(capacity int) *Mailbox {
	return &Mailbox{ch: make(chan link.Received, capacity)}
}

// Push enqueues a reception. If the mailbox is full, the reception is
// dropped and the drop counter is incremented rather than blocking the
// caller — a radio receive callback must never stall waiting on the engine.
func (m *Mailbox) Push(r link.Received) {
	select {
	case m.ch <- r:
	default:
		m.dropped.Inc()
	}
}

// Drain calls fn for every pending reception, in arrival order, removing
// each from the mailbox as it's delivered. It never blocks.
func (m *Mailbox) Drain(fn func(link.Received)) {
	for {
		select {
		case r := <-m.ch:
			fn(r)
		default:
			return
		}
	}
}

// Dropped returns the number of receptions dropped because the mailbox was
// full when Push was called.
func (m *Mailbox) Dropped() uint64 {
	return m.dropped.Load()
}
