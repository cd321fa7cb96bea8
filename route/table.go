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

// Package route holds the fixed-capacity distance-vector routing table:
// destination -> (next hop, hop count, last updated).
package route

import (
	"time"

	"github.com/meshvane/meshcore/wire"
)

// Entry is a single row of the routing table.
type Entry struct {
	Destination wire.Address
	NextHop     wire.Address
	HopCount    uint8
	LastUpdated time.Time
}

// Table is a fixed-capacity mapping from destination to route, unique by
// destination.
type Table struct {
	capacity int
	timeout  time.Duration
	entries  []Entry
}

// New returns an empty table with the given capacity and staleness timeout.
// The timeout is applied by EvictStale; see §4.3a of the specification for
// why routes age out on the same clock as peers.
func New(capacity int, timeout time.Duration) *Table {
	return &Table{
		capacity: capacity,
		timeout:  timeout,
		entries:  make([]Entry, 0, capacity),
	}
}

// Find returns the route to dst, if any.
func (t *Table) Find(dst wire.Address) (Entry, bool) {
	if i := t.indexOf(dst); i >= 0 {
		return t.entries[i], true
	}
	return Entry{}, false
}

func (t *Table) indexOf(dst wire.Address) int {
	for i := range t.entries {
		if t.entries[i].Destination == dst {
			return i
		}
	}
	return -1
}

// Update inserts a route to dst if none exists (subject to capacity), or
// overwrites next_hop/hop_count of the existing one only when hopCount is
// strictly less than the stored value. last_updated is refreshed either
// way. It returns whether the stored next_hop/hop_count actually changed.
func (t *Table) Update(dst, nextHop wire.Address, hopCount uint8, now time.Time) bool {
	if i := t.indexOf(dst); i >= 0 {
		e := &t.entries[i]
		e.LastUpdated = now
		if hopCount < e.HopCount {
			e.NextHop = nextHop
			e.HopCount = hopCount
			return true
		}
		return false
	}

	if len(t.entries) >= t.capacity {
		return false
	}

	t.entries = append(t.entries, Entry{
		Destination: dst,
		NextHop:     nextHop,
		HopCount:    hopCount,
		LastUpdated: now,
	})
	return true
}

// EvictStale removes every route whose last_updated is at least the table's
// timeout before now.
func (t *Table) EvictStale(now time.Time) {
	writeIdx := 0
	for i := range t.entries {
		if now.Sub(t.entries[i].LastUpdated) < t.timeout {
			if writeIdx != i {
				t.entries[writeIdx] = t.entries[i]
			}
			writeIdx++
		}
	}
	t.entries = t.entries[:writeIdx]
}

// RemoveByNextHop drops every route whose next hop is addr. It is called
// whenever the peer table evicts addr, so a route never outlives the peer
// it depends on (§4.3a).
func (t *Table) RemoveByNextHop(addr wire.Address) {
	writeIdx := 0
	for i := range t.entries {
		if t.entries[i].NextHop != addr {
			if writeIdx != i {
				t.entries[writeIdx] = t.entries[i]
			}
			writeIdx++
		}
	}
	t.entries = t.entries[:writeIdx]
}

// Count returns the number of routes currently stored.
func (t *Table) Count() int {
	return len(t.entries)
}

// Range calls fn for every route in table-position order, stopping early if
// fn returns false. fn must not mutate the table.
func (t *Table) Range(fn func(Entry) bool) {
	for _, e := range t.entries {
		if !fn(e) {
			return
		}
	}
}
