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

// Package peer holds the fixed-capacity set of recently heard neighbors.
// The Engine (Frame Processor and Periodic Driver) is the only writer; the
// Gateway Bridge are read-only observers via Range/Find/NearestGateway.
package peer

import (
	"time"

	"github.com/meshvane/meshcore/wire"
)

// Entry is a single row of the peer table.
type Entry struct {
	Address   wire.Address
	RSSI      int8
	LastSeen  time.Time
	HopCount  uint8
	IsGateway bool
	IsActive  bool
}

// Table is a fixed-capacity set of PeerEntry, unique by address.
type Table struct {
	capacity int
	timeout  time.Duration
	entries  []Entry
}

// New returns an empty table with the given capacity and staleness timeout.
func New(capacity int, timeout time.Duration) *Table {
	return &Table{
		capacity: capacity,
		timeout:  timeout,
		entries:  make([]Entry, 0, capacity),
	}
}

// Find returns the entry for addr, if any.
func (t *Table) Find(addr wire.Address) (Entry, bool) {
	if i := t.indexOf(addr); i >= 0 {
		return t.entries[i], true
	}
	return Entry{}, false
}

func (t *Table) indexOf(addr wire.Address) int {
	for i := range t.entries {
		if t.entries[i].Address == addr {
			return i
		}
	}
	return -1
}

// Touch updates last_seen/hop_count/is_gateway for addr if it already has
// an entry, or inserts a new one. On a full table it first evicts stale
// entries; if that doesn't open a slot, the touch is dropped and ok is
// false.
func (t *Table) Touch(addr wire.Address, rssi int8, hopCount uint8, isGateway bool, now time.Time) (Entry, bool) {
	if i := t.indexOf(addr); i >= 0 {
		e := &t.entries[i]
		e.RSSI = rssi
		e.LastSeen = now
		e.HopCount = hopCount
		e.IsGateway = isGateway
		e.IsActive = true
		return *e, true
	}

	if len(t.entries) >= t.capacity {
		t.EvictStale(now)
		if len(t.entries) >= t.capacity {
			return Entry{}, false
		}
	}

	e := Entry{
		Address:   addr,
		RSSI:      rssi,
		LastSeen:  now,
		HopCount:  hopCount,
		IsGateway: isGateway,
		IsActive:  true,
	}
	t.entries = append(t.entries, e)
	return e, true
}

// EvictStale removes every entry whose last_seen is at least the table's
// timeout before now and returns the evicted addresses. Order of surviving entries is
// preserved (compact-in-place); this is the only removal path besides
// Remove.
func (t *Table) EvictStale(now time.Time) []wire.Address {
	var evicted []wire.Address
	writeIdx := 0
	for i := range t.entries {
		if now.Sub(t.entries[i].LastSeen) < t.timeout {
			if writeIdx != i {
				t.entries[writeIdx] = t.entries[i]
			}
			writeIdx++
		} else {
			evicted = append(evicted, t.entries[i].Address)
		}
	}
	t.entries = t.entries[:writeIdx]
	return evicted
}

// Remove drops addr from the table unconditionally, if present.
func (t *Table) Remove(addr wire.Address) bool {
	i := t.indexOf(addr)
	if i < 0 {
		return false
	}
	t.entries = append(t.entries[:i], t.entries[i+1:]...)
	return true
}

// Count returns the number of entries currently in the table.
func (t *Table) Count() int {
	return len(t.entries)
}

// NearestGateway returns the gateway entry with the smallest hop count,
// ties broken by earliest table position.
func (t *Table) NearestGateway() (Entry, bool) {
	var best *Entry
	for i := range t.entries {
		if !t.entries[i].IsGateway {
			continue
		}
		if best == nil || t.entries[i].HopCount < best.HopCount {
			best = &t.entries[i]
		}
	}
	if best == nil {
		return Entry{}, false
	}
	return *best, true
}

// Range calls fn for every entry in table-position order, stopping early if
// fn returns false. fn must not mutate the table.
func (t *Table) Range(fn func(Entry) bool) {
	for _, e := range t.entries {
		if !fn(e) {
			return
		}
	}
}
