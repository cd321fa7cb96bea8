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

// Package dedup implements the (src, sequence) seen-cache the design notes
// recommend to protect hop-count-only forwarding from broadcast storms.
// Eviction is strict LRU by recency of Seen calls, not wall-clock time.
package dedup

import "github.com/meshvane/meshcore/wire"

// DefaultSize is the default cache capacity.
const DefaultSize = 64

type key struct {
	src wire.Address
	seq uint16
}

// Cache is a fixed-capacity LRU set of (src, sequence) pairs.
type Cache struct {
	capacity int
	order    []key // order[0] is least recently used
	index    map[key]int
}

// New returns an empty cache with the given capacity. A non-positive
// capacity disables the cache entirely: Seen always reports false.
func New(capacity int) *Cache {
	size := capacity
	if size < 0 {
		size = 0
	}
	return &Cache{
		capacity: capacity,
		order:    make([]key, 0, size),
		index:    make(map[key]int, size),
	}
}

// Seen reports whether (src, sequence) was already recorded, and records it
// as a side effect regardless of the result. Check-and-insert is a single
// call so the single-threaded engine never races itself between the two.
func (c *Cache) Seen(src wire.Address, sequence uint16) bool {
	if c.capacity <= 0 {
		return false
	}

	k := key{src: src, seq: sequence}
	if i, ok := c.index[k]; ok {
		c.touch(i)
		return true
	}

	if len(c.order) >= c.capacity {
		c.evictOldest()
	}

	c.order = append(c.order, k)
	c.index[k] = len(c.order) - 1
	return false
}

// touch moves the entry at position i to the most-recently-used end.
func (c *Cache) touch(i int) {
	if i == len(c.order)-1 {
		return
	}
	k := c.order[i]
	c.order = append(c.order[:i], c.order[i+1:]...)
	c.order = append(c.order, k)
	c.reindex()
}

func (c *Cache) evictOldest() {
	oldest := c.order[0]
	c.order = c.order[1:]
	delete(c.index, oldest)
	c.reindex()
}

func (c *Cache) reindex() {
	for i, k := range c.order {
		c.index[k] = i
	}
}

// Len returns the number of pairs currently recorded.
func (c *Cache) Len() int {
	return len(c.order)
}
