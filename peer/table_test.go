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

package peer

import (
	"testing"
	"time"

	"github.com/meshvane/meshcore/wire"
	"github.com/stretchr/testify/assert"
)

func addr(b byte) wire.Address {
	return wire.Address{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, b}
}

func TestTouchInsertsAndUpdates(t *testing.T) {
	a := assert.New(t)
	tbl := New(20, 120*time.Second)

	base := time.Unix(0, 0)
	_, ok := tbl.Touch(addr(1), -40, 0, false, base)
	a.True(ok)
	a.Equal(1, tbl.Count())

	e, ok := tbl.Find(addr(1))
	a.True(ok)
	a.Equal(base, e.LastSeen)
	a.False(e.IsGateway)

	later := base.Add(5 * time.Second)
	_, ok = tbl.Touch(addr(1), -30, 2, true, later)
	a.True(ok)
	a.Equal(1, tbl.Count(), "touching an existing address must not insert a duplicate")

	e, ok = tbl.Find(addr(1))
	a.True(ok)
	a.Equal(later, e.LastSeen)
	a.True(e.IsGateway)
	a.Equal(uint8(2), e.HopCount)
}

func TestTouchMonotonicLastSeen(t *testing.T) {
	a := assert.New(t)
	tbl := New(20, 120*time.Second)

	t0 := time.Unix(100, 0)
	_, _ = tbl.Touch(addr(1), 0, 0, false, t0)
	for i := 1; i <= 5; i++ {
		tn := t0.Add(time.Duration(i) * time.Second)
		_, _ = tbl.Touch(addr(1), 0, 0, false, tn)
		e, _ := tbl.Find(addr(1))
		a.False(e.LastSeen.Before(t0))
		t0 = tn
	}
}

func TestUniqueAddresses(t *testing.T) {
	a := assert.New(t)
	tbl := New(20, 120*time.Second)
	now := time.Now()

	for i := byte(1); i <= 10; i++ {
		_, _ = tbl.Touch(addr(i), 0, 0, false, now)
	}
	_, _ = tbl.Touch(addr(5), 0, 1, true, now)
	a.Equal(10, tbl.Count())

	seen := map[wire.Address]bool{}
	tbl.Range(func(e Entry) bool {
		a.False(seen[e.Address], "duplicate address in table")
		seen[e.Address] = true
		return true
	})
}

func TestCapacityEvictsStaleBeforeDropping(t *testing.T) {
	a := assert.New(t)
	tbl := New(2, 10*time.Second)

	t0 := time.Unix(0, 0)
	_, ok := tbl.Touch(addr(1), 0, 0, false, t0)
	a.True(ok)
	_, ok = tbl.Touch(addr(2), 0, 0, false, t0)
	a.True(ok)

	// addr(1) and addr(2) are both stale by t0+20s; inserting addr(3) should
	// evict them and succeed.
	t1 := t0.Add(20 * time.Second)
	_, ok = tbl.Touch(addr(3), 0, 0, false, t1)
	a.True(ok)
	a.Equal(1, tbl.Count())

	_, found := tbl.Find(addr(1))
	a.False(found)
}

func TestCapacityDropsWhenStillFull(t *testing.T) {
	tbl := New(2, 1000*time.Second)
	now := time.Now()

	_, _ = tbl.Touch(addr(1), 0, 0, false, now)
	_, _ = tbl.Touch(addr(2), 0, 0, false, now)

	_, ok := tbl.Touch(addr(3), 0, 0, false, now)
	assert.False(t, ok)
	assert.Equal(t, 2, tbl.Count())
}

func TestEvictStaleRemovesStaleAndReturnsEvicted(t *testing.T) {
	a := assert.New(t)
	tbl := New(20, 120*time.Second)

	base := time.Unix(0, 0)
	_, _ = tbl.Touch(addr(1), 0, 0, false, base)
	_, _ = tbl.Touch(addr(2), 0, 0, false, base.Add(1*time.Second))
	_, _ = tbl.Touch(addr(3), 0, 0, false, base.Add(200*time.Second))

	evicted := tbl.EvictStale(base.Add(200 * time.Second))
	a.ElementsMatch([]wire.Address{addr(1), addr(2)}, evicted)
	a.Equal(1, tbl.Count())

	e, ok := tbl.Find(addr(3))
	a.True(ok)
	a.Equal(addr(3), e.Address)
}

func TestEvictStaleInvariant(t *testing.T) {
	tbl := New(20, 120*time.Second)
	base := time.Unix(0, 0)
	for i := byte(1); i <= 5; i++ {
		_, _ = tbl.Touch(addr(i), 0, 0, false, base.Add(time.Duration(i)*time.Second))
	}

	now := base.Add(121 * time.Second)
	tbl.EvictStale(now)

	tbl.Range(func(e Entry) bool {
		assert.Less(t, now.Sub(e.LastSeen), 120*time.Second)
		return true
	})
}

func TestStalePeerReinsertedFresh(t *testing.T) {
	a := assert.New(t)
	tbl := New(20, 120*time.Second)

	tbl.Touch(addr(1), -10, 0, false, time.Unix(0, 0))
	tbl.EvictStale(time.Unix(120, 0))
	a.Equal(0, tbl.Count())

	_, ok := tbl.Touch(addr(1), -10, 0, false, time.Unix(121, 0))
	a.True(ok)
	a.Equal(1, tbl.Count())
}

func TestNearestGatewayTiesByPosition(t *testing.T) {
	a := assert.New(t)
	tbl := New(20, 120*time.Second)
	now := time.Now()

	tbl.Touch(addr(1), 0, 3, false, now)
	tbl.Touch(addr(2), 0, 1, true, now)
	tbl.Touch(addr(3), 0, 1, true, now) // same hop count, later position
	tbl.Touch(addr(4), 0, 2, true, now)

	e, ok := tbl.NearestGateway()
	a.True(ok)
	a.Equal(addr(2), e.Address)
}

func TestNearestGatewayNoneFound(t *testing.T) {
	tbl := New(20, 120*time.Second)
	tbl.Touch(addr(1), 0, 0, false, time.Now())
	_, ok := tbl.NearestGateway()
	assert.False(t, ok)
}
