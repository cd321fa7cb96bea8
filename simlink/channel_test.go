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

package simlink

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshvane/meshcore/link"
	"github.com/meshvane/meshcore/recvqueue"
	"github.com/meshvane/meshcore/wire"
)

func addr(n byte) wire.Address {
	return wire.Address{0xAA, n}
}

func TestBroadcastReachesAllOtherNodesNotSelf(t *testing.T) {
	a := assert.New(t)
	ch := NewChannel(0, 0)

	mbA := recvqueue.NewMailbox(4)
	mbB := recvqueue.NewMailbox(4)
	mbC := recvqueue.NewMailbox(4)
	driverA := ch.Join(addr(1), mbA)
	ch.Join(addr(2), mbB)
	ch.Join(addr(3), mbC)

	require.NoError(t, driverA.Broadcast([]byte("hello")))

	var got []link.Received
	mbB.Drain(func(r link.Received) { got = append(got, r) })
	a.Len(got, 1)
	a.Equal([]byte("hello"), got[0].Frame)
	a.Equal(addr(1), got[0].SrcFromLink)

	var gotA []link.Received
	mbA.Drain(func(r link.Received) { gotA = append(gotA, r) })
	a.Len(gotA, 0, "a node must not receive its own broadcast")

	var gotC []link.Received
	mbC.Drain(func(r link.Received) { gotC = append(gotC, r) })
	a.Len(gotC, 1)
}

func TestUnicastOnlyReachesNamedDestination(t *testing.T) {
	a := assert.New(t)
	ch := NewChannel(0, 0)

	mbB := recvqueue.NewMailbox(4)
	mbC := recvqueue.NewMailbox(4)
	driverA := ch.Join(addr(1), recvqueue.NewMailbox(4))
	ch.Join(addr(2), mbB)
	ch.Join(addr(3), mbC)

	require.NoError(t, driverA.Unicast(addr(2), []byte("x")))

	var gotB, gotC int
	mbB.Drain(func(link.Received) { gotB++ })
	mbC.Drain(func(link.Received) { gotC++ })
	a.Equal(1, gotB)
	a.Equal(0, gotC)
}

func TestFullLossDropsEverything(t *testing.T) {
	a := assert.New(t)
	ch := NewChannel(1.0, 0)

	mbB := recvqueue.NewMailbox(4)
	driverA := ch.Join(addr(1), recvqueue.NewMailbox(4))
	ch.Join(addr(2), mbB)

	require.NoError(t, driverA.Broadcast([]byte("x")))

	count := 0
	mbB.Drain(func(link.Received) { count++ })
	a.Equal(0, count)
}

func TestLatencyDelaysDelivery(t *testing.T) {
	a := assert.New(t)
	ch := NewChannel(0, 20*time.Millisecond)

	mbB := recvqueue.NewMailbox(4)
	driverA := ch.Join(addr(1), recvqueue.NewMailbox(4))
	ch.Join(addr(2), mbB)

	require.NoError(t, driverA.Broadcast([]byte("x")))

	count := 0
	mbB.Drain(func(link.Received) { count++ })
	a.Equal(0, count, "frame should not be delivered before the configured latency elapses")

	time.Sleep(40 * time.Millisecond)
	mbB.Drain(func(link.Received) { count++ })
	a.Equal(1, count)
}
