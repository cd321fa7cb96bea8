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

// Command meshnode spins up N simulated mesh nodes in a single process,
// wires each to its own introspection API port, and drives their Tick
// loops — the demonstration/integration harness for the mesh core, run
// without any radio hardware (§4.11).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"inet.af/netaddr"

	"github.com/meshvane/meshcore/bridge"
	"github.com/meshvane/meshcore/config"
	"github.com/meshvane/meshcore/core"
	"github.com/meshvane/meshcore/debugapi"
	"github.com/meshvane/meshcore/internal/cmdutil"
	"github.com/meshvane/meshcore/logutil"
	"github.com/meshvane/meshcore/recvqueue"
	"github.com/meshvane/meshcore/simlink"
	"github.com/meshvane/meshcore/version"
	"github.com/meshvane/meshcore/wire"
)

func main() {
	var (
		nodeCount    int
		gatewayIndex int
		basePort     int
		lossRate     float64
		latency      time.Duration
		tickInterval time.Duration

		examples = cmdutil.Examples{
			{
				Example: "meshnode --nodes 5 --gateway-index 0",
				Comment: "Run a 5-node simulated mesh with node 0 acting as the gateway",
			},
		}
	)

	rootCmd := &cobra.Command{
		Use:           "meshnode [flags]",
		Short:         "Run a simulated mesh of nodes in a single process",
		Example:       examples.String(),
		Version:       version.NewVersion().String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRun: func(cmd *cobra.Command, args []string) {
			logutil.InitLogger()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if nodeCount <= 0 {
				return fmt.Errorf("--nodes must be positive")
			}
			if gatewayIndex < 0 || gatewayIndex >= nodeCount {
				return fmt.Errorf("--gateway-index must be within [0, %d)", nodeCount)
			}

			ctx, cancel := context.WithCancel(context.Background())
			go func() {
				sc := make(chan os.Signal, 1)
				signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM)
				sg := <-sc
				zap.L().Info("meshnode is terminating due to signal", zap.Stringer("signal", sg))
				cancel()
			}()

			return runMesh(ctx, nodeCount, gatewayIndex, basePort, lossRate, latency, tickInterval)
		},
	}

	rootCmd.Flags().IntVar(&nodeCount, "nodes", 3, "number of simulated nodes to run")
	rootCmd.Flags().IntVar(&gatewayIndex, "gateway-index", 0, "index of the node that runs in gateway mode")
	rootCmd.Flags().IntVar(&basePort, "base-port", 8500, "introspection API port of node 0; subsequent nodes increment from here")
	rootCmd.Flags().Float64Var(&lossRate, "loss", 0.0, "simulated per-delivery frame loss probability, 0..1")
	rootCmd.Flags().DurationVar(&latency, "latency", 0, "simulated per-delivery latency")
	rootCmd.Flags().DurationVar(&tickInterval, "tick", 50*time.Millisecond, "interval at which each node's Engine.Tick is invoked")

	cmdutil.Run(rootCmd)
}

type runningNode struct {
	engine *core.Engine
	bridge *bridge.Bridge
	server *debugapi.Server
}

func runMesh(ctx context.Context, nodeCount, gatewayIndex, basePort int, lossRate float64, latency, tickInterval time.Duration) error {
	channel := simlink.NewChannel(lossRate, latency)
	nodes := make([]*runningNode, 0, nodeCount)

	for i := 0; i < nodeCount; i++ {
		own := wire.Address{0xAE, 0x5E, 0x00, 0x00, 0x00, byte(i + 1)}
		isGateway := i == gatewayIndex

		cfg := config.New()
		cfg.OwnAddress = own.String()
		cfg.GatewayMode = isGateway

		mailbox := recvqueue.NewMailbox(64)
		driver := channel.Join(own, mailbox)

		engine, err := core.New(cfg, driver, mailbox)
		if err != nil {
			return fmt.Errorf("create engine for node %d: %w", i, err)
		}

		br := bridge.New()
		if isGateway {
			br.Advertise(netaddr.MustParseIPPrefix("10.42.0.0/24"))
		}

		addr := fmt.Sprintf("127.0.0.1:%d", basePort+i)
		server := debugapi.New(addr, engine, br)

		nodes = append(nodes, &runningNode{engine: engine, bridge: br, server: server})
		zap.L().Info("Node started",
			zap.Int("index", i),
			zap.Stringer("address", own),
			zap.Bool("gateway", isGateway),
			zap.String("debug_api", addr))
	}

	var wg sync.WaitGroup
	for _, n := range nodes {
		n := n
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := n.server.Serve(ctx); err != nil {
				zap.L().Warn("Introspection API server stopped", zap.Error(err))
			}
		}()
	}

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			zap.L().Info("See you again, bye!")
			return nil
		case now := <-ticker.C:
			for _, n := range nodes {
				n.engine.Tick(now)
				n.bridge.Refresh(n.engine)
			}
		}
	}
}
