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

// Command meshmonitor is a read-only terminal dashboard over one mesh
// node's introspection API: live peer table, routing table, and gateway
// bridge state, polled on an interval (§4.11).
package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/meshvane/meshcore/internal/cmdutil"
	"github.com/meshvane/meshcore/version"
)

// peerView and routeView mirror core.PeerSummary/core.RouteSummary. They are
// redeclared here rather than imported so this command depends only on the
// wire shape of the introspection API, not on the core package.
type peerView struct {
	Address   string    `json:"address"`
	RSSI      int8      `json:"rssi"`
	LastSeen  time.Time `json:"last_seen"`
	HopCount  uint8     `json:"hop_count"`
	IsGateway bool      `json:"is_gateway"`
}

type routeView struct {
	Destination string    `json:"destination"`
	NextHop     string    `json:"next_hop"`
	HopCount    uint8     `json:"hop_count"`
	LastUpdated time.Time `json:"last_updated"`
}

type summaryView struct {
	OwnAddress  string      `json:"own_address"`
	GatewayMode bool        `json:"gateway_mode"`
	PeerCount   int         `json:"peer_count"`
	RouteCount  int         `json:"route_count"`
	Peers       []peerView  `json:"peers"`
	Routes      []routeView `json:"routes"`
	SnapshotAt  time.Time   `json:"snapshot_at"`
}

type gatewayView struct {
	Known          bool      `json:"known"`
	GatewayAddress string    `json:"gateway_address,omitempty"`
	Prefix         string    `json:"prefix,omitempty"`
	HopCount       uint8     `json:"hop_count,omitempty"`
	AdvertisedAt   time.Time `json:"advertised_at,omitempty"`
}

func main() {
	var (
		target   string
		interval time.Duration

		examples = cmdutil.Examples{
			{
				Example: "meshmonitor --target http://127.0.0.1:8500",
				Comment: "Watch node 0 of a running meshnode simulation",
			},
		}
	)

	rootCmd := &cobra.Command{
		Use:           "meshmonitor [flags]",
		Short:         "Poll a mesh node's introspection API and render a live dashboard",
		Example:       examples.String(),
		Version:       version.NewVersion().String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			target = strings.TrimRight(target, "/")
			p := tea.NewProgram(newModel(target, interval), tea.WithAltScreen())
			_, err := p.Run()
			return err
		},
	}

	rootCmd.Flags().StringVar(&target, "target", "http://127.0.0.1:8500", "base URL of the node's introspection API")
	rootCmd.Flags().DurationVar(&interval, "interval", time.Second, "poll interval")

	cmdutil.Run(rootCmd)
}

// Styles, grounded on the same rounded-border/muted-color palette the chat
// TUI in the example pack uses.
var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			Padding(0, 1)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1)

	columnHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("8"))

	gatewayKnownStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("10"))

	gatewayUnknownStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("9"))

	statusBarStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8")).
			Padding(0, 1)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true).
			Padding(0, 1)
)

type model struct {
	target   string
	interval time.Duration
	client   *http.Client

	summary summaryView
	gateway gatewayView
	err     error

	width  int
	height int
}

func newModel(target string, interval time.Duration) *model {
	return &model{
		target:   target,
		interval: interval,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

func (m *model) Init() tea.Cmd {
	return m.poll
}

type pollResultMsg struct {
	summary summaryView
	gateway gatewayView
	err     error
}

type tickMsg struct{}

func (m *model) poll() tea.Msg {
	var result pollResultMsg

	if err := m.fetch("/api/v1/mesh/summary", &result.summary); err != nil {
		result.err = err
		return result
	}
	if err := m.fetch("/api/v1/mesh/gateway", &result.gateway); err != nil {
		result.err = err
		return result
	}
	return result
}

func (m *model) fetch(path string, v interface{}) error {
	resp, err := m.client.Get(m.target + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %s", path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func waitThenPoll(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(time.Time) tea.Msg { return tickMsg{} })
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			return m, tea.Quit
		}

	case pollResultMsg:
		if msg.err != nil {
			m.err = msg.err
		} else {
			m.err = nil
			m.summary = msg.summary
			m.gateway = msg.gateway
		}
		return m, waitThenPoll(m.interval)

	case tickMsg:
		return m, m.poll
	}

	return m, nil
}

func (m *model) View() string {
	var b strings.Builder

	title := fmt.Sprintf("meshmonitor — %s", m.target)
	if m.summary.OwnAddress != "" {
		role := "node"
		if m.summary.GatewayMode {
			role = "gateway"
		}
		title = fmt.Sprintf("meshmonitor — %s (%s)", m.summary.OwnAddress, role)
	}
	b.WriteString(headerStyle.Render(title) + "\n\n")

	b.WriteString(panelStyle.Render(m.renderPeers()) + "\n")
	b.WriteString(panelStyle.Render(m.renderRoutes()) + "\n")
	b.WriteString(panelStyle.Render(m.renderGateway()) + "\n")

	if m.err != nil {
		b.WriteString(errorStyle.Render("poll error: "+m.err.Error()) + "\n")
	} else {
		stamp := m.summary.SnapshotAt.Format("15:04:05")
		b.WriteString(statusBarStyle.Render(fmt.Sprintf("last snapshot %s • peers %d • routes %d • q: quit", stamp, m.summary.PeerCount, m.summary.RouteCount)) + "\n")
	}

	return b.String()
}

func (m *model) renderPeers() string {
	var b strings.Builder
	b.WriteString(columnHeaderStyle.Render(fmt.Sprintf("%-20s %6s %6s %5s %8s", "ADDRESS", "RSSI", "HOPS", "GW", "LAST SEEN")) + "\n")

	if len(m.summary.Peers) == 0 {
		b.WriteString(statusBarStyle.Render("no peers"))
		return b.String()
	}
	for _, p := range m.summary.Peers {
		gw := ""
		if p.IsGateway {
			gw = "yes"
		}
		b.WriteString(fmt.Sprintf("%-20s %6d %6d %5s %8s", p.Address, p.RSSI, p.HopCount, gw, p.LastSeen.Format("15:04:05")) + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m *model) renderRoutes() string {
	var b strings.Builder
	b.WriteString(columnHeaderStyle.Render(fmt.Sprintf("%-20s %-20s %6s %8s", "DESTINATION", "NEXT HOP", "HOPS", "UPDATED")) + "\n")

	if len(m.summary.Routes) == 0 {
		b.WriteString(statusBarStyle.Render("no routes"))
		return b.String()
	}
	for _, r := range m.summary.Routes {
		b.WriteString(fmt.Sprintf("%-20s %-20s %6d %8s", r.Destination, r.NextHop, r.HopCount, r.LastUpdated.Format("15:04:05")) + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m *model) renderGateway() string {
	if !m.gateway.Known {
		return gatewayUnknownStyle.Render("gateway: unknown")
	}

	prefix := m.gateway.Prefix
	if prefix == "" {
		prefix = "(no backbone prefix advertised)"
	}
	return gatewayKnownStyle.Render(fmt.Sprintf("gateway: %s via %d hop(s), prefix %s, advertised %s",
		m.gateway.GatewayAddress, m.gateway.HopCount, prefix, m.gateway.AdvertisedAt.Format("15:04:05")))
}
