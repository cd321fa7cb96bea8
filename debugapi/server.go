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

// Package debugapi is the mesh node's introspection HTTP surface: live
// peer-table/routing-table/engine-summary JSON for operators and for the
// monitor TUI. It is read-only; every handler reads through the Engine's
// already-synchronized accessors and never mutates state.
package debugapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/meshvane/meshcore/bridge"
	"github.com/meshvane/meshcore/core"
)

// GatewayView is the JSON projection of a bridge.GatewayRoute.
type GatewayView struct {
	Known          bool      `json:"known"`
	GatewayAddress string    `json:"gateway_address,omitempty"`
	Prefix         string    `json:"prefix,omitempty"`
	HopCount       uint8     `json:"hop_count,omitempty"`
	AdvertisedAt   time.Time `json:"advertised_at,omitempty"`
}

// Server serves the mesh node's introspection API.
type Server struct {
	httpServer *http.Server
	engine     *core.Engine
	bridge     *bridge.Bridge
}

// New returns a Server listening on addr. It does not start listening until
// Serve is called.
func New(addr string, engine *core.Engine, br *bridge.Bridge) *Server {
	s := &Server{engine: engine, bridge: br}
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: gziphandler.GzipHandler(s.routes()),
	}
	return s
}

func (s *Server) routes() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/api/v1/mesh/summary", s.handleSummary).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/mesh/peers", s.handlePeers).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/mesh/routes", s.handleRoutes).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/mesh/gateway", s.handleGateway).Methods(http.MethodGet)
	return router
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.engine.Summary())
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.engine.Summary().Peers)
}

func (s *Server) handleRoutes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.engine.Summary().Routes)
}

func (s *Server) handleGateway(w http.ResponseWriter, r *http.Request) {
	view := GatewayView{}
	if s.bridge != nil {
		if gr, ok := s.bridge.Current(); ok {
			view.Known = true
			view.GatewayAddress = gr.GatewayAddress.String()
			view.HopCount = gr.HopCount
			view.AdvertisedAt = gr.AdvertisedAt
			if !gr.Prefix.IsZero() {
				view.Prefix = gr.Prefix.String()
			}
		}
	}
	writeJSON(w, view)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("Encode introspection response failed", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
	}
}

// Serve starts the HTTP listener. It blocks until the context is canceled or
// the listener fails, mirroring the shutdown pattern the relay server uses.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
