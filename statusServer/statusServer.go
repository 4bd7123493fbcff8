// Copyright (c) 2025 Couchbase, Inc.
// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file
// except in compliance with the License. You may obtain a copy of the License at
//   http://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing, software distributed under the
// License is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND,
// either express or implied. See the License for the specific language governing permissions
// and limitations under the License.

package statusServer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/couchbase/oplogConnector/base"
	"github.com/couchbase/oplogConnector/checkpoint"
	"github.com/couchbase/oplogConnector/connector"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const (
	contentTypeJSON        = "application/json"
	defaultShutdownTimeout = 5 * time.Second
)

// StatusProvider is what the server reports on.
type StatusProvider interface {
	Statuses() []connector.SourceStatus
	Checkpoints() []checkpoint.Entry
	Healthy() bool
}

type CheckpointResponse struct {
	Source    string         `json:"source"`
	Timestamp base.Timestamp `json:"timestamp"`
	Seconds   uint32         `json:"seconds"`
	Increment uint32         `json:"increment"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

const (
	HealthOK       = "OK"
	HealthDegraded = "DEGRADED"
)

type Server struct {
	provider   StatusProvider
	addr       string
	listener   net.Listener
	httpServer *http.Server
	logger     *zap.SugaredLogger
}

func NewServer(provider StatusProvider, addr string, logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = base.NewNopLogger()
	}
	return &Server{provider: provider, addr: addr, logger: logger}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Get("/checkpoints", s.handleCheckpoints)
	return r
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %v: %w", s.addr, err)
	}
	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorf("status server error. err=%v\n", err)
		}
	}()
	s.logger.Infof("status server listening on %v\n", listener.Addr())
	return nil
}

// Addr is the bound address, useful when listening on port 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown status server: %w", err)
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warnf("error encoding status response. err=%v\n", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.provider.Healthy() {
		s.writeJSON(w, http.StatusOK, HealthResponse{Status: HealthOK})
		return
	}
	s.writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: HealthDegraded})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.provider.Statuses())
}

func (s *Server) handleCheckpoints(w http.ResponseWriter, r *http.Request) {
	entries := s.provider.Checkpoints()
	out := make([]CheckpointResponse, 0, len(entries))
	for _, entry := range entries {
		out = append(out, CheckpointResponse{
			Source:    entry.SourceId,
			Timestamp: entry.Timestamp,
			Seconds:   entry.Timestamp.Seconds(),
			Increment: entry.Timestamp.Increment(),
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}
