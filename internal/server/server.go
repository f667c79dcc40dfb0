/*
SPDX-FileCopyrightText: Copyright (c) 2026 NVIDIA CORPORATION & AFFILIATES. All rights reserved.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.

SPDX-License-Identifier: Apache-2.0
*/

package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go.corp.nvidia.com/labbook/internal/auth"
	"go.corp.nvidia.com/labbook/pkg/coordinator"
	"go.corp.nvidia.com/labbook/pkg/notebook"
)

// Server is the labbook HTTP front end: a REST surface for notebook CRUD and
// a websocket live channel per notebook.
type Server struct {
	cfg      Config
	registry *coordinator.Registry
	broker   *auth.Broker
	logger   *slog.Logger
	handler  http.Handler
}

// New wires the routes. broker may be nil only when auth is disabled.
func New(cfg Config, registry *coordinator.Registry, broker *auth.Broker, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:      cfg,
		registry: registry,
		broker:   broker,
		logger:   logger,
	}
	s.handler = s.routes()
	return s
}

// Handler returns the root handler, auth middleware applied.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("POST /api/notebooks", s.handleCreateNotebook)
	api.HandleFunc("GET /api/notebooks", s.handleListNotebooks)
	api.HandleFunc("GET /api/notebooks/{id}", s.handleGetNotebook)
	api.HandleFunc("DELETE /api/notebooks/{id}", s.handleDeleteNotebook)
	api.HandleFunc("POST /api/notebooks/{id}/name", s.handleRename)
	api.HandleFunc("POST /api/notebooks/{id}/db-config", s.handleSetDBConfig)
	api.HandleFunc("POST /api/notebooks/{id}/cells", s.handleAddCell)
	api.HandleFunc("PUT /api/notebooks/{id}/cells/{cell}", s.handleUpdateCell)
	api.HandleFunc("DELETE /api/notebooks/{id}/cells/{cell}", s.handleDeleteCell)
	api.HandleFunc("POST /api/notebooks/{id}/cells/{cell}/run", s.handleRunCell)

	authCfg := auth.Config{
		Enabled:      s.cfg.Auth.Enabled,
		Required:     s.cfg.Auth.Required,
		DevMode:      s.cfg.Auth.DevMode,
		DevPrincipal: s.cfg.Auth.DevPrincipal,
	}

	root := http.NewServeMux()
	root.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	root.Handle("GET /metrics", promhttp.Handler())
	if s.broker != nil {
		root.Handle("/api/", s.broker.Middleware(authCfg, s.logger)(api))
	} else {
		root.Handle("/api/", withPrincipal(authCfg.DevPrincipal, api))
	}
	// The live channel authenticates in-band so browser clients without an
	// Authorization header can still connect.
	root.HandleFunc("GET /ws/notebooks/{id}", s.handleLiveChannel)
	return root
}

// withPrincipal stamps a fixed principal on every request. Used when no token
// broker is configured.
func withPrincipal(principal string, next http.Handler) http.Handler {
	if principal == "" {
		principal = "local"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(auth.ContextWithPrincipal(r.Context(), principal)))
	})
}

func (s *Server) principal(w http.ResponseWriter, r *http.Request) (string, bool) {
	principal, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "no principal")
		return "", false
	}
	return principal, true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("writing response", slog.String("error", err.Error()))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps domain errors onto HTTP statuses.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, notebook.ErrNotebookNotFound),
		errors.Is(err, notebook.ErrCellNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, notebook.ErrForbidden):
		s.writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, notebook.ErrRevisionConflict):
		s.writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("request failed", slog.String("error", err.Error()))
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleCreateNotebook(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.principal(w, r)
	if !ok {
		return
	}
	c, err := s.registry.Create(r.Context(), principal)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, c.Snapshot())
}

func (s *Server) handleListNotebooks(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.principal(w, r)
	if !ok {
		return
	}
	ids, err := s.registry.List(r.Context(), principal)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	s.writeJSON(w, http.StatusOK, map[string][]string{"notebooks": ids})
}

func (s *Server) handleGetNotebook(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.principal(w, r)
	if !ok {
		return
	}
	c, err := s.registry.Acquire(r.Context(), r.PathValue("id"), principal)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, c.Snapshot())
}

func (s *Server) handleDeleteNotebook(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.principal(w, r)
	if !ok {
		return
	}
	if err := s.registry.Delete(r.Context(), r.PathValue("id"), principal); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type renameRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleRename(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	c, ok := s.acquireForEdit(w, r, &req)
	if !ok {
		return
	}
	if err := c.Rename(r.Context(), req.Name); err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"name": req.Name, "revision": c.Snapshot().Revision})
}

type dbConfigRequest struct {
	ConnectionString string `json:"connectionString"`
}

func (s *Server) handleSetDBConfig(w http.ResponseWriter, r *http.Request) {
	var req dbConfigRequest
	c, ok := s.acquireForEdit(w, r, &req)
	if !ok {
		return
	}
	if err := c.SetDBConnection(r.Context(), req.ConnectionString); err != nil {
		s.writeDomainError(w, err)
		return
	}
	// The connection string is write-only; echo only that it is set.
	s.writeJSON(w, http.StatusOK, map[string]any{"dbConfigured": req.ConnectionString != ""})
}

type addCellRequest struct {
	Type  string `json:"type"`
	Code  string `json:"code"`
	Index *int   `json:"index,omitempty"`
}

func (s *Server) handleAddCell(w http.ResponseWriter, r *http.Request) {
	var req addCellRequest
	c, ok := s.acquireForEdit(w, r, &req)
	if !ok {
		return
	}

	typ, err := cellTypeOf(req.Type)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cell, err := c.AddCell(r.Context(), typ, req.Code, req.Index)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{"id": cell.ID, "revision": c.Snapshot().Revision})
}

type updateCellRequest struct {
	Code             string `json:"code"`
	ExpectedRevision *int64 `json:"expectedRevision,omitempty"`
}

func (s *Server) handleUpdateCell(w http.ResponseWriter, r *http.Request) {
	var req updateCellRequest
	c, ok := s.acquireForEdit(w, r, &req)
	if !ok {
		return
	}
	cell, err := c.UpdateCell(r.Context(), r.PathValue("cell"), req.Code, req.ExpectedRevision)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"id": cell.ID, "revision": c.Snapshot().Revision})
}

func (s *Server) handleDeleteCell(w http.ResponseWriter, r *http.Request) {
	c, ok := s.acquireForEdit(w, r, nil)
	if !ok {
		return
	}
	if err := c.DeleteCell(r.Context(), r.PathValue("cell")); err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"revision": c.Snapshot().Revision})
}

func (s *Server) handleRunCell(w http.ResponseWriter, r *http.Request) {
	c, ok := s.acquireForEdit(w, r, nil)
	if !ok {
		return
	}
	if err := c.RunCell(r.PathValue("cell")); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// acquireForEdit decodes the body (when dst is non-nil) and acquires the
// notebook from the path for the request's principal.
func (s *Server) acquireForEdit(w http.ResponseWriter, r *http.Request, dst any) (*coordinator.Coordinator, bool) {
	principal, ok := s.principal(w, r)
	if !ok {
		return nil, false
	}
	if dst != nil {
		if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return nil, false
		}
	}
	c, err := s.registry.Acquire(r.Context(), r.PathValue("id"), principal)
	if err != nil {
		s.writeDomainError(w, err)
		return nil, false
	}
	return c, true
}

func cellTypeOf(t string) (notebook.CellType, error) {
	switch notebook.CellType(t) {
	case notebook.CellImperative:
		return notebook.CellImperative, nil
	case notebook.CellQuery:
		return notebook.CellQuery, nil
	default:
		return "", errors.New("cell type must be imperative or query")
	}
}
