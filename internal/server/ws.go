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
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"go.corp.nvidia.com/labbook/internal/auth"
	"go.corp.nvidia.com/labbook/internal/metrics"
	"go.corp.nvidia.com/labbook/pkg/broadcast"
	"go.corp.nvidia.com/labbook/pkg/coordinator"
	"go.corp.nvidia.com/labbook/pkg/notebook"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = (wsPongWait * 9) / 10
	wsMaxMessageSize = 1 << 20
	wsAuthWait       = 10 * time.Second
	// wsSendBuffer bounds the per-session outbound queue; a session that
	// cannot drain it loses events and must resync from a snapshot.
	wsSendBuffer = 512
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The service fronts its own UI and tokens gate every notebook, so
	// cross-origin upgrades are allowed.
	CheckOrigin: func(*http.Request) bool { return true },
}

// clientCommand is a message from the browser on the live channel.
type clientCommand struct {
	Type             string `json:"type"`
	Token            string `json:"token,omitempty"`
	CellID           string `json:"cellId,omitempty"`
	CellType         string `json:"cellType,omitempty"`
	Code             string `json:"code,omitempty"`
	Index            *int   `json:"index,omitempty"`
	ExpectedRevision *int64 `json:"expectedRevision,omitempty"`
	Name             string `json:"name,omitempty"`
	ConnectionString string `json:"connectionString,omitempty"`
}

// Client command types.
const (
	cmdAuthenticate = "authenticate"
	cmdRefreshAuth  = "refresh_auth"
	cmdRunCell      = "run_cell"
	cmdAddCell      = "add_cell"
	cmdUpdateCell   = "update_cell"
	cmdDeleteCell   = "delete_cell"
	cmdRename       = "rename_notebook"
	cmdSetDBConfig  = "set_db_config"
	cmdPing         = "ping"
)

// snapshotEvent is the first message of every session.
type snapshotEvent struct {
	Type     string               `json:"type"`
	Notebook coordinator.Snapshot `json:"notebook"`
}

type wsSession struct {
	conn      *websocket.Conn
	coord     *coordinator.Coordinator
	broker    *auth.Broker
	principal string
	logger    *slog.Logger
	send      chan any
}

// handleLiveChannel upgrades the connection, authenticates the session, and
// streams notebook events until the client goes away.
func (s *Server) handleLiveChannel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(wsMaxMessageSize)

	principal, ok := s.authenticateSession(conn, r)
	if !ok {
		return
	}

	ctx := context.WithoutCancel(r.Context())
	coord, err := s.registry.Acquire(ctx, id, principal)
	if err != nil {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		_ = conn.WriteJSON(broadcast.Event{Type: broadcast.EventError, Message: err.Error()})
		return
	}

	obs := coord.Attach()
	if obs == nil {
		// The notebook closed between acquire and attach.
		return
	}
	metrics.LiveObservers.Inc()
	sess := &wsSession{
		conn:      conn,
		coord:     coord,
		broker:    s.broker,
		principal: principal,
		logger:    s.logger.With(slog.String("notebook", id)),
		send:      make(chan any, wsSendBuffer),
	}

	sess.queue(snapshotEvent{Type: "snapshot", Notebook: coord.Snapshot()})

	writerDone := make(chan struct{})
	forwardDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		sess.writeLoop()
	}()
	go func() {
		defer close(forwardDone)
		for ev := range obs.Events() {
			sess.queue(ev)
		}
		// The stream closing means the session detached or the notebook
		// shut down; either way the reader should stop.
		_ = conn.Close()
	}()

	sess.readLoop(ctx)

	coord.Detach(obs)
	<-forwardDone
	close(sess.send)
	<-writerDone
	metrics.LiveObservers.Dec()
	s.registry.Release(ctx, id)
}

// authenticateSession resolves the session's principal. A bearer token in the
// upgrade request wins; otherwise the first client message must be an
// authenticate command. With auth disabled the dev principal applies.
func (s *Server) authenticateSession(conn *websocket.Conn, r *http.Request) (string, bool) {
	authCfg := s.cfg.Auth
	if !authCfg.Enabled || authCfg.DevMode || s.broker == nil {
		p := authCfg.DevPrincipal
		if p == "" {
			p = "local"
		}
		return p, true
	}

	token := auth.BearerToken(r)
	if token == "" {
		_ = conn.SetReadDeadline(time.Now().Add(wsAuthWait))
		var cmd clientCommand
		if err := conn.ReadJSON(&cmd); err != nil || cmd.Type != cmdAuthenticate {
			s.closeWith(conn, websocket.ClosePolicyViolation, "authentication required")
			return "", false
		}
		token = cmd.Token
		_ = conn.SetReadDeadline(time.Time{})
	}

	claims, err := s.broker.Verify(token)
	if err != nil {
		s.closeWith(conn, websocket.ClosePolicyViolation, "invalid token")
		return "", false
	}
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteJSON(broadcast.Event{
		Type:    broadcast.EventAuthenticated,
		Message: claims.Principal,
	}); err != nil {
		return "", false
	}
	return claims.Principal, true
}

// refreshAuth re-verifies a replacement token mid-session, so long-lived
// sessions survive token rotation. The principal cannot change.
func (sess *wsSession) refreshAuth(token string) {
	if sess.broker == nil {
		sess.queue(broadcast.Event{
			Type:    broadcast.EventAuthenticated,
			Message: sess.principal,
		})
		return
	}
	claims, err := sess.broker.Verify(token)
	if err != nil || claims.Principal != sess.principal {
		sess.queue(broadcast.Event{
			Type:    broadcast.EventError,
			Message: "token refresh rejected",
		})
		return
	}
	sess.queue(broadcast.Event{
		Type:    broadcast.EventAuthenticated,
		Message: sess.principal,
	})
}

func (s *Server) closeWith(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(wsWriteWait)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), deadline)
}

// queue enqueues a message for the writer, dropping it if the session cannot
// keep up. Broadcast drops are already counted upstream.
func (sess *wsSession) queue(v any) {
	select {
	case sess.send <- v:
	default:
	}
}

// writeLoop is the only goroutine writing to the connection. It drains the
// send queue and keeps the connection alive with pings.
func (sess *wsSession) writeLoop() {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case v, ok := <-sess.send:
			_ = sess.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = sess.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := sess.conn.WriteJSON(v); err != nil {
				return
			}
		case <-ticker.C:
			_ = sess.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := sess.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop dispatches client commands until the connection drops.
func (sess *wsSession) readLoop(ctx context.Context) {
	_ = sess.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	sess.conn.SetPongHandler(func(string) error {
		return sess.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		var cmd clientCommand
		if err := sess.conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				sess.logger.Debug("live channel closed", slog.String("error", err.Error()))
			}
			return
		}
		_ = sess.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		sess.dispatch(ctx, cmd)
	}
}

// dispatch applies one client command. Failures come back as error events on
// the cell the command named.
func (sess *wsSession) dispatch(ctx context.Context, cmd clientCommand) {
	var err error
	switch cmd.Type {
	case cmdPing:
		sess.queue(broadcast.Event{Type: "pong"})
		return
	case cmdAuthenticate:
		// Already authenticated; ignore.
		return
	case cmdRefreshAuth:
		sess.refreshAuth(cmd.Token)
		return
	case cmdRunCell:
		err = sess.coord.RunCell(cmd.CellID)
	case cmdAddCell:
		var typ notebook.CellType
		typ, err = cellTypeOf(cmd.CellType)
		if err == nil {
			_, err = sess.coord.AddCell(ctx, typ, cmd.Code, cmd.Index)
		}
	case cmdUpdateCell:
		_, err = sess.coord.UpdateCell(ctx, cmd.CellID, cmd.Code, cmd.ExpectedRevision)
	case cmdDeleteCell:
		err = sess.coord.DeleteCell(ctx, cmd.CellID)
	case cmdRename:
		err = sess.coord.Rename(ctx, cmd.Name)
	case cmdSetDBConfig:
		err = sess.coord.SetDBConnection(ctx, cmd.ConnectionString)
	default:
		sess.queue(broadcast.Event{
			Type:    broadcast.EventError,
			Message: "unknown command: " + cmd.Type,
		})
		return
	}
	if err != nil {
		sess.queue(broadcast.Event{
			Type:    broadcast.EventError,
			CellID:  cmd.CellID,
			Message: err.Error(),
		})
	}
}
