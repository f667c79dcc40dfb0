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

package kernel

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"go.corp.nvidia.com/labbook/utils"
)

// ErrKernelExited is returned by Send after the kernel side of the transport
// has gone away.
var ErrKernelExited = errors.New("kernel exited")

// notificationBuffer is the transport-side queue between the kernel's stdout
// reader and the consumer.
const notificationBuffer = 256

// Transport is one live kernel session. Done is closed when the far side
// exits for any reason; Err then reports why.
type Transport interface {
	Send(req Request) error
	Notifications() <-chan Notification
	Done() <-chan struct{}
	Err() error
	Close() error
}

// StartFunc launches a kernel transport. The production implementation
// spawns the kernel binary as a subprocess; tests swap in an in-process
// pipe-backed runner.
type StartFunc func(ctx context.Context) (Transport, error)

// StartProcess returns a StartFunc that spawns the given kernel binary.
// The subprocess inherits stderr so kernel logs land in the service's
// stream; stdout is reserved for the notification protocol.
func StartProcess(binary string, args ...string) StartFunc {
	return func(ctx context.Context) (Transport, error) {
		cmd := exec.CommandContext(ctx, binary, args...)
		cmd.Stderr = os.Stderr
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("kernel stdin: %w", err)
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, fmt.Errorf("kernel stdout: %w", err)
		}
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("start kernel: %w", err)
		}
		t := newPipeTransport(stdin, stdout, cmd.Wait)
		t.kill = func() { _ = cmd.Process.Kill() }
		return t, nil
	}
}

// pipeTransport speaks the newline-delimited JSON protocol over a pair of
// byte streams.
type pipeTransport struct {
	stdin io.WriteCloser
	kill  func()

	encMu sync.Mutex
	enc   *json.Encoder

	notifications chan Notification
	done          chan struct{}

	errMu sync.Mutex
	err   error
}

// NewPipeTransport wraps raw request/notification streams in a Transport.
// wait, if non-nil, is invoked after the notification stream ends and its
// error becomes Err.
func NewPipeTransport(stdin io.WriteCloser, stdout io.Reader, wait func() error) Transport {
	return newPipeTransport(stdin, stdout, wait)
}

func newPipeTransport(stdin io.WriteCloser, stdout io.Reader, wait func() error) *pipeTransport {
	t := &pipeTransport{
		stdin:         stdin,
		enc:           json.NewEncoder(stdin),
		notifications: make(chan Notification, notificationBuffer),
		done:          make(chan struct{}),
	}
	go t.read(stdout, wait)
	return t
}

func (t *pipeTransport) read(stdout io.Reader, wait func() error) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64<<10), maxRequestBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var n Notification
		if err := json.Unmarshal(line, &n); err != nil {
			continue
		}
		t.notifications <- n
	}
	err := scanner.Err()
	if wait != nil {
		if werr := wait(); werr != nil {
			err = werr
		}
	}
	t.errMu.Lock()
	t.err = err
	t.errMu.Unlock()
	close(t.done)
	close(t.notifications)
}

// sendTimeout bounds how long Send waits on a kernel that has stopped
// reading its stdin.
const sendTimeout = 5 * time.Second

func (t *pipeTransport) Send(req Request) error {
	select {
	case <-t.done:
		return ErrKernelExited
	default:
	}
	// Encode in a goroutine: a pipe write blocks until the far side reads,
	// and a dead or wedged kernel would otherwise hang the caller. The
	// abandoned write is unblocked when Close shuts stdin.
	errCh := make(chan error, 1)
	go func() {
		t.encMu.Lock()
		defer t.encMu.Unlock()
		errCh <- t.enc.Encode(req)
	}()
	select {
	case err := <-errCh:
		return err
	case <-t.done:
		return ErrKernelExited
	case <-time.After(sendTimeout):
		return fmt.Errorf("kernel stopped reading requests: %w", ErrKernelExited)
	}
}

func (t *pipeTransport) Notifications() <-chan Notification { return t.notifications }
func (t *pipeTransport) Done() <-chan struct{}              { return t.done }

func (t *pipeTransport) Err() error {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	return t.err
}

func (t *pipeTransport) Close() error {
	err := t.stdin.Close()
	if t.kill != nil {
		select {
		case <-t.done:
		case <-time.After(2 * time.Second):
			t.kill()
		}
	}
	return err
}

// maxRespawnBackoff caps the delay between kernel respawn attempts.
const maxRespawnBackoff = 30 * time.Second

// Manager owns the kernel lifecycle for one notebook: spawn, graceful stop,
// and respawn with exponential backoff after a crash.
type Manager struct {
	start  StartFunc
	logger *slog.Logger

	mu      sync.Mutex
	t       Transport
	retries int
}

// NewManager creates a kernel manager using the given launcher.
func NewManager(start StartFunc, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{start: start, logger: logger}
}

// Start launches a kernel and resets the respawn backoff. It is an error to
// call Start while a previous kernel is still alive.
func (m *Manager) Start(ctx context.Context) (Transport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.t != nil {
		select {
		case <-m.t.Done():
		default:
			return nil, errors.New("kernel already running")
		}
	}
	t, err := m.start(ctx)
	if err != nil {
		return nil, err
	}
	m.t = t
	m.retries = 0
	return t, nil
}

// Restart launches a replacement kernel after a crash, sleeping the backoff
// delay first. The caller re-registers cells on the new transport.
func (m *Manager) Restart(ctx context.Context) (Transport, error) {
	m.mu.Lock()
	m.retries++
	retries := m.retries
	m.mu.Unlock()

	delay := utils.CalculateBackoff(retries, maxRespawnBackoff)
	m.logger.Info("respawning kernel",
		slog.Int("attempt", retries),
		slog.Duration("backoff", delay))
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.start(ctx)
	if err != nil {
		return nil, err
	}
	m.t = t
	return t, nil
}

// Send forwards a request to the current kernel.
func (m *Manager) Send(req Request) error {
	m.mu.Lock()
	t := m.t
	m.mu.Unlock()
	if t == nil {
		return ErrKernelExited
	}
	return t.Send(req)
}

// Transport returns the current transport, or nil before the first Start.
func (m *Manager) Transport() Transport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t
}

// Stop asks the kernel to shut down and waits for it to exit; on timeout or
// context cancellation the transport is closed hard.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	t := m.t
	m.t = nil
	m.mu.Unlock()
	if t == nil {
		return nil
	}

	if err := t.Send(Request{Type: RequestShutdown}); err == nil {
		select {
		case <-t.Done():
			return t.Close()
		case <-time.After(5 * time.Second):
		case <-ctx.Done():
		}
	}
	return t.Close()
}
