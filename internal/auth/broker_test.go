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

package auth

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestBroker(t *testing.T) *Broker {
	t.Helper()
	b, err := NewBroker([]byte("test-secret"), time.Hour, testLogger())
	if err != nil {
		t.Fatalf("NewBroker failed: %v", err)
	}
	return b
}

func TestNewBrokerRequiresSecret(t *testing.T) {
	if _, err := NewBroker(nil, time.Hour, testLogger()); err == nil {
		t.Fatal("expected an error for an empty secret")
	}
}

func TestMintVerifyRoundTrip(t *testing.T) {
	b := newTestBroker(t)
	token, err := b.Mint("alice")
	if err != nil {
		t.Fatalf("Mint failed: %v", err)
	}
	claims, err := b.Verify(token)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if claims.Principal != "alice" {
		t.Errorf("expected principal alice, got %s", claims.Principal)
	}
	if !claims.ExpiresAt.After(time.Now()) {
		t.Errorf("expected a future expiry, got %v", claims.ExpiresAt)
	}
}

func TestMintEmptyPrincipal(t *testing.T) {
	b := newTestBroker(t)
	if _, err := b.Mint(""); err == nil {
		t.Fatal("expected an error for an empty principal")
	}
}

func TestVerifyWrongSecret(t *testing.T) {
	b := newTestBroker(t)
	other, err := NewBroker([]byte("different-secret"), time.Hour, testLogger())
	if err != nil {
		t.Fatalf("NewBroker failed: %v", err)
	}
	token, err := other.Mint("alice")
	if err != nil {
		t.Fatalf("Mint failed: %v", err)
	}
	if _, err := b.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyGarbage(t *testing.T) {
	b := newTestBroker(t)
	for _, token := range []string{"", "not-a-jwt", "a.b.c"} {
		if _, err := b.Verify(token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("token %q: expected ErrInvalidToken, got %v", token, err)
		}
	}
}

func TestVerifyExpired(t *testing.T) {
	b := newTestBroker(t)
	past := time.Now().Add(-2 * time.Hour)
	b.now = func() time.Time { return past }
	token, err := b.Mint("alice")
	if err != nil {
		t.Fatalf("Mint failed: %v", err)
	}
	b.now = time.Now
	if _, err := b.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for an expired token, got %v", err)
	}
}

func TestVerifyCacheHonorsExpiry(t *testing.T) {
	b := newTestBroker(t)
	token, err := b.Mint("alice")
	if err != nil {
		t.Fatalf("Mint failed: %v", err)
	}
	// First call populates the cache.
	if _, err := b.Verify(token); err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if _, ok := b.cache.Get(token); !ok {
		t.Fatal("expected the token cached after verification")
	}
	// A cached entry must stop verifying once its expiry passes.
	b.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := b.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken after expiry, got %v", err)
	}
	if _, ok := b.cache.Get(token); ok {
		t.Error("expected the expired entry evicted from the cache")
	}
}
