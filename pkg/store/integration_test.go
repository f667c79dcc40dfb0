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

package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"go.corp.nvidia.com/labbook/pkg/notebook"
	"go.corp.nvidia.com/labbook/utils"
	"go.corp.nvidia.com/labbook/utils/postgres"
	"go.corp.nvidia.com/labbook/utils/redis"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Requires a local instance, e.g.:
//
//	docker run -d -p 5432:5432 -e POSTGRES_USER=labbook \
//	  -e POSTGRES_PASSWORD=labbook -e POSTGRES_DB=labbook postgres:16
func newIntegrationPostgres(t *testing.T) *PostgresStore {
	t.Helper()
	if os.Getenv("LABBOOK_POSTGRES_INTEGRATION") == "" {
		t.Skip("set LABBOOK_POSTGRES_INTEGRATION to run Postgres store tests")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := postgres.NewPostgresClient(ctx, postgres.PostgresConfig{
		Host:     utils.GetEnv("LABBOOK_POSTGRES_HOST", "localhost"),
		Port:     utils.GetEnvInt("LABBOOK_POSTGRES_PORT", 5432),
		User:     utils.GetEnv("LABBOOK_POSTGRES_USER", "labbook"),
		Password: utils.GetEnv("LABBOOK_POSTGRES_PASSWORD", "labbook"),
		Database: utils.GetEnv("LABBOOK_POSTGRES_DATABASE", "labbook"),
		MaxConns: 4,
		MinConns: 1,
		SSLMode:  "disable",
	}, discardLogger())
	if err != nil {
		t.Fatalf("connect to postgres: %v", err)
	}
	t.Cleanup(client.Close)
	s, err := NewPostgresStore(ctx, client)
	if err != nil {
		t.Fatalf("NewPostgresStore failed: %v", err)
	}
	return s
}

func TestPostgresStoreIntegration(t *testing.T) {
	runStoreSuite(t, newIntegrationPostgres(t))
}

func TestPostgresStoreIntegrationRevisionGuard(t *testing.T) {
	s := newIntegrationPostgres(t)
	ctx := context.Background()

	nb := sampleNotebook("rev-guard")
	if err := s.Save(ctx, nb); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	defer func() { _ = s.Delete(ctx, nb.OwnerPrincipal, nb.ID) }()

	// Saving the same revision again must be rejected, not silently applied.
	if err := s.Save(ctx, nb); !errors.Is(err, notebook.ErrRevisionConflict) {
		t.Errorf("expected revision conflict, got %v", err)
	}
	nb.Revision++
	if err := s.Save(ctx, nb); err != nil {
		t.Errorf("expected higher revision accepted, got %v", err)
	}
}

// Requires a local instance, e.g.:
//
//	docker run -d -p 6379:6379 redis:7
func newIntegrationRedis(t *testing.T) *RedisStore {
	t.Helper()
	if os.Getenv("LABBOOK_REDIS_INTEGRATION") == "" {
		t.Skip("set LABBOOK_REDIS_INTEGRATION to run Redis store tests")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := redis.NewRedisClient(ctx, redis.RedisConfig{
		Host:     utils.GetEnv("LABBOOK_REDIS_HOST", "localhost"),
		Port:     utils.GetEnvInt("LABBOOK_REDIS_PORT", 6379),
		Password: utils.GetEnv("LABBOOK_REDIS_PASSWORD", ""),
	}, discardLogger())
	if err != nil {
		t.Fatalf("connect to redis: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client)
}

func TestRedisStoreIntegration(t *testing.T) {
	runStoreSuite(t, newIntegrationRedis(t))
}
