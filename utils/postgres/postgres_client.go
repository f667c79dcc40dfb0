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

package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// pingTimeout bounds the connectivity check during client construction.
const pingTimeout = 5 * time.Second

// Pool sizing fallbacks for configs that leave the knobs zeroed. The
// notebook store issues short single-row statements, so the pool stays
// small.
const (
	defaultMaxConns        = 4
	defaultMinConns        = 1
	defaultMaxConnLifetime = 30 * time.Minute
)

// PostgresConfig describes the notebook-store database connection.
type PostgresConfig struct {
	Host            string
	Port            int
	Database        string
	User            string
	Password        string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	SSLMode         string
}

// PostgresClient owns the pgx pool the notebook store runs on.
type PostgresClient struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresClient opens a pool against the configured database and
// verifies it with a ping before handing the client out.
func NewPostgresClient(ctx context.Context, config PostgresConfig, logger *slog.Logger) (*PostgresClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if config.MaxConns <= 0 {
		config.MaxConns = defaultMaxConns
	}
	if config.MinConns <= 0 {
		config.MinConns = defaultMinConns
	}
	if config.MaxConnLifetime <= 0 {
		config.MaxConnLifetime = defaultMaxConnLifetime
	}
	if config.SSLMode == "" {
		config.SSLMode = "disable"
	}

	// url.URL handles credential escaping; a password with '@' or '/' must
	// not break the DSN.
	dsn := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(config.User, config.Password),
		Host:     net.JoinHostPort(config.Host, strconv.Itoa(config.Port)),
		Path:     "/" + config.Database,
		RawQuery: "sslmode=" + config.SSLMode,
	}
	poolConfig, err := pgxpool.ParseConfig(dsn.String())
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	poolConfig.MaxConns = config.MaxConns
	poolConfig.MinConns = config.MinConns
	poolConfig.MaxConnLifetime = config.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	logger.Info("postgres connected",
		slog.String("host", config.Host),
		slog.String("database", config.Database),
		slog.Int("max_conns", int(config.MaxConns)))
	return &PostgresClient{pool: pool, logger: logger}, nil
}

// Close drains the connection pool.
func (c *PostgresClient) Close() {
	c.logger.Info("closing postgres pool")
	c.pool.Close()
}

// Pool exposes the underlying pgx pool for direct queries.
func (c *PostgresClient) Pool() *pgxpool.Pool { return c.pool }

// Ping reports whether the database is still reachable.
func (c *PostgresClient) Ping(ctx context.Context) error {
	return c.pool.Ping(ctx)
}
