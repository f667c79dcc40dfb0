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
	"flag"
	"log/slog"
	"time"

	"go.corp.nvidia.com/labbook/utils"
)

// Package-local aliases so the defaults below read uniformly.
func getEnv(key, defaultValue string) string { return utils.GetEnv(key, defaultValue) }

func getEnvInt(key string, defaultValue int) int { return utils.GetEnvInt(key, defaultValue) }

func getEnvOrConfig(envKey, configKey, defaultValue string) string {
	return utils.GetEnvOrConfig(envKey, configKey, defaultValue)
}

// PostgresFlagPointers holds pointers to flag values for PostgreSQL
// configuration.
type PostgresFlagPointers struct {
	host               *string
	port               *int
	user               *string
	password           *string
	database           *string
	maxConns           *int
	minConns           *int
	maxConnLifetimeMin *int
	sslMode            *string
}

// RegisterPostgresFlags registers PostgreSQL-related command-line flags.
// Returns a PostgresFlagPointers that should be converted to PostgresConfig
// after flag.Parse() is called.
func RegisterPostgresFlags() *PostgresFlagPointers {
	return &PostgresFlagPointers{
		host: flag.String("postgres-host",
			getEnv("LABBOOK_POSTGRES_HOST", "localhost"),
			"PostgreSQL host"),
		port: flag.Int("postgres-port",
			getEnvInt("LABBOOK_POSTGRES_PORT", 5432),
			"PostgreSQL port"),
		user: flag.String("postgres-user",
			getEnv("LABBOOK_POSTGRES_USER", "postgres"),
			"PostgreSQL user"),
		password: flag.String("postgres-password",
			getEnvOrConfig("LABBOOK_POSTGRES_PASSWORD", "postgres_password", ""),
			"PostgreSQL password"),
		database: flag.String("postgres-database",
			getEnv("LABBOOK_POSTGRES_DATABASE", "labbook"),
			"PostgreSQL database name"),
		maxConns: flag.Int("postgres-max-conns",
			getEnvInt("LABBOOK_POSTGRES_MAX_CONNS", 10),
			"Maximum PostgreSQL connections in the pool"),
		minConns: flag.Int("postgres-min-conns",
			getEnvInt("LABBOOK_POSTGRES_MIN_CONNS", 2),
			"Minimum PostgreSQL connections in the pool"),
		maxConnLifetimeMin: flag.Int("postgres-max-conn-lifetime-min",
			getEnvInt("LABBOOK_POSTGRES_MAX_CONN_LIFETIME_MIN", 60),
			"Maximum PostgreSQL connection lifetime in minutes"),
		sslMode: flag.String("postgres-ssl-mode",
			getEnv("LABBOOK_POSTGRES_SSL_MODE", "disable"),
			"PostgreSQL SSL mode"),
	}
}

// ToPostgresConfig converts flag pointers to PostgresConfig.
// This should be called after flag.Parse().
func (p *PostgresFlagPointers) ToPostgresConfig() PostgresConfig {
	return PostgresConfig{
		Host:            *p.host,
		Port:            *p.port,
		User:            *p.user,
		Password:        *p.password,
		Database:        *p.database,
		MaxConns:        int32(*p.maxConns),
		MinConns:        int32(*p.minConns),
		MaxConnLifetime: time.Duration(*p.maxConnLifetimeMin) * time.Minute,
		SSLMode:         *p.sslMode,
	}
}

// CreateClient creates a PostgreSQL client from PostgresConfig.
func (config *PostgresConfig) CreateClient(logger *slog.Logger) (*PostgresClient, error) {
	return NewPostgresClient(context.Background(), *config, logger)
}
