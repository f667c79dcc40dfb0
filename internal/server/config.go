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

// Package server hosts the labbook HTTP API and the notebook live channel.
package server

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	StoreFile     = "file"
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Config is the service configuration. Values come from an optional YAML
// file, overridden by command-line flags (which default from environment
// variables).
type Config struct {
	// ListenAddr is the host:port the HTTP server binds.
	ListenAddr string `yaml:"listen_addr"`

	// KernelBinary is the path of the kernel worker executable spawned per
	// open notebook.
	KernelBinary string `yaml:"kernel_binary"`

	// StoreBackend selects notebook persistence: file, memory, postgres or
	// redis.
	StoreBackend string `yaml:"store_backend"`

	// FileStoreRoot is the directory for the file backend.
	FileStoreRoot string `yaml:"file_store_root"`

	// ShutdownGrace bounds how long shutdown waits for kernels to exit.
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`

	Auth AuthConfig `yaml:"auth"`
}

// AuthConfig configures the token broker and middleware.
type AuthConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Required     bool          `yaml:"required"`
	DevMode      bool          `yaml:"dev_mode"`
	DevPrincipal string        `yaml:"dev_principal"`
	Secret       string        `yaml:"secret"`
	TokenTTL     time.Duration `yaml:"token_ttl"`
}

// DefaultConfig returns the single-node development defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:    ":8900",
		KernelBinary:  "labbook-kernel",
		StoreBackend:  StoreFile,
		FileStoreRoot: "notebooks",
		ShutdownGrace: 15 * time.Second,
		Auth: AuthConfig{
			DevPrincipal: "local",
			TokenTTL:     12 * time.Hour,
		},
	}
}

// LoadConfig reads a YAML config file over the defaults. An empty path
// returns the defaults unchanged.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot start with.
func (c Config) Validate() error {
	switch c.StoreBackend {
	case StoreFile, StoreMemory, StorePostgres, StoreRedis:
	default:
		return fmt.Errorf("unknown store backend %q", c.StoreBackend)
	}
	if c.Auth.Enabled && !c.Auth.DevMode && c.Auth.Secret == "" {
		return fmt.Errorf("auth is enabled but no secret is configured")
	}
	return nil
}
