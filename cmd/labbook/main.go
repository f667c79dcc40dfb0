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

// labbook is the notebook service: it persists notebooks, runs one kernel
// per open notebook, and serves the REST API and websocket live channel.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.corp.nvidia.com/labbook/internal/auth"
	"go.corp.nvidia.com/labbook/internal/server"
	"go.corp.nvidia.com/labbook/pkg/coordinator"
	"go.corp.nvidia.com/labbook/pkg/kernel"
	"go.corp.nvidia.com/labbook/pkg/notebook"
	"go.corp.nvidia.com/labbook/pkg/store"
	"go.corp.nvidia.com/labbook/utils"
	"go.corp.nvidia.com/labbook/utils/logging"
	"go.corp.nvidia.com/labbook/utils/postgres"
	labredis "go.corp.nvidia.com/labbook/utils/redis"
)

var (
	configPath = flag.String("config",
		utils.GetEnv("LABBOOK_CONFIG", ""),
		"Path to the YAML config file")
	listenAddr = flag.String("listen-addr",
		utils.GetEnv("LABBOOK_LISTEN_ADDR", ""),
		"Address to serve HTTP on (overrides config)")
	kernelBinary = flag.String("kernel-binary",
		utils.GetEnv("LABBOOK_KERNEL_BINARY", ""),
		"Path to the kernel worker binary (overrides config)")
	storeBackend = flag.String("store-backend",
		utils.GetEnv("LABBOOK_STORE_BACKEND", ""),
		"Notebook store backend: file, memory, postgres or redis (overrides config)")
	fileStoreRoot = flag.String("file-store-root",
		utils.GetEnv("LABBOOK_FILE_STORE_ROOT", ""),
		"Directory for the file store backend (overrides config)")
	authSecret = flag.String("auth-secret",
		utils.GetEnvOrConfig("LABBOOK_AUTH_SECRET", "auth_secret", ""),
		"HMAC secret for session tokens (overrides config)")

	loggingFlagPtrs  = logging.RegisterFlags()
	postgresFlagPtrs = postgres.RegisterPostgresFlags()
	redisFlagPtrs    = labredis.RegisterRedisFlags()
)

func main() {
	flag.Parse()
	logger := logging.InitLogger("labbook", loggingFlagPtrs.ToConfig())

	cfg, err := server.LoadConfig(*configPath)
	if err != nil {
		logger.Error("loading config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *kernelBinary != "" {
		cfg.KernelBinary = *kernelBinary
	}
	if *storeBackend != "" {
		cfg.StoreBackend = *storeBackend
	}
	if *fileStoreRoot != "" {
		cfg.FileStoreRoot = *fileStoreRoot
	}
	if *authSecret != "" {
		cfg.Auth.Secret = *authSecret
		cfg.Auth.Enabled = true
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	nbStore, cleanup, err := buildStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("initializing store", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer cleanup()

	var broker *auth.Broker
	if cfg.Auth.Enabled && cfg.Auth.Secret != "" {
		broker, err = auth.NewBroker([]byte(cfg.Auth.Secret), cfg.Auth.TokenTTL, logger)
		if err != nil {
			logger.Error("initializing token broker", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	svc := notebook.NewService(nbStore, logger)
	registry := coordinator.NewRegistry(svc, kernel.StartProcess(cfg.KernelBinary), logger)
	srv := server.New(cfg, registry, broker, logger)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("labbook listening",
			slog.String("addr", cfg.ListenAddr),
			slog.String("store", cfg.StoreBackend))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", slog.String("error", err.Error()))
	}
	registry.Shutdown(shutdownCtx)
	logger.Info("goodbye")
}

// buildStore constructs the configured notebook store and a cleanup func for
// its backing client.
func buildStore(ctx context.Context, cfg server.Config, logger *slog.Logger) (notebook.Store, func(), error) {
	noop := func() {}
	switch cfg.StoreBackend {
	case server.StoreMemory:
		return store.NewMemoryStore(), noop, nil
	case server.StoreFile:
		s, err := store.NewFileStore(cfg.FileStoreRoot)
		return s, noop, err
	case server.StorePostgres:
		pgCfg := postgresFlagPtrs.ToPostgresConfig()
		client, err := pgCfg.CreateClient(logger)
		if err != nil {
			return nil, noop, err
		}
		s, err := store.NewPostgresStore(ctx, client)
		if err != nil {
			client.Close()
			return nil, noop, err
		}
		return s, client.Close, nil
	case server.StoreRedis:
		client, err := labredis.NewRedisClient(ctx, redisFlagPtrs.ToRedisConfig(), logger)
		if err != nil {
			return nil, noop, err
		}
		return store.NewRedisStore(client), func() { _ = client.Close() }, nil
	default:
		return nil, noop, errors.New("unknown store backend " + cfg.StoreBackend)
	}
}
