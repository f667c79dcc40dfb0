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

// labbook-kernel is the per-notebook execution worker. It speaks
// newline-delimited JSON on stdin/stdout and logs to stderr; the service
// spawns one per open notebook.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"go.corp.nvidia.com/labbook/pkg/kernel"
	"go.corp.nvidia.com/labbook/utils/logging"
)

var loggingFlagPtrs = logging.RegisterFlags()

func main() {
	flag.Parse()

	// Stdout carries the notification protocol, so logs must go to stderr.
	logger := logging.InitLoggerTo("labbook-kernel", loggingFlagPtrs.ToConfig(), os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner := kernel.NewRunner(os.Stdin, os.Stdout, logger)
	if err := runner.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("kernel loop failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
