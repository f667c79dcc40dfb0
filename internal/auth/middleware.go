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
	"context"
	"log/slog"
	"net/http"
	"strings"
)

// Config holds authentication configuration for the HTTP middleware.
type Config struct {
	// Enabled enables authentication processing. When false, requests pass
	// through with the DevPrincipal identity.
	Enabled bool

	// Required rejects requests without a valid token. When false,
	// unauthenticated requests proceed as DevPrincipal (gradual rollout).
	Required bool

	// DevMode skips all authentication checks.
	// WARNING: Never enable in production.
	DevMode bool

	// DevPrincipal is the identity assigned when auth is skipped or not
	// required. Defaults to "local".
	DevPrincipal string
}

func (c Config) devPrincipal() string {
	if c.DevPrincipal != "" {
		return c.DevPrincipal
	}
	return "local"
}

type principalKey struct{}

// ContextWithPrincipal returns ctx carrying the authenticated principal.
func ContextWithPrincipal(ctx context.Context, principal string) context.Context {
	return context.WithValue(ctx, principalKey{}, principal)
}

// PrincipalFrom extracts the authenticated principal from ctx.
func PrincipalFrom(ctx context.Context) (string, bool) {
	principal, ok := ctx.Value(principalKey{}).(string)
	return principal, ok && principal != ""
}

// BearerToken pulls the token from an Authorization header or, for browser
// websocket clients that cannot set headers, a token query parameter.
func BearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return token
		}
	}
	return r.URL.Query().Get("token")
}

// Middleware resolves the request's principal and stores it in the context.
func (b *Broker) Middleware(config Config, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if config.DevMode || !config.Enabled {
				next.ServeHTTP(w, r.WithContext(
					ContextWithPrincipal(r.Context(), config.devPrincipal())))
				return
			}

			token := BearerToken(r)
			if token == "" {
				if config.Required {
					logger.Warn("unauthenticated request rejected",
						slog.String("path", r.URL.Path))
					http.Error(w, "authentication required", http.StatusUnauthorized)
					return
				}
				next.ServeHTTP(w, r.WithContext(
					ContextWithPrincipal(r.Context(), config.devPrincipal())))
				return
			}

			claims, err := b.Verify(token)
			if err != nil {
				logger.Warn("invalid token rejected",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()))
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(
				ContextWithPrincipal(r.Context(), claims.Principal)))
		})
	}
}
