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

// Package auth issues and verifies the bearer tokens that tie requests and
// live-channel sessions to a principal. Tokens are HS256 JWTs; verification
// results are cached so hot tokens skip signature checks.
package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v4"
	lru "github.com/hashicorp/golang-lru/v2"
)

// ErrInvalidToken is returned for tokens that fail verification for any
// reason: bad signature, expired, or missing subject.
var ErrInvalidToken = errors.New("invalid token")

const (
	tokenIssuer    = "labbook"
	verifyCacheCap = 4096
)

// Claims is the verified identity carried by a token.
type Claims struct {
	Principal string
	ExpiresAt time.Time
}

// Broker mints and verifies tokens for one shared secret.
type Broker struct {
	secret []byte
	ttl    time.Duration
	cache  *lru.Cache[string, Claims]
	logger *slog.Logger
	now    func() time.Time
}

// NewBroker creates a broker. ttl bounds the lifetime of minted tokens.
func NewBroker(secret []byte, ttl time.Duration, logger *slog.Logger) (*Broker, error) {
	if len(secret) == 0 {
		return nil, errors.New("auth secret must not be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	cache, err := lru.New[string, Claims](verifyCacheCap)
	if err != nil {
		return nil, fmt.Errorf("create token cache: %w", err)
	}
	return &Broker{
		secret: secret,
		ttl:    ttl,
		cache:  cache,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Mint issues a token for the principal.
func (b *Broker) Mint(principal string) (string, error) {
	if principal == "" {
		return "", errors.New("principal must not be empty")
	}
	now := b.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   principal,
		Issuer:    tokenIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(b.ttl)),
	})
	signed, err := token.SignedString(b.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks a token and returns its claims. Expiry is re-checked on
// cache hits, so a cached token stops verifying the moment it expires.
func (b *Broker) Verify(tokenString string) (Claims, error) {
	if claims, ok := b.cache.Get(tokenString); ok {
		if b.now().Before(claims.ExpiresAt) {
			return claims, nil
		}
		b.cache.Remove(tokenString)
		return Claims{}, fmt.Errorf("token expired: %w", ErrInvalidToken)
	}

	var registered jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(tokenString, &registered, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return b.secret, nil
	})
	if err != nil {
		return Claims{}, fmt.Errorf("%v: %w", err, ErrInvalidToken)
	}
	if registered.Subject == "" {
		return Claims{}, fmt.Errorf("token has no subject: %w", ErrInvalidToken)
	}
	claims := Claims{Principal: registered.Subject}
	if registered.ExpiresAt != nil {
		claims.ExpiresAt = registered.ExpiresAt.Time
	} else {
		claims.ExpiresAt = b.now().Add(b.ttl)
	}
	b.cache.Add(tokenString, claims)
	return claims, nil
}
