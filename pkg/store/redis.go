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
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"go.corp.nvidia.com/labbook/pkg/notebook"
	"go.corp.nvidia.com/labbook/utils/redis"
)

const (
	notebookKeyPrefix = "labbook:notebook:"
	ownerKeyPrefix    = "labbook:owner:"
)

// RedisStore persists notebooks as JSON strings plus a per-owner id set.
// Documents have no TTL; notebooks live until deleted.
type RedisStore struct {
	client *redis.RedisClient
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.RedisClient) *RedisStore {
	return &RedisStore{client: client}
}

func notebookKey(id string) string { return notebookKeyPrefix + id }
func ownerKey(owner string) string { return ownerKeyPrefix + owner }

// Save writes the document and registers the id under its owner, in one
// pipeline so the two stay consistent.
func (s *RedisStore) Save(ctx context.Context, nb *notebook.Notebook) error {
	data, err := encodeNotebook(nb)
	if err != nil {
		return err
	}
	_, err = s.client.Client().TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, notebookKey(nb.ID), data, 0)
		pipe.SAdd(ctx, ownerKey(nb.OwnerPrincipal), nb.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save notebook %s: %w", nb.ID, err)
	}
	return nil
}

// Load reads one notebook and verifies ownership.
func (s *RedisStore) Load(ctx context.Context, owner, id string) (*notebook.Notebook, error) {
	nb, err := s.LoadByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if nb.OwnerPrincipal != owner {
		return nil, fmt.Errorf("notebook %s: %w", id, notebook.ErrNotebookNotFound)
	}
	return nb, nil
}

// LoadByID finds a notebook regardless of owner.
func (s *RedisStore) LoadByID(ctx context.Context, id string) (*notebook.Notebook, error) {
	data, err := s.client.Client().Get(ctx, notebookKey(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("notebook %s: %w", id, notebook.ErrNotebookNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load notebook %s: %w", id, err)
	}
	return decodeNotebook(data)
}

// List returns the ids of the owner's notebooks.
func (s *RedisStore) List(ctx context.Context, owner string) ([]string, error) {
	ids, err := s.client.Client().SMembers(ctx, ownerKey(owner)).Result()
	if err != nil {
		return nil, fmt.Errorf("list notebooks: %w", err)
	}
	return ids, nil
}

// Delete removes the document and its owner-set entry.
func (s *RedisStore) Delete(ctx context.Context, owner, id string) error {
	removed, err := s.client.Client().Del(ctx, notebookKey(id)).Result()
	if err != nil {
		return fmt.Errorf("delete notebook %s: %w", id, err)
	}
	if err := s.client.Client().SRem(ctx, ownerKey(owner), id).Err(); err != nil {
		return fmt.Errorf("unregister notebook %s: %w", id, err)
	}
	if removed == 0 {
		return fmt.Errorf("notebook %s: %w", id, notebook.ErrNotebookNotFound)
	}
	return nil
}

var _ notebook.Store = (*RedisStore)(nil)
