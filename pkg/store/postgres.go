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

	"github.com/jackc/pgx/v5"

	"go.corp.nvidia.com/labbook/pkg/notebook"
	"go.corp.nvidia.com/labbook/utils/postgres"
)

const notebooksSchema = `
CREATE TABLE IF NOT EXISTS notebooks (
	id              TEXT PRIMARY KEY,
	owner_principal TEXT NOT NULL,
	revision        BIGINT NOT NULL,
	doc             JSONB NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS notebooks_owner_idx ON notebooks (owner_principal);
`

// PostgresStore persists notebooks as JSONB documents. The stored revision
// guards against lost updates: a save with a revision at or below the stored
// one is rejected, which matters when two service replicas race on the same
// notebook.
type PostgresStore struct {
	client *postgres.PostgresClient
}

// NewPostgresStore wraps an existing client and ensures the schema.
func NewPostgresStore(ctx context.Context, client *postgres.PostgresClient) (*PostgresStore, error) {
	if _, err := client.Pool().Exec(ctx, notebooksSchema); err != nil {
		return nil, fmt.Errorf("ensure notebooks schema: %w", err)
	}
	return &PostgresStore{client: client}, nil
}

// Save upserts the notebook document, guarded by revision.
func (s *PostgresStore) Save(ctx context.Context, nb *notebook.Notebook) error {
	data, err := encodeNotebook(nb)
	if err != nil {
		return err
	}
	tag, err := s.client.Pool().Exec(ctx, `
		INSERT INTO notebooks (id, owner_principal, revision, doc, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (id) DO UPDATE
		SET owner_principal = EXCLUDED.owner_principal,
		    revision = EXCLUDED.revision,
		    doc = EXCLUDED.doc,
		    updated_at = now()
		WHERE notebooks.revision < EXCLUDED.revision`,
		nb.ID, nb.OwnerPrincipal, nb.Revision, data)
	if err != nil {
		return fmt.Errorf("save notebook %s: %w", nb.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("notebook %s at revision %d: %w",
			nb.ID, nb.Revision, notebook.ErrRevisionConflict)
	}
	return nil
}

// Load reads one notebook owned by the given principal.
func (s *PostgresStore) Load(ctx context.Context, owner, id string) (*notebook.Notebook, error) {
	var data []byte
	err := s.client.Pool().QueryRow(ctx, `
		SELECT doc FROM notebooks WHERE id = $1 AND owner_principal = $2`,
		id, owner).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("notebook %s: %w", id, notebook.ErrNotebookNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load notebook %s: %w", id, err)
	}
	return decodeNotebook(data)
}

// LoadByID finds a notebook regardless of owner.
func (s *PostgresStore) LoadByID(ctx context.Context, id string) (*notebook.Notebook, error) {
	var data []byte
	err := s.client.Pool().QueryRow(ctx, `
		SELECT doc FROM notebooks WHERE id = $1`, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("notebook %s: %w", id, notebook.ErrNotebookNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load notebook %s: %w", id, err)
	}
	return decodeNotebook(data)
}

// List returns the ids of the owner's notebooks, most recently updated first.
func (s *PostgresStore) List(ctx context.Context, owner string) ([]string, error) {
	rows, err := s.client.Pool().Query(ctx, `
		SELECT id FROM notebooks WHERE owner_principal = $1
		ORDER BY updated_at DESC`, owner)
	if err != nil {
		return nil, fmt.Errorf("list notebooks: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan notebook id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Delete removes a notebook row.
func (s *PostgresStore) Delete(ctx context.Context, owner, id string) error {
	tag, err := s.client.Pool().Exec(ctx, `
		DELETE FROM notebooks WHERE id = $1 AND owner_principal = $2`, id, owner)
	if err != nil {
		return fmt.Errorf("delete notebook %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("notebook %s: %w", id, notebook.ErrNotebookNotFound)
	}
	return nil
}

var _ notebook.Store = (*PostgresStore)(nil)
