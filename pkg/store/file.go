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
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.corp.nvidia.com/labbook/pkg/notebook"
)

// FileStore persists notebooks as <root>/<owner>/<id>.json. Writes go
// through a temp file and rename so a crash mid-write never leaves a
// truncated document behind.
type FileStore struct {
	root string
}

// NewFileStore creates the root directory if needed.
func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create store root: %w", err)
	}
	return &FileStore{root: root}, nil
}

func (s *FileStore) path(owner, id string) string {
	return filepath.Join(s.root, sanitize(owner), id+".json")
}

// sanitize keeps principal names from escaping the store root.
func sanitize(name string) string {
	name = strings.ReplaceAll(name, string(os.PathSeparator), "_")
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" {
		name = "_anonymous"
	}
	return name
}

// Save writes the notebook document atomically.
func (s *FileStore) Save(_ context.Context, nb *notebook.Notebook) error {
	data, err := encodeNotebook(nb)
	if err != nil {
		return err
	}
	path := s.path(nb.OwnerPrincipal, nb.ID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create owner dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+nb.ID+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write notebook: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename notebook file: %w", err)
	}
	return nil
}

// Load reads one notebook owned by the given principal.
func (s *FileStore) Load(_ context.Context, owner, id string) (*notebook.Notebook, error) {
	data, err := os.ReadFile(s.path(owner, id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("notebook %s: %w", id, notebook.ErrNotebookNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read notebook: %w", err)
	}
	return decodeNotebook(data)
}

// LoadByID finds a notebook regardless of owner.
func (s *FileStore) LoadByID(ctx context.Context, id string) (*notebook.Notebook, error) {
	matches, err := filepath.Glob(filepath.Join(s.root, "*", id+".json"))
	if err != nil {
		return nil, fmt.Errorf("scan store: %w", err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("notebook %s: %w", id, notebook.ErrNotebookNotFound)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		return nil, fmt.Errorf("read notebook: %w", err)
	}
	return decodeNotebook(data)
}

// List returns the ids of the owner's notebooks.
func (s *FileStore) List(_ context.Context, owner string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, sanitize(owner)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list notebooks: %w", err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	return ids, nil
}

// Delete removes a notebook document.
func (s *FileStore) Delete(_ context.Context, owner, id string) error {
	err := os.Remove(s.path(owner, id))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("notebook %s: %w", id, notebook.ErrNotebookNotFound)
	}
	return err
}

var _ notebook.Store = (*FileStore)(nil)
