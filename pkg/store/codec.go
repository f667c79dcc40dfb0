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

// Package store provides the notebook persistence backends: local files for
// single-node deployments, Postgres or Redis for shared ones. All backends
// share one JSON document format, so a notebook written by one can be read
// by another.
package store

import (
	"encoding/json"
	"fmt"

	"go.corp.nvidia.com/labbook/pkg/notebook"
)

// document is the persisted shape of a notebook. Cell statuses are runtime
// state and are deliberately absent; every cell comes back idle. Dependency
// sets are stored for inspection but recomputed from source on load.
type document struct {
	ID                 string           `json:"id"`
	OwnerPrincipal     string           `json:"owner_principal"`
	Name               string           `json:"name,omitempty"`
	DBConnectionString string           `json:"db_connection_string,omitempty"`
	Revision           int64            `json:"revision"`
	Cells              []*notebook.Cell `json:"cells"`
}

// encodeNotebook serializes a notebook. The caller must hold the notebook
// lock or otherwise own the notebook exclusively.
func encodeNotebook(nb *notebook.Notebook) ([]byte, error) {
	doc := document{
		ID:                 nb.ID,
		OwnerPrincipal:     nb.OwnerPrincipal,
		Name:               nb.Name,
		DBConnectionString: nb.DBConnectionString,
		Revision:           nb.Revision,
		Cells:              nb.Cells,
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode notebook %s: %w", nb.ID, err)
	}
	return data, nil
}

// decodeNotebook reconstructs a notebook from its stored form. Statuses
// reset to idle and the dependency graph is rebuilt from cell source.
func decodeNotebook(data []byte) (*notebook.Notebook, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode notebook: %w", err)
	}
	nb := &notebook.Notebook{
		ID:                 doc.ID,
		OwnerPrincipal:     doc.OwnerPrincipal,
		Name:               doc.Name,
		DBConnectionString: doc.DBConnectionString,
		Revision:           doc.Revision,
		Cells:              doc.Cells,
	}
	for _, c := range nb.Cells {
		c.Status = notebook.StatusIdle
	}
	nb.RebuildGraph()
	return nb, nil
}
