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

package notebook

import "errors"

var (
	// ErrNotebookNotFound is returned when no notebook exists for an id.
	ErrNotebookNotFound = errors.New("notebook not found")

	// ErrCellNotFound is returned when a cell id is not in the notebook.
	ErrCellNotFound = errors.New("cell not found")

	// ErrRevisionConflict is returned by optimistic updates when the caller's
	// expected revision no longer matches; the client should reload.
	ErrRevisionConflict = errors.New("revision conflict")

	// ErrForbidden is returned when a principal touches a notebook it does
	// not own.
	ErrForbidden = errors.New("forbidden")
)
