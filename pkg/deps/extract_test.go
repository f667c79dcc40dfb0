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

package deps

import (
	"reflect"
	"testing"
)

func TestImperative(t *testing.T) {
	testCases := []struct {
		name   string
		code   string
		reads  []string
		writes []string
	}{
		{
			name:   "simple assignment",
			code:   "x = 1",
			reads:  []string{},
			writes: []string{"x"},
		},
		{
			name:   "read external name",
			code:   "y = x + 1",
			reads:  []string{"x"},
			writes: []string{"y"},
		},
		{
			name:   "self assignment is write only",
			code:   "x = x + 1",
			reads:  []string{},
			writes: []string{"x"},
		},
		{
			name:   "augmented assignment reads and writes",
			code:   "x += 1",
			reads:  []string{"x"},
			writes: []string{"x"},
		},
		{
			name:   "read after local bind is not external",
			code:   "a = 1\nb = a + c",
			reads:  []string{"c"},
			writes: []string{"a", "b"},
		},
		{
			name:   "builtins are not reads",
			code:   "n = len(items)\nprint(n)",
			reads:  []string{"items"},
			writes: []string{"n"},
		},
		{
			name:   "def binds name only",
			code:   "def f(v):\n    return v + hidden\n",
			reads:  []string{},
			writes: []string{"f"},
		},
		{
			name:   "lambda body contributes nothing",
			code:   "g = lambda v: v + hidden",
			reads:  []string{},
			writes: []string{"g"},
		},
		{
			name:   "comprehension variable is local",
			code:   "squares = [v * v for v in values]",
			reads:  []string{"values"},
			writes: []string{"squares"},
		},
		{
			name:   "tuple unpacking",
			code:   "a, b = pair",
			reads:  []string{"pair"},
			writes: []string{"a", "b"},
		},
		{
			name:   "subscript target reads the base",
			code:   "table[key] = value",
			reads:  []string{"key", "table", "value"},
			writes: []string{},
		},
		{
			name:   "for loop over external",
			code:   "total = 0\nfor row in rows:\n    total += row\n",
			reads:  []string{"rows"},
			writes: []string{"row", "total"},
		},
		{
			name:   "if with both branches",
			code:   "if flag:\n    out = a\nelse:\n    out = b\n",
			reads:  []string{"a", "b", "flag"},
			writes: []string{"out"},
		},
		{
			name:   "keyword argument names are not reads",
			code:   "r = f(x, limit=n)",
			reads:  []string{"f", "n", "x"},
			writes: []string{"r"},
		},
		{
			name:   "dict and call chain",
			code:   "summary = {\"mean\": stats.mean(values)}",
			reads:  []string{"stats", "values"},
			writes: []string{"summary"},
		},
		{
			name:   "unparseable source yields empty sets",
			code:   "x = = 1",
			reads:  []string{},
			writes: []string{},
		},
		{
			name:   "empty cell",
			code:   "",
			reads:  []string{},
			writes: []string{},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			reads, writes := Imperative(tc.code)
			if !reflect.DeepEqual(reads, tc.reads) {
				t.Errorf("reads: expected %v, got %v", tc.reads, reads)
			}
			if !reflect.DeepEqual(writes, tc.writes) {
				t.Errorf("writes: expected %v, got %v", tc.writes, writes)
			}
		})
	}
}

func TestQuery(t *testing.T) {
	testCases := []struct {
		name  string
		code  string
		reads []string
	}{
		{
			name:  "no placeholders",
			code:  "SELECT * FROM users",
			reads: []string{},
		},
		{
			name:  "single placeholder",
			code:  "SELECT * FROM users WHERE id = {user_id}",
			reads: []string{"user_id"},
		},
		{
			name:  "repeated placeholder counted once",
			code:  "SELECT {limit}, x FROM t LIMIT {limit}",
			reads: []string{"limit"},
		},
		{
			name:  "multiple placeholders sorted",
			code:  "SELECT * FROM t WHERE a > {zmin} AND b < {amax}",
			reads: []string{"amax", "zmin"},
		},
		{
			name:  "braces without identifier ignored",
			code:  "SELECT '{}' FROM t WHERE c = {n}",
			reads: []string{"n"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			reads := Query(tc.code)
			if !reflect.DeepEqual(reads, tc.reads) {
				t.Errorf("expected %v, got %v", tc.reads, reads)
			}
		})
	}
}
