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

package kernel

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"go.starlark.net/starlark"
)

// MaxQueryRows caps how many rows a query cell renders. The query itself is
// not limited; rows past the cap are discarded and the truncation is noted
// in the cell's stdout and flagged in the table bundle.
const MaxQueryRows = 1000

var queryPlaceholderRE = regexp.MustCompile(`\{(\w+)\}`)

// PrepareParameterized rewrites {name} placeholders into positional
// parameters and resolves each name through lookup. Repeated placeholders of
// the same name share one parameter. A name that does not resolve aborts
// with TEMPLATE_VARIABLE_MISSING; values always travel as bound parameters,
// never by textual substitution.
func PrepareParameterized(code string, lookup func(name string) (starlark.Value, bool)) (string, []any, *ErrorInfo) {
	indexes := map[string]int{}
	var args []any
	var missing *ErrorInfo

	sql := queryPlaceholderRE.ReplaceAllStringFunc(code, func(m string) string {
		name := m[1 : len(m)-1]
		idx, seen := indexes[name]
		if !seen {
			v, ok := lookup(name)
			if !ok {
				if missing == nil {
					missing = &ErrorInfo{
						Kind:    KindTemplateVariableMissing,
						Message: fmt.Sprintf("template variable %q is not defined by any cell", name),
					}
				}
				return m
			}
			args = append(args, paramValue(v))
			idx = len(args)
			indexes[name] = idx
		}
		return fmt.Sprintf("$%d", idx)
	})
	if missing != nil {
		return "", nil, missing
	}
	return sql, args, nil
}

// paramValue converts a Starlark value into a driver-level parameter.
func paramValue(v starlark.Value) any {
	switch t := v.(type) {
	case starlark.NoneType:
		return nil
	case starlark.Bool:
		return bool(t)
	case starlark.Int:
		if i, ok := t.Int64(); ok {
			return i
		}
		return t.String()
	case starlark.Float:
		return float64(t)
	case starlark.String:
		return string(t)
	default:
		return v.String()
	}
}

// QueryRunner executes query cells against the notebook's configured
// database. Each run opens a fresh connection so a changed connection string
// takes effect immediately.
type QueryRunner struct {
	connString string
}

// SetConnString replaces the connection string used by subsequent runs.
func (q *QueryRunner) SetConnString(connString string) { q.connString = connString }

// Configured reports whether a database connection string is set.
func (q *QueryRunner) Configured() bool { return q.connString != "" }

// Run executes one prepared query and renders the result table.
func (q *QueryRunner) Run(ctx context.Context, sql string, args []any) ExecResult {
	var res ExecResult
	if q.connString == "" {
		res.Err = &ErrorInfo{
			Kind:    KindBackendNotConfigured,
			Message: "no database connection is configured for this notebook",
		}
		return res
	}

	var stdout strings.Builder
	fmt.Fprintf(&stdout, "Executing: %s\n", strings.TrimSpace(sql))

	conn, err := pgx.Connect(ctx, q.connString)
	if err != nil {
		res.Stdout = stdout.String()
		res.Err = &ErrorInfo{Kind: KindRuntimeError, Message: fmt.Sprintf("connect: %v", err)}
		return res
	}
	defer conn.Close(ctx)

	rows, err := conn.Query(ctx, sql, args...)
	if err != nil {
		res.Stdout = stdout.String()
		res.Err = &ErrorInfo{Kind: KindRuntimeError, Message: err.Error()}
		return res
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = f.Name
	}

	var tbl [][]any
	truncated := false
	for rows.Next() {
		if len(tbl) == MaxQueryRows {
			truncated = true
			break
		}
		values, err := rows.Values()
		if err != nil {
			res.Stdout = stdout.String()
			res.Err = &ErrorInfo{Kind: KindRuntimeError, Message: err.Error()}
			return res
		}
		row := make([]any, len(values))
		for i, v := range values {
			row[i] = normalizeDBValue(v)
		}
		tbl = append(tbl, row)
	}
	if !truncated {
		if err := rows.Err(); err != nil {
			res.Stdout = stdout.String()
			res.Err = &ErrorInfo{Kind: KindRuntimeError, Message: err.Error()}
			return res
		}
	}

	switch {
	case len(tbl) == 0:
		stdout.WriteString("Query returned 0 rows\n")
	case truncated:
		fmt.Fprintf(&stdout, "Returned %d row(s) (result truncated at %d rows)\n", len(tbl), MaxQueryRows)
	default:
		fmt.Fprintf(&stdout, "Returned %d row(s)\n", len(tbl))
	}

	res.Stdout = stdout.String()
	if len(tbl) > 0 {
		if truncated {
			res.Outputs = append(res.Outputs, TruncatedTableOutput(columns, tbl))
		} else {
			res.Outputs = append(res.Outputs, TableOutput(columns, tbl))
		}
	}
	return res
}

// normalizeDBValue maps driver types onto JSON-friendly values.
func normalizeDBValue(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.Format(time.RFC3339)
	case pgtype.Numeric:
		if dv, err := t.Value(); err == nil {
			return dv
		}
		return fmt.Sprintf("%v", v)
	case [16]byte:
		// uuid columns decode as raw byte arrays.
		return fmt.Sprintf("%x-%x-%x-%x-%x", t[0:4], t[4:6], t[6:8], t[8:10], t[10:16])
	case []byte:
		return string(t)
	default:
		return v
	}
}
