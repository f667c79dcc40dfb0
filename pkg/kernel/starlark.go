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
	"bytes"
	"errors"
	"fmt"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"go.corp.nvidia.com/labbook/pkg/deps"
)

// Executor evaluates imperative cells against one shared mutable namespace.
// Cells are run REPL-style so bindings from earlier cells stay assignable;
// nothing is frozen between executions.
type Executor struct {
	globals starlark.StringDict
}

// NewExecutor returns an executor with an empty namespace.
func NewExecutor() *Executor {
	return &Executor{globals: starlark.StringDict{}}
}

// Run evaluates one cell. Statements execute in order against the shared
// namespace; when the cell ends in a bare expression, its value becomes a
// rich output unless it is None. Anything printed goes to ExecResult.Stdout.
func (e *Executor) Run(code string) ExecResult {
	var res ExecResult

	f, err := deps.FileOptions.Parse("cell.star", code, 0)
	if err != nil {
		res.Err = &ErrorInfo{Kind: KindParseError, Message: syntaxDiagnostic(code, err)}
		return res
	}

	var stdout bytes.Buffer
	thread := &starlark.Thread{
		Name: "cell",
		Print: func(_ *starlark.Thread, msg string) {
			fmt.Fprintln(&stdout, msg)
		},
	}

	// A trailing expression statement is evaluated separately so its value
	// can be captured; everything before it executes as a chunk.
	var trailing syntax.Expr
	if n := len(f.Stmts); n > 0 {
		if es, ok := f.Stmts[n-1].(*syntax.ExprStmt); ok {
			trailing = es.X
			f.Stmts = f.Stmts[:n-1]
		}
	}

	if err := starlark.ExecREPLChunk(f, thread, e.globals); err != nil {
		res.Stdout = stdout.String()
		res.Err = runtimeDiagnostic(err)
		return res
	}

	if trailing != nil {
		v, err := starlark.EvalExprOptions(deps.FileOptions, thread, trailing, e.globals)
		if err != nil {
			res.Stdout = stdout.String()
			res.Err = runtimeDiagnostic(err)
			return res
		}
		if v != nil && v != starlark.None {
			res.Outputs = append(res.Outputs, ToOutput(v))
		}
	}

	res.Stdout = stdout.String()
	return res
}

// Evict removes names from the namespace, typically because the cell that
// defined them was deleted.
func (e *Executor) Evict(names []string) {
	for _, name := range names {
		delete(e.globals, name)
	}
}

// Global looks up a name in the namespace.
func (e *Executor) Global(name string) (starlark.Value, bool) {
	v, ok := e.globals[name]
	return v, ok
}

// syntaxDiagnostic formats a parse failure with the offending source line and
// a caret under the column.
func syntaxDiagnostic(code string, err error) string {
	var serr syntax.Error
	if !errors.As(err, &serr) {
		return err.Error()
	}
	msg := fmt.Sprintf("syntax error at line %d: %s", serr.Pos.Line, serr.Msg)
	lines := strings.Split(code, "\n")
	if n := int(serr.Pos.Line); n >= 1 && n <= len(lines) {
		line := lines[n-1]
		col := int(serr.Pos.Col)
		if col < 1 {
			col = 1
		}
		if col > len(line)+1 {
			col = len(line) + 1
		}
		msg += "\n" + line + "\n" + strings.Repeat(" ", col-1) + "^"
	}
	return msg
}

// runtimeDiagnostic classifies an evaluation failure. Starlark eval errors
// carry a backtrace naming the failing cell line.
func runtimeDiagnostic(err error) *ErrorInfo {
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		return &ErrorInfo{Kind: KindRuntimeError, Message: evalErr.Backtrace()}
	}
	return &ErrorInfo{Kind: KindRuntimeError, Message: err.Error()}
}
