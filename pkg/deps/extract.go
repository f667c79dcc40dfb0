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

// Package deps performs static dependency extraction for notebook cells.
//
// For imperative (Starlark) cells it parses the source with the
// interpreter's own parser and walks the top-level statements, computing the
// set of free identifiers the cell reads from the notebook namespace and the
// set of names it binds into it. Nested function bodies and lambdas do not
// contribute reads or writes; only the defining name itself is a write.
//
// For query (SQL) cells it scans for {identifier} template placeholders;
// every distinct placeholder is a read, and query cells never write.
//
// Extraction is pure and deterministic. Unparseable source yields empty sets;
// the syntax error surfaces later when the cell is executed.
package deps

import (
	"regexp"
	"sort"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// FileOptions is the Starlark dialect for imperative cells. The kernel
// executes cells with the same options so extraction and evaluation agree.
var FileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
	Recursion:       true,
}

var placeholderRE = regexp.MustCompile(`\{(\w+)\}`)

// Imperative returns the (reads, writes) sets of a Starlark cell.
func Imperative(code string) (reads, writes []string) {
	x := &extractor{
		reads:    map[string]bool{},
		writes:   map[string]bool{},
		assigned: map[string]bool{},
	}
	f, err := FileOptions.Parse("cell.star", code, 0)
	if err == nil {
		x.stmts(f.Stmts)
	}
	return sortedNames(x.reads), sortedNames(x.writes)
}

// Query returns the set of template placeholder names a SQL cell reads.
func Query(code string) []string {
	names := map[string]bool{}
	for _, m := range placeholderRE.FindAllStringSubmatch(code, -1) {
		names[m[1]] = true
	}
	return sortedNames(names)
}

// extractor walks top-level statements tracking the names assigned so far.
// A name read before any top-level assignment of it is an external read.
type extractor struct {
	reads    map[string]bool
	writes   map[string]bool
	assigned map[string]bool
}

func (x *extractor) stmts(stmts []syntax.Stmt) {
	for _, stmt := range stmts {
		switch s := stmt.(type) {
		case *syntax.AssignStmt:
			if s.Op == syntax.EQ {
				x.bind(s.LHS)
				x.expr(s.RHS, nil)
			} else {
				// Augmented assignment reads and writes the target, unless
				// the cell already bound it.
				if id, ok := unparen(s.LHS).(*syntax.Ident); ok {
					if !x.assigned[id.Name] {
						x.reads[id.Name] = true
					}
					x.writes[id.Name] = true
					x.assigned[id.Name] = true
				} else {
					x.expr(s.LHS, nil)
				}
				x.expr(s.RHS, nil)
			}
		case *syntax.DefStmt:
			// The function name is a top-level binding; the body is a
			// nested scope and contributes nothing.
			x.writes[s.Name.Name] = true
			x.assigned[s.Name.Name] = true
		case *syntax.LoadStmt:
			for _, id := range s.To {
				x.writes[id.Name] = true
				x.assigned[id.Name] = true
			}
		case *syntax.ExprStmt:
			x.expr(s.X, nil)
		case *syntax.IfStmt:
			x.expr(s.Cond, nil)
			x.stmts(s.True)
			x.stmts(s.False)
		case *syntax.ForStmt:
			x.bind(s.Vars)
			x.expr(s.X, nil)
			x.stmts(s.Body)
		case *syntax.WhileStmt:
			x.expr(s.Cond, nil)
			x.stmts(s.Body)
		}
	}
}

// bind records assignment targets. Only plain identifiers (and tuples or
// lists of them) create top-level bindings; subscript and attribute targets
// mutate an existing value, so their base is a read.
func (x *extractor) bind(e syntax.Expr) {
	switch t := e.(type) {
	case *syntax.Ident:
		x.writes[t.Name] = true
		x.assigned[t.Name] = true
	case *syntax.ParenExpr:
		x.bind(t.X)
	case *syntax.TupleExpr:
		for _, elem := range t.List {
			x.bind(elem)
		}
	case *syntax.ListExpr:
		for _, elem := range t.List {
			x.bind(elem)
		}
	default:
		x.expr(e, nil)
	}
}

// expr collects external reads from an expression. locals holds names bound
// inside the expression itself (comprehension variables).
func (x *extractor) expr(e syntax.Expr, locals map[string]bool) {
	switch t := e.(type) {
	case nil:
	case *syntax.Ident:
		if x.assigned[t.Name] || locals[t.Name] {
			return
		}
		if _, builtin := starlark.Universe[t.Name]; builtin {
			return
		}
		x.reads[t.Name] = true
	case *syntax.Literal:
	case *syntax.ParenExpr:
		x.expr(t.X, locals)
	case *syntax.UnaryExpr:
		x.expr(t.X, locals)
	case *syntax.BinaryExpr:
		x.expr(t.X, locals)
		x.expr(t.Y, locals)
	case *syntax.CondExpr:
		x.expr(t.Cond, locals)
		x.expr(t.True, locals)
		x.expr(t.False, locals)
	case *syntax.CallExpr:
		x.expr(t.Fn, locals)
		for _, arg := range t.Args {
			// Keyword arguments are name=value pairs; the name is not a read.
			if kw, ok := arg.(*syntax.BinaryExpr); ok && kw.Op == syntax.EQ {
				x.expr(kw.Y, locals)
				continue
			}
			x.expr(arg, locals)
		}
	case *syntax.DotExpr:
		x.expr(t.X, locals)
	case *syntax.IndexExpr:
		x.expr(t.X, locals)
		x.expr(t.Y, locals)
	case *syntax.SliceExpr:
		x.expr(t.X, locals)
		x.expr(t.Lo, locals)
		x.expr(t.Hi, locals)
		x.expr(t.Step, locals)
	case *syntax.ListExpr:
		for _, elem := range t.List {
			x.expr(elem, locals)
		}
	case *syntax.TupleExpr:
		for _, elem := range t.List {
			x.expr(elem, locals)
		}
	case *syntax.DictExpr:
		for _, entry := range t.List {
			x.expr(entry, locals)
		}
	case *syntax.DictEntry:
		x.expr(t.Key, locals)
		x.expr(t.Value, locals)
	case *syntax.Comprehension:
		// Clause variables are scoped to the comprehension.
		inner := map[string]bool{}
		for name := range locals {
			inner[name] = true
		}
		for _, clause := range t.Clauses {
			switch c := clause.(type) {
			case *syntax.ForClause:
				x.expr(c.X, inner)
				collectIdents(c.Vars, inner)
			case *syntax.IfClause:
				x.expr(c.Cond, inner)
			}
		}
		x.expr(t.Body, inner)
	case *syntax.LambdaExpr:
		// Nested scope: contributes nothing.
	}
}

func collectIdents(e syntax.Expr, into map[string]bool) {
	switch t := e.(type) {
	case *syntax.Ident:
		into[t.Name] = true
	case *syntax.ParenExpr:
		collectIdents(t.X, into)
	case *syntax.TupleExpr:
		for _, elem := range t.List {
			collectIdents(elem, into)
		}
	case *syntax.ListExpr:
		for _, elem := range t.List {
			collectIdents(elem, into)
		}
	}
}

func unparen(e syntax.Expr) syntax.Expr {
	for {
		p, ok := e.(*syntax.ParenExpr)
		if !ok {
			return e
		}
		e = p.X
	}
}

func sortedNames(set map[string]bool) []string {
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
