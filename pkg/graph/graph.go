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

// Package graph maintains the dataflow DAG between notebook cells.
//
// One node per cell. An edge A → B means B reads a name that A writes. When
// several cells write the same name, the most recently upserted writer is
// the designated writer of that name; edges are always derived from the
// designation, so a superseded writer keeps an edge to a reader only if some
// other shared name still justifies it.
package graph

import (
	"fmt"
	"sort"
)

// ErrCycleDetected is returned by Upsert when the requested change would
// introduce a circular dependency. The graph is left untouched.
type ErrCycleDetected struct {
	From, To string
}

func (e *ErrCycleDetected) Error() string {
	return fmt.Sprintf(
		"circular dependency detected: adding edge %s→%s would create a cycle (path exists %s→%s)",
		e.From, e.To, e.To, e.From)
}

// DepGraph is a directed acyclic dependency graph over cell ids.
// It is not safe for concurrent use; callers serialize access.
type DepGraph struct {
	nodes   map[string]bool
	out     map[string]map[string]bool // edges: from → set of to
	in      map[string]map[string]bool // reverse edges
	reads   map[string]map[string]bool // cell → names read
	writes  map[string]map[string]bool // cell → names written
	writers map[string]string          // name → designated writer cell

	// less breaks ties in topological order; defaults to lexical order.
	less func(a, b string) bool
}

// New returns an empty dependency graph.
func New() *DepGraph {
	return &DepGraph{
		nodes:   map[string]bool{},
		out:     map[string]map[string]bool{},
		in:      map[string]map[string]bool{},
		reads:   map[string]map[string]bool{},
		writes:  map[string]map[string]bool{},
		writers: map[string]string{},
		less:    func(a, b string) bool { return a < b },
	}
}

// SetOrder installs the tie-breaking comparison used by topological sorts,
// typically the cell's position in the notebook sequence.
func (g *DepGraph) SetOrder(less func(a, b string) bool) {
	if less != nil {
		g.less = less
	}
}

// HasNode reports whether the cell is present in the graph.
func (g *DepGraph) HasNode(id string) bool { return g.nodes[id] }

// Reads returns the recorded read set of a cell.
func (g *DepGraph) Reads(id string) []string { return sortedKeys(g.reads[id]) }

// Writes returns the recorded write set of a cell.
func (g *DepGraph) Writes(id string) []string { return sortedKeys(g.writes[id]) }

// DirectPredecessors returns the cells with an edge into id.
func (g *DepGraph) DirectPredecessors(id string) []string { return sortedKeys(g.in[id]) }

// WriterOf returns the designated writer of a name, if any.
func (g *DepGraph) WriterOf(name string) (string, bool) {
	w, ok := g.writers[name]
	return w, ok
}

// Upsert adds or redefines a cell with new read/write sets.
//
// The edges the change would induce are checked one by one, in parent-edge
// then child-edge order, against a scratch view of the current graph; the
// first edge that would close a cycle aborts the whole operation with
// ErrCycleDetected and the graph's prior state is preserved.
func (g *DepGraph) Upsert(id string, reads, writes []string) error {
	readSet := toSet(reads)
	writeSet := toSet(writes)

	// Edges induced by names this cell reads (current designated writers).
	var candidates [][2]string
	for _, name := range sortedKeys(readSet) {
		if w, ok := g.writers[name]; ok && w != id {
			candidates = append(candidates, [2]string{w, id})
		}
	}
	// Edges induced by names this cell writes (other readers of the name).
	for _, name := range sortedKeys(writeSet) {
		for _, other := range g.sortedNodes() {
			if other != id && g.reads[other][name] {
				candidates = append(candidates, [2]string{id, other})
			}
		}
	}

	// Simulate each insertion: edge u→v closes a cycle iff a path v ⇝ u
	// already exists, counting previously accepted candidates.
	accepted := map[string]map[string]bool{}
	for _, e := range candidates {
		from, to := e[0], e[1]
		if from == to || g.pathExists(to, from, accepted) {
			return &ErrCycleDetected{From: from, To: to}
		}
		if accepted[from] == nil {
			accepted[from] = map[string]bool{}
		}
		accepted[from][to] = true
	}

	// Safe to mutate. Drop the old definition, then redesignate writers.
	for name, w := range g.writers {
		if w == id {
			delete(g.writers, name)
		}
	}
	g.nodes[id] = true
	g.reads[id] = readSet
	g.writes[id] = writeSet
	for name := range writeSet {
		g.writers[name] = id
	}
	g.rebuildEdges()
	return nil
}

// Remove drops a cell and all incident edges.
func (g *DepGraph) Remove(id string) {
	if !g.nodes[id] {
		return
	}
	for name, w := range g.writers {
		if w == id {
			delete(g.writers, name)
		}
	}
	delete(g.nodes, id)
	delete(g.reads, id)
	delete(g.writes, id)
	g.rebuildEdges()
}

// AffectedOnChange returns the cell and its transitive descendants in
// topological order. The changed cell is always first.
func (g *DepGraph) AffectedOnChange(id string) []string {
	if !g.nodes[id] {
		return []string{id}
	}
	affected := g.descendantSet(id)
	affected[id] = true
	return g.topoSort(affected)
}

// AffectedOnRun returns the stale ancestors (those for which hasRun reports
// false), the cell itself, and all descendants, in topological order.
func (g *DepGraph) AffectedOnRun(id string, hasRun func(string) bool) []string {
	if !g.nodes[id] {
		return []string{id}
	}
	affected := map[string]bool{id: true}
	for anc := range g.ancestorSet(id) {
		if !hasRun(anc) {
			affected[anc] = true
		}
	}
	for desc := range g.descendantSet(id) {
		affected[desc] = true
	}
	return g.topoSort(affected)
}

// Descendants returns the transitive descendants of a cell, unordered.
func (g *DepGraph) Descendants(id string) []string {
	return sortedKeys(g.descendantSet(id))
}

// rebuildEdges derives the full edge set from the writer designations:
// for every reader r of name n with designated writer w ≠ r, edge w → r.
func (g *DepGraph) rebuildEdges() {
	g.out = map[string]map[string]bool{}
	g.in = map[string]map[string]bool{}
	for r, reads := range g.reads {
		for name := range reads {
			w, ok := g.writers[name]
			if !ok || w == r {
				continue
			}
			if g.out[w] == nil {
				g.out[w] = map[string]bool{}
			}
			g.out[w][r] = true
			if g.in[r] == nil {
				g.in[r] = map[string]bool{}
			}
			g.in[r][w] = true
		}
	}
}

// pathExists reports whether to is reachable from from, following the
// current edges plus the extra candidate edges.
func (g *DepGraph) pathExists(from, to string, extra map[string]map[string]bool) bool {
	if !g.nodes[from] && extra[from] == nil {
		return false
	}
	seen := map[string]bool{from: true}
	stack := []string{from}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == to {
			return true
		}
		for next := range g.out[cur] {
			if !seen[next] {
				seen[next] = true
				stack = append(stack, next)
			}
		}
		for next := range extra[cur] {
			if !seen[next] {
				seen[next] = true
				stack = append(stack, next)
			}
		}
	}
	return false
}

func (g *DepGraph) descendantSet(id string) map[string]bool {
	set := map[string]bool{}
	stack := []string{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for next := range g.out[cur] {
			if !set[next] {
				set[next] = true
				stack = append(stack, next)
			}
		}
	}
	return set
}

func (g *DepGraph) ancestorSet(id string) map[string]bool {
	set := map[string]bool{}
	stack := []string{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for prev := range g.in[cur] {
			if !set[prev] {
				set[prev] = true
				stack = append(stack, prev)
			}
		}
	}
	return set
}

// topoSort orders the induced subgraph over the given set using Kahn's
// algorithm. Ties are broken with the configured order so execution matches
// visual top-to-bottom when no dependency forces otherwise.
func (g *DepGraph) topoSort(set map[string]bool) []string {
	indegree := map[string]int{}
	for id := range set {
		indegree[id] = 0
	}
	for id := range set {
		for next := range g.out[id] {
			if set[next] {
				indegree[next]++
			}
		}
	}

	var ready []string
	for id, d := range indegree {
		if d == 0 {
			ready = append(ready, id)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return g.less(ready[i], ready[j]) })

	order := make([]string, 0, len(set))
	for len(ready) > 0 {
		cur := ready[0]
		ready = ready[1:]
		order = append(order, cur)
		var unlocked []string
		for next := range g.out[cur] {
			if set[next] {
				indegree[next]--
				if indegree[next] == 0 {
					unlocked = append(unlocked, next)
				}
			}
		}
		if len(unlocked) > 0 {
			ready = append(ready, unlocked...)
			sort.Slice(ready, func(i, j int) bool { return g.less(ready[i], ready[j]) })
		}
	}
	return order
}

func (g *DepGraph) sortedNodes() []string { return sortedKeys(g.nodes) }

func toSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
