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
	"encoding/base64"
	"strings"

	"go.starlark.net/starlark"

	"go.corp.nvidia.com/labbook/pkg/notebook"
)

var pngMagic = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// converters are tried in order; the first match renders the value. The
// plain-text fallback at the end always matches.
var converters = []struct {
	name    string
	convert func(v starlark.Value) (notebook.Output, bool)
}{
	{"png", convertPNG},
	{"vega-lite", convertVegaLite},
	{"plotly", convertPlotly},
	{"table", convertTable},
	{"json", convertJSON},
	{"plain", convertPlain},
}

// ToOutput renders a cell's trailing-expression value as a MIME bundle.
func ToOutput(v starlark.Value) notebook.Output {
	for _, c := range converters {
		if out, ok := c.convert(v); ok {
			return out
		}
	}
	// Unreachable: convertPlain accepts everything.
	return notebook.Output{MimeType: notebook.MimePlain, Data: v.String()}
}

// convertPNG matches bytes values carrying a PNG header.
func convertPNG(v starlark.Value) (notebook.Output, bool) {
	b, ok := v.(starlark.Bytes)
	if !ok {
		return notebook.Output{}, false
	}
	raw := []byte(string(b))
	if len(raw) < len(pngMagic) || string(raw[:len(pngMagic)]) != string(pngMagic) {
		return notebook.Output{}, false
	}
	return notebook.Output{
		MimeType: notebook.MimePNG,
		Data:     base64.StdEncoding.EncodeToString(raw),
	}, true
}

// convertVegaLite matches dicts whose "$schema" names a vega-lite schema.
func convertVegaLite(v starlark.Value) (notebook.Output, bool) {
	d, ok := v.(*starlark.Dict)
	if !ok {
		return notebook.Output{}, false
	}
	schema, found, err := d.Get(starlark.String("$schema"))
	if err != nil || !found {
		return notebook.Output{}, false
	}
	s, ok := starlark.AsString(schema)
	if !ok || !strings.Contains(s, "vega-lite") {
		return notebook.Output{}, false
	}
	return notebook.Output{MimeType: notebook.MimeVegaLite, Data: toGo(v)}, true
}

// convertPlotly matches dicts shaped like a plotly figure: a "data" list of
// traces plus a "layout" dict.
func convertPlotly(v starlark.Value) (notebook.Output, bool) {
	d, ok := v.(*starlark.Dict)
	if !ok {
		return notebook.Output{}, false
	}
	data, foundData, err1 := d.Get(starlark.String("data"))
	layout, foundLayout, err2 := d.Get(starlark.String("layout"))
	if err1 != nil || err2 != nil || !foundData || !foundLayout {
		return notebook.Output{}, false
	}
	if _, ok := data.(*starlark.List); !ok {
		return notebook.Output{}, false
	}
	if _, ok := layout.(*starlark.Dict); !ok {
		return notebook.Output{}, false
	}
	return notebook.Output{MimeType: notebook.MimePlotly, Data: toGo(v)}, true
}

// convertTable matches non-empty lists whose elements are all dicts with
// string keys, rendering them as a columns/rows table. Column order is the
// first-seen key order across all rows.
func convertTable(v starlark.Value) (notebook.Output, bool) {
	list, ok := v.(*starlark.List)
	if !ok || list.Len() == 0 {
		return notebook.Output{}, false
	}
	records := make([]*starlark.Dict, 0, list.Len())
	for i := 0; i < list.Len(); i++ {
		d, ok := list.Index(i).(*starlark.Dict)
		if !ok {
			return notebook.Output{}, false
		}
		for _, k := range d.Keys() {
			if _, ok := k.(starlark.String); !ok {
				return notebook.Output{}, false
			}
		}
		records = append(records, d)
	}

	var columns []string
	seen := map[string]bool{}
	for _, d := range records {
		for _, k := range d.Keys() {
			name := string(k.(starlark.String))
			if !seen[name] {
				seen[name] = true
				columns = append(columns, name)
			}
		}
	}

	rows := make([][]any, 0, len(records))
	for _, d := range records {
		row := make([]any, len(columns))
		for i, col := range columns {
			if val, found, _ := d.Get(starlark.String(col)); found {
				row[i] = toGo(val)
			}
		}
		rows = append(rows, row)
	}
	return TableOutput(columns, rows), true
}

// convertJSON matches remaining composite values (dicts, lists, tuples,
// sets) and renders them as structured JSON.
func convertJSON(v starlark.Value) (notebook.Output, bool) {
	switch v.(type) {
	case *starlark.Dict, *starlark.List, starlark.Tuple, *starlark.Set:
		return notebook.Output{MimeType: notebook.MimeJSON, Data: toGo(v)}, true
	}
	return notebook.Output{}, false
}

// convertPlain renders anything else as its repr.
func convertPlain(v starlark.Value) (notebook.Output, bool) {
	return notebook.Output{MimeType: notebook.MimePlain, Data: v.String()}, true
}

// TableOutput builds the shared columns/rows table bundle used for both
// record-list values and query results.
func TableOutput(columns []string, rows [][]any) notebook.Output {
	return notebook.Output{
		MimeType: notebook.MimeJSON,
		Data: map[string]any{
			"columns": columns,
			"rows":    rows,
		},
		Metadata: map[string]any{"renderer": "table"},
	}
}

// TruncatedTableOutput is TableOutput with a truncation flag in the bundle,
// so renderers can mark a capped result set without parsing stdout.
func TruncatedTableOutput(columns []string, rows [][]any) notebook.Output {
	out := TableOutput(columns, rows)
	out.Data.(map[string]any)["truncated"] = true
	return out
}

// toGo converts a Starlark value into plain Go data for JSON encoding.
// Non-string dict keys are stringified; unconvertible values fall back to
// their repr.
func toGo(v starlark.Value) any {
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
	case starlark.Bytes:
		return base64.StdEncoding.EncodeToString([]byte(string(t)))
	case *starlark.List:
		out := make([]any, t.Len())
		for i := 0; i < t.Len(); i++ {
			out[i] = toGo(t.Index(i))
		}
		return out
	case starlark.Tuple:
		out := make([]any, len(t))
		for i, elem := range t {
			out[i] = toGo(elem)
		}
		return out
	case *starlark.Set:
		out := make([]any, 0, t.Len())
		it := t.Iterate()
		defer it.Done()
		var elem starlark.Value
		for it.Next(&elem) {
			out = append(out, toGo(elem))
		}
		return out
	case *starlark.Dict:
		out := make(map[string]any, t.Len())
		for _, k := range t.Keys() {
			val, _, _ := t.Get(k)
			key, ok := starlark.AsString(k)
			if !ok {
				key = k.String()
			}
			out[key] = toGo(val)
		}
		return out
	default:
		return v.String()
	}
}
