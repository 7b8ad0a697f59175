// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package crunch reads, merges and writes the pipeline's Parquet files.
// Rows are dynamic (map[string]any) because the column set depends on the
// reading names present in the data; schemas are node maps unioned across
// rows and existing files.
package crunch

import (
	"fmt"
	"maps"
	"sort"

	"github.com/parquet-go/parquet-go"
)

// wrap applies the standard column shape: optional, dictionary-encoded
// leaves. Both row-derived and file-derived nodes go through this so that
// schema-union comparisons see identical nodes.
func wrap(n parquet.Node) parquet.Node {
	if n.Leaf() {
		n = parquet.Encoded(n, &parquet.RLEDictionary)
	}
	return parquet.Optional(n)
}

// NodeFromValue returns a parquet.Node for a row value. Only the types
// JSON decoding and Parquet readback produce are supported.
func NodeFromValue(name string, v any) (parquet.Node, error) {
	switch v.(type) {
	case string:
		return wrap(parquet.String()), nil
	case float64:
		return wrap(parquet.Leaf(parquet.DoubleType)), nil
	case int64:
		return wrap(parquet.Int(64)), nil
	case bool:
		return wrap(parquet.Leaf(parquet.BooleanType)), nil
	case []byte:
		return wrap(parquet.Leaf(parquet.ByteArrayType)), nil
	default:
		return nil, fmt.Errorf("unsupported type %T for column %q", v, name)
	}
}

// NodeMapBuilder accumulates rows and node maps into one consolidated
// schema node map, failing on any cross-source type mismatch.
type NodeMapBuilder struct {
	nodes map[string]parquet.Node
}

func NewNodeMapBuilder() *NodeMapBuilder {
	return &NodeMapBuilder{nodes: make(map[string]parquet.Node)}
}

// AddRow merges the field types of one row. Nil values carry no type and
// are skipped.
func (b *NodeMapBuilder) AddRow(row map[string]any) error {
	for name, v := range row {
		if v == nil {
			continue
		}
		node, err := NodeFromValue(name, v)
		if err != nil {
			return err
		}
		if existing, ok := b.nodes[name]; ok {
			if !parquet.EqualNodes(existing, node) {
				return fmt.Errorf("type mismatch for column %q: existing=%s, new=%s", name, existing, node)
			}
			continue
		}
		b.nodes[name] = node
	}
	return nil
}

// AddRows merges every row in the slice.
func (b *NodeMapBuilder) AddRows(rows []map[string]any) error {
	for _, row := range rows {
		if err := b.AddRow(row); err != nil {
			return err
		}
	}
	return nil
}

// AddNodes merges an existing node map, typically loaded from a file.
func (b *NodeMapBuilder) AddNodes(nodes map[string]parquet.Node) error {
	for name, node := range nodes {
		if existing, ok := b.nodes[name]; ok {
			if !parquet.EqualNodes(existing, node) {
				return fmt.Errorf("type mismatch for column %q: existing=%s, new=%s", name, existing, node)
			}
			continue
		}
		b.nodes[name] = node
	}
	return nil
}

// Build returns a copy of the consolidated node map.
func (b *NodeMapBuilder) Build() map[string]parquet.Node {
	out := make(map[string]parquet.Node, len(b.nodes))
	maps.Copy(out, b.nodes)
	return out
}

// SchemaFromNodes assembles a named parquet schema from a node map.
func SchemaFromNodes(name string, nodes map[string]parquet.Node) *parquet.Schema {
	return parquet.NewSchema(name, parquet.Group(nodes))
}

// ColumnNames returns the sorted column names of a node map.
func ColumnNames(nodes map[string]parquet.Node) []string {
	names := make([]string, 0, len(nodes))
	for name := range nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
