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

package crunch

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeMapBuilderUnionsRows(t *testing.T) {
	b := NewNodeMapBuilder()
	require.NoError(t, b.AddRow(map[string]any{"timestamp": "x", "iotreadings_temp": 1.5}))
	require.NoError(t, b.AddRow(map[string]any{"timestamp": "y", "iotreadings_hum": 0.2, "skipme": nil}))

	nodes := b.Build()
	assert.Equal(t, []string{"iotreadings_hum", "iotreadings_temp", "timestamp"}, ColumnNames(nodes))
}

func TestNodeMapBuilderRejectsTypeMismatch(t *testing.T) {
	b := NewNodeMapBuilder()
	require.NoError(t, b.AddRow(map[string]any{"v": 1.5}))
	assert.Error(t, b.AddRow(map[string]any{"v": "not a number"}))
}

func TestNodeFromValueUnsupported(t *testing.T) {
	_, err := NodeFromValue("v", map[string]any{})
	assert.Error(t, err)
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	rows := []map[string]any{
		{"timestamp": "2023-04-01T13:44:01Z", "dataAsset": "mars", "iotreadings_temp": 21.5},
		{"timestamp": "2023-04-01T13:45:01Z", "dataAsset": "mars", "iotreadings_hum": 0.4},
	}
	b := NewNodeMapBuilder()
	require.NoError(t, b.AddRows(rows))

	dir := filepath.Join(t.TempDir(), "group.parquet")
	parts, err := WriteGroupDir(dir, b.Build(), rows, 0, 10_000)
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Equal(t, filepath.Join(dir, "part-0.parquet"), parts[0])

	got, nodes, err := ReadFileRows(parts[0])
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Contains(t, nodes, "iotreadings_temp")
	assert.Contains(t, nodes, "iotreadings_hum")

	// Sparse union: the column introduced by the other row reads back null.
	assert.Equal(t, 21.5, got[0]["iotreadings_temp"])
	assert.Nil(t, got[0]["iotreadings_hum"])
	assert.Equal(t, 0.4, got[1]["iotreadings_hum"])
	assert.Nil(t, got[1]["iotreadings_temp"])
}

func TestWriteGroupDirSplitsAtMaxRows(t *testing.T) {
	var rows []map[string]any
	for range 5 {
		rows = append(rows, map[string]any{"dataAsset": "mars"})
	}
	b := NewNodeMapBuilder()
	require.NoError(t, b.AddRows(rows))

	dir := filepath.Join(t.TempDir(), "group.parquet")
	parts, err := WriteGroupDir(dir, b.Build(), rows, 2, 10_000)
	require.NoError(t, err)
	require.Len(t, parts, 3)
	assert.Equal(t, filepath.Join(dir, "part-2.parquet"), parts[2])

	total := 0
	for _, part := range parts {
		got, _, err := ReadFileRows(part)
		require.NoError(t, err)
		total += len(got)
	}
	assert.Equal(t, 5, total)
}

func TestLoadSchemaForFileMergesAcrossFiles(t *testing.T) {
	dirA := filepath.Join(t.TempDir(), "a.parquet")
	rowsA := []map[string]any{{"dataAsset": "mars", "iotreadings_temp": 1.0}}
	bA := NewNodeMapBuilder()
	require.NoError(t, bA.AddRows(rowsA))
	partsA, err := WriteGroupDir(dirA, bA.Build(), rowsA, 0, 10_000)
	require.NoError(t, err)

	fh, err := LoadSchemaForFile(partsA[0])
	require.NoError(t, err)
	defer func() { _ = fh.Close() }()

	merged := NewNodeMapBuilder()
	require.NoError(t, merged.AddNodes(fh.Nodes))
	require.NoError(t, merged.AddRow(map[string]any{"iotreadings_hum": 0.5}))
	assert.Equal(t, []string{"dataAsset", "iotreadings_hum", "iotreadings_temp"}, ColumnNames(merged.Build()))
}
