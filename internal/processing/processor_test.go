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

package processing

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/medallion/internal/crunch"
	"github.com/cardinalhq/medallion/internal/objstore"
)

const (
	testSourceBucket = "raw-bucket"
	testDestBucket   = "lake-bucket"
	testInvocation   = "inv00001"
)

func newTestProcessor(t *testing.T) (*Processor, string) {
	t.Helper()
	base := t.TempDir()
	store := objstore.NewFileClient(base)
	p := NewProcessor(store, Config{
		SourceBucket: testSourceBucket,
		DestBucket:   testDestBucket,
	})
	return p, base
}

func writeRawFile(t *testing.T, base, key string, rawEvents []map[string]any) {
	t.Helper()
	data, err := json.Marshal(rawEvents)
	require.NoError(t, err)
	full := filepath.Join(base, testSourceBucket, filepath.FromSlash(key))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, data, 0o644))
}

func readUploadedPart(t *testing.T, base, key string) []map[string]any {
	t.Helper()
	rows, _, err := crunch.ReadFileRows(filepath.Join(base, testDestBucket, filepath.FromSlash(key)))
	require.NoError(t, err)
	return rows
}

func TestProcessFilesSplitsWindows(t *testing.T) {
	p, base := newTestProcessor(t)

	rawKey := "2023/04/01/job_a1b2/events-1.json"
	writeRawFile(t, base, rawKey, []map[string]any{
		{"timestamp": "2023-04-01T13:44:10", "dataAsset": "mars", "iotreadings": map[string]any{"temp": 21.5}},
		{"timestamp": "2023-04-01T13:45:00", "dataAsset": "mars", "iotreadings": map[string]any{"temp": 22.0}},
	})

	uploaded, err := p.ProcessFiles(context.Background(), []string{rawKey}, testInvocation, t.TempDir())
	require.NoError(t, err)

	// One event per window, so one part per windowed file. 13:44 lands in
	// the 45m bucket and 13:45 rolls over to the 60m bucket.
	assert.Equal(t, []string{
		"15min_chunks/job_a1b2/raw-bucket/mars/2023-04-01T13_45m-inv00001.parquet/part-0.parquet",
		"15min_chunks/job_a1b2/raw-bucket/mars/2023-04-01T13_60m-inv00001.parquet/part-0.parquet",
	}, uploaded)
}

func TestProcessFilesGroupsByProduct(t *testing.T) {
	p, base := newTestProcessor(t)

	rawKey := "2023/04/01/job_a1b2/events-1.json"
	writeRawFile(t, base, rawKey, []map[string]any{
		{"timestamp": "2023-04-01T13:01:00", "dataAsset": "mars"},
		{"timestamp": "2023-04-01T13:02:00", "dataAsset": "pluto"},
		{"timestamp": "2023-04-01T13:03:00", "dataAsset": "   mars "},
	})

	uploaded, err := p.ProcessFiles(context.Background(), []string{rawKey}, testInvocation, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, []string{
		"15min_chunks/job_a1b2/raw-bucket/mars/2023-04-01T13_15m-inv00001.parquet/part-0.parquet",
		"15min_chunks/job_a1b2/raw-bucket/pluto/2023-04-01T13_15m-inv00001.parquet/part-0.parquet",
	}, uploaded)

	// The padded "   mars " identifier lands in the mars group.
	rows := readUploadedPart(t, base, uploaded[0])
	require.Len(t, rows, 2)
	assert.Equal(t, "mars", rows[0]["dataAsset"])
	assert.Equal(t, "mars", rows[1]["dataAsset"])
}

func TestProcessFilesMergesAcrossFilesWithSchemaUnion(t *testing.T) {
	p, base := newTestProcessor(t)

	key1 := "2023/04/01/job_a1b2/events-1.json"
	key2 := "2023/04/01/job_a1b2/events-2.json"
	key3 := "2023/04/01/job_a1b2/events-3.json"
	writeRawFile(t, base, key1, []map[string]any{
		{"timestamp": "2023-04-01T13:01:00", "dataAsset": "mars", "iotreadings": map[string]any{"temp": 21.5}},
	})
	writeRawFile(t, base, key2, []map[string]any{
		{"timestamp": "2023-04-01T13:02:00", "dataAsset": "mars", "iotreadings": map[string]any{"humidity": 0.4}},
	})
	writeRawFile(t, base, key3, []map[string]any{
		{"timestamp": "2023-04-01T13:03:00", "dataAsset": "mars", "iotreadings": map[string]any{"pressure": 1013.0}},
	})

	uploaded, err := p.ProcessFiles(context.Background(), []string{key1, key2, key3}, testInvocation, t.TempDir())
	require.NoError(t, err)
	require.Equal(t, []string{
		"15min_chunks/job_a1b2/raw-bucket/mars/2023-04-01T13_15m-inv00001.parquet/part-0.parquet",
	}, uploaded)

	// All three files share a window, so each later file merges into the
	// group written before it and the schemas union: earlier rows read back
	// null for readings introduced later, and vice versa.
	rows := readUploadedPart(t, base, uploaded[0])
	require.Len(t, rows, 3)
	assert.Equal(t, 21.5, rows[0]["iotreadings_temp"])
	assert.Nil(t, rows[0]["iotreadings_humidity"])
	assert.Nil(t, rows[0]["iotreadings_pressure"])
	assert.Equal(t, 0.4, rows[1]["iotreadings_humidity"])
	assert.Nil(t, rows[1]["iotreadings_temp"])
	assert.Equal(t, 1013.0, rows[2]["iotreadings_pressure"])
	assert.Nil(t, rows[2]["iotreadings_temp"])
	assert.Nil(t, rows[2]["iotreadings_humidity"])
}

func TestProcessFilesSkipsMissingObjects(t *testing.T) {
	p, base := newTestProcessor(t)

	present := "2023/04/01/job_a1b2/events-1.json"
	writeRawFile(t, base, present, []map[string]any{
		{"timestamp": "2023-04-01T13:01:00", "dataAsset": "mars"},
	})

	uploaded, err := p.ProcessFiles(context.Background(),
		[]string{"2023/04/01/job_a1b2/gone.json", present}, testInvocation, t.TempDir())
	require.NoError(t, err)
	assert.Len(t, uploaded, 1)
}

func TestProcessFilesRejectsBadEvent(t *testing.T) {
	p, base := newTestProcessor(t)

	rawKey := "2023/04/01/job_a1b2/events-1.json"
	writeRawFile(t, base, rawKey, []map[string]any{
		{"dataAsset": "mars"}, // no timestamp
	})

	_, err := p.ProcessFiles(context.Background(), []string{rawKey}, testInvocation, t.TempDir())
	assert.Error(t, err)
}

func TestProcessFilesEmptyInput(t *testing.T) {
	p, _ := newTestProcessor(t)
	uploaded, err := p.ProcessFiles(context.Background(), nil, testInvocation, t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, uploaded)
}

func TestProcessFilesCleansWorkDir(t *testing.T) {
	p, base := newTestProcessor(t)

	rawKey := "2023/04/01/job_a1b2/events-1.json"
	writeRawFile(t, base, rawKey, []map[string]any{
		{"timestamp": "2023-04-01T13:01:00", "dataAsset": "mars"},
	})

	workDir := t.TempDir()
	_, err := p.ProcessFiles(context.Background(), []string{rawKey}, testInvocation, workDir)
	require.NoError(t, err)

	entries, err := os.ReadDir(workDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
