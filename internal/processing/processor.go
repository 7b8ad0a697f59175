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

// Package processing converts chunks of raw data files into 15-minute
// windowed Parquet files, merging into files written earlier in the same
// invocation and uploading every part only once all groups are complete.
package processing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/cardinalhq/medallion/internal/crunch"
	"github.com/cardinalhq/medallion/internal/events"
	"github.com/cardinalhq/medallion/internal/lakekeys"
	"github.com/cardinalhq/medallion/internal/logctx"
	"github.com/cardinalhq/medallion/internal/objstore"
)

const (
	// DefaultMaxRowsPerFile caps rows per physical part file.
	DefaultMaxRowsPerFile = 1_000_000
	// DefaultMaxRowsPerGroup batches row-group flushes for large inputs.
	DefaultMaxRowsPerGroup = 10_000
)

// Config sizes the windowed writer. The defaults are the output format
// contract; override them only in tests.
type Config struct {
	SourceBucket    string
	DestBucket      string
	MaxRowsPerFile  int64
	MaxRowsPerGroup int64
}

func (c Config) withDefaults() Config {
	if c.MaxRowsPerFile <= 0 {
		c.MaxRowsPerFile = DefaultMaxRowsPerFile
	}
	if c.MaxRowsPerGroup <= 0 {
		c.MaxRowsPerGroup = DefaultMaxRowsPerGroup
	}
	return c
}

type Processor struct {
	store objstore.Client
	cfg   Config
}

func NewProcessor(store objstore.Client, cfg Config) *Processor {
	return &Processor{store: store, cfg: cfg.withDefaults()}
}

// ProcessFiles downloads each raw file key, groups its events by product
// and 15-minute window, writes one windowed Parquet group per
// (product, window), and uploads every part file produced. Downloads are
// deliberately sequential to avoid spike load on the object store, and
// uploads happen only after all groups are written so a failed invocation
// leaves no partial windowed output behind. Returns the uploaded keys.
func (p *Processor) ProcessFiles(ctx context.Context, fileKeys []string, invocationID, workDir string) ([]string, error) {
	ll := logctx.FromContext(ctx)

	sourceDir := filepath.Join(workDir, "source_files")
	generatedDir := filepath.Join(workDir, "generated_files")
	if err := os.MkdirAll(sourceDir, 0o755); err != nil {
		return nil, fmt.Errorf("create source dir: %w", err)
	}

	var groupDirs []string
	seenGroups := make(map[string]bool)

	for _, fileKey := range fileKeys {
		ll.Info("Downloading raw file",
			slog.String("bucket", p.cfg.SourceBucket),
			slog.String("key", fileKey))

		filename, _, notFound, err := p.store.DownloadObject(ctx, sourceDir, p.cfg.SourceBucket, fileKey)
		if err != nil {
			return nil, fmt.Errorf("download %s: %w", fileKey, err)
		}
		if notFound {
			ll.Warn("Raw file not found, skipping", slog.String("key", fileKey))
			continue
		}

		rawEvents, err := readRawFile(filename)
		if err != nil {
			return nil, fmt.Errorf("read raw file %s: %w", fileKey, err)
		}

		outputDir := filepath.Join(generatedDir, lakekeys.JobDirFromRawKey(fileKey), p.cfg.SourceBucket)
		dirs, err := p.dumpToParquet(rawEvents, outputDir, invocationID)
		if err != nil {
			return nil, fmt.Errorf("write windowed files for %s: %w", fileKey, err)
		}
		for _, dir := range dirs {
			if !seenGroups[dir] {
				seenGroups[dir] = true
				groupDirs = append(groupDirs, dir)
			}
		}
	}

	// Upload only when every group is complete, to avoid partial uploads.
	var uploaded []string
	for _, dir := range groupDirs {
		rel, err := filepath.Rel(generatedDir, dir)
		if err != nil {
			return nil, fmt.Errorf("relative path for %s: %w", dir, err)
		}
		prefix := path.Join(lakekeys.WindowedPrefix, filepath.ToSlash(rel))
		keys, err := objstore.UploadDirectory(ctx, p.store, dir, p.cfg.DestBucket, prefix)
		if err != nil {
			return nil, fmt.Errorf("upload group %s: %w", rel, err)
		}
		uploaded = append(uploaded, keys...)
	}

	for _, dir := range []string{sourceDir, generatedDir} {
		if err := os.RemoveAll(dir); err != nil {
			ll.Warn("Failed to remove work directory", slog.String("dir", dir), slog.Any("error", err))
		}
	}
	return uploaded, nil
}

// dumpToParquet groups normalized rows by product and window file name and
// writes each group, merging with any group already written at the same
// path. The merge reads the existing parts, unions the schemas so columns
// missing on either side become null, and durably replaces the group
// directory via a staging rename.
func (p *Processor) dumpToParquet(rawEvents []events.RawEvent, outputDir, invocationID string) ([]string, error) {
	var groupDirs []string
	rowsByDir := make(map[string][]map[string]any)

	for _, evt := range rawEvents {
		row, err := evt.Normalize()
		if err != nil {
			return nil, err
		}
		fileName := lakekeys.WindowedFileName(row.Time, invocationID)
		dir := filepath.Join(outputDir, row.Product, fileName)
		if _, ok := rowsByDir[dir]; !ok {
			groupDirs = append(groupDirs, dir)
		}
		rowsByDir[dir] = append(rowsByDir[dir], row.Fields)
	}

	for _, dir := range groupDirs {
		if err := p.mergeWriteGroup(dir, rowsByDir[dir]); err != nil {
			return nil, err
		}
	}
	return groupDirs, nil
}

func (p *Processor) mergeWriteGroup(dir string, newRows []map[string]any) error {
	builder := crunch.NewNodeMapBuilder()

	var rows []map[string]any
	if _, err := os.Stat(dir); err == nil {
		existing, err := readGroupRows(dir, builder)
		if err != nil {
			return err
		}
		rows = existing
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat group %s: %w", dir, err)
	}
	rows = append(rows, newRows...)

	if err := builder.AddRows(newRows); err != nil {
		return fmt.Errorf("build schema for %s: %w", dir, err)
	}

	staging := dir + ".staging"
	if err := os.MkdirAll(filepath.Dir(staging), 0o755); err != nil {
		return fmt.Errorf("create parent of %s: %w", staging, err)
	}
	if _, err := crunch.WriteGroupDir(staging, builder.Build(), rows, p.cfg.MaxRowsPerFile, p.cfg.MaxRowsPerGroup); err != nil {
		_ = os.RemoveAll(staging)
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove previous group %s: %w", dir, err)
	}
	if err := os.Rename(staging, dir); err != nil {
		return fmt.Errorf("replace group %s: %w", dir, err)
	}
	return nil
}

// readGroupRows loads every part file of a group in part order, merging
// each file's schema nodes into builder.
func readGroupRows(dir string, builder *crunch.NodeMapBuilder) ([]map[string]any, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read group %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var rows []map[string]any
	for _, name := range names {
		partRows, nodes, err := crunch.ReadFileRows(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		if err := builder.AddNodes(nodes); err != nil {
			return nil, fmt.Errorf("merge schema of %s: %w", name, err)
		}
		rows = append(rows, partRows...)
	}
	return rows, nil
}

// readRawFile decodes a raw data file: a JSON array of event objects.
func readRawFile(filename string) ([]events.RawEvent, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	var rawEvents []events.RawEvent
	if err := json.Unmarshal(data, &rawEvents); err != nil {
		return nil, fmt.Errorf("decode raw events: %w", err)
	}
	return rawEvents, nil
}
