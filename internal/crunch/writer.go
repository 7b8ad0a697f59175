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
	"fmt"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"
)

// WriterOptions returns the parquet writer configuration shared by the
// windowed and daily writers: snappy compression and row groups flushed
// at maxRowsPerGroup rows. These values are part of the output format
// contract; downstream consumers depend on them.
func WriterOptions(schema *parquet.Schema, maxRowsPerGroup int64) []parquet.WriterOption {
	return []parquet.WriterOption{
		schema,
		parquet.Compression(&parquet.Snappy),
		parquet.MaxRowsPerRowGroup(maxRowsPerGroup),
	}
}

// WriteGroupDir writes rows into dir as part-0.parquet, part-1.parquet, ...
// rotating to a new part whenever maxRowsPerFile is reached (0 disables
// rotation). The directory must not exist; callers stage into a temp
// location and rename for durable replacement. Returns the part paths.
func WriteGroupDir(dir string, nodes map[string]parquet.Node, rows []map[string]any, maxRowsPerFile, maxRowsPerGroup int64) ([]string, error) {
	if len(nodes) == 0 {
		return nil, fmt.Errorf("no columns to write to %s", dir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create group dir %s: %w", dir, err)
	}

	schema := SchemaFromNodes(filepath.Base(dir), nodes)
	wc, err := parquet.NewWriterConfig(WriterOptions(schema, maxRowsPerGroup)...)
	if err != nil {
		return nil, fmt.Errorf("writer config: %w", err)
	}

	var parts []string
	var outFile *os.File
	var pw *parquet.GenericWriter[map[string]any]
	var rowsInFile int64

	openNext := func() error {
		name := filepath.Join(dir, fmt.Sprintf("part-%d.parquet", len(parts)))
		f, err := os.Create(name)
		if err != nil {
			return err
		}
		outFile = f
		pw = parquet.NewGenericWriter[map[string]any](f, wc)
		rowsInFile = 0
		return nil
	}

	closeCurrent := func() error {
		if err := pw.Close(); err != nil {
			_ = outFile.Close()
			return err
		}
		if err := outFile.Close(); err != nil {
			return err
		}
		parts = append(parts, outFile.Name())
		return nil
	}

	if err := openNext(); err != nil {
		return nil, fmt.Errorf("open part file: %w", err)
	}

	for _, row := range rows {
		if maxRowsPerFile > 0 && rowsInFile >= maxRowsPerFile {
			if err := closeCurrent(); err != nil {
				return nil, fmt.Errorf("close part file: %w", err)
			}
			if err := openNext(); err != nil {
				return nil, fmt.Errorf("open part file: %w", err)
			}
		}
		if _, err := pw.Write([]map[string]any{row}); err != nil {
			_ = pw.Close()
			_ = outFile.Close()
			return nil, fmt.Errorf("write row: %w", err)
		}
		rowsInFile++
	}

	if err := closeCurrent(); err != nil {
		return nil, fmt.Errorf("close part file: %w", err)
	}
	return parts, nil
}
