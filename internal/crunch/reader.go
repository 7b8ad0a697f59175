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
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/parquet-go/parquet-go"
)

const readBatchSize = 1000

// ReadFileRows reads every row of a parquet file into maps, returning the
// rows along with the file's schema node map for schema-union merging.
func ReadFileRows(filename string) ([]map[string]any, map[string]parquet.Node, error) {
	fh, err := LoadSchemaForFile(filename)
	if err != nil {
		return nil, nil, fmt.Errorf("load schema for %s: %w", filename, err)
	}
	defer func() {
		if err := fh.Close(); err != nil {
			slog.Error("Failed to close parquet file", slog.String("file", filename), slog.Any("error", err))
		}
	}()

	reader := parquet.NewGenericReader[map[string]any](fh.File, fh.Schema)
	defer func() {
		if err := reader.Close(); err != nil {
			slog.Error("Failed to close parquet reader", slog.String("file", filename), slog.Any("error", err))
		}
	}()

	var rows []map[string]any
	for {
		batch := make([]map[string]any, readBatchSize)
		for i := range batch {
			batch[i] = make(map[string]any)
		}
		n, err := reader.Read(batch)
		rows = append(rows, batch[:n]...)
		if errors.Is(err, io.EOF) {
			return rows, fh.Nodes, nil
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read parquet batch from %s: %w", filename, err)
		}
	}
}
