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

	"github.com/parquet-go/parquet-go"
)

// FileHandle is an opened parquet file together with its derived schema
// node map, ready for schema-union merging.
type FileHandle struct {
	File        *os.File
	Size        int64
	Schema      *parquet.Schema
	ParquetFile *parquet.File
	Nodes       map[string]parquet.Node
}

func (fh *FileHandle) Close() error {
	return fh.File.Close()
}

// LoadSchemaForFile opens filename and reconstructs its schema node map
// from the file metadata.
func LoadSchemaForFile(filename string) (*FileHandle, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	stat, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	fh := &FileHandle{File: f, Size: stat.Size()}

	if err := loadSchema(fh); err != nil {
		_ = f.Close()
		return nil, err
	}
	return fh, nil
}

func loadSchema(fh *FileHandle) error {
	pf, err := parquet.OpenFile(fh.File, fh.Size)
	if err != nil {
		return err
	}
	fh.ParquetFile = pf

	md := pf.Metadata()
	fh.Nodes = map[string]parquet.Node{}
	for _, schema := range md.Schema {
		if schema.Type == nil {
			continue
		}
		logicalType := ""
		if schema.LogicalType != nil {
			logicalType = schema.LogicalType.String()
		}

		node, err := schemaTypeToNode(schema.Type.String(), logicalType)
		if err != nil {
			return err
		}
		if current, ok := fh.Nodes[schema.Name]; ok {
			if !parquet.EqualNodes(current, node) {
				return fmt.Errorf("schema mismatch: %s", schema.Name)
			}
			continue
		}
		fh.Nodes[schema.Name] = node
	}

	fh.Schema = parquet.NewSchema(fh.File.Name(), parquet.Group(fh.Nodes))
	return nil
}

var (
	physicalNodes = map[string]parquet.Node{
		"INT64":      wrap(parquet.Int(64)),
		"DOUBLE":     wrap(parquet.Leaf(parquet.DoubleType)),
		"BOOLEAN":    wrap(parquet.Leaf(parquet.BooleanType)),
		"BYTE_ARRAY": wrap(parquet.Leaf(parquet.ByteArrayType)),
	}
	logicalNodes = map[string]parquet.Node{
		"STRING": wrap(parquet.String()),
	}
)

func schemaTypeToNode(typ, logical string) (parquet.Node, error) {
	if node, ok := logicalNodes[logical]; ok {
		return node, nil
	}
	if node, ok := physicalNodes[typ]; ok {
		return node, nil
	}
	return nil, fmt.Errorf("unsupported type: %s, logical %s", typ, logical)
}
