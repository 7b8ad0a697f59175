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

// Package objstore abstracts object storage for the pipeline. The S3
// implementation is the production path; a local-filesystem implementation
// backs tests.
package objstore

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"sort"
)

// Client is the narrow object-store surface the pipeline needs.
type Client interface {
	// DownloadObject downloads an object to a temp file under tmpdir.
	// Returns the temp filename, size, whether the object was not found,
	// and error.
	DownloadObject(ctx context.Context, tmpdir, bucket, key string) (filename string, size int64, notFound bool, err error)

	// UploadObject uploads a local file to object storage.
	UploadObject(ctx context.Context, bucket, key, sourceFilename string) error

	// DeleteObject deletes an object.
	DeleteObject(ctx context.Context, bucket, key string) error
}

// UploadDirectory walks localDir and uploads every regular file beneath it
// under keyPrefix, preserving the relative layout. Files are visited in
// sorted path order so part files land as part-0, part-1, ... Returns the
// uploaded keys.
func UploadDirectory(ctx context.Context, client Client, localDir, bucket, keyPrefix string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(localDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", localDir, err)
	}
	sort.Strings(files)

	uploaded := make([]string, 0, len(files))
	for _, file := range files {
		rel, err := filepath.Rel(localDir, file)
		if err != nil {
			return nil, fmt.Errorf("relative path for %s: %w", file, err)
		}
		key := path.Join(keyPrefix, filepath.ToSlash(rel))
		if err := client.UploadObject(ctx, bucket, key, file); err != nil {
			return uploaded, fmt.Errorf("upload %s to %s/%s: %w", file, bucket, key, err)
		}
		uploaded = append(uploaded, key)
	}
	return uploaded, nil
}
