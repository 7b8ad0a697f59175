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

// Package daily consolidates 15-minute windowed chunk files into one
// Parquet file per (job, origin bucket, product, day). Grouping is derived
// purely from the windowed keys, so no external catalog is consulted.
package daily

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cardinalhq/medallion/internal/crunch"
	"github.com/cardinalhq/medallion/internal/lakekeys"
	"github.com/cardinalhq/medallion/internal/logctx"
	"github.com/cardinalhq/medallion/internal/objstore"
)

// Config sizes the daily writer. Bucket holds both the windowed chunks
// read and the daily files written.
type Config struct {
	Bucket          string
	MaxRowsPerGroup int64
	// CleanupOnFinish removes the work directory once consolidation
	// succeeds. Leave false to inspect intermediate files.
	CleanupOnFinish bool
}

type Consolidator struct {
	store objstore.Client
	cfg   Config
}

func NewConsolidator(store objstore.Client, cfg Config) *Consolidator {
	if cfg.MaxRowsPerGroup <= 0 {
		cfg.MaxRowsPerGroup = 10_000
	}
	return &Consolidator{store: store, cfg: cfg}
}

// Consolidate flattens the chunked windowed keys, groups them by
// (jobID, originBucket, product, day), and writes one daily file per
// group. Groups are handled one at a time: every member is downloaded,
// all rows are read into a single dataset with a unioned schema, and the
// daily group directory is written through a staging rename before its
// parts are uploaded. A rerun for the same day replaces the prior daily
// file wholesale. Returns the uploaded keys.
func (c *Consolidator) Consolidate(ctx context.Context, chunkedKeys [][]string, workDir string) ([]string, error) {
	ll := logctx.FromContext(ctx)

	var order []lakekeys.DailyGroup
	members := make(map[lakekeys.DailyGroup][]string)
	for _, chunk := range chunkedKeys {
		for _, key := range chunk {
			group, err := lakekeys.ParseWindowedKey(key)
			if err != nil {
				return nil, err
			}
			if _, ok := members[group]; !ok {
				order = append(order, group)
			}
			members[group] = append(members[group], key)
		}
	}

	var uploaded []string
	for _, group := range order {
		keys, err := c.consolidateGroup(ctx, group, members[group], workDir)
		if err != nil {
			return nil, err
		}
		uploaded = append(uploaded, keys...)
	}

	if c.cfg.CleanupOnFinish {
		if err := os.RemoveAll(workDir); err != nil {
			ll.Warn("Failed to remove work directory", slog.String("dir", workDir), slog.Any("error", err))
		}
	}
	return uploaded, nil
}

func (c *Consolidator) consolidateGroup(ctx context.Context, group lakekeys.DailyGroup, memberKeys []string, workDir string) ([]string, error) {
	ll := logctx.FromContext(ctx)
	ll.Info("Consolidating group",
		slog.String("jobID", group.JobID),
		slog.String("originBucket", group.OriginBucket),
		slog.String("product", group.Product),
		slog.String("day", group.Day),
		slog.Int("members", len(memberKeys)))

	dailyKey, err := group.DailyKey()
	if err != nil {
		return nil, err
	}

	downloadDir := filepath.Join(workDir, "chunks", group.JobID, group.Day, group.Product)
	if err := os.MkdirAll(downloadDir, 0o755); err != nil {
		return nil, fmt.Errorf("create download dir: %w", err)
	}

	builder := crunch.NewNodeMapBuilder()
	var rows []map[string]any
	for _, key := range memberKeys {
		filename, _, notFound, err := c.store.DownloadObject(ctx, downloadDir, c.cfg.Bucket, key)
		if err != nil {
			return nil, fmt.Errorf("download %s: %w", key, err)
		}
		if notFound {
			ll.Warn("Windowed chunk not found, skipping", slog.String("key", key))
			continue
		}
		partRows, nodes, err := crunch.ReadFileRows(filename)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", key, err)
		}
		if err := builder.AddNodes(nodes); err != nil {
			return nil, fmt.Errorf("merge schema of %s: %w", key, err)
		}
		rows = append(rows, partRows...)
	}
	if len(rows) == 0 {
		ll.Warn("Group has no rows, skipping daily file", slog.String("day", group.Day))
		return nil, nil
	}

	dailyDir := filepath.Join(workDir, "daily", filepath.FromSlash(dailyKey))
	staging := dailyDir + ".staging"
	if err := os.MkdirAll(filepath.Dir(staging), 0o755); err != nil {
		return nil, fmt.Errorf("create parent of %s: %w", staging, err)
	}
	// No per-file row cap for daily output: one group, one logical file.
	if _, err := crunch.WriteGroupDir(staging, builder.Build(), rows, 0, c.cfg.MaxRowsPerGroup); err != nil {
		_ = os.RemoveAll(staging)
		return nil, err
	}
	if err := os.RemoveAll(dailyDir); err != nil {
		return nil, fmt.Errorf("remove previous daily dir %s: %w", dailyDir, err)
	}
	if err := os.Rename(staging, dailyDir); err != nil {
		return nil, fmt.Errorf("replace daily dir %s: %w", dailyDir, err)
	}

	return objstore.UploadDirectory(ctx, c.store, dailyDir, c.cfg.Bucket, dailyKey)
}
