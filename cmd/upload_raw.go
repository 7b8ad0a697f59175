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

package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cardinalhq/medallion/config"
	"github.com/cardinalhq/medallion/internal/lakekeys"
	"github.com/cardinalhq/medallion/internal/logctx"
)

func init() {
	var jobUUID string

	cmd := &cobra.Command{
		Use:   "upload-raw [DIR]",
		Short: "upload raw data files into the source bucket under a job prefix",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			servicename := "medallion-upload-raw"
			doneCtx, doneFx, err := setupTelemetry(servicename, nil)
			if err != nil {
				return fmt.Errorf("failed to setup telemetry: %w", err)
			}
			defer func() {
				if err := doneFx(); err != nil {
					slog.Error("Error shutting down telemetry", slog.Any("error", err))
				}
			}()

			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			return runUploadRaw(doneCtx, dir, jobUUID)
		},
	}
	cmd.Flags().StringVar(&jobUUID, "job-uuid", "", "job UUID to upload under (generated when omitted)")
	rootCmd.AddCommand(cmd)
}

// runUploadRaw uploads every regular file directly inside dir under
// today's date and a single job prefix, so one run forms one job.
func runUploadRaw(ctx context.Context, dir, jobUUID string) error {
	ctx = logctx.WithLogger(ctx, slog.Default())
	ll := logctx.FromContext(ctx)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	store, err := newS3Store(ctx, cfg)
	if err != nil {
		return err
	}

	if jobUUID == "" {
		jobUUID = uuid.NewString()
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read upload dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	if len(names) == 0 {
		ll.Warn("No files to upload", slog.String("dir", dir))
		return nil
	}

	now := time.Now()
	for _, name := range names {
		key := lakekeys.RawUploadKey(now, jobUUID, name)
		ll.Info("Uploading raw file",
			slog.String("bucket", cfg.AWS.SourceBucket),
			slog.String("key", key))
		if err := store.UploadObject(ctx, cfg.AWS.SourceBucket, key, filepath.Join(dir, name)); err != nil {
			return fmt.Errorf("upload %s: %w", name, err)
		}
	}

	ll.Info("Upload complete",
		slog.String("jobUUID", jobUUID),
		slog.Int("fileCount", len(names)))
	return nil
}
