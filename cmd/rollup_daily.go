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
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/medallion/config"
	"github.com/cardinalhq/medallion/internal/daily"
	"github.com/cardinalhq/medallion/internal/idgen"
	"github.com/cardinalhq/medallion/internal/logctx"
)

func init() {
	var chunksFile string
	var keepWorkdir bool

	cmd := &cobra.Command{
		Use:   "rollup-daily",
		Short: "consolidate windowed Parquet chunks into daily files",
		RunE: func(_ *cobra.Command, _ []string) error {
			servicename := "medallion-rollup-daily"
			doneCtx, doneFx, err := setupTelemetry(servicename, nil)
			if err != nil {
				return fmt.Errorf("failed to setup telemetry: %w", err)
			}
			defer func() {
				if err := doneFx(); err != nil {
					slog.Error("Error shutting down telemetry", slog.Any("error", err))
				}
			}()

			chunks, err := readChunkList(chunksFile)
			if err != nil {
				return err
			}
			return runRollupDaily(doneCtx, chunks, keepWorkdir)
		},
	}
	cmd.Flags().StringVar(&chunksFile, "chunks", "", "file holding a JSON array of key chunks")
	cmd.Flags().BoolVar(&keepWorkdir, "keep-workdir", false, "keep the work directory for inspection")
	_ = cmd.MarkFlagRequired("chunks")
	rootCmd.AddCommand(cmd)
}

func runRollupDaily(ctx context.Context, chunks [][]string, keepWorkdir bool) error {
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

	workDir := filepath.Join(os.TempDir(), "rollup-daily-"+idgen.GenerateShortBase32ID())
	consolidator := daily.NewConsolidator(store, daily.Config{
		Bucket:          cfg.AWS.DestBucket,
		MaxRowsPerGroup: cfg.Writer.MaxRowsPerGroup,
		CleanupOnFinish: !keepWorkdir,
	})
	uploaded, err := consolidator.Consolidate(ctx, chunks, workDir)
	if err != nil {
		return err
	}

	partsUploadedCounter.Add(ctx, int64(len(uploaded)), metric.WithAttributeSet(commonAttributes))
	ll.Info("Daily consolidation complete", slog.Int("uploadedParts", len(uploaded)))
	return nil
}

func readChunkList(chunksFile string) ([][]string, error) {
	data, err := os.ReadFile(chunksFile)
	if err != nil {
		return nil, fmt.Errorf("read chunks file: %w", err)
	}
	var chunks [][]string
	if err := json.Unmarshal(data, &chunks); err != nil {
		return nil, fmt.Errorf("decode chunk list: %w", err)
	}
	return chunks, nil
}
