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
	"github.com/cardinalhq/medallion/internal/awsclient"
	"github.com/cardinalhq/medallion/internal/idgen"
	"github.com/cardinalhq/medallion/internal/logctx"
	"github.com/cardinalhq/medallion/internal/objstore"
	"github.com/cardinalhq/medallion/internal/processing"
)

func init() {
	var keysJSON string
	var keysFile string

	cmd := &cobra.Command{
		Use:   "process-raw",
		Short: "convert a chunk of raw data files into windowed Parquet chunks",
		RunE: func(_ *cobra.Command, _ []string) error {
			servicename := "medallion-process-raw"
			doneCtx, doneFx, err := setupTelemetry(servicename, nil)
			if err != nil {
				return fmt.Errorf("failed to setup telemetry: %w", err)
			}
			defer func() {
				if err := doneFx(); err != nil {
					slog.Error("Error shutting down telemetry", slog.Any("error", err))
				}
			}()

			keys, err := readKeyList(keysJSON, keysFile)
			if err != nil {
				return err
			}
			return runProcessRaw(doneCtx, keys)
		},
	}
	cmd.Flags().StringVar(&keysJSON, "keys", "", "JSON array of raw file keys")
	cmd.Flags().StringVar(&keysFile, "keys-file", "", "file holding a JSON array of raw file keys")
	cmd.MarkFlagsOneRequired("keys", "keys-file")
	cmd.MarkFlagsMutuallyExclusive("keys", "keys-file")
	rootCmd.AddCommand(cmd)
}

func runProcessRaw(ctx context.Context, keys []string) error {
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

	invocationID := idgen.GenerateShortBase32ID()
	workDir := filepath.Join(os.TempDir(), "process-raw-"+invocationID)

	processor := processing.NewProcessor(store, processing.Config{
		SourceBucket:    cfg.AWS.SourceBucket,
		DestBucket:      cfg.AWS.DestBucket,
		MaxRowsPerFile:  cfg.Writer.MaxRowsPerFile,
		MaxRowsPerGroup: cfg.Writer.MaxRowsPerGroup,
	})
	uploaded, err := processor.ProcessFiles(ctx, keys, invocationID, workDir)
	if err != nil {
		return err
	}

	filesProcessedCounter.Add(ctx, int64(len(keys)), metric.WithAttributeSet(commonAttributes))
	partsUploadedCounter.Add(ctx, int64(len(uploaded)), metric.WithAttributeSet(commonAttributes))
	ll.Info("Processing complete",
		slog.String("invocationID", invocationID),
		slog.Int("fileCount", len(keys)),
		slog.Int("uploadedParts", len(uploaded)))
	return nil
}

// readKeyList decodes the chunk of keys from the flag value or file.
func readKeyList(keysJSON, keysFile string) ([]string, error) {
	data := []byte(keysJSON)
	if keysFile != "" {
		var err error
		data, err = os.ReadFile(keysFile)
		if err != nil {
			return nil, fmt.Errorf("read keys file: %w", err)
		}
	}
	var keys []string
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, fmt.Errorf("decode key list: %w", err)
	}
	return keys, nil
}

func newS3Store(ctx context.Context, cfg *config.Config) (objstore.Client, error) {
	mgr, err := awsclient.NewManager(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS manager: %w", err)
	}
	s3client, err := mgr.GetS3(ctx,
		awsclient.WithRole(cfg.AWS.RoleARN),
		awsclient.WithRegion(cfg.AWS.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to get S3 client: %w", err)
	}
	return objstore.NewS3Client(s3client), nil
}
