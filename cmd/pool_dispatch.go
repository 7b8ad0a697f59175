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
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/medallion/config"
	"github.com/cardinalhq/medallion/internal/awsclient"
	"github.com/cardinalhq/medallion/internal/dispatch"
	"github.com/cardinalhq/medallion/internal/events"
	"github.com/cardinalhq/medallion/internal/logctx"
	"github.com/cardinalhq/medallion/internal/pooling"
)

func init() {
	var eventFile string

	cmd := &cobra.Command{
		Use:   "pool-dispatch",
		Short: "pool raw file keys from SQS and dispatch one processing execution",
		RunE: func(_ *cobra.Command, _ []string) error {
			servicename := "medallion-pool-dispatch"
			doneCtx, doneFx, err := setupTelemetry(servicename, nil)
			if err != nil {
				return fmt.Errorf("failed to setup telemetry: %w", err)
			}
			defer func() {
				if err := doneFx(); err != nil {
					slog.Error("Error shutting down telemetry", slog.Any("error", err))
				}
			}()
			return runPoolDispatch(doneCtx, eventFile)
		},
	}
	cmd.Flags().StringVar(&eventFile, "event", "", "trigger notification JSON file (stdin when omitted)")
	rootCmd.AddCommand(cmd)
}

func runPoolDispatch(ctx context.Context, eventFile string) error {
	ctx = logctx.WithLogger(ctx, slog.Default())

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	payload, err := readEventPayload(eventFile)
	if err != nil {
		return err
	}
	triggerKeys := events.ExtractKeysFromPayload(payload)

	mgr, err := awsclient.NewManager(ctx, awsclient.WithAssumeRoleSessionName("medallion-pool-dispatch"))
	if err != nil {
		return fmt.Errorf("failed to create AWS manager: %w", err)
	}
	sqsClient, err := mgr.GetSQS(ctx,
		awsclient.WithSQSRole(cfg.AWS.RoleARN),
		awsclient.WithSQSRegion(cfg.AWS.Region))
	if err != nil {
		return fmt.Errorf("failed to get SQS client: %w", err)
	}
	sfnClient, err := mgr.GetSFN(ctx,
		awsclient.WithSFNRole(cfg.AWS.RoleARN),
		awsclient.WithSFNRegion(cfg.AWS.Region))
	if err != nil {
		return fmt.Errorf("failed to get Step Functions client: %w", err)
	}

	pooler := pooling.NewPooler(sqsClient.Client, cfg.AWS.QueueURL)
	dispatcher := dispatch.NewDispatcher(sfnClient.Client, sqsClient.Client, pooler, dispatch.Config{
		StateMachineARN:  cfg.AWS.StateMachineARN,
		QueueURL:         cfg.AWS.QueueURL,
		ProcessorCount:   cfg.Dispatch.ProcessorCount,
		KeysPerProcessor: cfg.Dispatch.KeysPerProcessor,
		MaxBatchWindow:   time.Duration(cfg.Pooling.MaxBatchWindowSeconds) * time.Second,
	})

	start := time.Now()
	err = dispatcher.Dispatch(ctx, triggerKeys)
	dispatchDuration.Record(ctx, float64(time.Since(start).Milliseconds()),
		metric.WithAttributeSet(commonAttributes))
	return err
}

func readEventPayload(eventFile string) ([]byte, error) {
	if eventFile == "" {
		payload, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("read event from stdin: %w", err)
		}
		return payload, nil
	}
	payload, err := os.ReadFile(eventFile)
	if err != nil {
		return nil, fmt.Errorf("read event file: %w", err)
	}
	return payload, nil
}
