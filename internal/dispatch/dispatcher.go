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

// Package dispatch merges trigger-supplied and pooled file keys into
// fixed-size chunks and hands them to the processing state machine as one
// synchronous run. Queue messages are acknowledged only after the run
// succeeds, so failed runs fall back to at-least-once redelivery.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	sfntypes "github.com/aws/aws-sdk-go-v2/service/sfn/types"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/hashicorp/go-multierror"

	"github.com/cardinalhq/medallion/internal/idgen"
	"github.com/cardinalhq/medallion/internal/logctx"
)

// maxBatchDeleteSize is the SQS protocol ceiling on entries per batch delete.
const maxBatchDeleteSize = 10

// ExecutionError reports a state machine run that terminated without
// succeeding. The queue messages consumed for the run are left
// unacknowledged so they become visible again.
type ExecutionError struct {
	ExecutionARN string
	Status       string
	ErrorCode    string
	Cause        string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution %s finished with status %s: %s (%s)",
		e.ExecutionARN, e.Status, e.ErrorCode, e.Cause)
}

// Starter is the slice of the Step Functions API the dispatcher consumes.
type Starter interface {
	StartSyncExecution(ctx context.Context, params *sfn.StartSyncExecutionInput, optFns ...func(*sfn.Options)) (*sfn.StartSyncExecutionOutput, error)
}

// Deleter is the slice of the SQS API used for acknowledgment.
type Deleter interface {
	DeleteMessageBatch(ctx context.Context, params *sqs.DeleteMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error)
}

// KeyPooler tops up the batch from the queue; see package pooling.
type KeyPooler interface {
	Pool(ctx context.Context, targetCount int, deadline time.Time) ([]string, []string, error)
}

// Config holds the dispatch sizing knobs.
type Config struct {
	StateMachineARN  string
	QueueURL         string
	ProcessorCount   int
	KeysPerProcessor int
	MaxBatchWindow   time.Duration
}

type Dispatcher struct {
	stepfunctions Starter
	queue         Deleter
	pooler        KeyPooler
	cfg           Config
	now           func() time.Time
}

func NewDispatcher(stepfunctions Starter, queue Deleter, pooler KeyPooler, cfg Config) *Dispatcher {
	return &Dispatcher{
		stepfunctions: stepfunctions,
		queue:         queue,
		pooler:        pooler,
		cfg:           cfg,
		now:           time.Now,
	}
}

// Dispatch pools keys up to the configured capacity, merges them with the
// trigger keys, deduplicates preserving first-seen order, chunks them by
// keysPerProcessor, and starts one synchronous execution over the chunk
// list. An empty merged list is a no-op. Pooled message handles are
// deleted only after the execution reports success.
func (d *Dispatcher) Dispatch(ctx context.Context, triggerKeys []string) error {
	ll := logctx.FromContext(ctx)

	capacity := d.cfg.ProcessorCount * d.cfg.KeysPerProcessor
	toPool := max(capacity-len(triggerKeys), 0)

	pooled, handles, err := d.pooler.Pool(ctx, toPool, d.now().Add(d.cfg.MaxBatchWindow))
	if err != nil {
		return fmt.Errorf("pool keys: %w", err)
	}

	keys := dedupe(append(append([]string{}, triggerKeys...), pooled...))
	if len(keys) == 0 {
		ll.Info("No file keys to dispatch")
		return nil
	}

	chunks := chunk(keys, d.cfg.KeysPerProcessor)
	input, err := json.Marshal(chunks)
	if err != nil {
		return fmt.Errorf("marshal chunk list: %w", err)
	}

	ll.Info("Starting processing execution",
		slog.String("stateMachineARN", d.cfg.StateMachineARN),
		slog.Int("keyCount", len(keys)),
		slog.Int("chunkCount", len(chunks)))

	out, err := d.stepfunctions.StartSyncExecution(ctx, &sfn.StartSyncExecutionInput{
		StateMachineArn: aws.String(d.cfg.StateMachineARN),
		Name:            aws.String(idgen.GenerateExecutionName(d.now())),
		Input:           aws.String(string(input)),
	})
	if err != nil {
		return fmt.Errorf("start execution on %s: %w", d.cfg.StateMachineARN, err)
	}

	if out.Status != sfntypes.SyncExecutionStatusSucceeded {
		return &ExecutionError{
			ExecutionARN: aws.ToString(out.ExecutionArn),
			Status:       string(out.Status),
			ErrorCode:    aws.ToString(out.Error),
			Cause:        aws.ToString(out.Cause),
		}
	}

	if err := d.deleteHandles(ctx, handles); err != nil {
		return fmt.Errorf("acknowledge pooled messages: %w", err)
	}
	return nil
}

// deleteHandles acknowledges consumed messages in protocol-sized batches.
// Trigger keys carry no handles; only pooled messages are deleted here.
func (d *Dispatcher) deleteHandles(ctx context.Context, handles []string) error {
	var errs *multierror.Error
	for start := 0; start < len(handles); start += maxBatchDeleteSize {
		end := min(start+maxBatchDeleteSize, len(handles))

		entries := make([]sqstypes.DeleteMessageBatchRequestEntry, 0, end-start)
		for i, handle := range handles[start:end] {
			entries = append(entries, sqstypes.DeleteMessageBatchRequestEntry{
				Id:            aws.String(fmt.Sprintf("entry-%d", start+i)),
				ReceiptHandle: aws.String(handle),
			})
		}

		out, err := d.queue.DeleteMessageBatch(ctx, &sqs.DeleteMessageBatchInput{
			QueueUrl: aws.String(d.cfg.QueueURL),
			Entries:  entries,
		})
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("delete batch at %d: %w", start, err))
			continue
		}
		for _, failed := range out.Failed {
			errs = multierror.Append(errs, fmt.Errorf("delete entry %s: %s",
				aws.ToString(failed.Id), aws.ToString(failed.Message)))
		}
	}
	return errs.ErrorOrNil()
}

// dedupe removes duplicate keys preserving first occurrence, keeping chunk
// boundaries stable across retries.
func dedupe(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

// chunk splits keys into size-capped slices; the last may be short.
func chunk(keys []string, size int) [][]string {
	if size <= 0 {
		return [][]string{keys}
	}
	chunks := make([][]string, 0, (len(keys)+size-1)/size)
	for start := 0; start < len(keys); start += size {
		chunks = append(chunks, keys[start:min(start+size, len(keys))])
	}
	return chunks
}
