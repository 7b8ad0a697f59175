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

// Package pooling tops up a batch of raw file keys from the notification
// queue within a bounded time window.
package pooling

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/cardinalhq/medallion/internal/events"
	"github.com/cardinalhq/medallion/internal/logctx"
)

// maxBatchFetchSize is the SQS protocol ceiling on messages per receive.
const maxBatchFetchSize = 10

// defaultFetchDelay spaces out receive calls so an empty queue is not
// hammered for the whole batching window.
const defaultFetchDelay = 200 * time.Millisecond

// Receiver is the slice of the SQS API the pooler consumes.
type Receiver interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
}

// Pooler drains arrival notifications from one queue in capped fetches.
type Pooler struct {
	client     Receiver
	queueURL   string
	fetchDelay time.Duration
	now        func() time.Time
	sleep      func(context.Context, time.Duration)
}

// Option is a functional option for NewPooler.
type Option func(*Pooler)

// WithFetchDelay overrides the fixed delay between fetch attempts.
func WithFetchDelay(d time.Duration) Option {
	return func(p *Pooler) {
		p.fetchDelay = d
	}
}

// WithClock overrides time sources, for tests.
func WithClock(now func() time.Time, sleep func(context.Context, time.Duration)) Option {
	return func(p *Pooler) {
		p.now = now
		p.sleep = sleep
	}
}

func NewPooler(client Receiver, queueURL string, opts ...Option) *Pooler {
	p := &Pooler{
		client:     client,
		queueURL:   queueURL,
		fetchDelay: defaultFetchDelay,
		now:        time.Now,
		sleep:      sleepCtx,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Pool accumulates object keys from the queue until targetCount keys are
// collected or the deadline passes, whichever comes first. Fetches are
// sequential and capped at the protocol maximum of 10 messages.
//
// The receipt handle of every fetched message is returned, including
// messages whose body did not parse; unparseable messages must still be
// acknowledged later or they would be redelivered forever. Keys are not
// deduplicated here. A short batch at deadline expiry is a normal outcome,
// not an error.
func (p *Pooler) Pool(ctx context.Context, targetCount int, deadline time.Time) ([]string, []string, error) {
	if targetCount <= 0 {
		return nil, nil, nil
	}
	ll := logctx.FromContext(ctx)

	var keys []string
	var handles []string
	for len(keys) < targetCount && p.now().Before(deadline) {
		if ctx.Err() != nil {
			return keys, handles, ctx.Err()
		}

		fetch := min(targetCount-len(keys), maxBatchFetchSize)
		out, err := p.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(p.queueURL),
			MaxNumberOfMessages: int32(fetch),
		})
		if err != nil {
			return keys, handles, fmt.Errorf("receive from %s: %w", p.queueURL, err)
		}

		for _, msg := range out.Messages {
			if msg.ReceiptHandle != nil {
				handles = append(handles, *msg.ReceiptHandle)
			}
			if msg.Body == nil {
				continue
			}
			if key, ok := events.KeyFromMessageBody(*msg.Body); ok {
				keys = append(keys, key)
			} else {
				ll.Debug("Skipping unparseable queue message", slog.String("messageId", aws.ToString(msg.MessageId)))
			}
		}

		if len(keys) < targetCount {
			p.sleep(ctx, p.fetchDelay)
		}
	}

	if len(keys) < targetCount {
		ll.Info("Batching window expired with a short batch",
			slog.Int("pooled", len(keys)),
			slog.Int("target", targetCount))
	}
	return keys, handles, nil
}
