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

package pooling

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func s3Message(id int, key string) types.Message {
	body := fmt.Sprintf(`{"Records":[{"s3":{"object":{"key":"%s"}}}]}`, key)
	return types.Message{
		MessageId:     aws.String(fmt.Sprintf("msg-%d", id)),
		ReceiptHandle: aws.String(fmt.Sprintf("rh-%d", id)),
		Body:          aws.String(body),
	}
}

// fakeReceiver serves canned message batches and records requested sizes.
type fakeReceiver struct {
	batches      [][]types.Message
	requested    []int32
	err          error
	receiveCalls int
}

func (f *fakeReceiver) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.receiveCalls++
	f.requested = append(f.requested, params.MaxNumberOfMessages)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.batches) == 0 {
		return &sqs.ReceiveMessageOutput{}, nil
	}
	batch := f.batches[0]
	f.batches = f.batches[1:]
	return &sqs.ReceiveMessageOutput{Messages: batch}, nil
}

// testClock drives the pooler deterministically: every sleep advances time.
type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Sleep(_ context.Context, d time.Duration) { c.now = c.now.Add(d) }

func newTestPooler(f *fakeReceiver, clock *testClock) *Pooler {
	return NewPooler(f, "https://sqs.test/queue",
		WithFetchDelay(time.Second),
		WithClock(clock.Now, clock.Sleep),
	)
}

func TestPoolZeroTargetReturnsImmediately(t *testing.T) {
	f := &fakeReceiver{}
	p := newTestPooler(f, &testClock{now: time.Now()})

	keys, handles, err := p.Pool(t.Context(), 0, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, keys)
	assert.Empty(t, handles)
	assert.Zero(t, f.receiveCalls)
}

func TestPoolStopsAtTarget(t *testing.T) {
	f := &fakeReceiver{batches: [][]types.Message{
		{s3Message(1, "k1"), s3Message(2, "k2")},
		{s3Message(3, "k3")},
	}}
	clock := &testClock{now: time.Unix(1000, 0)}
	p := newTestPooler(f, clock)

	keys, handles, err := p.Pool(t.Context(), 3, clock.now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"k1", "k2", "k3"}, keys)
	assert.Equal(t, []string{"rh-1", "rh-2", "rh-3"}, handles)
}

func TestPoolCapsFetchSizeAtProtocolMax(t *testing.T) {
	f := &fakeReceiver{batches: [][]types.Message{
		{s3Message(1, "k1")},
	}}
	clock := &testClock{now: time.Unix(1000, 0)}
	p := newTestPooler(f, clock)

	_, _, err := p.Pool(t.Context(), 25, clock.now.Add(time.Second+time.Millisecond))
	require.NoError(t, err)
	require.NotEmpty(t, f.requested)
	assert.Equal(t, int32(10), f.requested[0])
}

func TestPoolRequestsOnlyRemainder(t *testing.T) {
	f := &fakeReceiver{batches: [][]types.Message{
		{s3Message(1, "k1"), s3Message(2, "k2")},
		{s3Message(3, "k3")},
	}}
	clock := &testClock{now: time.Unix(1000, 0)}
	p := newTestPooler(f, clock)

	_, _, err := p.Pool(t.Context(), 3, clock.now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []int32{3, 1}, f.requested)
}

func TestPoolDeadlineYieldsShortBatch(t *testing.T) {
	f := &fakeReceiver{batches: [][]types.Message{
		{s3Message(1, "k1")},
	}}
	clock := &testClock{now: time.Unix(1000, 0)}
	p := newTestPooler(f, clock)

	// Deadline allows two fetches: one with a message, one empty.
	keys, handles, err := p.Pool(t.Context(), 5, clock.now.Add(1500*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, []string{"k1"}, keys)
	assert.Equal(t, []string{"rh-1"}, handles)
	assert.Less(t, len(keys), 5)
}

func TestPoolKeepsHandlesOfUnparseableMessages(t *testing.T) {
	poison := types.Message{
		MessageId:     aws.String("msg-poison"),
		ReceiptHandle: aws.String("rh-poison"),
		Body:          aws.String("not an event"),
	}
	f := &fakeReceiver{batches: [][]types.Message{
		{poison, s3Message(1, "k1")},
	}}
	clock := &testClock{now: time.Unix(1000, 0)}
	p := newTestPooler(f, clock)

	keys, handles, err := p.Pool(t.Context(), 1, clock.now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"k1"}, keys)
	assert.Equal(t, []string{"rh-poison", "rh-1"}, handles)
}

func TestPoolReceiveErrorPropagates(t *testing.T) {
	f := &fakeReceiver{err: fmt.Errorf("queue unavailable")}
	clock := &testClock{now: time.Unix(1000, 0)}
	p := newTestPooler(f, clock)

	_, _, err := p.Pool(t.Context(), 1, clock.now.Add(time.Hour))
	assert.ErrorContains(t, err, "queue unavailable")
}
