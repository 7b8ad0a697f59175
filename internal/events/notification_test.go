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

package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func s3EventBody(t *testing.T, keys ...string) string {
	t.Helper()
	type objectT struct {
		Key string `json:"key"`
	}
	type s3T struct {
		Object objectT `json:"object"`
	}
	type recordT struct {
		S3 s3T `json:"s3"`
	}
	records := make([]recordT, 0, len(keys))
	for _, k := range keys {
		records = append(records, recordT{S3: s3T{Object: objectT{Key: k}}})
	}
	body, err := json.Marshal(map[string]any{"Records": records})
	require.NoError(t, err)
	return string(body)
}

func TestExtractKeys(t *testing.T) {
	n := Notification{Records: []NotificationRecord{
		{Body: s3EventBody(t, "2024/10/02/job_a/raw-1.json")},
		{Body: s3EventBody(t, "2024/10/02/job_a/raw-2.json")},
	}}
	assert.Equal(t,
		[]string{"2024/10/02/job_a/raw-1.json", "2024/10/02/job_a/raw-2.json"},
		ExtractKeys(n))
}

func TestExtractKeysSkipsMalformedRecords(t *testing.T) {
	n := Notification{Records: []NotificationRecord{
		{Body: "not json at all"},
		{Body: `{"Records": []}`},
		{Body: `{"unrelated": true}`},
		{},
		{Body: s3EventBody(t, "2024/10/02/job_a/raw-1.json")},
	}}
	keys := ExtractKeys(n)
	assert.Equal(t, []string{"2024/10/02/job_a/raw-1.json"}, keys)
	assert.LessOrEqual(t, len(keys), len(n.Records))
}

func TestExtractKeysEmptyNotification(t *testing.T) {
	assert.Empty(t, ExtractKeys(Notification{}))
}

func TestExtractKeysUpperCaseBody(t *testing.T) {
	n := Notification{Records: []NotificationRecord{
		{UpperBody: s3EventBody(t, "2024/10/02/job_a/raw-1.json")},
	}}
	assert.Equal(t, []string{"2024/10/02/job_a/raw-1.json"}, ExtractKeys(n))
}

func TestExtractKeysPreservesDuplicates(t *testing.T) {
	body := s3EventBody(t, "2024/10/02/job_a/raw-1.json")
	n := Notification{Records: []NotificationRecord{{Body: body}, {Body: body}}}
	assert.Len(t, ExtractKeys(n), 2)
}

func TestExtractKeysFromPayload(t *testing.T) {
	payload, err := json.Marshal(Notification{Records: []NotificationRecord{
		{Body: s3EventBody(t, "2024/10/02/job_a/raw-1.json")},
	}})
	require.NoError(t, err)
	assert.Equal(t, []string{"2024/10/02/job_a/raw-1.json"}, ExtractKeysFromPayload(payload))

	assert.Empty(t, ExtractKeysFromPayload([]byte("garbage")))
	assert.Empty(t, ExtractKeysFromPayload([]byte("{}")))
}

func TestKeyFromMessageBody(t *testing.T) {
	key, ok := KeyFromMessageBody(s3EventBody(t, "2024/10/02/job_a/raw-1.json"))
	require.True(t, ok)
	assert.Equal(t, "2024/10/02/job_a/raw-1.json", key)

	_, ok = KeyFromMessageBody("")
	assert.False(t, ok)
	_, ok = KeyFromMessageBody(`{"Records":[{"s3":{"object":{"key":""}}}]}`)
	assert.False(t, ok)
}
