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

package lakekeys

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowLabel(t *testing.T) {
	tests := []struct {
		minute int
		want   int
	}{
		{0, 15},
		{14, 15},
		{15, 30},
		{29, 30},
		{30, 45},
		{44, 45},
		{45, 60},
		{59, 60},
	}
	for _, tt := range tests {
		ts := time.Date(2023, 4, 1, 13, tt.minute, 1, 0, time.UTC)
		assert.Equal(t, tt.want, WindowLabel(ts), "minute %d", tt.minute)
	}
}

func TestWindowedFileName(t *testing.T) {
	ts := time.Date(2023, 4, 1, 13, 44, 1, 0, time.UTC)
	assert.Equal(t, "2023-04-01T13_45m-90147479.parquet", WindowedFileName(ts, "90147479"))

	// Minute 45 rolls to the 60 label but keeps the current hour in the name.
	ts = time.Date(2023, 4, 1, 13, 45, 1, 0, time.UTC)
	assert.Equal(t, "2023-04-01T13_60m-90147479.parquet", WindowedFileName(ts, "90147479"))
}

func TestRawUploadKey(t *testing.T) {
	now := time.Date(2024, 10, 2, 8, 0, 0, 0, time.UTC)
	key := RawUploadKey(now, "328e430e-2569-46f2-8ca7-2fd8eb7f1549", "raw-1.json")
	assert.Equal(t, "2024/10/02/job_328e430e-2569-46f2-8ca7-2fd8eb7f1549/raw-1.json", key)
	assert.Equal(t, "job_328e430e-2569-46f2-8ca7-2fd8eb7f1549", JobDirFromRawKey(key))
}

func TestParseWindowedKey(t *testing.T) {
	key := "15min_chunks/job_41780824-ac46-4b25-9547-a53607b4f37a/medallion-lakehouse-s3bronze/mars/2023-04-01T13_30m-90147479.parquet/part-0.parquet"
	g, err := ParseWindowedKey(key)
	require.NoError(t, err)
	assert.Equal(t, DailyGroup{
		JobID:        "41780824-ac46-4b25-9547-a53607b4f37a",
		OriginBucket: "medallion-lakehouse-s3bronze",
		Product:      "mars",
		Day:          "2023-04-01",
	}, g)
}

func TestParseWindowedKeyRejectsMalformed(t *testing.T) {
	for _, key := range []string{
		"",
		"job_x/bucket/mars/2023-04-01T13_30m-1.parquet/part-0.parquet",
		"15min_chunks/nojobprefix/bucket/mars/2023-04-01T13_30m-1.parquet/part-0.parquet",
		"15min_chunks/job_x/bucket/mars/nodate.parquet/part-0.parquet",
		"15min_chunks/job_x/bucket/mars",
	} {
		_, err := ParseWindowedKey(key)
		assert.Error(t, err, "key %q", key)
	}
}

func TestDailyKey(t *testing.T) {
	g := DailyGroup{
		JobID:        "41780824-ac46-4b25-9547-a53607b4f37a",
		OriginBucket: "medallion-lakehouse-s3bronze",
		Product:      "mars",
		Day:          "2023-04-01",
	}
	key, err := g.DailyKey()
	require.NoError(t, err)
	assert.Equal(t,
		"job_41780824-ac46-4b25-9547-a53607b4f37a/medallion-lakehouse-s3bronze/mars/2023/04/01/2023-04-01.41780824-ac46-4b25-9547-a53607b4f37a.snappy.parquet",
		key)
}
