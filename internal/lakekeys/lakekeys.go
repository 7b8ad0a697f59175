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

// Package lakekeys builds and parses the object key shapes used across the
// lakehouse: raw upload keys, 15-minute windowed chunk keys, and daily
// rollup keys. Everything a consumer needs to group files is derivable
// from the key alone.
package lakekeys

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// WindowedPrefix is the top-level prefix for 15-minute chunk files in the
// destination bucket.
const WindowedPrefix = "15min_chunks"

// WindowLabel returns the ceiling-to-next-quarter-hour minute marker for t.
// Minutes 0-14 map to 15, 15-29 to 30, 30-44 to 45, and 45-59 to 60. The 60
// label denotes the next hour's top-of-hour bucket but keeps the current
// hour in the file name; downstream naming depends on this exact bucketing.
func WindowLabel(t time.Time) int {
	return (t.Minute()/15 + 1) * 15
}

// WindowedFileName returns the windowed chunk file name for an event time,
// e.g. "2023-04-01T13_30m-90147479.parquet". The named "file" is a
// directory of part-<n>.parquet members.
func WindowedFileName(t time.Time, invocationID string) string {
	return fmt.Sprintf("%s_%dm-%s.parquet", t.UTC().Format("2006-01-02T15"), WindowLabel(t), invocationID)
}

// PartFileName returns the basename of the n-th part file within a chunk
// or daily directory.
func PartFileName(n int) string {
	return fmt.Sprintf("part-%d.parquet", n)
}

// RawUploadKey returns the key a raw data file is uploaded under:
// <YYYY/MM/DD>/job_<jobUUID>/<fileName>.
func RawUploadKey(now time.Time, jobUUID, fileName string) string {
	return fmt.Sprintf("%s/job_%s/%s", now.UTC().Format("2006/01/02"), jobUUID, fileName)
}

// JobDirFromRawKey returns the job_<uuid> path element of a raw file key.
func JobDirFromRawKey(key string) string {
	return path.Base(path.Dir(key))
}

// DailyGroup is the grouping tuple for daily consolidation. Windowed files
// sharing a DailyGroup are merged into a single daily file.
type DailyGroup struct {
	JobID        string
	OriginBucket string
	Product      string
	Day          string // YYYY-MM-DD
}

// ParseWindowedKey derives the DailyGroup from a windowed chunk key, e.g.
//
//	15min_chunks/job_<jobID>/<originBucket>/<product>/<day>T<HH>_<label>m-<inv>.parquet/part-0.parquet
//
// The day comes from the date prefix of the chunk file name, not from the
// path. No external lookup is needed.
func ParseWindowedKey(key string) (DailyGroup, error) {
	parts := strings.Split(key, "/")
	if len(parts) < 5 || parts[0] != WindowedPrefix {
		return DailyGroup{}, fmt.Errorf("not a windowed chunk key: %q", key)
	}
	jobDir, originBucket, product, fileName := parts[1], parts[2], parts[3], parts[4]

	jobID, ok := strings.CutPrefix(jobDir, "job_")
	if !ok || jobID == "" {
		return DailyGroup{}, fmt.Errorf("windowed key %q: malformed job element %q", key, jobDir)
	}
	day, _, ok := strings.Cut(fileName, "T")
	if !ok {
		return DailyGroup{}, fmt.Errorf("windowed key %q: no date prefix in file name %q", key, fileName)
	}
	if _, err := time.Parse("2006-01-02", day); err != nil {
		return DailyGroup{}, fmt.Errorf("windowed key %q: bad day %q: %w", key, day, err)
	}

	return DailyGroup{
		JobID:        jobID,
		OriginBucket: originBucket,
		Product:      product,
		Day:          day,
	}, nil
}

// DailyKey returns the canonical daily file key for a group:
// job_<jobID>/<originBucket>/<product>/<YYYY>/<MM>/<DD>/<YYYY-MM-DD>.<jobID>.snappy.parquet.
// The named "file" is a directory of part-<n>.parquet members.
func (g DailyGroup) DailyKey() (string, error) {
	day, err := time.Parse("2006-01-02", g.Day)
	if err != nil {
		return "", fmt.Errorf("bad day %q: %w", g.Day, err)
	}
	return fmt.Sprintf("job_%s/%s/%s/%s/%s.%s.snappy.parquet",
		g.JobID, g.OriginBucket, g.Product,
		day.Format("2006/01/02"), g.Day, g.JobID), nil
}
