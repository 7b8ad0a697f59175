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
	"fmt"
	"strings"
	"time"
)

const (
	// FieldTimestamp is the required event instant, ISO-8601.
	FieldTimestamp = "timestamp"
	// FieldProduct is the data asset (product) identifier.
	FieldProduct = "dataAsset"
	// FieldReadings is the optional nested sensor readings map.
	FieldReadings = "iotreadings"
	// readingPrefix is prepended to each flattened reading name.
	readingPrefix = FieldReadings + "_"
)

// RawEvent is one ingested record as decoded from a raw data file. Beyond
// the well-known fields any extra top-level fields ride along into the
// normalized row untouched.
type RawEvent map[string]any

// NormalizedRow is a RawEvent flattened for columnar storage: the product
// identifier is trimmed and each reading k appears as a top-level
// "iotreadings_<k>" field. Time carries the parsed event instant and
// Product the trimmed identifier, both needed for window grouping.
type NormalizedRow struct {
	Fields  map[string]any
	Time    time.Time
	Product string
}

// Normalize produces a NormalizedRow from e without mutating it.
//
// It fails when the timestamp is missing or unparseable, when the product
// identifier is empty after trimming, or when a flattened reading name
// collides with an existing top-level field. Collisions are rejected
// rather than silently overwritten so that no reading is ever lost.
func (e RawEvent) Normalize() (NormalizedRow, error) {
	rawTS, ok := e[FieldTimestamp].(string)
	if !ok {
		return NormalizedRow{}, fmt.Errorf("event has no %s field", FieldTimestamp)
	}
	ts, err := parseInstant(rawTS)
	if err != nil {
		return NormalizedRow{}, fmt.Errorf("event timestamp %q: %w", rawTS, err)
	}

	rawProduct, ok := e[FieldProduct].(string)
	if !ok {
		return NormalizedRow{}, fmt.Errorf("event has no %s field", FieldProduct)
	}
	product := strings.TrimSpace(rawProduct)
	if product == "" {
		return NormalizedRow{}, fmt.Errorf("event %s is empty after trimming", FieldProduct)
	}

	fields := make(map[string]any, len(e))
	for k, v := range e {
		if k == FieldReadings {
			continue
		}
		fields[k] = v
	}
	fields[FieldProduct] = product

	if readings, ok := e[FieldReadings].(map[string]any); ok {
		for name, value := range readings {
			flat := readingPrefix + name
			if _, exists := fields[flat]; exists {
				return NormalizedRow{}, fmt.Errorf("reading %q collides with field %q", name, flat)
			}
			fields[flat] = value
		}
	}

	return NormalizedRow{Fields: fields, Time: ts, Product: product}, nil
}

// parseInstant accepts RFC 3339 with either an offset or the Z suffix,
// and the offset-less ISO form the uploader emits.
func parseInstant(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	return time.Parse("2006-01-02T15:04:05", s)
}
