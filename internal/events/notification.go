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

// Package events parses S3 arrival notifications and normalizes raw data
// asset records for columnar output.
package events

import (
	"encoding/json"
)

// Notification is the outer payload delivered by the queue or the trigger:
// a Records array whose entries each wrap an S3 event JSON document in
// their body.
type Notification struct {
	Records []NotificationRecord `json:"Records"`
}

// NotificationRecord carries one S3 event document. SQS delivers the body
// under "body"; the Lambda-style trigger shape uses "Body".
type NotificationRecord struct {
	Body      string `json:"body"`
	UpperBody string `json:"Body"`
}

type s3Event struct {
	Records []struct {
		S3 struct {
			Object struct {
				Key string `json:"key"`
			} `json:"object"`
		} `json:"s3"`
	} `json:"Records"`
}

// ExtractKeys returns the object keys named by a notification, in record
// order, duplicates preserved. Extraction is best-effort: records whose
// body is missing, is not valid JSON, or names no object are skipped.
// An empty result means there is nothing to do.
func ExtractKeys(n Notification) []string {
	var keys []string
	for _, rec := range n.Records {
		if key, ok := keyFromBody(rec.body()); ok {
			keys = append(keys, key)
		}
	}
	return keys
}

// ExtractKeysFromPayload unmarshals a raw notification payload and extracts
// its keys. A payload that is not a notification at all yields no keys.
func ExtractKeysFromPayload(payload []byte) []string {
	var n Notification
	if err := json.Unmarshal(payload, &n); err != nil {
		return nil
	}
	return ExtractKeys(n)
}

func (r NotificationRecord) body() string {
	if r.Body != "" {
		return r.Body
	}
	return r.UpperBody
}

// keyFromBody parses one inner S3 event document and returns the first
// record's object key. The bool result makes the skip-on-malformed policy
// an explicit branch at the caller.
func keyFromBody(body string) (string, bool) {
	if body == "" {
		return "", false
	}
	var evt s3Event
	if err := json.Unmarshal([]byte(body), &evt); err != nil {
		return "", false
	}
	if len(evt.Records) == 0 {
		return "", false
	}
	key := evt.Records[0].S3.Object.Key
	if key == "" {
		return "", false
	}
	return key, true
}

// KeyFromMessageBody extracts the object key from a single queue message
// body. Pooled messages wrap one S3 event document directly.
func KeyFromMessageBody(body string) (string, bool) {
	return keyFromBody(body)
}
