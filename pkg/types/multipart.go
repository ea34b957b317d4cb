// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package types

// CompletedPart is the confirmation tag returned by the store for one
// uploaded part.
type CompletedPart struct {
	PartNumber int    `json:"part_number"`
	ETag       string `json:"etag"`
	Size       int64  `json:"size"`
}

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key      string            `json:"key"`
	Size     int64             `json:"size"`
	ETag     string            `json:"etag,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}
