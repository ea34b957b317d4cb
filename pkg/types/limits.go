// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

// Limits are the hard constraints an object store places on uploads.
type Limits struct {
	// MinPartSize is the smallest permitted multipart part (except the last).
	MinPartSize int64 `json:"min_part_size" mapstructure:"min_part_size"`
	// MaxPartSize is the largest permitted multipart part.
	MaxPartSize int64 `json:"max_part_size" mapstructure:"max_part_size"`
	// MaxTotalSize is the exclusive upper bound on a single object.
	MaxTotalSize int64 `json:"max_total_size" mapstructure:"max_total_size"`
	// MaxPartCount bounds the number of parts in one multipart upload.
	MaxPartCount int `json:"max_part_count" mapstructure:"max_part_count"`
	// MultipartThreshold is the payload size above which uploads go multipart.
	MultipartThreshold int64 `json:"multipart_threshold" mapstructure:"multipart_threshold"`
}

// S3Limits returns the limits documented for Amazon S3.
func S3Limits() Limits {
	return Limits{
		MinPartSize:        5 * humanize.MiByte,
		MaxPartSize:        5 * humanize.GiByte,
		MaxTotalSize:       5 * humanize.TiByte,
		MaxPartCount:       10000,
		MultipartThreshold: 100 * humanize.MiByte,
	}
}

// Validate checks the limits are internally consistent.
func (l Limits) Validate() error {
	switch {
	case l.MinPartSize <= 0:
		return fmt.Errorf("min_part_size must be positive")
	case l.MaxPartSize < l.MinPartSize:
		return fmt.Errorf("max_part_size %d is below min_part_size %d", l.MaxPartSize, l.MinPartSize)
	case l.MaxTotalSize < l.MaxPartSize:
		return fmt.Errorf("max_total_size %d is below max_part_size %d", l.MaxTotalSize, l.MaxPartSize)
	case l.MaxPartCount <= 0:
		return fmt.Errorf("max_part_count must be positive")
	case l.MultipartThreshold < 0:
		return fmt.Errorf("multipart_threshold must not be negative")
	}
	return nil
}

func (l Limits) String() string {
	return fmt.Sprintf("parts %s..%s, max %d parts, object < %s, multipart above %s",
		humanize.IBytes(uint64(l.MinPartSize)),
		humanize.IBytes(uint64(l.MaxPartSize)),
		l.MaxPartCount,
		humanize.IBytes(uint64(l.MaxTotalSize)),
		humanize.IBytes(uint64(l.MultipartThreshold)))
}
