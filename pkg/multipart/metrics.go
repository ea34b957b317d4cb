// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package multipart

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// UploadsTotal counts finished uploads by outcome: single, multipart, aborted
	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zaparray",
			Subsystem: "multipart",
			Name:      "uploads_total",
			Help:      "Uploads finished, by outcome",
		},
		[]string{"outcome"},
	)

	// PartsUploaded counts acknowledged parts
	PartsUploaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "zaparray",
			Subsystem: "multipart",
			Name:      "parts_total",
			Help:      "Multipart parts acknowledged by the store",
		},
	)

	// BytesUploaded counts part payload bytes
	BytesUploaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "zaparray",
			Subsystem: "multipart",
			Name:      "part_bytes_total",
			Help:      "Bytes sent in multipart parts",
		},
	)

	// PartDuration tracks per-part upload latency
	PartDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "zaparray",
			Subsystem: "multipart",
			Name:      "part_duration_seconds",
			Help:      "Time spent uploading one part",
			Buckets:   prometheus.DefBuckets,
		},
	)
)
