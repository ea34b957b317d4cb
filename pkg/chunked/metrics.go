// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package chunked

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ChunksUploaded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "zaparray",
		Subsystem: "chunked",
		Name:      "chunks_uploaded_total",
		Help:      "Chunks written by chunked uploads",
	})

	ChunksFetched = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "zaparray",
		Subsystem: "chunked",
		Name:      "chunks_fetched_total",
		Help:      "Chunks fetched by chunked reads",
	})

	ChunksSwept = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "zaparray",
		Subsystem: "chunked",
		Name:      "chunks_swept_total",
		Help:      "Unreferenced chunks deleted by sweeps",
	})
)
