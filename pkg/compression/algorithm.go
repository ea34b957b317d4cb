// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package compression provides the interchangeable byte transforms applied
// to encoded array payloads before they leave the process. Codecs are held
// in a static registry and resolved by the name stored in object metadata;
// a name that is not registered is an UnknownCodec error, never a silent
// pass-through.
package compression

import (
	"sort"

	"github.com/LeeDigitalWorks/zaparray/pkg/arrayerr"
)

// Algorithm represents a compression algorithm
type Algorithm string

const (
	// None indicates no compression
	None Algorithm = "none"
	// Gzip is the generic deflate stream container
	Gzip Algorithm = "gzip"
	// LZ4 uses the LZ4 compression algorithm (fast, moderate ratio)
	LZ4 Algorithm = "lz4"
	// ZSTD uses the Zstandard compression algorithm (balanced speed/ratio)
	ZSTD Algorithm = "zstd"
	// S2 uses klauspost's S2 compression (faster than Snappy, better ratio)
	S2 Algorithm = "s2"
)

// GzipSizeLimit is the payload size at which gzip must not be used: the
// deflate container tracks lengths in 32 bits.
const GzipSizeLimit = int64(1) << 31

// Codec is a block compressor registered under an Algorithm name.
type Codec interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

type codecFuncs struct {
	compress   func([]byte) ([]byte, error)
	decompress func([]byte) ([]byte, error)
}

func (c codecFuncs) Compress(data []byte) ([]byte, error)   { return c.compress(data) }
func (c codecFuncs) Decompress(data []byte) ([]byte, error) { return c.decompress(data) }

func identity(data []byte) ([]byte, error) { return data, nil }

var registry = map[Algorithm]Codec{
	None: codecFuncs{identity, identity},
	Gzip: codecFuncs{compressGzip, decompressGzip},
	LZ4:  codecFuncs{compressLZ4, decompressLZ4},
	ZSTD: codecFuncs{compressZSTD, decompressZSTD},
	S2:   codecFuncs{compressS2, decompressS2},
}

// IsValid returns true if the algorithm is registered
func (a Algorithm) IsValid() bool {
	_, ok := registry[a]
	return ok
}

// String returns the string representation of the algorithm
func (a Algorithm) String() string {
	return string(a)
}

// ParseAlgorithm parses a stored or configured codec name. An empty string
// means None. The legacy name "stream-gzip" maps to Gzip.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch s {
	case "":
		return None, nil
	case "stream-gzip":
		return Gzip, nil
	}
	algo := Algorithm(s)
	if !algo.IsValid() {
		return "", arrayerr.UnknownCodec("", s)
	}
	return algo, nil
}

// Lookup resolves a codec by name.
func Lookup(algo Algorithm) (Codec, error) {
	c, ok := registry[algo]
	if !ok {
		return nil, arrayerr.UnknownCodec("", string(algo))
	}
	return c, nil
}

// Available lists the registered algorithm names, sorted.
func Available() []string {
	names := make([]string, 0, len(registry))
	for a := range registry {
		names = append(names, string(a))
	}
	sort.Strings(names)
	return names
}

// Select returns the algorithm to actually use for a payload of size bytes.
// Gzip at or above GzipSizeLimit is replaced by fallback (None when the
// fallback is gzip itself). downgraded reports whether a replacement happened.
func Select(requested Algorithm, size int64, fallback Algorithm) (algo Algorithm, downgraded bool) {
	if requested != Gzip || size < GzipSizeLimit {
		return requested, false
	}
	if fallback == Gzip || fallback == "" {
		fallback = None
	}
	return fallback, true
}
