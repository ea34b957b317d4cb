// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package rawarray implements the single-object array wire format: the
// array's bytes in its own contiguous layout, optionally compressed, plus
// string metadata (dtype, shape, order, compression) sufficient to rebuild
// it exactly.
package rawarray

import (
	"context"
	"fmt"
	"time"

	"github.com/LeeDigitalWorks/zaparray/pkg/arrayerr"
	"github.com/LeeDigitalWorks/zaparray/pkg/compression"
	"github.com/LeeDigitalWorks/zaparray/pkg/logger"
	"github.com/LeeDigitalWorks/zaparray/pkg/ndarray"
	"github.com/LeeDigitalWorks/zaparray/pkg/utils"

	"github.com/dustin/go-humanize"
)

// Options control encoding.
type Options struct {
	// Compression is the requested codec. Empty means none.
	Compression compression.Algorithm
	// Fallback replaces gzip for payloads at or above compression.GzipSizeLimit.
	Fallback compression.Algorithm
	// SkipIncompressible stores the payload uncompressed when compression
	// would not shrink it.
	SkipIncompressible bool
	// Checksum records a CRC-64/NVME of the stored payload.
	Checksum bool
	// Extra is caller metadata stored with the object. Codec keys are rejected.
	Extra map[string]string
}

// DefaultOptions returns options with checksums on, no compression and zstd
// as the gzip fallback.
func DefaultOptions() Options {
	return Options{
		Compression: compression.None,
		Fallback:    compression.ZSTD,
		Checksum:    true,
	}
}

// Serialize returns the array's bytes in its own contiguous layout together
// with the layout used. Non-contiguous views are copied to row-major first;
// the array is never transposed. The returned slice may alias the array.
func Serialize(ctx context.Context, arr *ndarray.Array) ([]byte, ndarray.Order) {
	if data, order, ok := arr.Bytes(); ok {
		return data, order
	}
	logger.Ctx(ctx).Debug().
		Ints("shape", arr.Shape()).
		Str("size", humanize.IBytes(uint64(arr.NBytes()))).
		Msg("array is a non-contiguous view, copying before serializing")
	data, order, _ := arr.Contiguous(ndarray.RowMajor).Bytes()
	return data, order
}

// Deserialize builds an array of the described shape, dtype and order from
// uncompressed bytes. key names the object in errors.
func Deserialize(key string, data []byte, md Metadata) (*ndarray.Array, error) {
	if !md.DType.Valid() {
		return nil, arrayerr.Format(key, KeyDType, "invalid dtype")
	}
	if want := md.NBytes(); len(data) != want {
		return nil, arrayerr.Format(key, KeyShape, fmt.Sprintf(
			"payload holds %d bytes, shape (%s) of %s needs %d",
			len(data), FormatShape(md.Shape), md.DType, want))
	}
	arr, err := ndarray.FromBytes(md.DType, md.Shape, md.Order, data)
	if err != nil {
		return nil, arrayerr.Format(key, KeyShape, err.Error())
	}
	return arr, nil
}

// SelectCompression applies the gzip size precondition for a payload of
// size bytes, logging and counting any downgrade.
func SelectCompression(ctx context.Context, requested, fallback compression.Algorithm, size int64) compression.Algorithm {
	if requested == "" {
		return compression.None
	}
	algo, downgraded := compression.Select(requested, size, fallback)
	if downgraded {
		logger.Ctx(ctx).Debug().
			Str("requested", requested.String()).
			Str("using", algo.String()).
			Str("size", humanize.IBytes(uint64(size))).
			Msg("payload too large for gzip, downgrading compression")
		compression.RecordDowngrade(algo)
	}
	return algo
}

// Encode serializes and compresses arr, returning the payload and the
// metadata to store with it.
func Encode(ctx context.Context, arr *ndarray.Array, opts Options) ([]byte, Metadata, error) {
	for k := range opts.Extra {
		if IsReserved(k) {
			return nil, Metadata{}, fmt.Errorf("metadata key %q is reserved", k)
		}
	}
	if !arr.DType().Valid() {
		return nil, Metadata{}, fmt.Errorf("unsupported dtype %s", arr.DType())
	}

	raw, order := Serialize(ctx, arr)
	md := Metadata{
		DType: arr.DType(),
		Shape: arr.Shape(),
		Order: order,
		Extra: opts.Extra,
	}

	algo := SelectCompression(ctx, opts.Compression, opts.Fallback, int64(len(raw)))
	if _, err := compression.Lookup(algo); err != nil {
		return nil, Metadata{}, err
	}

	start := time.Now()
	var (
		payload []byte
		err     error
	)
	if opts.SkipIncompressible {
		var used compression.Algorithm
		payload, used, err = compression.CompressIfBeneficial(algo, raw)
		if err == nil {
			compression.RecordCompression(algo, len(raw), len(payload), used != algo)
		}
		algo = used
	} else {
		payload, err = compression.Compress(algo, raw)
		if err == nil {
			compression.RecordCompression(algo, len(raw), len(payload), false)
		}
	}
	if err != nil {
		return nil, Metadata{}, fmt.Errorf("compress %s: %w", algo, err)
	}
	if algo != compression.None {
		compression.CompressionDuration.WithLabelValues(algo.String(), "compress").Observe(time.Since(start).Seconds())
	}
	md.Compression = algo

	if opts.Checksum {
		md.Checksum, md.HasChecksum = utils.Crc64nvme(payload), true
	}
	return payload, md, nil
}

// Decode verifies and decompresses payload and rebuilds the array. key names
// the object in errors.
func Decode(ctx context.Context, key string, payload []byte, md Metadata) (*ndarray.Array, error) {
	if md.HasChecksum {
		if sum := utils.Crc64nvme(payload); sum != md.Checksum {
			return nil, arrayerr.Format(key, KeyChecksum, fmt.Sprintf("stored %x, computed %x", md.Checksum, sum))
		}
	}

	if _, err := compression.Lookup(md.Compression); err != nil {
		return nil, arrayerr.UnknownCodec(key, md.Compression.String())
	}

	start := time.Now()
	raw, err := compression.Decompress(md.Compression, payload)
	if err != nil {
		return nil, &arrayerr.Error{Kind: arrayerr.KindFormat, Key: key, Field: KeyCompression, Message: "decompress failed", Err: err}
	}
	if md.Compression != compression.None {
		compression.RecordDecompression(md.Compression, len(payload), len(raw))
		compression.CompressionDuration.WithLabelValues(md.Compression.String(), "decompress").Observe(time.Since(start).Seconds())
	}

	return Deserialize(key, raw, md)
}

// DecodeObject parses stored metadata and decodes payload in one step.
func DecodeObject(ctx context.Context, key string, payload []byte, stored map[string]string) (*ndarray.Array, Metadata, error) {
	md, err := ParseMetadata(key, stored)
	if err != nil {
		return nil, md, err
	}
	arr, err := Decode(ctx, key, payload, md)
	return arr, md, err
}
