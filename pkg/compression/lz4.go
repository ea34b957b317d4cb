// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package compression

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/pierrec/lz4/v4"
)

var (
	lz4WriterPool sync.Pool
	lz4ReaderPool sync.Pool
)

func init() {
	lz4WriterPool = sync.Pool{
		New: func() any {
			return lz4.NewWriter(nil)
		},
	}
	lz4ReaderPool = sync.Pool{
		New: func() any {
			return lz4.NewReader(nil)
		},
	}
}

// compressLZ4 writes an LZ4 frame, so the stored size limit is not bound to
// a single block.
func compressLZ4(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(lz4.CompressBlockBound(len(data)))

	w := lz4WriterPool.Get().(*lz4.Writer)
	w.Reset(&buf)
	defer func() {
		w.Reset(nil)
		lz4WriterPool.Put(w)
	}()

	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("lz4 write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("lz4 close: %w", err)
	}

	return buf.Bytes(), nil
}

func decompressLZ4(data []byte) ([]byte, error) {
	r := lz4ReaderPool.Get().(*lz4.Reader)
	r.Reset(bytes.NewReader(data))
	defer func() {
		r.Reset(nil)
		lz4ReaderPool.Put(r)
	}()

	decompressed, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	return decompressed, nil
}
