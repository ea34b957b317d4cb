// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package compression

// Compress compresses data using the specified algorithm.
// Returns the original data unchanged if algo is None.
func Compress(algo Algorithm, data []byte) ([]byte, error) {
	c, err := Lookup(algo)
	if err != nil {
		return nil, err
	}
	return c.Compress(data)
}

// Decompress decompresses data using the specified algorithm.
// Returns the original data unchanged if algo is None.
func Decompress(algo Algorithm, data []byte) ([]byte, error) {
	c, err := Lookup(algo)
	if err != nil {
		return nil, err
	}
	return c.Decompress(data)
}

// CompressIfBeneficial compresses data and returns the compressed version
// only if it's smaller than the original. Otherwise returns the original data
// and None algorithm.
func CompressIfBeneficial(algo Algorithm, data []byte) ([]byte, Algorithm, error) {
	if algo == None {
		return data, None, nil
	}

	compressed, err := Compress(algo, data)
	if err != nil {
		return nil, None, err
	}

	// Only use compression if it actually saves space
	if len(compressed) >= len(data) {
		return data, None, nil
	}

	return compressed, algo, nil
}

// CompressionRatio calculates the compression ratio (original / compressed).
// Returns 1.0 if compressed size is zero or larger than original.
func CompressionRatio(originalSize, compressedSize int) float64 {
	if compressedSize <= 0 || compressedSize >= originalSize {
		return 1.0
	}
	return float64(originalSize) / float64(compressedSize)
}
