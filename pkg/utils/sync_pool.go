// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package utils

import (
	"crypto/md5"
	"encoding/hex"
	"hash"
	"sync"

	"github.com/minio/crc64nvme"
	"github.com/zeebo/blake3"
)

var (
	crc64nvmePool = sync.Pool{
		New: func() any {
			return crc64nvme.New()
		},
	}
	md5Pool = sync.Pool{
		New: func() any {
			return md5.New()
		},
	}
	blake3Pool = sync.Pool{
		New: func() any {
			return blake3.New()
		},
	}
)

func Crc64nvmePoolGetHasher() hash.Hash64 {
	return crc64nvmePool.Get().(hash.Hash64)
}

func Crc64nvmePoolPutHasher(h hash.Hash64) {
	h.Reset()
	crc64nvmePool.Put(h)
}

func Md5PoolGetHasher() hash.Hash {
	return md5Pool.Get().(hash.Hash)
}

func Md5PoolPutHasher(h hash.Hash) {
	h.Reset()
	md5Pool.Put(h)
}

func Blake3PoolGetHasher() *blake3.Hasher {
	return blake3Pool.Get().(*blake3.Hasher)
}

func Blake3PoolPutHasher(h *blake3.Hasher) {
	h.Reset()
	blake3Pool.Put(h)
}

// Crc64nvme returns the CRC-64/NVME checksum of data.
func Crc64nvme(data []byte) uint64 {
	h := Crc64nvmePoolGetHasher()
	defer Crc64nvmePoolPutHasher(h)
	h.Write(data)
	return h.Sum64()
}

// MD5Hex returns the hex MD5 of data, the form S3 uses for single-part ETags.
func MD5Hex(data []byte) string {
	h := Md5PoolGetHasher()
	defer Md5PoolPutHasher(h)
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Blake3Hex returns the hex BLAKE3-256 digest of data.
func Blake3Hex(data []byte) string {
	h := Blake3PoolGetHasher()
	defer Blake3PoolPutHasher(h)
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
