// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package objstore is the object store abstraction the array codec writes
// through: whole-object put/get with string metadata, prefix listing, and the
// create/upload-part/complete/abort multipart protocol. Implementations are
// registered by storage type and built from a types.BackendConfig.
package objstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/LeeDigitalWorks/zaparray/pkg/arrayerr"
	"github.com/LeeDigitalWorks/zaparray/pkg/types"
)

var (
	// ErrNoSuchKey is the cause wrapped by NotFound errors from every store.
	ErrNoSuchKey = errors.New("no such key")
	// ErrNoSuchUpload is returned for an unknown or already finished upload ID.
	ErrNoSuchUpload = errors.New("no such upload")
	// ErrInvalidKey is returned for keys that are empty or escape the store root.
	ErrInvalidKey = errors.New("invalid key")
)

// Object is a stored payload together with its metadata.
type Object struct {
	Data     []byte
	Metadata map[string]string
}

// Store is a key-addressed object store.
type Store interface {
	// Type returns the storage type
	Type() types.StorageType

	// Limits returns the upload limits of this store
	Limits() types.Limits

	// Put stores data and metadata under key, replacing any existing object
	Put(ctx context.Context, key string, data []byte, metadata map[string]string) error

	// Get returns the object under key, or a NotFound error
	Get(ctx context.Context, key string) (*Object, error)

	// Head returns size and metadata without the payload
	Head(ctx context.Context, key string) (types.ObjectInfo, error)

	// Exists checks if a key exists
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns every key beginning with prefix, sorted
	List(ctx context.Context, prefix string) ([]string, error)

	// CreateMultipart starts a multipart upload and returns its ID
	CreateMultipart(ctx context.Context, key string, metadata map[string]string) (string, error)

	// UploadPart stores one numbered part (1-based) and returns its tag
	UploadPart(ctx context.Context, key, uploadID string, partNumber int, data []byte) (types.CompletedPart, error)

	// CompleteMultipart assembles the parts, which must be listed in ascending order
	CompleteMultipart(ctx context.Context, key, uploadID string, parts []types.CompletedPart) error

	// AbortMultipart discards an upload and its parts
	AbortMultipart(ctx context.Context, key, uploadID string) error

	// Close releases any resources
	Close() error
}

// Registry holds registered store factories
var (
	registryMu sync.RWMutex
	registry   = make(map[types.StorageType]Factory)
)

// Factory creates a Store from config
type Factory func(cfg types.BackendConfig) (Store, error)

// Register adds a factory for a storage type
func Register(t types.StorageType, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[t] = f
}

// New creates a Store from config
func New(cfg types.BackendConfig) (Store, error) {
	registryMu.RLock()
	f, ok := registry[cfg.Type]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
	return f(cfg)
}

// Types lists the registered storage types, sorted.
func Types() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	out := make([]string, 0, len(registry))
	for t := range registry {
		out = append(out, string(t))
	}
	sort.Strings(out)
	return out
}

// IsNotFound reports whether err means the key does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNoSuchKey) || errors.Is(err, arrayerr.ErrNotFound)
}

func notFound(key string) error {
	return arrayerr.NotFound(key, ErrNoSuchKey)
}

func validateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == ".." {
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return nil
}

// checkCompletion validates a completion list against the parts a store holds:
// tags must be strictly ascending and each must match a stored part. Every part
// but the last must reach the minimum part size.
func checkCompletion(key string, parts []types.CompletedPart, stored func(n int) (etag string, size int64, ok bool), minPart int64) error {
	if len(parts) == 0 {
		return arrayerr.IncompleteUpload(key, "no parts listed")
	}
	sizes := make([]int64, len(parts))
	for i, p := range parts {
		if i > 0 && p.PartNumber <= parts[i-1].PartNumber {
			return arrayerr.IncompleteUpload(key, fmt.Sprintf("part %d listed after part %d", p.PartNumber, parts[i-1].PartNumber))
		}
		etag, size, ok := stored(p.PartNumber)
		if !ok {
			return arrayerr.IncompleteUpload(key, fmt.Sprintf("part %d was never uploaded", p.PartNumber))
		}
		if etag != p.ETag {
			return arrayerr.IncompleteUpload(key, fmt.Sprintf("part %d tag mismatch", p.PartNumber))
		}
		sizes[i] = size
	}

	// Size rules apply only to a list whose tags all check out.
	for i, size := range sizes[:len(sizes)-1] {
		if size < minPart {
			return arrayerr.SizeLimit(fmt.Sprintf("part %d is %d bytes, below the %d byte minimum", parts[i].PartNumber, size, minPart)).WithKey(key)
		}
	}
	return nil
}
