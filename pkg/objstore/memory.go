// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package objstore

import (
	"bytes"
	"context"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"

	"github.com/LeeDigitalWorks/zaparray/pkg/types"
	"github.com/LeeDigitalWorks/zaparray/pkg/utils"

	"github.com/google/uuid"
)

func init() {
	Register(types.StorageTypeMemory, func(cfg types.BackendConfig) (Store, error) {
		return NewMemory(cfg.LimitsOr(types.S3Limits())), nil
	})
}

type memObject struct {
	data     []byte
	metadata map[string]string
	etag     string
}

type memPart struct {
	data []byte
	etag string
}

type memUpload struct {
	key      string
	metadata map[string]string
	parts    map[int]memPart
}

// Memory is an in-memory store that enforces the same multipart rules as S3.
type Memory struct {
	limits types.Limits

	mu      sync.RWMutex
	objects map[string]memObject
	uploads map[string]*memUpload
}

// NewMemory creates a new in-memory store with the given limits
func NewMemory(limits types.Limits) *Memory {
	return &Memory{
		limits:  limits,
		objects: make(map[string]memObject),
		uploads: make(map[string]*memUpload),
	}
}

func (m *Memory) Type() types.StorageType {
	return types.StorageTypeMemory
}

func (m *Memory) Limits() types.Limits {
	return m.limits
}

func (m *Memory) Put(ctx context.Context, key string, data []byte, metadata map[string]string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	obj := memObject{
		data:     bytes.Clone(data),
		metadata: maps.Clone(metadata),
		etag:     utils.MD5Hex(data),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = obj
	return nil
}

func (m *Memory) Get(ctx context.Context, key string) (*Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[key]
	if !ok {
		return nil, notFound(key)
	}
	return &Object{Data: bytes.Clone(obj.data), Metadata: maps.Clone(obj.metadata)}, nil
}

func (m *Memory) Head(ctx context.Context, key string) (types.ObjectInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[key]
	if !ok {
		return types.ObjectInfo{}, notFound(key)
	}
	return types.ObjectInfo{
		Key:      key,
		Size:     int64(len(obj.data)),
		ETag:     obj.etag,
		Metadata: maps.Clone(obj.metadata),
	}, nil
}

func (m *Memory) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[key]
	return ok, nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *Memory) List(ctx context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *Memory) CreateMultipart(ctx context.Context, key string, metadata map[string]string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	id := uuid.NewString()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploads[id] = &memUpload{
		key:      key,
		metadata: maps.Clone(metadata),
		parts:    make(map[int]memPart),
	}
	return id, nil
}

func (m *Memory) UploadPart(ctx context.Context, key, uploadID string, partNumber int, data []byte) (types.CompletedPart, error) {
	if err := ctx.Err(); err != nil {
		return types.CompletedPart{}, err
	}
	if partNumber < 1 || partNumber > m.limits.MaxPartCount {
		return types.CompletedPart{}, fmt.Errorf("part number %d outside 1..%d", partNumber, m.limits.MaxPartCount)
	}
	if int64(len(data)) > m.limits.MaxPartSize {
		return types.CompletedPart{}, fmt.Errorf("part %d is %d bytes, above the %d byte maximum", partNumber, len(data), m.limits.MaxPartSize)
	}

	part := memPart{data: bytes.Clone(data), etag: utils.MD5Hex(data)}

	m.mu.Lock()
	defer m.mu.Unlock()

	up, ok := m.uploads[uploadID]
	if !ok || up.key != key {
		return types.CompletedPart{}, fmt.Errorf("%w: %s", ErrNoSuchUpload, uploadID)
	}
	up.parts[partNumber] = part
	return types.CompletedPart{PartNumber: partNumber, ETag: part.etag, Size: int64(len(data))}, nil
}

func (m *Memory) CompleteMultipart(ctx context.Context, key, uploadID string, parts []types.CompletedPart) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	up, ok := m.uploads[uploadID]
	if !ok || up.key != key {
		return fmt.Errorf("%w: %s", ErrNoSuchUpload, uploadID)
	}

	err := checkCompletion(key, parts, func(n int) (string, int64, bool) {
		p, ok := up.parts[n]
		return p.etag, int64(len(p.data)), ok
	}, m.limits.MinPartSize)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	var etags bytes.Buffer
	for _, p := range parts {
		buf.Write(up.parts[p.PartNumber].data)
		etags.WriteString(up.parts[p.PartNumber].etag)
	}

	m.objects[key] = memObject{
		data:     buf.Bytes(),
		metadata: up.metadata,
		etag:     fmt.Sprintf("%s-%d", utils.MD5Hex(etags.Bytes()), len(parts)),
	}
	delete(m.uploads, uploadID)
	return nil
}

func (m *Memory) AbortMultipart(ctx context.Context, key, uploadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	up, ok := m.uploads[uploadID]
	if !ok || up.key != key {
		return fmt.Errorf("%w: %s", ErrNoSuchUpload, uploadID)
	}
	delete(m.uploads, uploadID)
	return nil
}

// PendingUploads returns the number of multipart uploads neither completed nor aborted.
func (m *Memory) PendingUploads() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.uploads)
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects = make(map[string]memObject)
	m.uploads = make(map[string]*memUpload)
	return nil
}

var _ Store = (*Memory)(nil)
