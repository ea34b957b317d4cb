// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package objstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/LeeDigitalWorks/zaparray/pkg/logger"
	"github.com/LeeDigitalWorks/zaparray/pkg/types"
	"github.com/LeeDigitalWorks/zaparray/pkg/utils"

	"github.com/google/uuid"
)

// localStateDir holds metadata sidecars and in-progress uploads under the root.
const localStateDir = ".zaparray"

func init() {
	Register(types.StorageTypeLocal, func(cfg types.BackendConfig) (Store, error) {
		return NewLocal(cfg)
	})
}

// Local stores objects as files under a root directory. Metadata lives in a
// JSON sidecar, so a key and a key with a "/" suffix cannot both exist.
type Local struct {
	basePath string
	limits   types.Limits
}

type localSidecar struct {
	Metadata map[string]string `json:"metadata,omitempty"`
	ETag     string            `json:"etag"`
}

type localUpload struct {
	Key      string            `json:"key"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// NewLocal creates a local filesystem store
func NewLocal(cfg types.BackendConfig) (*Local, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("path required for local store")
	}
	base := utils.ResolvePath(cfg.Path)
	if err := utils.EnsureWritableDir(base); err != nil {
		return nil, fmt.Errorf("create base path: %w", err)
	}
	return &Local{basePath: base, limits: cfg.LimitsOr(types.S3Limits())}, nil
}

func (l *Local) Type() types.StorageType {
	return types.StorageTypeLocal
}

func (l *Local) Limits() types.Limits {
	return l.limits
}

func (l *Local) objectPath(key string) string {
	return filepath.Join(l.basePath, filepath.FromSlash(key))
}

func (l *Local) sidecarPath(key string) string {
	return filepath.Join(l.basePath, localStateDir, "meta", filepath.FromSlash(key)+".json")
}

func (l *Local) uploadDir(uploadID string) string {
	return filepath.Join(l.basePath, localStateDir, "uploads", uploadID)
}

func (l *Local) Put(ctx context.Context, key string, data []byte, metadata map[string]string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.store(key, data, utils.MD5Hex(data), metadata)
}

func (l *Local) store(key string, data []byte, etag string, metadata map[string]string) error {
	// Sidecar goes first so a reader never sees data with stale metadata.
	side, err := json.Marshal(localSidecar{Metadata: metadata, ETag: etag})
	if err != nil {
		return err
	}
	if err := utils.WriteFileAtomic(l.sidecarPath(key), side, 0o644); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	if err := utils.WriteFileAtomic(l.objectPath(key), data, 0o644); err != nil {
		return fmt.Errorf("write data: %w", err)
	}
	return nil
}

func (l *Local) readSidecar(key string) (localSidecar, error) {
	var side localSidecar
	raw, err := os.ReadFile(l.sidecarPath(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return side, nil
		}
		return side, err
	}
	if err := json.Unmarshal(raw, &side); err != nil {
		return side, fmt.Errorf("decode metadata sidecar for %s: %w", key, err)
	}
	return side, nil
}

func (l *Local) Get(ctx context.Context, key string) (*Object, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(l.objectPath(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || isDirErr(err) {
			return nil, notFound(key)
		}
		return nil, err
	}
	side, err := l.readSidecar(key)
	if err != nil {
		return nil, err
	}
	return &Object{Data: data, Metadata: side.Metadata}, nil
}

func (l *Local) Head(ctx context.Context, key string) (types.ObjectInfo, error) {
	if err := validateKey(key); err != nil {
		return types.ObjectInfo{}, err
	}
	info, err := os.Stat(l.objectPath(key))
	if err != nil || info.IsDir() {
		if err == nil || errors.Is(err, fs.ErrNotExist) {
			return types.ObjectInfo{}, notFound(key)
		}
		return types.ObjectInfo{}, err
	}
	side, err := l.readSidecar(key)
	if err != nil {
		return types.ObjectInfo{}, err
	}
	return types.ObjectInfo{Key: key, Size: info.Size(), ETag: side.ETag, Metadata: side.Metadata}, nil
}

func (l *Local) Exists(ctx context.Context, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	info, err := os.Stat(l.objectPath(key))
	if err == nil {
		return !info.IsDir(), nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (l *Local) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := os.Remove(l.objectPath(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.Remove(l.sidecarPath(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (l *Local) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(l.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(l.basePath, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if d.IsDir() {
			if key == localStateDir {
				return filepath.SkipDir
			}
			// prune directories that cannot contain a match
			if key != "." && !strings.HasPrefix(key+"/", prefix) && !strings.HasPrefix(prefix, key+"/") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(key, prefix) && !strings.Contains(d.Name(), ".tmp-") {
			keys = append(keys, key)
		}
		return ctx.Err()
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

func (l *Local) CreateMultipart(ctx context.Context, key string, metadata map[string]string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	id := uuid.NewString()
	manifest, err := json.Marshal(localUpload{Key: key, Metadata: metadata})
	if err != nil {
		return "", err
	}
	if err := utils.WriteFileAtomic(filepath.Join(l.uploadDir(id), "upload.json"), manifest, 0o644); err != nil {
		return "", fmt.Errorf("create upload: %w", err)
	}
	return id, nil
}

func (l *Local) loadUpload(key, uploadID string) (localUpload, error) {
	var up localUpload
	if uploadID == "" || strings.ContainsAny(uploadID, `/\.`) {
		return up, fmt.Errorf("%w: %s", ErrNoSuchUpload, uploadID)
	}
	raw, err := os.ReadFile(filepath.Join(l.uploadDir(uploadID), "upload.json"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return up, fmt.Errorf("%w: %s", ErrNoSuchUpload, uploadID)
		}
		return up, err
	}
	if err := json.Unmarshal(raw, &up); err != nil {
		return up, err
	}
	if up.Key != key {
		return up, fmt.Errorf("%w: %s", ErrNoSuchUpload, uploadID)
	}
	return up, nil
}

func partFile(n int) string {
	return "part-" + strconv.Itoa(n)
}

func (l *Local) UploadPart(ctx context.Context, key, uploadID string, partNumber int, data []byte) (types.CompletedPart, error) {
	if err := ctx.Err(); err != nil {
		return types.CompletedPart{}, err
	}
	if partNumber < 1 || partNumber > l.limits.MaxPartCount {
		return types.CompletedPart{}, fmt.Errorf("part number %d outside 1..%d", partNumber, l.limits.MaxPartCount)
	}
	if int64(len(data)) > l.limits.MaxPartSize {
		return types.CompletedPart{}, fmt.Errorf("part %d is %d bytes, above the %d byte maximum", partNumber, len(data), l.limits.MaxPartSize)
	}
	if _, err := l.loadUpload(key, uploadID); err != nil {
		return types.CompletedPart{}, err
	}
	if err := utils.WriteFileAtomic(filepath.Join(l.uploadDir(uploadID), partFile(partNumber)), data, 0o644); err != nil {
		return types.CompletedPart{}, fmt.Errorf("write part %d: %w", partNumber, err)
	}
	return types.CompletedPart{PartNumber: partNumber, ETag: utils.MD5Hex(data), Size: int64(len(data))}, nil
}

func (l *Local) CompleteMultipart(ctx context.Context, key, uploadID string, parts []types.CompletedPart) error {
	up, err := l.loadUpload(key, uploadID)
	if err != nil {
		return err
	}
	dir := l.uploadDir(uploadID)

	// Part ETags are recomputed from disk rather than trusted.
	payloads := make(map[int][]byte, len(parts))
	err = checkCompletion(key, parts, func(n int) (string, int64, bool) {
		data, err := os.ReadFile(filepath.Join(dir, partFile(n)))
		if err != nil {
			return "", 0, false
		}
		payloads[n] = data
		return utils.MD5Hex(data), int64(len(data)), true
	}, l.limits.MinPartSize)
	if err != nil {
		return err
	}

	var total int64
	for _, p := range parts {
		total += int64(len(payloads[p.PartNumber]))
	}

	tmp, err := os.CreateTemp(dir, "assembled-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := utils.Fallocate(tmp, total); err != nil {
		logger.Debug().Err(err).Str("key", key).Msg("fallocate not supported")
	}

	var etags strings.Builder
	for _, p := range parts {
		if _, err := tmp.Write(payloads[p.PartNumber]); err != nil {
			tmp.Close()
			return err
		}
		etags.WriteString(p.ETag)
	}
	if err := utils.Fdatasync(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	etag := fmt.Sprintf("%s-%d", utils.MD5Hex([]byte(etags.String())), len(parts))
	side, err := json.Marshal(localSidecar{Metadata: up.Metadata, ETag: etag})
	if err != nil {
		return err
	}
	if err := utils.WriteFileAtomic(l.sidecarPath(key), side, 0o644); err != nil {
		return err
	}
	dst := l.objectPath(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return err
	}
	return os.RemoveAll(dir)
}

func (l *Local) AbortMultipart(ctx context.Context, key, uploadID string) error {
	if _, err := l.loadUpload(key, uploadID); err != nil {
		return err
	}
	return os.RemoveAll(l.uploadDir(uploadID))
}

// PendingUploads returns the IDs of uploads neither completed nor aborted.
func (l *Local) PendingUploads() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(l.basePath, localStateDir, "uploads"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.Name())
	}
	return ids, nil
}

func (l *Local) Close() error {
	return nil
}

func isDirErr(err error) bool {
	var pe *fs.PathError
	if errors.As(err, &pe) {
		info, statErr := os.Stat(pe.Path)
		return statErr == nil && info.IsDir()
	}
	return false
}

var _ Store = (*Local)(nil)
