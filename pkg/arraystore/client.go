// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package arraystore stores single arrays and JSON documents in an object
// store. Arrays pass through the raw-array codec, an optional encryption
// transform and the multipart orchestrator on the way out, and back through
// the same stages, driven by the stored metadata, on the way in.
package arraystore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/LeeDigitalWorks/zaparray/pkg/arrayerr"
	"github.com/LeeDigitalWorks/zaparray/pkg/encryption"
	"github.com/LeeDigitalWorks/zaparray/pkg/logger"
	"github.com/LeeDigitalWorks/zaparray/pkg/multipart"
	"github.com/LeeDigitalWorks/zaparray/pkg/ndarray"
	"github.com/LeeDigitalWorks/zaparray/pkg/objstore"
	"github.com/LeeDigitalWorks/zaparray/pkg/rawarray"
	"github.com/LeeDigitalWorks/zaparray/pkg/types"
	"github.com/LeeDigitalWorks/zaparray/pkg/utils"

	"github.com/dustin/go-humanize"
)

// ContentTypeKey and JSONContentType mark JSON documents written by PutJSON.
const (
	ContentTypeKey  = "content-type"
	JSONContentType = "application/json"
)

// Config configures a Client.
type Config struct {
	// Array controls compression and checksums for PutArray.
	Array rawarray.Options
	// Concurrency bounds parts in flight per multipart upload.
	Concurrency int
	// RateLimit caps store requests per second. Zero disables throttling.
	RateLimit int
	// Transform encrypts payloads after compression. Nil stores plaintext.
	Transform encryption.Transform
}

// Client is an array-aware view of an object store.
type Client struct {
	store     objstore.Store
	config    Config
	transform encryption.Transform
}

// Written describes an array after PutArray.
type Written struct {
	Key      string
	Size     int64
	Digest   string
	Metadata rawarray.Metadata
}

// New returns a Client over store.
func New(store objstore.Store, cfg Config) *Client {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = multipart.DefaultConcurrency
	}
	if cfg.RateLimit < 0 {
		cfg.RateLimit = 0
	}
	if cfg.RateLimit > 0 {
		store = newThrottled(store, cfg.RateLimit)
	}
	return &Client{store: store, config: cfg, transform: cfg.Transform}
}

// Store returns the underlying store, throttled when a rate limit is set.
func (c *Client) Store() objstore.Store { return c.store }

// Limits returns the store limits.
func (c *Client) Limits() types.Limits { return c.store.Limits() }

// ArrayOptions returns the default array options.
func (c *Client) ArrayOptions() rawarray.Options { return c.config.Array }

// Concurrency returns the configured parallelism.
func (c *Client) Concurrency() int { return c.config.Concurrency }

// PutArray encodes arr with the client's default options and stores it.
func (c *Client) PutArray(ctx context.Context, key string, arr *ndarray.Array) (Written, error) {
	return c.PutArrayWith(ctx, key, arr, c.config.Array)
}

// PutArrayWith encodes arr with opts and stores it under key.
func (c *Client) PutArrayWith(ctx context.Context, key string, arr *ndarray.Array, opts rawarray.Options) (Written, error) {
	payload, md, err := rawarray.Encode(ctx, arr, opts)
	if err != nil {
		return Written{}, fmt.Errorf("encode %s: %w", key, err)
	}

	if c.transform != nil {
		payload, err = c.transform.Encrypt(payload)
		if err != nil {
			return Written{}, fmt.Errorf("encrypt %s: %w", key, err)
		}
		md.Encryption = c.transform.Name()
	}

	if err := multipart.Upload(ctx, c.store, key, payload, md.ToMap(), c.config.Concurrency); err != nil {
		return Written{}, err
	}

	logger.Ctx(ctx).Debug().
		Str("key", key).
		Str("dtype", md.DType.String()).
		Str("shape", rawarray.FormatShape(md.Shape)).
		Str("compression", md.Compression.String()).
		Str("size", humanize.IBytes(uint64(len(payload)))).
		Msg("array stored")

	return Written{
		Key:      key,
		Size:     int64(len(payload)),
		Digest:   utils.Blake3Hex(payload),
		Metadata: md,
	}, nil
}

// GetArray loads and decodes the array under key.
func (c *Client) GetArray(ctx context.Context, key string) (*ndarray.Array, error) {
	return c.GetArrayChecked(ctx, key, "")
}

// GetArrayChecked is GetArray that first compares the stored payload against
// a BLAKE3 digest. An empty digest skips the comparison.
func (c *Client) GetArrayChecked(ctx context.Context, key, digest string) (*ndarray.Array, error) {
	obj, err := c.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if digest != "" {
		if sum := utils.Blake3Hex(obj.Data); sum != digest {
			return nil, arrayerr.Format(key, "digest", fmt.Sprintf("manifest %s, stored %s", digest, sum))
		}
	}

	md, err := rawarray.ParseMetadata(key, obj.Metadata)
	if err != nil {
		return nil, err
	}

	payload := obj.Data
	t, err := encryption.Resolve(md.Encryption, c.transform)
	if err != nil {
		return nil, &arrayerr.Error{Kind: arrayerr.KindFormat, Key: key, Field: rawarray.KeyEncryption, Err: err}
	}
	if t != nil {
		payload, err = t.Decrypt(payload)
		if err != nil {
			return nil, &arrayerr.Error{Kind: arrayerr.KindFormat, Key: key, Field: rawarray.KeyEncryption, Message: "decrypt failed", Err: err}
		}
	}

	return rawarray.Decode(ctx, key, payload, md)
}

// Info returns the stored object description and its parsed array metadata.
func (c *Client) Info(ctx context.Context, key string) (types.ObjectInfo, rawarray.Metadata, error) {
	info, err := c.store.Head(ctx, key)
	if err != nil {
		return info, rawarray.Metadata{}, err
	}
	md, err := rawarray.ParseMetadata(key, info.Metadata)
	return info, md, err
}

// PutJSON stores v as an indented JSON document.
func (c *Client) PutJSON(ctx context.Context, key string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return c.store.Put(ctx, key, data, map[string]string{ContentTypeKey: JSONContentType})
}

// GetJSON decodes the JSON document under key into v.
func (c *Client) GetJSON(ctx context.Context, key string, v any) error {
	obj, err := c.store.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(obj.Data, v); err != nil {
		return &arrayerr.Error{Kind: arrayerr.KindFormat, Key: key, Message: "invalid JSON", Err: err}
	}
	return nil
}

// Exists reports whether key holds an object.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	return c.store.Exists(ctx, key)
}

// Delete removes key.
func (c *Client) Delete(ctx context.Context, key string) error {
	return c.store.Delete(ctx, key)
}

// List returns every key under prefix, sorted.
func (c *Client) List(ctx context.Context, prefix string) ([]string, error) {
	return c.store.List(ctx, prefix)
}

// ErrIsPrefix is returned by a non-recursive Remove of a name that only
// exists as a prefix of other keys.
var ErrIsPrefix = errors.New("name is a prefix of other objects")

// Remove deletes name. With recursive set, every key below name/ is deleted
// too. Without it, removing a bare prefix fails with ErrIsPrefix.
func (c *Client) Remove(ctx context.Context, name string, recursive bool) (int, error) {
	name = strings.TrimSuffix(name, "/")
	exists, err := c.store.Exists(ctx, name)
	if err != nil {
		return 0, err
	}

	children, err := c.store.List(ctx, name+"/")
	if err != nil {
		return 0, err
	}

	if !recursive {
		if !exists {
			if len(children) > 0 {
				return 0, fmt.Errorf("%w: %s holds %d objects", ErrIsPrefix, name, len(children))
			}
			return 0, arrayerr.NotFound(name, objstore.ErrNoSuchKey)
		}
		return 1, c.store.Delete(ctx, name)
	}

	removed := 0
	if exists {
		if err := c.store.Delete(ctx, name); err != nil {
			return removed, err
		}
		removed++
	}
	for _, key := range children {
		if err := c.store.Delete(ctx, key); err != nil {
			return removed, err
		}
		removed++
	}
	if removed == 0 {
		return 0, arrayerr.NotFound(name, objstore.ErrNoSuchKey)
	}
	logger.Ctx(ctx).Debug().Str("prefix", name).Int("objects", removed).Msg("removed recursively")
	return removed, nil
}

// Join joins key segments with "/", dropping empty segments and duplicate
// separators.
func Join(parts ...string) string {
	var out []string
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "/")
}
