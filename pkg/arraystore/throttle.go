// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package arraystore

import (
	"context"

	"github.com/LeeDigitalWorks/zaparray/pkg/objstore"
	"github.com/LeeDigitalWorks/zaparray/pkg/types"

	"golang.org/x/time/rate"
)

// throttled waits on a token bucket before every store request. Multipart
// parts are throttled individually.
type throttled struct {
	objstore.Store
	limiter *rate.Limiter
}

func newThrottled(store objstore.Store, perSecond int) *throttled {
	return &throttled{
		Store:   store,
		limiter: rate.NewLimiter(rate.Limit(perSecond), perSecond),
	}
}

func (t *throttled) Put(ctx context.Context, key string, data []byte, metadata map[string]string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	return t.Store.Put(ctx, key, data, metadata)
}

func (t *throttled) Get(ctx context.Context, key string) (*objstore.Object, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return t.Store.Get(ctx, key)
}

func (t *throttled) Head(ctx context.Context, key string) (types.ObjectInfo, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return types.ObjectInfo{}, err
	}
	return t.Store.Head(ctx, key)
}

func (t *throttled) Exists(ctx context.Context, key string) (bool, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return false, err
	}
	return t.Store.Exists(ctx, key)
}

func (t *throttled) Delete(ctx context.Context, key string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	return t.Store.Delete(ctx, key)
}

func (t *throttled) List(ctx context.Context, prefix string) ([]string, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return t.Store.List(ctx, prefix)
}

func (t *throttled) CreateMultipart(ctx context.Context, key string, metadata map[string]string) (string, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return t.Store.CreateMultipart(ctx, key, metadata)
}

func (t *throttled) UploadPart(ctx context.Context, key, uploadID string, n int, data []byte) (types.CompletedPart, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return types.CompletedPart{}, err
	}
	return t.Store.UploadPart(ctx, key, uploadID, n, data)
}

func (t *throttled) CompleteMultipart(ctx context.Context, key, uploadID string, parts []types.CompletedPart) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	return t.Store.CompleteMultipart(ctx, key, uploadID, parts)
}

// AbortMultipart is not throttled: it must run even for a canceled caller.
func (t *throttled) AbortMultipart(ctx context.Context, key, uploadID string) error {
	return t.Store.AbortMultipart(ctx, key, uploadID)
}

var _ objstore.Store = (*throttled)(nil)
