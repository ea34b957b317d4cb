// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package sparse

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/LeeDigitalWorks/zaparray/pkg/arrayerr"
	"github.com/LeeDigitalWorks/zaparray/pkg/arraystore"
	"github.com/LeeDigitalWorks/zaparray/pkg/logger"
	"github.com/LeeDigitalWorks/zaparray/pkg/ndarray"

	"golang.org/x/sync/errgroup"
)

// ManifestName is the manifest key relative to the matrix prefix.
const ManifestName = "metadata.json"

// Put stores m below prefix, one raw array per constituent, and writes the
// manifest once every constituent is stored.
func Put(ctx context.Context, c *arraystore.Client, prefix string, m Matrix) (Manifest, error) {
	man, parts, err := Encode(m)
	if err != nil {
		var e *arrayerr.Error
		if errors.As(err, &e) {
			return Manifest{}, e.WithKey(prefix)
		}
		return Manifest{}, fmt.Errorf("encode sparse %s: %w", prefix, err)
	}

	log := logger.Ctx(ctx)
	if f := m.Family(); f != man.Type {
		log.Debug().
			Str("prefix", prefix).
			Str("from", string(f)).
			Str("to", string(man.Type)).
			Msg("sparse matrix converted before storing")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.Concurrency())
	for _, attr := range man.Attrs {
		g.Go(func() error {
			_, err := c.PutArray(gctx, arraystore.Join(prefix, attr), parts[attr])
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return Manifest{}, err
	}
	if err := c.PutJSON(ctx, arraystore.Join(prefix, ManifestName), man); err != nil {
		return Manifest{}, err
	}

	log.Debug().
		Str("prefix", prefix).
		Str("family", string(man.Type)).
		Ints("shape", man.Shape[:]).
		Msg("stored sparse matrix")
	return man, nil
}

// ReadManifest loads the manifest under prefix.
func ReadManifest(ctx context.Context, c *arraystore.Client, prefix string) (Manifest, error) {
	var man Manifest
	err := c.GetJSON(ctx, arraystore.Join(prefix, ManifestName), &man)
	return man, err
}

// Get loads the matrix stored below prefix. The family is checked before any
// constituent is fetched.
func Get(ctx context.Context, c *arraystore.Client, prefix string) (Matrix, error) {
	man, err := ReadManifest(ctx, c, prefix)
	if err != nil {
		return nil, err
	}
	key := arraystore.Join(prefix, ManifestName)
	attrs := Attrs(man.Type)
	if attrs == nil {
		return nil, arrayerr.UnsupportedFamily(key, string(man.Type))
	}

	var mu sync.Mutex
	parts := make(map[string]*ndarray.Array, len(attrs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.Concurrency())
	for _, attr := range attrs {
		g.Go(func() error {
			arr, err := c.GetArray(gctx, arraystore.Join(prefix, attr))
			if err != nil {
				return err
			}
			mu.Lock()
			parts[attr] = arr
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return Decode(key, man, parts)
}

// Delete removes the manifest and then every constituent. A matrix without
// a manifest is NotFound.
func Delete(ctx context.Context, c *arraystore.Client, prefix string) error {
	man, err := ReadManifest(ctx, c, prefix)
	if err != nil {
		return err
	}
	if err := c.Delete(ctx, arraystore.Join(prefix, ManifestName)); err != nil {
		return err
	}
	attrs := Attrs(man.Type)
	if attrs == nil {
		attrs = man.Attrs
	}
	for _, attr := range attrs {
		if err := c.Delete(ctx, arraystore.Join(prefix, attr)); err != nil {
			return err
		}
	}
	return nil
}
