// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package arraystore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/LeeDigitalWorks/zaparray/pkg/arrayerr"
	"github.com/LeeDigitalWorks/zaparray/pkg/logger"
	"github.com/LeeDigitalWorks/zaparray/pkg/ndarray"
	"github.com/LeeDigitalWorks/zaparray/pkg/rawarray"
)

// Dict is a tree of arrays. Values are *ndarray.Array or nested Dict, and
// each maps to the key prefix/name/.../leaf.
type Dict map[string]any

// PutDict stores every array in d below prefix.
func (c *Client) PutDict(ctx context.Context, prefix string, d Dict) (int, error) {
	names := make([]string, 0, len(d))
	for name := range d {
		names = append(names, name)
	}
	sort.Strings(names)

	stored := 0
	for _, name := range names {
		if name == "" || strings.Contains(name, "/") {
			return stored, fmt.Errorf("dict key %q must be a single non-empty path segment", name)
		}
		key := Join(prefix, name)
		switch v := d[name].(type) {
		case *ndarray.Array:
			if _, err := c.PutArray(ctx, key, v); err != nil {
				return stored, err
			}
			stored++
		case Dict:
			n, err := c.PutDict(ctx, key, v)
			stored += n
			if err != nil {
				return stored, err
			}
		case map[string]any:
			n, err := c.PutDict(ctx, key, Dict(v))
			stored += n
			if err != nil {
				return stored, err
			}
		default:
			return stored, fmt.Errorf("dict value at %s is %T, not an array or dict", key, v)
		}
	}
	return stored, nil
}

// GetDict loads every array below prefix into a Dict mirroring the key
// hierarchy. Objects without array metadata are logged and left out; a
// damaged array fails the whole call.
func (c *Client) GetDict(ctx context.Context, prefix string) (Dict, error) {
	root := strings.Trim(prefix, "/")
	keys, err := c.store.List(ctx, root+"/")
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, arrayerr.NotFound(root, errors.New("no objects under prefix"))
	}

	out := Dict{}
	for _, key := range keys {
		arr, err := c.GetArray(ctx, key)
		if err != nil {
			if rawarray.IsNotArray(err) {
				logger.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("skipping object that is not an array")
				continue
			}
			return nil, err
		}

		segs := strings.Split(strings.TrimPrefix(key, root+"/"), "/")
		node := out
		for _, seg := range segs[:len(segs)-1] {
			child, ok := node[seg].(Dict)
			if !ok {
				child = Dict{}
				node[seg] = child
			}
			node = child
		}
		node[segs[len(segs)-1]] = arr
	}
	return out, nil
}
