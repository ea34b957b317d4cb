// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package chunked stores an array as independently encoded chunks below a
// prefix, described by a manifest written after every chunk. Readers load the
// manifest once and fetch only the chunks a read touches.
//
// Layout of an array stored at "runs/42/volume":
//
//	runs/42/volume/pt0000
//	runs/42/volume/pt0001
//	...
//	runs/42/volume/metadata.json
package chunked

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/LeeDigitalWorks/zaparray/pkg/arrayerr"
	"github.com/LeeDigitalWorks/zaparray/pkg/arraystore"
	"github.com/LeeDigitalWorks/zaparray/pkg/chunk"
	"github.com/LeeDigitalWorks/zaparray/pkg/compression"
	"github.com/LeeDigitalWorks/zaparray/pkg/dtype"
	"github.com/LeeDigitalWorks/zaparray/pkg/logger"
	"github.com/LeeDigitalWorks/zaparray/pkg/ndarray"
	"github.com/LeeDigitalWorks/zaparray/pkg/objstore"
	"github.com/LeeDigitalWorks/zaparray/pkg/rawarray"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"
)

// DefaultBudget is the chunk byte budget when none is given.
const DefaultBudget = 100 * humanize.MiByte

// Options control a chunked upload.
type Options struct {
	Mode   chunk.Mode
	Budget int64
	// Array is applied to every chunk.
	Array rawarray.Options
	// Concurrency bounds chunks in flight. Zero uses the client's setting.
	Concurrency int
}

// DefaultOptions chunks along the last axis with the default budget.
func DefaultOptions() Options {
	return Options{
		Mode:   chunk.AlongAxis(-1),
		Budget: DefaultBudget,
		Array:  rawarray.DefaultOptions(),
	}
}

// Upload plans arr into chunks, stores each chunk below prefix and writes the
// manifest last. On failure the chunks already written are left for Sweep.
func Upload(ctx context.Context, c *arraystore.Client, prefix string, arr *ndarray.Array, opts Options) (*Manifest, error) {
	if opts.Budget <= 0 {
		opts.Budget = DefaultBudget
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = c.Concurrency()
	}

	grid, err := chunk.Plan(arr.Shape(), arr.ItemSize(), opts.Mode, opts.Budget, c.Limits())
	if err != nil {
		var e *arrayerr.Error
		if errors.As(err, &e) {
			return nil, e.WithKey(prefix)
		}
		return nil, err
	}

	descs := grid.Descriptors()
	parts := make([]Part, len(descs))
	order, ok := arr.Layout()
	if !ok {
		order = ndarray.RowMajor
	}

	log := logger.Ctx(ctx)
	log.Debug().
		Str("prefix", prefix).
		Str("mode", opts.Mode.String()).
		Ints("shape", arr.Shape()).
		Int("chunks", len(descs)).
		Str("budget", humanize.IBytes(uint64(opts.Budget))).
		Msg("uploading chunked array")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, d := range descs {
		g.Go(func() error {
			view, err := arr.Region(d.Offset, stops(d))
			if err != nil {
				return err
			}
			name := PartName(i)
			w, err := c.PutArrayWith(gctx, arraystore.Join(prefix, name), view, opts.Array)
			if err != nil {
				return err
			}
			parts[i] = Part{Coord: d.Coord, Offset: d.Offset, Shape: d.Shape, Name: name, Digest: w.Digest}
			ChunksUploaded.Inc()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Warn().Err(err).Str("prefix", prefix).Msg("chunked upload failed, written chunks are unreferenced")
		return nil, err
	}

	extents, err := deriveExtents(grid.NDim(), parts)
	if err != nil {
		return nil, fmt.Errorf("chunk extents for %s: %w", prefix, err)
	}

	m := &Manifest{
		Shape:       arr.Shape(),
		DType:       arr.DType(),
		Order:       order.String(),
		Compression: opts.Array.Compression,
		Mode:        ModeAxis,
		Budget:      opts.Budget,
		Parts:       parts,
		Chunks:      extents,
	}
	if m.Compression == "" {
		m.Compression = compression.None
	}
	if opts.Mode.IsIsotropic() {
		m.Mode = ModeIsotropic
	} else {
		axis := opts.Mode.Axis()
		if axis < 0 {
			axis += arr.NDim()
		}
		m.Axis = &axis
	}

	if err := c.PutJSON(ctx, arraystore.Join(prefix, ManifestName), m); err != nil {
		return nil, fmt.Errorf("write manifest for %s: %w", prefix, err)
	}
	return m, nil
}

func stops(d chunk.Descriptor) []int {
	out := make([]int, len(d.Offset))
	for i := range out {
		out[i] = d.Offset[i] + d.Shape[i]
	}
	return out
}

// Array is a lazily loaded chunked array.
type Array struct {
	client   *arraystore.Client
	prefix   string
	manifest *Manifest
	grid     *chunk.Grid
	order    ndarray.Order
	index    map[string]int
}

// Open reads the manifest under prefix. No chunk is fetched.
func Open(ctx context.Context, c *arraystore.Client, prefix string) (*Array, error) {
	key := arraystore.Join(prefix, ManifestName)
	var m Manifest
	if err := c.GetJSON(ctx, key, &m); err != nil {
		return nil, err
	}
	grid, err := m.Grid(key)
	if err != nil {
		return nil, err
	}
	order, _ := ndarray.ParseOrder(m.Order)

	index := make(map[string]int, len(m.Parts))
	for i, p := range m.Parts {
		index[coordKey(p.Coord)] = i
	}
	return &Array{client: c, prefix: prefix, manifest: &m, grid: grid, order: order, index: index}, nil
}

// Manifest returns the parsed manifest.
func (a *Array) Manifest() *Manifest { return a.manifest }

// Grid returns the chunk grid.
func (a *Array) Grid() *chunk.Grid { return a.grid }

// Shape returns the logical array shape.
func (a *Array) Shape() []int { return slices.Clone(a.manifest.Shape) }

// DType returns the element type.
func (a *Array) DType() dtype.DType { return a.manifest.DType }

// Chunk fetches and verifies the chunk at coord.
func (a *Array) Chunk(ctx context.Context, coord []int) (*ndarray.Array, error) {
	i, ok := a.index[coordKey(coord)]
	if !ok {
		return nil, fmt.Errorf("no chunk at %v in %s", coord, a.prefix)
	}
	p := a.manifest.Parts[i]
	key := arraystore.Join(a.prefix, p.Name)

	arr, err := a.client.GetArrayChecked(ctx, key, p.Digest)
	if err != nil {
		return nil, err
	}
	if !slices.Equal(arr.Shape(), p.Shape) || arr.DType().Kind != a.manifest.DType.Kind {
		return nil, arrayerr.Format(key, rawarray.KeyShape, fmt.Sprintf("chunk holds %s%v, manifest expects %s%v",
			arr.DType(), arr.Shape(), a.manifest.DType, p.Shape))
	}
	ChunksFetched.Inc()
	return arr, nil
}

// ReadAll fetches every chunk and assembles the whole array.
func (a *Array) ReadAll(ctx context.Context) (*ndarray.Array, error) {
	return a.Read(ctx)
}

// Read assembles the box given by ranges, one per leading axis; missing
// trailing ranges select the whole axis. Only chunks intersecting the box
// are fetched.
func (a *Array) Read(ctx context.Context, ranges ...chunk.Range) (*ndarray.Array, error) {
	covering, err := a.grid.Covering(ranges...)
	if err != nil {
		return nil, err
	}

	shape := a.manifest.Shape
	box := make([]chunk.Range, len(shape))
	outShape := make([]int, len(shape))
	for axis := range shape {
		box[axis] = chunk.Range{Start: 0, Stop: shape[axis]}
		if axis < len(ranges) {
			box[axis] = ranges[axis]
		}
		outShape[axis] = box[axis].Stop - box[axis].Start
	}
	out := ndarray.New(a.manifest.DType, outShape, a.order)

	// chunks write disjoint regions of out
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.client.Concurrency())
	for _, d := range covering {
		g.Go(func() error {
			src, err := a.Chunk(gctx, d.Coord)
			if err != nil {
				return err
			}
			n := len(shape)
			srcLo, srcHi := make([]int, n), make([]int, n)
			dstLo, dstHi := make([]int, n), make([]int, n)
			for axis := range n {
				lo := max(box[axis].Start, d.Offset[axis])
				hi := min(box[axis].Stop, d.Offset[axis]+d.Shape[axis])
				hi = max(hi, lo)
				srcLo[axis], srcHi[axis] = lo-d.Offset[axis], hi-d.Offset[axis]
				dstLo[axis], dstHi[axis] = lo-box[axis].Start, hi-box[axis].Start
			}
			sv, err := src.Region(srcLo, srcHi)
			if err != nil {
				return err
			}
			dv, err := out.Region(dstLo, dstHi)
			if err != nil {
				return err
			}
			return dv.CopyFrom(sv)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	logger.Ctx(ctx).Debug().
		Str("prefix", a.prefix).
		Int("chunks", len(covering)).
		Int("total_chunks", a.grid.Len()).
		Msg("chunked read assembled")
	return out, nil
}

// Sweep deletes chunk objects below prefix that the manifest does not
// reference, or every chunk when there is no manifest. Other keys are left
// alone.
func Sweep(ctx context.Context, c *arraystore.Client, prefix string) ([]string, error) {
	referenced := map[string]bool{}
	var m Manifest
	err := c.GetJSON(ctx, arraystore.Join(prefix, ManifestName), &m)
	switch {
	case err == nil:
		for _, p := range m.Parts {
			referenced[p.Name] = true
		}
	case objstore.IsNotFound(err):
	default:
		return nil, err
	}

	root := strings.Trim(prefix, "/") + "/"
	keys, err := c.List(ctx, root)
	if err != nil {
		return nil, err
	}

	var deleted []string
	for _, key := range keys {
		name := strings.TrimPrefix(key, root)
		if strings.Contains(name, "/") || !isPartName(name) || referenced[name] {
			continue
		}
		if err := c.Delete(ctx, key); err != nil {
			return deleted, err
		}
		deleted = append(deleted, key)
	}

	if len(deleted) > 0 {
		ChunksSwept.Add(float64(len(deleted)))
		logger.Ctx(ctx).Warn().
			Str("prefix", prefix).
			Int("deleted", len(deleted)).
			Msg("swept unreferenced chunks")
	}
	return deleted, nil
}
