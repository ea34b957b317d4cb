// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package chunk plans the partition of an n-dimensional array into
// axis-aligned blocks that each stay within a byte budget.
//
// Two modes are supported. AlongAxis splits a single axis into slabs and
// leaves every other axis whole. Isotropic solves one edge length e with
// e^ndim * itemsize <= budget and applies it to every axis. In both modes the
// earliest chunks along an axis get the full edge and the last chunk absorbs
// the remainder, so the chunks tile the array exactly.
package chunk

import (
	"fmt"
	"math"
	"strconv"

	"github.com/LeeDigitalWorks/zaparray/pkg/arrayerr"
	"github.com/LeeDigitalWorks/zaparray/pkg/logger"
	"github.com/LeeDigitalWorks/zaparray/pkg/types"

	"github.com/dustin/go-humanize"
)

// EdgeAlignment is the multiple axis-confined edges are rounded down to once
// they are at least this long.
const EdgeAlignment = 64

// Mode selects how an array is split.
type Mode struct {
	isotropic bool
	axis      int
}

// AlongAxis splits only the given axis. Negative values count from the end,
// so AlongAxis(-1) is the last axis.
func AlongAxis(axis int) Mode {
	return Mode{axis: axis}
}

// Isotropic splits every axis with the same edge length.
func Isotropic() Mode {
	return Mode{isotropic: true}
}

// IsIsotropic reports whether m splits every axis.
func (m Mode) IsIsotropic() bool { return m.isotropic }

// Axis returns the split axis of an axis-confined mode.
func (m Mode) Axis() int { return m.axis }

func (m Mode) String() string {
	if m.isotropic {
		return "isotropic"
	}
	return "axis=" + strconv.Itoa(m.axis)
}

// Descriptor locates one chunk in the grid.
type Descriptor struct {
	// Coord is the chunk's position in the grid, one entry per axis.
	Coord []int `json:"coord"`
	// Offset is the global index of the chunk's first element per axis.
	Offset []int `json:"offset"`
	// Shape is the chunk's extent per axis.
	Shape []int `json:"shape"`
}

// Range is a half-open index interval [Start, Stop) along one axis.
type Range struct {
	Start int
	Stop  int
}

// Grid is a planned partition of an array.
type Grid struct {
	shape    []int
	itemSize int
	// extents[axis] lists the chunk lengths along axis in order.
	extents [][]int
	// bounds[axis] are the cumulative offsets, len(extents[axis])+1 entries.
	bounds [][]int
}

// Plan partitions an array of the given shape and item size so that each
// chunk holds at most budget bytes where the geometry allows it. A single
// slab along the split axis that is larger than the budget still becomes one
// chunk of edge 1.
func Plan(shape []int, itemSize int, mode Mode, budget int64, limits types.Limits) (*Grid, error) {
	if itemSize <= 0 {
		return nil, fmt.Errorf("invalid item size %d", itemSize)
	}
	for i, d := range shape {
		if d < 0 {
			return nil, fmt.Errorf("dimension %d is negative", i)
		}
	}
	if budget < limits.MinPartSize {
		return nil, arrayerr.SizeLimit(fmt.Sprintf("chunk budget %s is below the minimum part size %s",
			humanize.IBytes(uint64(max(budget, 0))), humanize.IBytes(uint64(limits.MinPartSize))))
	}

	total := totalBytes(shape, itemSize)
	if limits.MaxTotalSize > 0 && total >= limits.MaxTotalSize {
		return nil, arrayerr.SizeLimit(fmt.Sprintf("array of %s is not below the %s object limit",
			humanize.IBytes(uint64(total)), humanize.IBytes(uint64(limits.MaxTotalSize))))
	}

	edges, err := planEdges(shape, itemSize, mode, budget)
	if err != nil {
		return nil, err
	}

	extents := make([][]int, len(shape))
	for axis, d := range shape {
		extents[axis] = split(d, edges[axis])
	}
	g := newGrid(shape, itemSize, extents)

	// The first chunk is always the largest.
	if first, err := g.Descriptor(make([]int, len(shape))); err == nil && g.Bytes(first) > budget {
		logger.Debug().
			Ints("shape", shape).
			Str("mode", mode.String()).
			Str("chunk", humanize.IBytes(uint64(g.Bytes(first)))).
			Str("budget", humanize.IBytes(uint64(budget))).
			Msg("smallest possible chunk exceeds the budget")
	}

	if limits.MaxPartCount > 0 && g.Len() > limits.MaxPartCount {
		return nil, arrayerr.SizeLimit(fmt.Sprintf("plan needs %d chunks, above the %d part limit", g.Len(), limits.MaxPartCount))
	}
	return g, nil
}

// planEdges returns the nominal chunk edge per axis.
func planEdges(shape []int, itemSize int, mode Mode, budget int64) ([]int, error) {
	edges := make([]int, len(shape))
	copy(edges, shape)

	// 0-d and empty arrays are a single chunk spanning the whole shape
	if len(shape) == 0 || product(shape) == 0 {
		return edges, nil
	}

	if !mode.isotropic {
		axis := mode.axis
		if axis < 0 {
			axis += len(shape)
		}
		if axis < 0 || axis >= len(shape) {
			return nil, fmt.Errorf("axis %d out of range for %d dimensions", mode.axis, len(shape))
		}
		edges[axis] = axisEdge(shape, itemSize, axis, budget)
		return edges, nil
	}

	e := IsotropicEdge(len(shape), itemSize, budget)
	for axis, d := range shape {
		edges[axis] = min(e, d)
	}
	return edges, nil
}

// axisEdge is floor(budget / (itemsize * product of the other dims)),
// clamped to [1, dim] and aligned down to EdgeAlignment.
func axisEdge(shape []int, itemSize, axis int, budget int64) int {
	slab := int64(itemSize)
	for i, d := range shape {
		if i != axis {
			slab *= int64(d)
		}
	}
	dim := shape[axis]
	edge := budget / slab
	if edge < 1 {
		return 1
	}
	if edge >= int64(dim) {
		return dim
	}
	e := int(edge)
	if e >= EdgeAlignment {
		e -= e % EdgeAlignment
	}
	return e
}

// IsotropicEdge solves e = floor(exp((ln budget - ln itemsize) / ndim)) and
// steps it down until e^ndim * itemsize fits the budget. Floating point can
// also land one below the exact root, so it then steps up while e+1 still
// fits. The result is at least 1.
func IsotropicEdge(ndim, itemSize int, budget int64) int {
	if ndim == 0 {
		return 1
	}
	if budget < int64(itemSize) {
		return 1
	}
	e := int(math.Floor(math.Exp((math.Log(float64(budget)) - math.Log(float64(itemSize))) / float64(ndim))))
	fits := func(e int) bool {
		return math.Pow(float64(e), float64(ndim))*float64(itemSize) <= float64(budget)
	}
	for e > 1 && !fits(e) {
		e--
	}
	for fits(e + 1) {
		e++
	}
	return max(e, 1)
}

// split divides dim into runs of edge with the remainder last.
func split(dim, edge int) []int {
	if dim == 0 || edge <= 0 || edge >= dim {
		return []int{dim}
	}
	n := (dim + edge - 1) / edge
	out := make([]int, n)
	for i := range out {
		out[i] = edge
	}
	out[n-1] = dim - edge*(n-1)
	return out
}

func newGrid(shape []int, itemSize int, extents [][]int) *Grid {
	g := &Grid{
		shape:    append([]int(nil), shape...),
		itemSize: itemSize,
		extents:  extents,
		bounds:   make([][]int, len(extents)),
	}
	for axis, ext := range extents {
		b := make([]int, len(ext)+1)
		for i, n := range ext {
			b[i+1] = b[i] + n
		}
		g.bounds[axis] = b
	}
	return g
}

// FromExtents rebuilds a grid from stored per-axis chunk lengths, checking
// that they tile shape exactly.
func FromExtents(shape []int, itemSize int, extents [][]int) (*Grid, error) {
	if len(extents) != len(shape) {
		return nil, fmt.Errorf("%d extent lists for %d dimensions", len(extents), len(shape))
	}
	for axis, ext := range extents {
		if len(ext) == 0 {
			return nil, fmt.Errorf("axis %d has no chunks", axis)
		}
		sum := 0
		for _, n := range ext {
			if n < 0 || (n == 0 && len(ext) > 1) {
				return nil, fmt.Errorf("axis %d has an invalid chunk length %d", axis, n)
			}
			sum += n
		}
		if sum != shape[axis] {
			return nil, fmt.Errorf("axis %d chunks cover %d of %d", axis, sum, shape[axis])
		}
	}
	cp := make([][]int, len(extents))
	for i, ext := range extents {
		cp[i] = append([]int(nil), ext...)
	}
	return newGrid(shape, itemSize, cp), nil
}

// Shape returns the global array shape.
func (g *Grid) Shape() []int { return append([]int(nil), g.shape...) }

// NDim returns the number of axes.
func (g *Grid) NDim() int { return len(g.shape) }

// Counts returns the number of chunks along each axis.
func (g *Grid) Counts() []int {
	out := make([]int, len(g.extents))
	for i, ext := range g.extents {
		out[i] = len(ext)
	}
	return out
}

// Extents returns a copy of the chunk lengths along each axis.
func (g *Grid) Extents() [][]int {
	out := make([][]int, len(g.extents))
	for i, ext := range g.extents {
		out[i] = append([]int(nil), ext...)
	}
	return out
}

// Len returns the total number of chunks.
func (g *Grid) Len() int {
	return product(g.Counts())
}

// Boundaries returns the sorted, distinct chunk edge offsets along axis,
// from 0 through the dimension size.
func (g *Grid) Boundaries(axis int) []int {
	b := g.bounds[axis]
	out := make([]int, 0, len(b))
	for i, v := range b {
		if i == 0 || v != b[i-1] {
			out = append(out, v)
		}
	}
	return out
}

// Descriptor returns the chunk at coord.
func (g *Grid) Descriptor(coord []int) (Descriptor, error) {
	if len(coord) != len(g.shape) {
		return Descriptor{}, fmt.Errorf("coordinate %v has %d axes, grid has %d", coord, len(coord), len(g.shape))
	}
	d := Descriptor{
		Coord:  append([]int{}, coord...),
		Offset: make([]int, len(coord)),
		Shape:  make([]int, len(coord)),
	}
	for axis, c := range coord {
		if c < 0 || c >= len(g.extents[axis]) {
			return Descriptor{}, fmt.Errorf("coordinate %v outside the %v grid", coord, g.Counts())
		}
		d.Offset[axis] = g.bounds[axis][c]
		d.Shape[axis] = g.extents[axis][c]
	}
	return d, nil
}

// Descriptors lists every chunk in row-major coordinate order.
func (g *Grid) Descriptors() []Descriptor {
	return g.collect(func(axis int) (int, int) { return 0, len(g.extents[axis]) })
}

// Covering returns the minimal set of chunks intersecting the box given by
// ranges, in row-major coordinate order. Missing trailing ranges select the
// whole axis. An empty range on any axis selects nothing.
func (g *Grid) Covering(ranges ...Range) ([]Descriptor, error) {
	if len(ranges) > len(g.shape) {
		return nil, fmt.Errorf("%d ranges for %d dimensions", len(ranges), len(g.shape))
	}
	lo := make([]int, len(g.shape))
	hi := make([]int, len(g.shape))
	for axis := range g.shape {
		r := Range{0, g.shape[axis]}
		if axis < len(ranges) {
			r = ranges[axis]
		}
		if r.Start < 0 || r.Stop > g.shape[axis] || r.Start > r.Stop {
			return nil, fmt.Errorf("range [%d,%d) invalid for axis %d of length %d", r.Start, r.Stop, axis, g.shape[axis])
		}
		if r.Start == r.Stop {
			if g.shape[axis] == 0 {
				// the only chunk of an empty axis
				lo[axis], hi[axis] = 0, 1
				continue
			}
			return nil, nil
		}
		b := g.bounds[axis]
		first := 0
		for first+1 < len(b)-1 && b[first+1] <= r.Start {
			first++
		}
		last := first
		for last+1 < len(b)-1 && b[last+1] < r.Stop {
			last++
		}
		lo[axis], hi[axis] = first, last+1
	}
	return g.collect(func(axis int) (int, int) { return lo[axis], hi[axis] }), nil
}

func (g *Grid) collect(span func(axis int) (int, int)) []Descriptor {
	n := len(g.shape)
	lo := make([]int, n)
	hi := make([]int, n)
	count := 1
	for axis := range n {
		lo[axis], hi[axis] = span(axis)
		count *= hi[axis] - lo[axis]
	}
	if count == 0 {
		return nil
	}
	out := make([]Descriptor, 0, count)
	coord := append([]int{}, lo...)
	for {
		d, _ := g.Descriptor(coord)
		out = append(out, d)
		axis := n - 1
		for axis >= 0 {
			coord[axis]++
			if coord[axis] < hi[axis] {
				break
			}
			coord[axis] = lo[axis]
			axis--
		}
		if axis < 0 {
			return out
		}
	}
}

// Bytes returns the payload size of a chunk with the given shape.
func (g *Grid) Bytes(d Descriptor) int64 {
	return totalBytes(d.Shape, g.itemSize)
}

func product(xs []int) int {
	p := 1
	for _, x := range xs {
		p *= x
	}
	return p
}

func totalBytes(shape []int, itemSize int) int64 {
	n := int64(itemSize)
	for _, d := range shape {
		n *= int64(d)
	}
	return n
}
