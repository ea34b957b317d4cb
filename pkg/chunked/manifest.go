// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package chunked

import (
	"fmt"
	"slices"

	"github.com/LeeDigitalWorks/zaparray/pkg/arrayerr"
	"github.com/LeeDigitalWorks/zaparray/pkg/chunk"
	"github.com/LeeDigitalWorks/zaparray/pkg/compression"
	"github.com/LeeDigitalWorks/zaparray/pkg/dtype"
	"github.com/LeeDigitalWorks/zaparray/pkg/ndarray"
)

// ManifestName is the manifest key relative to the array prefix.
const ManifestName = "metadata.json"

// Chunking modes as written in the manifest.
const (
	ModeAxis      = "axis"
	ModeIsotropic = "isotropic"
)

// Part is one stored chunk.
type Part struct {
	Coord  []int  `json:"coord"`
	Offset []int  `json:"offset"`
	Shape  []int  `json:"shape"`
	Name   string `json:"name"`
	Digest string `json:"digest"`
}

// Manifest is the JSON document that makes a chunked array readable.
type Manifest struct {
	Shape       []int                 `json:"shape"`
	DType       dtype.DType           `json:"dtype"`
	Order       string                `json:"order"`
	Compression compression.Algorithm `json:"compression"`
	Mode        string                `json:"mode"`
	Axis        *int                  `json:"axis,omitempty"`
	Budget      int64                 `json:"budget"`
	Parts       []Part                `json:"parts"`
	Chunks      [][]int               `json:"chunks"`
}

// PartName returns the key of the i-th chunk relative to the prefix.
func PartName(i int) string {
	return fmt.Sprintf("pt%04d", i)
}

// isPartName reports whether name has the PartName form.
func isPartName(name string) bool {
	if len(name) < 6 || name[:2] != "pt" {
		return false
	}
	for _, r := range name[2:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// deriveExtents collects, for each axis, the chunk length observed at every
// coordinate along that axis.
func deriveExtents(ndim int, parts []Part) ([][]int, error) {
	extents := make([][]int, ndim)
	for axis := range ndim {
		seen := map[int]int{}
		for _, p := range parts {
			c, n := p.Coord[axis], p.Shape[axis]
			if prev, ok := seen[c]; ok && prev != n {
				return nil, fmt.Errorf("axis %d coordinate %d has chunk lengths %d and %d", axis, c, prev, n)
			}
			seen[c] = n
		}
		ext := make([]int, len(seen))
		for c, n := range seen {
			if c < 0 || c >= len(ext) {
				return nil, fmt.Errorf("axis %d coordinates are not contiguous", axis)
			}
			ext[c] = n
		}
		extents[axis] = ext
	}
	return extents, nil
}

// Grid rebuilds the chunk grid and checks every part against it. key names
// the manifest in errors.
func (m *Manifest) Grid(key string) (*chunk.Grid, error) {
	if !m.DType.Valid() {
		return nil, arrayerr.Format(key, "dtype", "invalid dtype")
	}
	if _, err := ndarray.ParseOrder(m.Order); err != nil {
		return nil, arrayerr.Format(key, "order", err.Error())
	}
	grid, err := chunk.FromExtents(m.Shape, m.DType.ItemSize(), m.Chunks)
	if err != nil {
		return nil, arrayerr.Format(key, "chunks", err.Error())
	}
	if len(m.Parts) != grid.Len() {
		return nil, arrayerr.Format(key, "parts", fmt.Sprintf("%d parts for a grid of %d chunks", len(m.Parts), grid.Len()))
	}
	names := make(map[string]bool, len(m.Parts))
	for _, p := range m.Parts {
		d, err := grid.Descriptor(p.Coord)
		if err != nil {
			return nil, arrayerr.Format(key, "parts", err.Error())
		}
		if !slices.Equal(d.Offset, p.Offset) || !slices.Equal(d.Shape, p.Shape) {
			return nil, arrayerr.Format(key, "parts", fmt.Sprintf("part %s at %v does not match the grid", p.Name, p.Coord))
		}
		if !isPartName(p.Name) || names[p.Name] {
			return nil, arrayerr.Format(key, "parts", fmt.Sprintf("invalid or duplicate part name %q", p.Name))
		}
		names[p.Name] = true
	}
	return grid, nil
}

func coordKey(coord []int) string {
	return fmt.Sprint(coord)
}
