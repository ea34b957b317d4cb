// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/LeeDigitalWorks/zaparray/pkg/chunk"
	"github.com/LeeDigitalWorks/zaparray/pkg/dtype"
	"github.com/LeeDigitalWorks/zaparray/pkg/ndarray"
	"github.com/LeeDigitalWorks/zaparray/pkg/rawarray"

	"github.com/dustin/go-humanize"
)

// parseMode accepts "isotropic" or an axis number, negative counting from
// the end.
func parseMode(s string) (chunk.Mode, error) {
	s = strings.TrimSpace(s)
	if s == "isotropic" {
		return chunk.Isotropic(), nil
	}
	axis, err := strconv.Atoi(s)
	if err != nil {
		return chunk.Mode{}, fmt.Errorf("chunk mode must be an axis number or \"isotropic\", got %q", s)
	}
	return chunk.AlongAxis(axis), nil
}

// parseBudget accepts sizes like "64MiB" or "1000000".
func parseBudget(s string) (int64, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid budget %q: %w", s, err)
	}
	if n == 0 || n > 1<<62 {
		return 0, fmt.Errorf("budget %q out of range", s)
	}
	return int64(n), nil
}

// parseRanges parses "start:stop" per leading axis, comma separated. An
// omitted bound means the start or end of the axis.
func parseRanges(s string, shape []int) ([]chunk.Range, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	fields := strings.Split(s, ",")
	if len(fields) > len(shape) {
		return nil, fmt.Errorf("%d ranges for %d axes", len(fields), len(shape))
	}
	out := make([]chunk.Range, len(fields))
	for axis, f := range fields {
		lo, hi, ok := strings.Cut(strings.TrimSpace(f), ":")
		if !ok {
			return nil, fmt.Errorf("range %q for axis %d is not start:stop", f, axis)
		}
		r := chunk.Range{Start: 0, Stop: shape[axis]}
		var err error
		if lo != "" {
			if r.Start, err = strconv.Atoi(lo); err != nil {
				return nil, fmt.Errorf("axis %d start: %w", axis, err)
			}
		}
		if hi != "" {
			if r.Stop, err = strconv.Atoi(hi); err != nil {
				return nil, fmt.Errorf("axis %d stop: %w", axis, err)
			}
		}
		out[axis] = r
	}
	return out, nil
}

// readRaw wraps the raw bytes of path ("-" for stdin) as an array.
func readRaw(path, dt, shape, order string) (*ndarray.Array, error) {
	t, err := dtype.ParseName(dt)
	if err != nil {
		return nil, err
	}
	s, err := rawarray.ParseShape(shape)
	if err != nil {
		return nil, err
	}
	o, err := ndarray.ParseOrder(order)
	if err != nil {
		return nil, err
	}

	var data []byte
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}
	return ndarray.FromBytes(t, s, o, data)
}

// writeRaw writes the array bytes in its stored layout to path ("-" for
// stdout).
func writeRaw(path string, arr *ndarray.Array) error {
	order, ok := arr.Layout()
	if !ok {
		order = ndarray.RowMajor
	}
	data, _, _ := arr.Contiguous(order).Bytes()
	if path == "-" {
		_, err := os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
