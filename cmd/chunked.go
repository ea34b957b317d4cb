// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/LeeDigitalWorks/zaparray/pkg/chunk"
	"github.com/LeeDigitalWorks/zaparray/pkg/chunked"
	"github.com/LeeDigitalWorks/zaparray/pkg/dtype"
	"github.com/LeeDigitalWorks/zaparray/pkg/logger"
	"github.com/LeeDigitalWorks/zaparray/pkg/objstore"
	"github.com/LeeDigitalWorks/zaparray/pkg/rawarray"
	"github.com/LeeDigitalWorks/zaparray/pkg/types"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show how an array would be chunked",
	Long: `Plan the chunk grid for an array of the given shape and dtype without
touching the store. Limits come from the configured backend.`,
	Args: cobra.NoArgs,
	RunE: runPlan,
}

var chunkedCmd = &cobra.Command{
	Use:   "chunked",
	Short: "Chunked array operations",
}

var chunkedPutCmd = &cobra.Command{
	Use:   "put PREFIX",
	Short: "Store an array as independently readable chunks",
	Args:  cobra.ExactArgs(1),
	RunE:  runChunkedPut,
}

var chunkedGetCmd = &cobra.Command{
	Use:   "get PREFIX",
	Short: "Assemble a chunked array, or the region given by --range",
	Args:  cobra.ExactArgs(1),
	RunE:  runChunkedGet,
}

var chunkedSweepCmd = &cobra.Command{
	Use:   "sweep PREFIX",
	Short: "Delete chunks left behind by failed uploads",
	Args:  cobra.ExactArgs(1),
	RunE:  runChunkedSweep,
}

func addChunkFlags(cmd *cobra.Command) {
	cmd.Flags().String("mode", "-1", "Chunk along this axis, or \"isotropic\"")
	cmd.Flags().String("budget", humanize.IBytes(chunked.DefaultBudget), "Maximum bytes per chunk")
}

func init() {
	rootCmd.AddCommand(planCmd, chunkedCmd)
	chunkedCmd.AddCommand(chunkedPutCmd, chunkedGetCmd, chunkedSweepCmd)

	planCmd.Flags().String("dtype", "<f8", "Element type")
	planCmd.Flags().String("shape", "", "Comma separated shape")
	planCmd.MarkFlagRequired("shape")
	addChunkFlags(planCmd)

	addInputFlags(chunkedPutCmd)
	chunkedPutCmd.MarkFlagRequired("shape")
	addChunkFlags(chunkedPutCmd)

	chunkedGetCmd.Flags().StringP("output", "o", "-", "Output file (- for stdout)")
	chunkedGetCmd.Flags().String("range", "", "Region to read as start:stop per leading axis, e.g. 0:10,:,5:")
}

func chunkOptions(cmd *cobra.Command) (chunk.Mode, int64, error) {
	m, _ := cmd.Flags().GetString("mode")
	b, _ := cmd.Flags().GetString("budget")
	mode, err := parseMode(m)
	if err != nil {
		return mode, 0, err
	}
	budget, err := parseBudget(b)
	return mode, budget, err
}

func runPlan(cmd *cobra.Command, args []string) error {
	dt, _ := cmd.Flags().GetString("dtype")
	s, _ := cmd.Flags().GetString("shape")
	t, err := dtype.ParseName(dt)
	if err != nil {
		return err
	}
	shape, err := rawarray.ParseShape(s)
	if err != nil {
		return err
	}
	mode, budget, err := chunkOptions(cmd)
	if err != nil {
		return err
	}
	bcfg, err := backendConfig(cmd)
	if err != nil {
		return err
	}

	grid, err := chunk.Plan(shape, t.ItemSize(), mode, budget, bcfg.LimitsOr(types.S3Limits()))
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "chunks: %d (%v per axis)\n", grid.Len(), grid.Counts())
	for axis := range grid.NDim() {
		fmt.Fprintf(out, "axis %d: extents %v\n", axis, grid.Extents()[axis])
	}
	var largest int64
	for _, d := range grid.Descriptors() {
		largest = max(largest, grid.Bytes(d))
	}
	fmt.Fprintf(out, "largest chunk: %s of %s budget\n", humanize.IBytes(uint64(largest)), humanize.IBytes(uint64(budget)))
	return nil
}

func runChunkedPut(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	f := cmd.Flags()
	input, _ := f.GetString("input")
	dt, _ := f.GetString("dtype")
	shape, _ := f.GetString("shape")
	order, _ := f.GetString("order")

	arr, err := readRaw(input, dt, shape, order)
	if err != nil {
		return err
	}
	mode, budget, err := chunkOptions(cmd)
	if err != nil {
		return err
	}

	client, store, err := openClient(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	m, err := chunked.Upload(ctx, client, args[0], arr, chunked.Options{
		Mode:   mode,
		Budget: budget,
		Array:  client.ArrayOptions(),
	})
	if err != nil {
		return err
	}
	logger.Info().
		Str("prefix", args[0]).
		Int("chunks", len(m.Parts)).
		Str("mode", m.Mode).
		Msg("stored chunked array")
	return nil
}

func runChunkedGet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	output, _ := cmd.Flags().GetString("output")
	r, _ := cmd.Flags().GetString("range")

	client, store, err := openClient(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	a, err := chunked.Open(ctx, client, args[0])
	if err != nil {
		return err
	}
	ranges, err := parseRanges(r, a.Shape())
	if err != nil {
		return err
	}
	arr, err := a.Read(ctx, ranges...)
	if err != nil {
		return err
	}
	logger.Info().
		Str("prefix", args[0]).
		Str("dtype", arr.DType().String()).
		Ints("shape", arr.Shape()).
		Msg("assembled chunked array")
	return writeRaw(output, arr)
}

func runChunkedSweep(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	client, store, err := openClient(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	deleted, err := chunked.Sweep(ctx, client, args[0])
	if err != nil {
		return err
	}
	for _, k := range deleted {
		fmt.Fprintln(cmd.OutOrStdout(), k)
	}
	if local, ok := store.(*objstore.Local); ok {
		if pending, err := local.PendingUploads(); err == nil && len(pending) > 0 {
			logger.Warn().Strs("uploads", pending).Msg("unfinished multipart uploads remain in the local store")
		}
	}
	return nil
}
