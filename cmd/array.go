// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/LeeDigitalWorks/zaparray/pkg/logger"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var putCmd = &cobra.Command{
	Use:   "put KEY",
	Short: "Store a raw binary array",
	Long: `Store the raw bytes of --input as an array under KEY. Payloads above the
store's multipart threshold are uploaded in parts.`,
	Args: cobra.ExactArgs(1),
	RunE: runPut,
}

var getCmd = &cobra.Command{
	Use:   "get KEY",
	Short: "Fetch an array and write its raw bytes",
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

var infoCmd = &cobra.Command{
	Use:   "info KEY",
	Short: "Print the stored metadata of an array",
	Args:  cobra.ExactArgs(1),
	RunE:  runInfo,
}

var lsCmd = &cobra.Command{
	Use:   "ls [PREFIX]",
	Short: "List keys under a prefix",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runList,
}

var rmCmd = &cobra.Command{
	Use:   "rm NAME",
	Short: "Delete an object, or everything below it with -r",
	Args:  cobra.ExactArgs(1),
	RunE:  runRemove,
}

func addInputFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringP("input", "i", "-", "Raw input file (- for stdin)")
	f.String("dtype", "<f8", "Element type, e.g. <f8, >i4, |u1 or float32")
	f.String("shape", "", "Comma separated shape, empty for a scalar")
	f.String("order", "C", "Memory order of the input (C or F)")
}

func init() {
	rootCmd.AddCommand(putCmd, getCmd, infoCmd, lsCmd, rmCmd)

	addInputFlags(putCmd)
	putCmd.MarkFlagRequired("shape")
	getCmd.Flags().StringP("output", "o", "-", "Output file (- for stdout)")
	rmCmd.Flags().BoolP("recursive", "r", false, "Delete every key below NAME")
}

func runPut(cmd *cobra.Command, args []string) error {
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

	client, store, err := openClient(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	w, err := client.PutArray(ctx, args[0], arr)
	if err != nil {
		return err
	}
	logger.Info().
		Str("key", w.Key).
		Str("size", humanize.IBytes(uint64(w.Size))).
		Str("compression", string(w.Metadata.Compression)).
		Str("digest", w.Digest).
		Msg("stored array")
	return nil
}

func runGet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	output, _ := cmd.Flags().GetString("output")

	client, store, err := openClient(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	arr, err := client.GetArray(ctx, args[0])
	if err != nil {
		return err
	}
	order, _ := arr.Layout()
	logger.Info().
		Str("key", args[0]).
		Str("dtype", arr.DType().String()).
		Ints("shape", arr.Shape()).
		Str("order", order.String()).
		Msg("fetched array")
	return writeRaw(output, arr)
}

func runInfo(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	client, store, err := openClient(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	info, md, err := client.Info(ctx, args[0])
	if err != nil {
		return err
	}
	return printJSON(cmd, map[string]any{
		"key":         info.Key,
		"size":        info.Size,
		"etag":        info.ETag,
		"dtype":       md.DType.String(),
		"shape":       md.Shape,
		"order":       md.Order.String(),
		"compression": md.Compression,
		"encryption":  md.Encryption,
		"extra":       md.Extra,
	})
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	client, store, err := openClient(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	prefix := ""
	if len(args) == 1 {
		prefix = args[0]
	}
	keys, err := client.List(ctx, prefix)
	if err != nil {
		return err
	}
	for _, k := range keys {
		fmt.Fprintln(cmd.OutOrStdout(), k)
	}
	return nil
}

func runRemove(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	recursive, _ := cmd.Flags().GetBool("recursive")

	client, store, err := openClient(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	n, err := client.Remove(ctx, args[0], recursive)
	if err != nil {
		return err
	}
	logger.Info().Str("name", args[0]).Int("objects", n).Msg("removed")
	return nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
