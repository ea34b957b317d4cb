// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"github.com/LeeDigitalWorks/zaparray/pkg/logger"
	"github.com/LeeDigitalWorks/zaparray/pkg/sparse"

	"github.com/spf13/cobra"
)

var sparseCmd = &cobra.Command{
	Use:   "sparse",
	Short: "Sparse matrix operations",
}

var sparseInfoCmd = &cobra.Command{
	Use:   "info PREFIX",
	Short: "Print the manifest of a stored sparse matrix",
	Args:  cobra.ExactArgs(1),
	RunE:  runSparseInfo,
}

var sparseDenseCmd = &cobra.Command{
	Use:   "dense PREFIX",
	Short: "Load a sparse matrix and write it as a dense row-major array",
	Args:  cobra.ExactArgs(1),
	RunE:  runSparseDense,
}

var sparseRmCmd = &cobra.Command{
	Use:   "rm PREFIX",
	Short: "Delete a sparse matrix and its constituents",
	Args:  cobra.ExactArgs(1),
	RunE:  runSparseRemove,
}

func init() {
	rootCmd.AddCommand(sparseCmd)
	sparseCmd.AddCommand(sparseInfoCmd, sparseDenseCmd, sparseRmCmd)

	sparseDenseCmd.Flags().StringP("output", "o", "-", "Output file (- for stdout)")
}

func runSparseInfo(cmd *cobra.Command, args []string) error {
	client, store, err := openClient(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	m, err := sparse.ReadManifest(cmd.Context(), client, args[0])
	if err != nil {
		return err
	}
	return printJSON(cmd, m)
}

func runSparseDense(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	output, _ := cmd.Flags().GetString("output")

	client, store, err := openClient(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	m, err := sparse.Get(ctx, client, args[0])
	if err != nil {
		return err
	}
	dense, err := sparse.ToDense(m)
	if err != nil {
		return err
	}
	logger.Info().
		Str("prefix", args[0]).
		Str("family", string(m.Family())).
		Str("dtype", dense.DType().String()).
		Ints("shape", dense.Shape()).
		Msg("densified sparse matrix")
	return writeRaw(output, dense)
}

func runSparseRemove(cmd *cobra.Command, args []string) error {
	client, store, err := openClient(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	return sparse.Delete(cmd.Context(), client, args[0])
}
