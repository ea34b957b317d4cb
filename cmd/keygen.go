// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"os"

	"github.com/LeeDigitalWorks/zaparray/pkg/encryption"
	"github.com/LeeDigitalWorks/zaparray/pkg/utils"

	"github.com/spf13/cobra"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate an age key pair for encrypted arrays",
	Long: `Generate an age X25519 key pair. The identity is written to --output (or
printed) and the public key is printed for use with --recipient.`,
	Args: cobra.NoArgs,
	RunE: runKeygen,
}

func init() {
	rootCmd.AddCommand(keygenCmd)
	keygenCmd.Flags().StringP("output", "o", "", "Write the identity to this file instead of stdout")
}

func runKeygen(cmd *cobra.Command, args []string) error {
	kp, err := encryption.GenerateKeypair()
	if err != nil {
		return err
	}
	identity := fmt.Sprintf("# public key: %s\n%s\n", kp.PublicKey, kp.PrivateKey)

	path, _ := cmd.Flags().GetString("output")
	if path == "" {
		fmt.Fprint(cmd.OutOrStdout(), identity)
		return nil
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	if err := utils.WriteFileAtomic(path, []byte(identity), 0o600); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Public key: %s\n", kp.PublicKey)
	return nil
}
