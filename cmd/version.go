// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/LeeDigitalWorks/zaparray/pkg/compression"
	"github.com/LeeDigitalWorks/zaparray/pkg/objstore"

	"github.com/spf13/cobra"
)

// Build-time variables (set via -ldflags)
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func init() {
	rootCmd.AddCommand(versionCmd)

	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("zaparray {{.Version}}\n")
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "zaparray %s\n", Version)
		fmt.Fprintf(out, "  Git commit:  %s\n", GitCommit)
		fmt.Fprintf(out, "  Built:       %s\n", BuildDate)
		fmt.Fprintf(out, "  Go version:  %s\n", runtime.Version())
		fmt.Fprintf(out, "  OS/Arch:     %s/%s\n", runtime.GOOS, runtime.GOARCH)
		fmt.Fprintf(out, "  Codecs:      %s\n", strings.Join(compression.Available(), ", "))
		fmt.Fprintf(out, "  Stores:      %s\n", strings.Join(objstore.Types(), ", "))
	},
}
