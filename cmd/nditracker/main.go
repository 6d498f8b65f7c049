package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tracklab/nditracker/internal/cli"
)

// Set via ldflags at build time.
var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "nditracker",
	Short: "Optical and electromagnetic pose tracking service",
	Long:  "nditracker drives NDI measurement controllers over serial and streams tool poses to WebSocket clients.",
	// SilenceUsage prevents printing usage on every error
	SilenceUsage: true,
}

func init() {
	rootCmd.Version = version
	rootCmd.SetVersionTemplate(fmt.Sprintf("nditracker version %s\n", version))

	rootCmd.AddCommand(cli.NewRunCmd())
	rootCmd.AddCommand(cli.NewPortsCmd())
	rootCmd.AddCommand(cli.NewBeepCmd())
	rootCmd.AddCommand(cli.NewRomCmd())
}
