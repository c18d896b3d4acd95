// Package main provides the greeneval command line tool.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	apperrors "github.com/ricesearch/greeneval/internal/pkg/errors"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Exit statuses by error class.
const (
	exitError   = 1
	exitInput   = 2
	exitConfig  = 3
	exitMissing = 4
)

func main() {
	os.Exit(exitCode(newRootCmd().Execute()))
}

// exitCode maps a command error to the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case apperrors.IsValidation(err), apperrors.IsFormat(err):
		return exitInput
	case apperrors.IsConfiguration(err):
		return exitConfig
	case apperrors.IsNotFound(err):
		return exitMissing
	default:
		return exitError
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "greeneval",
		Short: "greeneval - retrieval evaluation with a carbon bill",
		Long: `greeneval synthesizes relevance judgments, scores ranking models with
nDCG and Precision, and prices every experiment run in grams of CO2e.

Run 'greeneval run --dataset cranfield' to evaluate a model.
Run 'greeneval serve' to start the HTTP API.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().String("format", "text", "output format (text, json)")

	rootCmd.AddCommand(
		preprocessCmd(),
		querygenCmd(),
		qrelsCmd(),
		evaluateCmd(),
		runCmd(),
		costCmd(),
		runsCmd(),
		serveCmd(),
		versionCmd(),
	)
	return rootCmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "greeneval %s\n", version)
			fmt.Fprintf(out, "  commit: %s\n", commit)
			fmt.Fprintf(out, "  built:  %s\n", date)
		},
	}
}
