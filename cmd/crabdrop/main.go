package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const (
	appName = "crabdrop"
	version = "v0.4.0"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Claim verification and one-time airdrop service",
		Version: version,
		Long: `crabdrop verifies identity claims against a social proof post and, once per
wallet and within a global cap, disburses a fixed token airdrop through an
external executor.

Reconciliation of pending disbursements is done out of band with the
pending, finalize and release commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, _ := cmd.Flags().GetString("log-level")
			format, _ := cmd.Flags().GetString("log-format")
			return setupLogging(os.Stderr, level, format)
		},
	}

	rootCmd.PersistentFlags().String("config", "config/crabdrop.yaml", "Path to YAML configuration")
	rootCmd.PersistentFlags().String("log-level", "", "Log level override (debug|info|warn|error)")
	rootCmd.PersistentFlags().String("log-format", "", "Log format override (auto|json|console)")

	rootCmd.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newStatsCmd(),
		newPendingCmd(),
		newFinalizeCmd(),
		newReleaseCmd(),
		newInitConfigCmd(),
	)

	return rootCmd
}

// setupLogging configures the global zerolog logger. An empty level or format
// leaves the current setting, so config values can be applied after flags.
func setupLogging(out io.Writer, level, format string) error {
	zerolog.TimeFieldFormat = time.RFC3339

	if level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(level))
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", level, err)
		}
		zerolog.SetGlobalLevel(parsed)
	}

	if format != "" {
		writer, err := logWriter(out, format)
		if err != nil {
			return err
		}
		log.Logger = zerolog.New(writer).With().Timestamp().Str("app", appName).Logger()
	}

	return nil
}

func logWriter(out io.Writer, format string) (io.Writer, error) {
	switch format {
	case "auto":
		if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			return zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}, nil
		}
		return out, nil
	case "console":
		return zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}, nil
	case "json":
		return out, nil
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
}
