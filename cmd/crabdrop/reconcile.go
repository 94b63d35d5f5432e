package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the identity and disbursement tables if missing",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := loadApp(ctx, cmd, true)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.manager.Migrate(ctx); err != nil {
				return err
			}
			log.Info().Msg("Schema applied")
			return nil
		},
	}
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print disbursement totals against the cap",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := loadApp(ctx, cmd, true)
			if err != nil {
				return err
			}
			defer a.Close()

			guard, err := a.capGuard(ctx)
			if err != nil {
				return err
			}
			stats, err := a.recorder(guard, nil).Stats(ctx)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), stats)
		},
	}
}

func newPendingCmd() *cobra.Command {
	pendingCmd := &cobra.Command{
		Use:   "pending",
		Short: "List reservations that never finalized",
		Long:  "Lists pending wallet reservations older than --older-than for out-of-band reconciliation",
		RunE: func(cmd *cobra.Command, args []string) error {
			olderThan, _ := cmd.Flags().GetDuration("older-than")
			limit, _ := cmd.Flags().GetInt("limit")

			ctx := context.Background()
			a, err := loadApp(ctx, cmd, true)
			if err != nil {
				return err
			}
			defer a.Close()

			guard, err := a.capGuard(ctx)
			if err != nil {
				return err
			}
			pending, err := a.recorder(guard, nil).Pending(ctx, olderThan, limit)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), pending)
		},
	}

	pendingCmd.Flags().Duration("older-than", 15*time.Minute, "Only list reservations older than this")
	pendingCmd.Flags().Int("limit", 100, "Maximum reservations to list")

	return pendingCmd
}

func newFinalizeCmd() *cobra.Command {
	finalizeCmd := &cobra.Command{
		Use:   "finalize",
		Short: "Record the final transaction handle for a pending wallet",
		Long:  "Marks a wallet's reservation final and writes the identity receipt. Safe to repeat with the same handle.",
		RunE: func(cmd *cobra.Command, args []string) error {
			wallet, _ := cmd.Flags().GetString("wallet")
			handle, _ := cmd.Flags().GetString("tx")

			ctx := context.Background()
			a, err := loadApp(ctx, cmd, true)
			if err != nil {
				return err
			}
			defer a.Close()

			guard, err := a.capGuard(ctx)
			if err != nil {
				return err
			}
			if err := a.recorder(guard, nil).Finalize(ctx, wallet, handle); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "finalized %s with %s\n", wallet, handle)
			return nil
		},
	}

	addWalletFlag(finalizeCmd.Flags())
	finalizeCmd.Flags().String("tx", "", "Final transaction handle (required)")
	_ = finalizeCmd.MarkFlagRequired("tx")

	return finalizeCmd
}

func newReleaseCmd() *cobra.Command {
	releaseCmd := &cobra.Command{
		Use:   "release",
		Short: "Drop a pending reservation that will never finalize",
		Long:  "Deletes a pending wallet reservation and returns its cap slot. Final reservations are refused.",
		RunE: func(cmd *cobra.Command, args []string) error {
			wallet, _ := cmd.Flags().GetString("wallet")

			ctx := context.Background()
			a, err := loadApp(ctx, cmd, true)
			if err != nil {
				return err
			}
			defer a.Close()

			guard, err := a.capGuard(ctx)
			if err != nil {
				return err
			}
			if err := a.recorder(guard, nil).Release(ctx, wallet); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "released %s\n", wallet)
			return nil
		},
	}

	addWalletFlag(releaseCmd.Flags())

	return releaseCmd
}

func addWalletFlag(fs *pflag.FlagSet) {
	fs.String("wallet", "", "Wallet address of the reservation (required)")
	_ = cobra.MarkFlagRequired(fs, "wallet")
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
