package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sawpanic/crabdrop/internal/config"
)

func newInitConfigCmd() *cobra.Command {
	initCmd := &cobra.Command{
		Use:   "init-config",
		Short: "Write a default configuration file",
		Long:  "Writes the default YAML configuration. Secrets are never written; set CRABDROP_EXECUTOR_SECRET instead.",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			force, _ := cmd.Flags().GetBool("force")

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists, use --force to overwrite", path)
			}

			if err := config.Save(config.Default(), path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}

	initCmd.Flags().Bool("force", false, "Overwrite an existing file")

	return initCmd
}
