package cmd

import (
	"context"
	"fmt"

	"github.com/andresmejia3/facegate/internal/utils"
	"github.com/spf13/cobra"
)

var renameCmd = &cobra.Command{
	Use:   "rename <label> <new_label>",
	Short: "Rename an enrolled identity, keeping its embedding",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runRename(cmd.Context(), args[0], args[1])
	},
}

func init() {
	rootCmd.AddCommand(renameCmd)
}

func runRename(ctx context.Context, oldLabel, newLabel string) error {
	if err := validateLabel(newLabel); err != nil {
		utils.ShowError("Invalid label", err, nil)
		return err
	}
	if err := DB.RenameIdentity(ctx, oldLabel, newLabel); err != nil {
		utils.ShowError("Failed to rename identity", err, nil)
		return err
	}

	fmt.Printf("✅ '%s' is now '%s'\n", oldLabel, newLabel)
	return nil
}
