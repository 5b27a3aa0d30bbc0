package cmd

import (
	"context"
	"fmt"

	"github.com/andresmejia3/facegate/internal/store"
	"github.com/andresmejia3/facegate/internal/utils"
	"github.com/spf13/cobra"
)

var removeCmd = &cobra.Command{
	Use:     "remove <label>",
	Aliases: []string{"rm"},
	Short:   "Remove an enrolled identity",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runRemove(cmd.Context(), args[0])
	},
}

func init() {
	rootCmd.AddCommand(removeCmd)
}

func runRemove(ctx context.Context, label string) error {
	existed, err := DB.DeleteIdentity(ctx, label)
	if err != nil {
		utils.ShowError("Failed to remove identity", err, nil)
		return err
	}
	if !existed {
		err := fmt.Errorf("%w: %s", store.ErrNotFound, label)
		utils.ShowError("Nothing to remove", err, nil)
		return err
	}

	fmt.Printf("🗑️  Removed '%s'\n", label)
	return nil
}
