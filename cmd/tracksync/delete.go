package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/apprise/tracksync/internal/schema"
	"github.com/apprise/tracksync/internal/ui"
)

var deleteCmd = &cobra.Command{
	Use:     "delete <kind> <local-id>",
	GroupID: "data",
	Short:   "Delete a client, project or task",
	Long: `Delete a record.

A record that was never synced is removed immediately and the remote
service never hears of it. A synced record disappears from listings at once
and is deleted remotely on the next sync.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := schema.ParseKind(args[0])
		if err != nil {
			return err
		}
		if kind == schema.KindUser {
			return fmt.Errorf("users cannot be deleted locally")
		}
		id, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %s id %q", kind, args[1])
		}

		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		tombstoned, err := db.MarkDeleted(cmd.Context(), kind, id)
		if err != nil {
			return err
		}

		if jsonOutput {
			return outputJSON(cmd.OutOrStdout(), map[string]interface{}{
				"kind":           kind,
				"local_id":       id,
				"pending_remote": tombstoned,
			})
		}
		if tombstoned {
			fmt.Fprintf(cmd.OutOrStdout(), "%s Deleted %s %d (removed remotely on next sync)\n", ui.RenderPass("✓"), kind, id)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "%s Deleted %s %d\n", ui.RenderPass("✓"), kind, id)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}
