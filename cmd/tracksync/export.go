package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/apprise/tracksync/internal/snapshot"
	"github.com/apprise/tracksync/internal/ui"
)

var exportCmd = &cobra.Command{
	Use:     "export [file]",
	GroupID: "data",
	Short:   "Export the record store as JSONL",
	Long: `Export every active record as one JSON object per line, users first,
then clients, projects and tasks.

Without a file the snapshot is written to stdout.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		if len(args) == 0 {
			_, err := snapshot.Export(ctx, db, cmd.OutOrStdout())
			return err
		}

		result, err := snapshot.ExportFile(ctx, db, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "%s Exported %d records to %s\n", ui.RenderPass("✓"), result.Records, args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
}
