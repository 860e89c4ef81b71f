package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/apprise/tracksync/internal/schema"
	"github.com/apprise/tracksync/internal/ui"
)

var listCmd = &cobra.Command{
	Use:     "list <users|clients|projects>",
	GroupID: "data",
	Short:   "List active records of a kind",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := schema.ParseKind(args[0])
		if err != nil {
			return err
		}
		if kind == schema.KindTask {
			return fmt.Errorf("use 'tracksync tasks' to list tasks")
		}

		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		recs, err := db.ListActive(cmd.Context(), kind)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if jsonOutput {
			return outputJSON(out, recs)
		}
		if len(recs) == 0 {
			fmt.Fprintln(out, ui.RenderMuted("No "+kind.Plural()))
			return nil
		}

		rows := [][]string{{"ID", "REMOTE", "NAME", "SYNCED"}}
		for _, rec := range recs {
			name := rec.Name
			if kind == schema.KindProject {
				name = rec.ClientProjectName
			}
			remote := "-"
			if rec.HasRemoteID() {
				remote = fmt.Sprint(rec.RemoteID)
			}
			synced := ui.RenderPass("yes")
			if rec.Dirty {
				synced = ui.RenderWarn("pending")
			}
			rows = append(rows, []string{fmt.Sprint(rec.LocalID), remote, name, synced})
		}
		fmt.Fprint(out, ui.Table(rows))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
