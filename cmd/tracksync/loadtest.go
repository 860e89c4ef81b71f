package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/apprise/tracksync/internal/loadtest"
	"github.com/apprise/tracksync/internal/ui"
)

var loadtestCmd = &cobra.Command{
	Use:     "loadtest",
	GroupID: "sync",
	Short:   "Stress the sync engine with concurrent edits",
	Long: `Run concurrent local editors against a scratch record store while sync
passes run back to back against an in-memory remote.

The run passes when the store drains to zero dirty records and every task
matches its remote copy. Your own data directory is not touched.

Examples:
  tracksync loadtest
  tracksync loadtest --editors 20 --edits 100 --tasks 2000`,
	RunE: func(cmd *cobra.Command, args []string) error {
		editors, _ := cmd.Flags().GetInt("editors")
		edits, _ := cmd.Flags().GetInt("edits")
		projects, _ := cmd.Flags().GetInt("projects")
		tasks, _ := cmd.Flags().GetInt("tasks")

		if editors <= 0 || edits <= 0 {
			return fmt.Errorf("--editors and --edits must be positive")
		}

		dir, err := os.MkdirTemp("", "tracksync-loadtest-*")
		if err != nil {
			return fmt.Errorf("failed to create scratch dir: %w", err)
		}
		defer os.RemoveAll(dir)

		f, err := loadtest.NewFixture(cmd.Context(), filepath.Join(dir, "loadtest.db"), projects, tasks, newLogger("loadtest"))
		if err != nil {
			return err
		}
		defer f.Close()

		report, err := f.RunEditorsDuringSync(cmd.Context(), editors, edits)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if jsonOutput {
			if err := outputJSON(out, report); err != nil {
				return err
			}
			return report.Healthy()
		}

		fmt.Fprintf(out, "%s %d editors x %d edits over %d tasks\n\n", ui.RenderAccent("⚡"), editors, edits, tasks)
		report.Edits.Print(out, "Edits")
		fmt.Fprintln(out)
		report.Passes.Print(out, "Passes")
		fmt.Fprintf(out, "\nDrain passes: %d\n", report.DrainPasses)

		if err := report.Healthy(); err != nil {
			fmt.Fprintf(out, "\n%s %v\n", ui.RenderFail("✗"), err)
			return err
		}
		fmt.Fprintf(out, "\n%s Store drained, every task matches the remote\n", ui.RenderPass("✓"))
		return nil
	},
}

func init() {
	loadtestCmd.Flags().Int("editors", 10, "Number of concurrent editors")
	loadtestCmd.Flags().Int("edits", 50, "Edits per editor")
	loadtestCmd.Flags().Int("projects", 20, "Projects in the scratch store")
	loadtestCmd.Flags().Int("tasks", 500, "Tasks in the scratch store")
	rootCmd.AddCommand(loadtestCmd)
}
