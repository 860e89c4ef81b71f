package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	tsync "github.com/apprise/tracksync/internal/sync"
	"github.com/apprise/tracksync/internal/ui"
)

// passSummary is the JSON form of a sync pass.
type passSummary struct {
	ID         string        `json:"id"`
	Success    bool          `json:"success"`
	Reason     string        `json:"reason,omitempty"`
	Error      string        `json:"error,omitempty"`
	DurationMS int64         `json:"duration_ms"`
	Kinds      []kindSummary `json:"kinds"`
}

type kindSummary struct {
	Kind      string   `json:"kind"`
	Pushed    int      `json:"pushed"`
	Applied   int      `json:"applied"`
	Removed   int      `json:"removed"`
	Conflicts int      `json:"conflicts"`
	Completed bool     `json:"completed"`
	Failures  []string `json:"failures,omitempty"`
}

func summarize(result *tsync.PassResult) passSummary {
	s := passSummary{
		ID:         result.ID,
		Success:    result.Success,
		Reason:     string(result.Reason),
		DurationMS: result.Duration.Milliseconds(),
	}
	if result.Err != nil {
		s.Error = result.Err.Error()
	}
	for _, out := range result.Outcomes {
		ks := kindSummary{
			Kind:      string(out.Kind),
			Pushed:    len(out.Succeeded),
			Applied:   out.Applied,
			Removed:   out.Removed,
			Conflicts: out.Conflicts,
			Completed: out.Completed,
		}
		for _, f := range out.Failed {
			ks.Failures = append(ks.Failures, fmt.Sprintf("%s %d: %v", out.Kind, f.LocalID, f.Err))
		}
		s.Kinds = append(s.Kinds, ks)
	}
	return s
}

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Run one sync pass against the remote service",
	Long: `Run one sync pass: for users, clients, projects and tasks in that order,
pull remote changes, push dirty local records and apply what came back.

Records that fail to push stay dirty and are retried on the next pass.
The command exits non-zero when the pass did not fully succeed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		coord, err := newCoordinator(db)
		if err != nil {
			return err
		}

		if !jsonOutput {
			fmt.Fprintf(out, "%s Syncing with %s...\n", ui.RenderAccent("🔄"), cfg.Remote.URL)
		}

		result, err := coord.RunPass(ctx)
		if result == nil {
			return err
		}

		summary := summarize(result)
		if jsonOutput {
			if jerr := outputJSON(out, summary); jerr != nil {
				return jerr
			}
		} else {
			printPass(cmd, summary, result.Duration)
		}

		if !result.Success {
			return fmt.Errorf("sync failed: %s", result.Reason)
		}
		return nil
	},
}

func printPass(cmd *cobra.Command, s passSummary, elapsed time.Duration) {
	out := cmd.OutOrStdout()

	rows := [][]string{{"KIND", "PUSHED", "APPLIED", "REMOVED", "CONFLICTS", "FAILED"}}
	for _, k := range s.Kinds {
		rows = append(rows, []string{
			k.Kind,
			fmt.Sprint(k.Pushed),
			fmt.Sprint(k.Applied),
			fmt.Sprint(k.Removed),
			fmt.Sprint(k.Conflicts),
			fmt.Sprint(len(k.Failures)),
		})
	}
	fmt.Fprintln(out)
	fmt.Fprint(out, ui.Table(rows))

	for _, k := range s.Kinds {
		for _, f := range k.Failures {
			fmt.Fprintf(out, "  %s %s\n", ui.RenderFail("✗"), f)
		}
	}
	fmt.Fprintln(out)

	if s.Success {
		fmt.Fprintf(out, "%s Sync complete in %v\n", ui.RenderPass("✓"), elapsed.Round(time.Millisecond))
		return
	}
	fmt.Fprintf(out, "%s Sync incomplete (%s)", ui.RenderWarn("⚠"), s.Reason)
	if s.Error != "" {
		fmt.Fprintf(out, ": %s", s.Error)
	}
	fmt.Fprintln(out)
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
