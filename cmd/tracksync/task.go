package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/apprise/tracksync/internal/schema"
	"github.com/apprise/tracksync/internal/timeline"
	"github.com/apprise/tracksync/internal/ui"
)

var taskCmd = &cobra.Command{
	Use:     "task",
	GroupID: "data",
	Short:   "Add or stop tasks locally",
}

var taskAddCmd = &cobra.Command{
	Use:   "add [description]",
	Short: "Record a task",
	Long: `Record a task locally. It is pushed on the next sync.

Examples:
  tracksync task add "Code review" --project 3 --duration 45m --start "today 9am"
  tracksync task add --project 3 --running`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		t := now()

		projectID, _ := cmd.Flags().GetInt64("project")
		startFlag, _ := cmd.Flags().GetString("start")
		duration, _ := cmd.Flags().GetDuration("duration")
		running, _ := cmd.Flags().GetBool("running")

		if running && duration != 0 {
			return fmt.Errorf("--running and --duration are mutually exclusive")
		}
		if duration < 0 {
			return fmt.Errorf("--duration must not be negative")
		}

		start := t
		if startFlag != "" {
			var err error
			if start, err = parseWhen(startFlag, t); err != nil {
				return err
			}
		}

		task := &schema.Record{
			Kind:           schema.KindTask,
			Start:          start.Truncate(time.Second),
			Duration:       int64(duration / time.Second),
			ProjectLocalID: projectID,
		}
		if running {
			task.Duration = -task.Start.Unix()
		}
		if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
			task.Description = schema.StringPtr(args[0])
		}

		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		created, err := db.Create(ctx, task)
		if err != nil {
			return err
		}

		if jsonOutput {
			return outputJSON(cmd.OutOrStdout(), created)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Added task %d: %s\n", ui.RenderPass("✓"), created.LocalID, formatTask(created, t))
		return nil
	},
}

var taskStopCmd = &cobra.Command{
	Use:   "stop <local-id>",
	Short: "Stop a running task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		t := now()

		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid task id %q", args[0])
		}

		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		task, err := db.FindByLocalID(ctx, schema.KindTask, id)
		if err != nil {
			return err
		}
		if !task.IsRunning() {
			return fmt.Errorf("task %d is not running", id)
		}

		task.Duration = timeline.Elapsed(task, t)
		if err := db.Update(ctx, task); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s Stopped task %d after %s\n", ui.RenderPass("✓"), id, timeline.FormatHMS(task.Duration))
		return nil
	},
}

func init() {
	taskAddCmd.Flags().Int64P("project", "p", 0, "Local id of the project")
	taskAddCmd.Flags().StringP("start", "s", "", "Start time (default: now)")
	taskAddCmd.Flags().Duration("duration", 0, "Duration, e.g. 1h30m")
	taskAddCmd.Flags().Bool("running", false, "Start a running timer instead of a finished task")

	taskCmd.AddCommand(taskAddCmd)
	taskCmd.AddCommand(taskStopCmd)
	rootCmd.AddCommand(taskCmd)
}
