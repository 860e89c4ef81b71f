package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/apprise/tracksync/internal/schema"
	"github.com/apprise/tracksync/internal/timeline"
	"github.com/apprise/tracksync/internal/ui"
)

// now is overridden in tests.
var now = time.Now

type taskJSON struct {
	LocalID     int64     `json:"local_id"`
	RemoteID    int64     `json:"remote_id,omitempty"`
	Description string    `json:"description"`
	Project     string    `json:"project,omitempty"`
	Start       time.Time `json:"start"`
	Seconds     int64     `json:"seconds"`
	Running     bool      `json:"running,omitempty"`
	Dirty       bool      `json:"dirty,omitempty"`
}

type sectionJSON struct {
	Day    string     `json:"day"`
	Header string     `json:"header"`
	Total  int64      `json:"total_seconds"`
	Tasks  []taskJSON `json:"tasks"`
}

var tasksCmd = &cobra.Command{
	Use:     "tasks",
	GroupID: "data",
	Short:   "List tasks by day",
	Long: `List tasks grouped by day, newest first.

Without --date, every day in the signed-in user's retention window is shown
(today back to today minus task_retention_days). Nothing is listed until a
sync has brought in the user.

--date accepts "2024-06-10", "yesterday", "last monday" and similar.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()
		t := now()

		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		var sections []timeline.Section
		if date, _ := cmd.Flags().GetString("date"); date != "" {
			day, err := parseWhen(date, t)
			if err != nil {
				return err
			}
			tasks, err := db.TasksForDay(ctx, day)
			if err != nil {
				return err
			}
			if len(tasks) > 0 {
				total := timeline.TotalDuration(tasks)
				sections = append(sections, timeline.Section{
					Day:    day,
					Header: timeline.Header(day, total),
					Tasks:  tasks,
					Total:  total,
				})
			}
		} else {
			user, err := db.CurrentUser(ctx)
			if err != nil {
				return err
			}
			sections, err = timeline.Sections(ctx, db, user, t)
			if err != nil {
				return err
			}
		}

		if jsonOutput {
			return outputJSON(out, sectionsJSON(sections, t))
		}
		printSections(out, sections, t)
		return nil
	},
}

func sectionsJSON(sections []timeline.Section, t time.Time) []sectionJSON {
	result := make([]sectionJSON, 0, len(sections))
	for _, s := range sections {
		sj := sectionJSON{
			Day:    s.Day.Format("2006-01-02"),
			Header: s.Header,
			Total:  s.Total,
		}
		for _, task := range s.Tasks {
			sj.Tasks = append(sj.Tasks, taskJSON{
				LocalID:     task.LocalID,
				RemoteID:    task.RemoteID,
				Description: timeline.Description(task),
				Project:     task.ClientProjectName,
				Start:       task.Start,
				Seconds:     timeline.Elapsed(task, t),
				Running:     task.IsRunning(),
				Dirty:       task.Dirty,
			})
		}
		result = append(result, sj)
	}
	return result
}

func printSections(w io.Writer, sections []timeline.Section, t time.Time) {
	if len(sections) == 0 {
		fmt.Fprintln(w, ui.RenderMuted("No tasks"))
		return
	}
	for i, s := range sections {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintln(w, ui.RenderHeader(s.Header))
		for _, task := range s.Tasks {
			fmt.Fprintln(w, formatTask(task, t))
		}
	}
}

// formatTask renders one task line: elapsed time, description, project and
// a marker for unsynced edits.
func formatTask(task *schema.Record, t time.Time) string {
	elapsed := timeline.FormatHMS(timeline.Elapsed(task, t))
	if task.IsRunning() {
		elapsed = ui.RenderPass(elapsed)
	}
	line := fmt.Sprintf("  %s  %s", elapsed, timeline.Description(task))
	if task.ClientProjectName != "" {
		line += "  " + ui.RenderMuted(task.ClientProjectName)
	}
	if task.Dirty {
		line += " " + ui.RenderWarn("*")
	}
	return line
}

func init() {
	tasksCmd.Flags().StringP("date", "d", "", "Show a single day")
	rootCmd.AddCommand(tasksCmd)
}
