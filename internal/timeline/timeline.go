// Package timeline builds the day-by-day task list shown to the user.
//
// The list covers today and the user's task retention window: a retention
// of N days shows today plus the N days before it. Each day with tasks gets
// a section headed by its short date and the day's total duration:
//
//	10. Jun, Mon (02:45 h)
//
// Running tasks (negative duration) are listed but not counted in totals.
package timeline

import (
	"context"
	"fmt"
	"time"

	"github.com/apprise/tracksync/internal/schema"
)

// NoDescription is displayed for tasks without a description.
const NoDescription = "(no description)"

// Source provides the tasks started on a calendar day. *store.DB implements
// Source.
type Source interface {
	TasksForDay(ctx context.Context, day time.Time) ([]*schema.Record, error)
}

// Section is one day of the task list.
type Section struct {
	Day    time.Time
	Header string
	Tasks  []*schema.Record
	Total  int64 // seconds, running tasks excluded
}

// QueryDays returns the days to query for a user, newest first:
// today, today-1, ..., today-N for a retention of N days. With no user
// nothing is queried.
func QueryDays(now time.Time, user *schema.Record) []time.Time {
	if user == nil {
		return nil
	}
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, now.Location())

	days := make([]time.Time, 0, user.RetentionDays+1)
	for i := 0; i <= user.RetentionDays; i++ {
		days = append(days, today.AddDate(0, 0, -i))
	}
	return days
}

// TotalDuration sums the durations of the tasks, skipping running tasks.
func TotalDuration(tasks []*schema.Record) int64 {
	var total int64
	for _, t := range tasks {
		if t.Duration > 0 {
			total += t.Duration
		}
	}
	return total
}

// Sections queries every day in the user's window and returns a section for
// each day that has tasks.
func Sections(ctx context.Context, src Source, user *schema.Record, now time.Time) ([]Section, error) {
	var sections []Section
	for _, day := range QueryDays(now, user) {
		tasks, err := src.TasksForDay(ctx, day)
		if err != nil {
			return nil, fmt.Errorf("failed to load tasks for %s: %w", day.Format("2006-01-02"), err)
		}
		if len(tasks) == 0 {
			continue
		}
		total := TotalDuration(tasks)
		sections = append(sections, Section{
			Day:    day,
			Header: Header(day, total),
			Tasks:  tasks,
			Total:  total,
		})
	}
	return sections, nil
}

// Header returns the section header for a day.
func Header(day time.Time, total int64) string {
	return ShortDate(day) + " (" + FormatHM(total) + " h)"
}

// ShortDate formats a day as "10. Jun, Mon".
func ShortDate(t time.Time) string {
	return t.Format("02. Jan, Mon")
}

// FormatHM formats seconds as "HH:MM". Hours wrap at 24.
func FormatHM(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", (seconds/3600)%24, (seconds/60)%60)
}

// FormatHMS formats seconds as "HH:MM:SS". Hours wrap at 24.
func FormatHMS(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", (seconds/3600)%24, (seconds/60)%60, seconds%60)
}

// Elapsed returns the seconds to display for a task: its duration, or the
// time since its start while it is running.
func Elapsed(task *schema.Record, now time.Time) int64 {
	if !task.IsRunning() {
		return task.Duration
	}
	if task.Start.IsZero() || now.Before(task.Start) {
		return 0
	}
	return int64(now.Sub(task.Start) / time.Second)
}

// Description returns the task description or NoDescription.
func Description(task *schema.Record) string {
	if task.Description == nil {
		return NoDescription
	}
	return *task.Description
}
