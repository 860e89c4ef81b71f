package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/apprise/tracksync/internal/schema"
	"github.com/apprise/tracksync/internal/store"
	"github.com/apprise/tracksync/internal/ui"
)

type kindStatus struct {
	Kind     string `json:"kind"`
	Total    int    `json:"total"`
	Dirty    int    `json:"dirty"`
	SyncMark int64  `json:"sync_mark"`
}

type storeStatus struct {
	Path   string       `json:"path"`
	User   string       `json:"user,omitempty"`
	Remote string       `json:"remote,omitempty"`
	Kinds  []kindStatus `json:"kinds"`
}

func collectStatus(ctx context.Context, db *store.DB) (*storeStatus, error) {
	st := &storeStatus{Path: db.Path(), Remote: cfg.Remote.URL}

	user, err := db.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	if user != nil {
		st.User = user.Name
	}

	for _, kind := range schema.Kinds() {
		total, err := db.Count(ctx, kind)
		if err != nil {
			return nil, err
		}
		dirty, err := db.CountDirty(ctx, kind)
		if err != nil {
			return nil, err
		}
		mark, err := db.SyncMark(ctx, kind)
		if err != nil {
			return nil, err
		}
		st.Kinds = append(st.Kinds, kindStatus{Kind: kind.Plural(), Total: total, Dirty: dirty, SyncMark: mark})
	}
	return st, nil
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show record counts and pending local changes",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		st, err := collectStatus(cmd.Context(), db)
		if err != nil {
			return err
		}

		if jsonOutput {
			return outputJSON(out, st)
		}

		fmt.Fprintf(out, "\n%s tracksync status\n\n", ui.RenderAccent("📊"))
		fmt.Fprintf(out, "  Store:  %s\n", st.Path)
		remote := st.Remote
		if remote == "" {
			remote = ui.RenderMuted("(not configured)")
		}
		fmt.Fprintf(out, "  Remote: %s\n", remote)
		user := st.User
		if user == "" {
			user = ui.RenderMuted("(none, run sync to sign in)")
		}
		fmt.Fprintf(out, "  User:   %s\n\n", user)

		pending := 0
		rows := [][]string{{"KIND", "TOTAL", "DIRTY", "MARK"}}
		for _, k := range st.Kinds {
			dirty := fmt.Sprint(k.Dirty)
			if k.Dirty > 0 {
				dirty = ui.RenderWarn(dirty)
			}
			rows = append(rows, []string{k.Kind, fmt.Sprint(k.Total), dirty, fmt.Sprint(k.SyncMark)})
			pending += k.Dirty
		}
		fmt.Fprint(out, ui.Table(rows))
		fmt.Fprintln(out)

		if pending == 0 {
			fmt.Fprintf(out, "%s Everything is synced\n", ui.RenderPass("✓"))
		} else {
			fmt.Fprintf(out, "%s %d local change(s) waiting for the next sync\n", ui.RenderWarn("⚠"), pending)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
