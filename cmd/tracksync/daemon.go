package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/apprise/tracksync/internal/daemon"
	"github.com/apprise/tracksync/internal/dashboard"
	"github.com/apprise/tracksync/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Run sync passes in the background (foreground process)",
	Long: `Run the sync daemon in the foreground.

The daemon:
  - runs a pass on start and then every daemon.sync_interval
  - runs a pass shortly after the record store is changed by another
    tracksync command (debounced by daemon.debounce_interval)
  - never runs two passes at once; requests made during a pass are folded
    into it
  - finishes the running pass before exiting on Ctrl+C

With --dashboard (or dashboard.enabled) it also serves pass results over
WebSocket:
  ws://<dashboard.addr>/ws`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		if cmd.Flags().Changed("dashboard") {
			cfg.Dashboard.Enabled, _ = cmd.Flags().GetBool("dashboard")
		}
		if cmd.Flags().Changed("addr") {
			cfg.Dashboard.Addr, _ = cmd.Flags().GetString("addr")
		}

		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		coord, err := newCoordinator(db)
		if err != nil {
			return err
		}

		d, err := daemon.New(coord, db.Path(), &daemon.Config{
			SyncInterval:     cfg.Daemon.SyncInterval,
			DebounceInterval: cfg.Daemon.DebounceInterval,
			WatchStore:       cfg.Daemon.WatchStore,
			SyncOnStart:      cfg.Daemon.SyncOnStart,
			Logger:           newLogger("daemon"),
		})
		if err != nil {
			return fmt.Errorf("failed to create daemon: %w", err)
		}

		if cfg.Dashboard.Enabled {
			server := dashboard.NewServer(&dashboard.Config{
				Addr:   cfg.Dashboard.Addr,
				Logger: newLogger("dashboard"),
			})
			if err := server.Start(); err != nil {
				return fmt.Errorf("failed to start dashboard: %w", err)
			}
			defer func() {
				if err := server.Stop(); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "Error during dashboard shutdown: %v\n", err)
				}
			}()

			handler := dashboard.NewHandler(server, db, newLogger("dashboard"))
			go handler.Run(ctx, coord)

			fmt.Fprintf(out, "Dashboard: http://%s\n", server.Addr())
			fmt.Fprintf(out, "WebSocket endpoint: ws://%s/ws\n", server.Addr())
		}

		fmt.Fprintf(out, "%s Starting sync daemon for %s...\n", ui.RenderAccent("🚀"), db.Path())
		fmt.Fprintln(out, "Press Ctrl+C to stop...")

		if err := d.Run(ctx); err != nil {
			return fmt.Errorf("daemon stopped with error: %w", err)
		}

		s := d.Stats()
		fmt.Fprintf(out, "\n%s Daemon stopped after %d pass(es), %d failed\n", ui.RenderPass("✓"), s.Passes, s.Failed)
		return nil
	},
}

func init() {
	daemonCmd.Flags().Bool("dashboard", false, "Serve pass results over WebSocket")
	daemonCmd.Flags().String("addr", "", "Dashboard listen address (overrides dashboard.addr)")
	rootCmd.AddCommand(daemonCmd)
}
