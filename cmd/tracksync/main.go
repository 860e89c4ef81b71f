// Command tracksync keeps a local time-tracking dataset in sync with the
// remote service.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/apprise/tracksync/internal/config"
	"github.com/apprise/tracksync/internal/remote"
	"github.com/apprise/tracksync/internal/store"
	tsync "github.com/apprise/tracksync/internal/sync"
)

var (
	cfgFile    string
	dataDir    string
	jsonOutput bool

	// cfg is loaded before every command runs.
	cfg    *config.Config
	logOut io.Writer = os.Stderr
)

var rootCmd = &cobra.Command{
	Use:   "tracksync",
	Short: "Local-first sync for time tracking",
	Long: `tracksync keeps users, clients, projects and tasks in a local SQLite store
and reconciles them with the remote time-tracking service.

Local edits are recorded immediately and pushed on the next sync pass;
remote changes are pulled in the same pass. A local edit always wins over a
remote change to the same record.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, _, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if dataDir != "" {
			loaded.DataDir = dataDir
		}
		cfg = loaded
		logOut = cfg.LogWriter()
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: $XDG_CONFIG_HOME/tracksync/tracksync.yaml)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Directory holding the record store (overrides data_dir)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "data", Title: "Local Data Commands:"},
	)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		cancel()
		os.Exit(1)
	}
}

func newLogger(component string) *log.Logger {
	return config.NewLogger(logOut, component)
}

// openStore opens the record store named by the configuration.
func openStore() (*store.DB, error) {
	db, err := store.Open(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("failed to open record store: %w", err)
	}
	return db, nil
}

// newCoordinator builds the sync engine over db and the configured remote.
func newCoordinator(db *store.DB) (*tsync.Coordinator, error) {
	if cfg.Remote.URL == "" {
		return nil, fmt.Errorf("remote.url is not configured (set it in the config file or TRACKSYNC_REMOTE_URL)")
	}

	rc := remote.DefaultConfig()
	rc.BaseURL = cfg.Remote.URL
	rc.Token = cfg.Remote.Token
	rc.Timeout = cfg.Remote.Timeout
	rc.MaxRetries = cfg.Remote.MaxRetries

	gw, err := remote.New(rc, newLogger("remote"))
	if err != nil {
		return nil, err
	}
	return tsync.NewCoordinator(db, gw, newLogger("sync")), nil
}

func outputJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
