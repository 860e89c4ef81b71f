package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/apprise/tracksync/internal/schema"
	"github.com/apprise/tracksync/internal/ui"
)

var clientCmd = &cobra.Command{
	Use:     "client",
	GroupID: "data",
	Short:   "Manage clients locally",
}

var clientCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a client",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := strings.TrimSpace(args[0])
		if name == "" {
			return fmt.Errorf("client name cannot be empty")
		}

		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		created, err := db.Create(cmd.Context(), &schema.Record{Kind: schema.KindClient, Name: name})
		if err != nil {
			return err
		}

		if jsonOutput {
			return outputJSON(cmd.OutOrStdout(), created)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Created client %d: %s\n", ui.RenderPass("✓"), created.LocalID, created.Name)
		return nil
	},
}

var clientRenameCmd = &cobra.Command{
	Use:   "rename <local-id> <name>",
	Short: "Rename a client (project labels follow)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid client id %q", args[0])
		}
		name := strings.TrimSpace(args[1])
		if name == "" {
			return fmt.Errorf("client name cannot be empty")
		}

		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		client, err := db.FindByLocalID(ctx, schema.KindClient, id)
		if err != nil {
			return err
		}
		old := client.Name
		client.Name = name
		if err := db.Update(ctx, client); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s Renamed client %d: %s → %s\n", ui.RenderPass("✓"), id, old, name)
		return nil
	},
}

func init() {
	clientCmd.AddCommand(clientCreateCmd)
	clientCmd.AddCommand(clientRenameCmd)
	rootCmd.AddCommand(clientCmd)
}
