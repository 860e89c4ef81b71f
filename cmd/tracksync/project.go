package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/apprise/tracksync/internal/schema"
	"github.com/apprise/tracksync/internal/store"
	"github.com/apprise/tracksync/internal/ui"
)

var projectCmd = &cobra.Command{
	Use:     "project",
	GroupID: "data",
	Short:   "Manage projects locally",
}

var projectCreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create a project",
	Long: `Create a project, optionally under a client. The project is listed as
"<client> - <project>".

Without a name on an interactive terminal, a form asks for the name and the
client and shows the resulting label before anything is stored.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		clientID, _ := cmd.Flags().GetInt64("client")
		name := ""
		if len(args) == 1 {
			name = strings.TrimSpace(args[0])
		}

		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		if name == "" {
			if !ui.IsTerminal(os.Stdin) || jsonOutput {
				return fmt.Errorf("project name is required")
			}
			var ok bool
			name, clientID, ok, err = promptProject(ctx, db, clientID)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(out, ui.RenderMuted("Cancelled, nothing was created"))
				return nil
			}
		}

		if clientID != 0 {
			if _, err := db.FindByLocalID(ctx, schema.KindClient, clientID); err != nil {
				return fmt.Errorf("client %d: %w", clientID, err)
			}
		}

		created, err := db.Create(ctx, &schema.Record{
			Kind:          schema.KindProject,
			Name:          name,
			ClientLocalID: clientID,
		})
		if err != nil {
			return err
		}

		if jsonOutput {
			return outputJSON(out, created)
		}
		fmt.Fprintf(out, "%s Created project %d: %s\n", ui.RenderPass("✓"), created.LocalID, created.ClientProjectName)
		return nil
	},
}

// promptProject asks for the project name and client, then for confirmation
// of the resulting label. ok is false when the user cancelled.
func promptProject(ctx context.Context, db *store.DB, clientID int64) (name string, client int64, ok bool, err error) {
	clients, err := db.ListActive(ctx, schema.KindClient)
	if err != nil {
		return "", 0, false, err
	}

	options := []huh.Option[int64]{huh.NewOption("(no client)", int64(0))}
	names := map[int64]string{}
	for _, c := range clients {
		options = append(options, huh.NewOption(c.Name, c.LocalID))
		names[c.LocalID] = c.Name
	}

	client = clientID
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Project name").
				Value(&name).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return errors.New("name cannot be empty")
					}
					if len(s) > 255 {
						return errors.New("name must be 255 characters or less")
					}
					return nil
				}),
			huh.NewSelect[int64]().
				Title("Client").
				Options(options...).
				Value(&client),
		),
	)
	if err := form.RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return "", 0, false, nil
		}
		return "", 0, false, err
	}
	name = strings.TrimSpace(name)

	confirm := huh.NewConfirm().
		Title("Create " + schema.CompositeLabel(names[client], name) + "?").
		Affirmative("Create").
		Negative("Cancel").
		Value(&ok)
	if err := confirm.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return "", 0, false, nil
		}
		return "", 0, false, err
	}
	return name, client, ok, nil
}

func init() {
	projectCreateCmd.Flags().Int64P("client", "c", 0, "Local id of the client")

	projectCmd.AddCommand(projectCreateCmd)
	rootCmd.AddCommand(projectCmd)
}
