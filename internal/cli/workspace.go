package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"odzai/internal/core"
	applog "odzai/internal/log"
	"odzai/internal/storage"
	"odzai/internal/workspace"
)

type workspaceJSON struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	DisplayName  string `json:"displayName,omitempty"`
	OriginalName string `json:"originalName,omitempty"`
	Current      bool   `json:"current"`
	Default      bool   `json:"default"`
}

func toWorkspaceJSON(ws core.Workspace, currentID, defaultID string) workspaceJSON {
	return workspaceJSON{
		ID:           ws.ID,
		Name:         ws.Name,
		DisplayName:  ws.DisplayName,
		OriginalName: ws.OriginalName,
		Current:      ws.ID != "" && ws.ID == currentID,
		Default:      ws.ID != "" && ws.ID == defaultID,
	}
}

// persistedSelection reads the stored current and default ids without resolving the session.
func persistedSelection(app *App) (current, def string) {
	current, _ = storage.Get[string](app.Store, workspace.KeyCurrentWorkspace, storage.Durable)
	def, _ = storage.Get[string](app.Store, workspace.KeyDefaultWorkspace, storage.Durable)
	return current, def
}

func newWorkspaceCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "budget",
		Aliases: []string{"workspace", "ws"},
		Short:   "Open, switch and inspect budgets",
		Long: `Manage the budget this client works on.

The selected budget is remembered between runs. On startup odzai resumes it,
falling back to the server-side default budget.`,
	}
	cmd.AddCommand(
		newWorkspaceListCmd(o),
		newWorkspaceCurrentCmd(o),
		newWorkspaceLoadCmd(o),
		newWorkspaceSwitchCmd(o),
		newWorkspaceRefreshCmd(o),
		newWorkspaceRenameCmd(o),
		newWorkspaceDefaultCmd(o),
	)
	return cmd
}

func newWorkspaceListCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List available budgets",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(cmd, func(ctx context.Context, app *App) error {
				list, err := app.Workspaces.ListWorkspaces(ctx)
				if err != nil {
					return err
				}
				current, def := persistedSelection(app)

				if o.jsonOutput {
					out := make([]workspaceJSON, 0, len(list))
					for _, ws := range list {
						out = append(out, toWorkspaceJSON(ws, current, def))
					}
					return outputJSON(cmd.OutOrStdout(), out)
				}

				w := cmd.OutOrStdout()
				if len(list) == 0 {
					PrintEmptyState(w, "No budgets found")
					return nil
				}
				rows := make([][]string, 0, len(list))
				for _, ws := range list {
					var tags []string
					if ws.ID == current {
						tags = append(tags, "current")
					}
					if ws.ID == def {
						tags = append(tags, "default")
					}
					rows = append(rows, []string{ws.ID, ws.Label(), ws.Name, strings.Join(tags, ",")})
				}
				PrintTable(w, []string{"ID", "Name", "Canonical", ""}, rows)
				return nil
			})
		},
	}
}

func newWorkspaceCurrentCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "current",
		Short: "Resolve and show the current budget",
		Long: `Resolve the budget to work on and show it.

Resolution order: the server default when --force-default is set, the
remembered selection, the server default. --clear-workspace forgets the
remembered selection first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(cmd, func(ctx context.Context, app *App) error {
				_, err := app.CurrentWorkspace(ctx)
				st := app.Workspaces.State()
				if err != nil && !errors.Is(err, workspace.ErrNoWorkspace) {
					return err
				}

				if o.jsonOutput {
					out := struct {
						Status    string         `json:"status"`
						Workspace *workspaceJSON `json:"workspace,omitempty"`
						DefaultID string         `json:"defaultId,omitempty"`
					}{Status: st.Status.String(), DefaultID: st.DefaultID}
					if st.Loaded() {
						ws := toWorkspaceJSON(st.Workspace, st.CurrentID(), st.DefaultID)
						out.Workspace = &ws
					}
					return outputJSON(cmd.OutOrStdout(), out)
				}

				w := cmd.OutOrStdout()
				if !st.Loaded() {
					PrintEmptyState(w, "No budget loaded. Use 'odzai budget load <id>' to open one.")
					return nil
				}
				PrintSection(w, st.Workspace.Label())
				PrintLabelValue(w, "ID", st.Workspace.ID)
				PrintLabelValue(w, "Name", st.Workspace.Name)
				PrintLabelValue(w, "Default", yesNo(app.Workspaces.IsDefaultWorkspace(st.Workspace.ID)))
				return nil
			})
		},
	}
}

func newWorkspaceLoadCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "load <budget-id>",
		Short: "Open a budget and remember it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(cmd, func(ctx context.Context, app *App) error {
				if err := app.Workspaces.LoadWorkspace(ctx, args[0]); err != nil {
					return err
				}
				return printLoaded(cmd, o, app)
			})
		},
	}
}

func newWorkspaceSwitchCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "switch <budget-id>",
		Short: "Switch to another budget, dropping cached data of the current one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(cmd, func(ctx context.Context, app *App) error {
				if _, err := app.CurrentWorkspace(ctx); err != nil && !errors.Is(err, workspace.ErrNoWorkspace) {
					app.Logger.WarnContext(ctx, "Could not resume the previous budget", applog.FieldError, err)
				}
				if err := app.Workspaces.SwitchWorkspace(ctx, args[0]); err != nil {
					return err
				}
				return printLoaded(cmd, o, app)
			})
		},
	}
}

func newWorkspaceRefreshCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Re-read the current budget from the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(cmd, func(ctx context.Context, app *App) error {
				if _, err := app.CurrentWorkspace(ctx); err != nil {
					return err
				}
				if err := app.Workspaces.RefreshCurrentWorkspace(ctx); err != nil {
					return err
				}
				return printLoaded(cmd, o, app)
			})
		},
	}
}

func newWorkspaceRenameCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <budget-id> <display-name>",
		Short: "Set the name this client shows for a budget",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(cmd, func(ctx context.Context, app *App) error {
				if err := app.Workspaces.SetDisplayName(args[0], args[1]); err != nil {
					return err
				}
				if o.jsonOutput {
					return outputJSON(cmd.OutOrStdout(), map[string]string{"id": args[0], "displayName": args[1]})
				}
				PrintSuccess(cmd.OutOrStdout(), fmt.Sprintf("Budget %s is now shown as %q", args[0], args[1]))
				return nil
			})
		},
	}
}

func newWorkspaceDefaultCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "default",
		Short: "Manage the server-side default budget",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "set <budget-id>",
			Short: "Make a budget the default",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return o.withApp(cmd, func(ctx context.Context, app *App) error {
					return app.Workspaces.SetAsDefaultWorkspace(ctx, args[0])
				})
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Remove the default budget",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return o.withApp(cmd, func(ctx context.Context, app *App) error {
					return app.Workspaces.ClearDefaultWorkspace(ctx)
				})
			},
		},
	)
	return cmd
}

func printLoaded(cmd *cobra.Command, o *rootOptions, app *App) error {
	st := app.Workspaces.State()
	if o.jsonOutput {
		return outputJSON(cmd.OutOrStdout(), toWorkspaceJSON(st.Workspace, st.CurrentID(), st.DefaultID))
	}
	PrintLabelValue(cmd.OutOrStdout(), "Current", fmt.Sprintf("%s (%s)", st.Workspace.Label(), st.Workspace.ID))
	return nil
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
