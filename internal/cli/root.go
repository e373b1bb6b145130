// Package cli holds the odzai command tree and the bootstrap helpers shared by
// cmd/odzai and cmd/odzai-proxy.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	applog "odzai/internal/log"
	"odzai/internal/workspace"
)

var version = "dev"

// SetVersion sets the version reported by --version.
func SetVersion(v string) {
	if v == "" {
		return
	}
	version = v
}

// rootOptions holds the global flags and how commands reach the data layer.
type rootOptions struct {
	configPath     string
	logLevel       string
	jsonOutput     bool
	clearWorkspace bool
	forceDefault   bool
	workspaceID    string

	openApp func(cmd *cobra.Command, o *rootOptions) (*App, error)
}

// NewRootCommand builds the odzai command tree.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&rootOptions{openApp: openDefaultApp})
}

func newRootCommand(o *rootOptions) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "odzai",
		Version: version,
		Short:   "Budget data client",
		Long: `odzai talks to the budget API on your behalf.

It keeps the current budget between runs, caches reads, and applies changes
optimistically before reconciling them with the server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	rootCmd.SetVersionTemplate("{{.Version}}\n")

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&o.configPath, "config", "", "Path to a TOML config file (default $ODZAI_CONFIG)")
	flags.StringVar(&o.logLevel, "log-level", "", "Log level: debug, info, warn or error (default from config)")
	flags.BoolVar(&o.jsonOutput, "json", false, "Output in JSON format")
	flags.BoolVar(&o.clearWorkspace, "clear-workspace", false, "Forget the persisted budget selection before starting")
	flags.BoolVar(&o.forceDefault, "force-default", false, "Open the server-side default budget even if another one was selected")
	flags.StringVarP(&o.workspaceID, "budget", "b", "", "Budget id for entity commands (default: the current budget)")

	rootCmd.AddGroup(
		&cobra.Group{ID: "session", Title: "Session:"},
		&cobra.Group{ID: "entities", Title: "Budget Data:"},
		&cobra.Group{ID: "tooling", Title: "Tooling:"},
	)

	for _, c := range []*cobra.Command{newWorkspaceCmd(o), newStorageCmd(o)} {
		c.GroupID = "session"
		rootCmd.AddCommand(c)
	}
	for _, c := range []*cobra.Command{newAccountsCmd(o), newCategoriesCmd(o), newTransactionsCmd(o)} {
		c.GroupID = "entities"
		rootCmd.AddCommand(c)
	}
	rootCmd.AddCommand(&cobra.Command{
		Use:     "version",
		Short:   "Print the odzai version",
		Args:    cobra.NoArgs,
		GroupID: "tooling",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), rootCmd.Version)
		},
	})
	rootCmd.SetHelpCommandGroupID("tooling")

	return rootCmd
}

// Execute runs the command tree until it finishes or the process is interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := NewRootCommand()
	err := cmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), formatError(err))
	}
	return err
}

func openDefaultApp(cmd *cobra.Command, o *rootOptions) (*App, error) {
	cfg, err := LoadAndValidateConfig(o.configPath)
	if err != nil {
		return nil, err
	}
	level := cfg.LogLevel
	if o.logLevel != "" {
		level = o.logLevel
	}
	logger := SetupLogger(level, cmd.ErrOrStderr())
	// A terminal has no view transition to wait for.
	cfg.NotifyDelay = 0

	return NewApp(cmd.Context(), cfg, logger, AppOptions{
		ClearPersisted: o.clearWorkspace,
		ForceDefault:   o.forceDefault,
		Notifier:       newConsoleNotifier(cmd.ErrOrStderr()),
		Navigator: workspace.NavigatorFunc(func(ctx context.Context, path string) {
			logger.DebugContext(ctx, "Navigate", applog.FieldPath, path)
		}),
	})
}

// withApp opens the data layer for one command and closes it afterwards, flushing
// pending writes.
func (o *rootOptions) withApp(cmd *cobra.Command, fn func(ctx context.Context, app *App) error) (err error) {
	app, err := o.openApp(cmd, o)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := app.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(cmd.Context(), app)
}
