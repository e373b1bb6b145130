package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"odzai/internal/storage"
)

func newStorageCmd(o *rootOptions) *cobra.Command {
	var session bool
	tier := func() storage.Tier {
		if session {
			return storage.Session
		}
		return storage.Durable
	}

	cmd := &cobra.Command{
		Use:   "storage",
		Short: "Inspect and edit persisted client state",
		Long: `Inspect and edit the key-value state odzai persists between runs.

Keys live in the durable tier unless --session is given. The session tier only
lasts for the current process, so it is mostly useful together with other flags
in scripts.`,
	}
	cmd.PersistentFlags().BoolVar(&session, "session", false, "Use the session tier instead of the durable one")

	getCmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Print the value stored under a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(cmd, func(ctx context.Context, app *App) error {
				v, ok := app.Store.Get(args[0], tier())
				if !ok {
					return fmt.Errorf("key %q not found in %s storage", args[0], tier())
				}
				if o.jsonOutput {
					out := map[string]any{"key": args[0], "tier": tier().String(), "value": v.String()}
					return outputJSON(cmd.OutOrStdout(), out)
				}
				fmt.Fprintln(cmd.OutOrStdout(), v.String())
				return nil
			})
		},
	}

	setCmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Store a value under a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(cmd, func(ctx context.Context, app *App) error {
				if err := app.Store.Set(args[0], args[1], tier()); err != nil {
					return err
				}
				if !o.jsonOutput {
					PrintSuccess(cmd.OutOrStdout(), fmt.Sprintf("Stored %s", args[0]))
				}
				return nil
			})
		},
	}

	rmCmd := &cobra.Command{
		Use:     "rm <key>...",
		Aliases: []string{"remove"},
		Short:   "Remove keys",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(cmd, func(ctx context.Context, app *App) error {
				for _, key := range args {
					app.Store.Remove(key, tier())
				}
				if !o.jsonOutput {
					PrintSuccess(cmd.OutOrStdout(), fmt.Sprintf("Removed %s", PrintCount(len(args), "key", "keys")))
				}
				return nil
			})
		},
	}

	keysCmd := &cobra.Command{
		Use:     "keys",
		Aliases: []string{"ls"},
		Short:   "List stored keys",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(cmd, func(ctx context.Context, app *App) error {
				keys := app.Store.Keys(tier())
				if o.jsonOutput {
					return outputJSON(cmd.OutOrStdout(), keys)
				}
				if len(keys) == 0 {
					PrintEmptyState(cmd.OutOrStdout(), "No keys stored")
					return nil
				}
				for _, k := range keys {
					fmt.Fprintln(cmd.OutOrStdout(), k)
				}
				return nil
			})
		},
	}

	var yes bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every key of the tier",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to clear %s storage without --yes", tier())
			}
			return o.withApp(cmd, func(ctx context.Context, app *App) error {
				app.Store.Clear(tier())
				if !o.jsonOutput {
					PrintWarning(cmd.OutOrStdout(), fmt.Sprintf("Cleared %s storage", tier()))
				}
				return nil
			})
		},
	}
	clearCmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm clearing")

	cmd.AddCommand(getCmd, setCmd, rmCmd, keysCmd, clearCmd)
	return cmd
}
