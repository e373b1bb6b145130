package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"odzai/internal/collection"
	"odzai/internal/core"
	"odzai/internal/workspace"
)

// entityKind describes how one budget entity is addressed and printed.
type entityKind[T collection.Entity[T]] struct {
	name    string
	label   string
	headers []string
	row     func(T) []string
}

var (
	accountKind = entityKind[core.Account]{
		name:    "accounts",
		label:   "account",
		headers: []string{"ID", "Name", "Balance", "Flags"},
		row: func(a core.Account) []string {
			var flags []string
			if a.OffBudget {
				flags = append(flags, "off-budget")
			}
			if a.Closed {
				flags = append(flags, "closed")
			}
			return []string{a.ID, a.Name, a.Balance.String(), strings.Join(flags, ",")}
		},
	}
	categoryKind = entityKind[core.Category]{
		name:    "categories",
		label:   "category",
		headers: []string{"ID", "Name", "Group", "Hidden"},
		row: func(c core.Category) []string {
			return []string{c.ID, c.Name, c.GroupID, yesNo(c.Hidden)}
		},
	}
	transactionKind = entityKind[core.Transaction]{
		name:    "transactions",
		label:   "transaction",
		headers: []string{"ID", "Date", "Account", "Amount", "Payee", "Category"},
		row: func(t core.Transaction) []string {
			return []string{t.ID, t.Date.String(), t.AccountID, t.Amount.String(), t.Payee, t.CategoryID}
		},
	}
)

// openCollection binds kind to the budget given with --budget, or to the current one.
func openCollection[T collection.Entity[T]](ctx context.Context, o *rootOptions, app *App, kind entityKind[T]) (*collection.Collection[T], error) {
	id := strings.TrimSpace(o.workspaceID)
	if id == "" {
		var err error
		if id, err = app.CurrentWorkspace(ctx); err != nil {
			return nil, fmt.Errorf("%w: pass --budget or run 'odzai budget load <id>'", err)
		}
	}
	return collection.NewCollection[T](app.Client, workspace.EntityPath(id, kind.name), app.CollectionOptions(kind.label)...), nil
}

func newEntityCmd[T collection.Entity[T]](o *rootOptions, kind entityKind[T], short string, extra ...*cobra.Command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   kind.name,
		Short: short,
	}
	cmd.AddCommand(newEntityListCmd(o, kind), newEntityRmCmd(o, kind))
	cmd.AddCommand(extra...)
	return cmd
}

func newEntityListCmd[T collection.Entity[T]](o *rootOptions, kind entityKind[T]) *cobra.Command {
	var fresh bool
	cmd := &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   fmt.Sprintf("List %s", kind.name),
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(cmd, func(ctx context.Context, app *App) error {
				coll, err := openCollection(ctx, o, app, kind)
				if err != nil {
					return err
				}
				var items []T
				if fresh {
					items, err = coll.Revalidate(ctx)
				} else {
					items, err = coll.Load(ctx)
				}
				if err != nil {
					return err
				}
				return printEntities(cmd, o, kind, items)
			})
		},
	}
	cmd.Flags().BoolVar(&fresh, "fresh", false, "Bypass the response cache")
	return cmd
}

func newEntityRmCmd[T collection.Entity[T]](o *rootOptions, kind entityKind[T]) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <id>...",
		Aliases: []string{"remove"},
		Short:   fmt.Sprintf("Delete %s", kind.name),
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(cmd, func(ctx context.Context, app *App) error {
				coll, err := openCollection(ctx, o, app, kind)
				if err != nil {
					return err
				}
				for _, id := range args {
					if err := coll.Remove(ctx, id); err != nil {
						return err
					}
				}
				if !o.jsonOutput {
					PrintSuccess(cmd.OutOrStdout(), fmt.Sprintf("Deleted %s", PrintCount(len(args), kind.label, kind.name)))
				}
				return nil
			})
		},
	}
}

func runCreate[T collection.Entity[T]](cmd *cobra.Command, o *rootOptions, kind entityKind[T], draft T) error {
	return o.withApp(cmd, func(ctx context.Context, app *App) error {
		coll, err := openCollection(ctx, o, app, kind)
		if err != nil {
			return err
		}
		created, err := coll.Create(ctx, draft)
		if err != nil {
			return err
		}
		return printEntity(cmd, o, kind, created, "Created")
	})
}

func runUpdate[T collection.Entity[T]](cmd *cobra.Command, o *rootOptions, kind entityKind[T], id string, patch collection.Patch[T]) error {
	return o.withApp(cmd, func(ctx context.Context, app *App) error {
		coll, err := openCollection(ctx, o, app, kind)
		if err != nil {
			return err
		}
		updated, err := coll.Update(ctx, id, patch)
		if err != nil {
			return err
		}
		return printEntity(cmd, o, kind, updated, "Updated")
	})
}

func printEntities[T collection.Entity[T]](cmd *cobra.Command, o *rootOptions, kind entityKind[T], items []T) error {
	if o.jsonOutput {
		if items == nil {
			items = []T{}
		}
		return outputJSON(cmd.OutOrStdout(), items)
	}
	if len(items) == 0 {
		PrintEmptyState(cmd.OutOrStdout(), fmt.Sprintf("No %s", kind.name))
		return nil
	}
	rows := make([][]string, 0, len(items))
	for _, it := range items {
		rows = append(rows, kind.row(it))
	}
	PrintTable(cmd.OutOrStdout(), kind.headers, rows)
	return nil
}

func printEntity[T collection.Entity[T]](cmd *cobra.Command, o *rootOptions, kind entityKind[T], item T, verb string) error {
	if o.jsonOutput {
		return outputJSON(cmd.OutOrStdout(), item)
	}
	PrintSuccess(cmd.OutOrStdout(), fmt.Sprintf("%s %s %s", verb, kind.label, item.EntityID()))
	PrintTable(cmd.OutOrStdout(), kind.headers, [][]string{kind.row(item)})
	return nil
}

func newAccountsCmd(o *rootOptions) *cobra.Command {
	var (
		name      string
		offBudget bool
		closed    bool
	)

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			draft := core.Account{Name: strings.TrimSpace(name), OffBudget: offBudget}
			if err := draft.Validate(); err != nil {
				return err
			}
			return runCreate(cmd, o, accountKind, draft)
		},
	}
	createCmd.Flags().StringVar(&name, "name", "", "Account name")
	createCmd.Flags().BoolVar(&offBudget, "offbudget", false, "Keep the account off budget")
	_ = createCmd.MarkFlagRequired("name")

	updateCmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch core.AccountPatch
			f := cmd.Flags()
			if f.Changed("name") {
				patch.Name = core.Ptr(strings.TrimSpace(name))
			}
			if f.Changed("offbudget") {
				patch.OffBudget = core.Ptr(offBudget)
			}
			if f.Changed("closed") {
				patch.Closed = core.Ptr(closed)
			}
			if patch == (core.AccountPatch{}) {
				return errNothingToUpdate
			}
			return runUpdate[core.Account](cmd, o, accountKind, args[0], patch)
		},
	}
	updateCmd.Flags().StringVar(&name, "name", "", "New account name")
	updateCmd.Flags().BoolVar(&offBudget, "offbudget", false, "Keep the account off budget")
	updateCmd.Flags().BoolVar(&closed, "closed", false, "Close the account")

	return newEntityCmd(o, accountKind, "Manage accounts of a budget", createCmd, updateCmd)
}

func newCategoriesCmd(o *rootOptions) *cobra.Command {
	var (
		name   string
		group  string
		hidden bool
	)

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a category",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			draft := core.Category{Name: strings.TrimSpace(name), GroupID: group, Hidden: hidden}
			if err := draft.Validate(); err != nil {
				return err
			}
			return runCreate(cmd, o, categoryKind, draft)
		},
	}
	createCmd.Flags().StringVar(&name, "name", "", "Category name")
	createCmd.Flags().StringVar(&group, "group", "", "Category group id")
	createCmd.Flags().BoolVar(&hidden, "hidden", false, "Hide the category")
	_ = createCmd.MarkFlagRequired("name")

	updateCmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch core.CategoryPatch
			f := cmd.Flags()
			if f.Changed("name") {
				patch.Name = core.Ptr(strings.TrimSpace(name))
			}
			if f.Changed("group") {
				patch.GroupID = core.Ptr(group)
			}
			if f.Changed("hidden") {
				patch.Hidden = core.Ptr(hidden)
			}
			if patch == (core.CategoryPatch{}) {
				return errNothingToUpdate
			}
			return runUpdate[core.Category](cmd, o, categoryKind, args[0], patch)
		},
	}
	updateCmd.Flags().StringVar(&name, "name", "", "New category name")
	updateCmd.Flags().StringVar(&group, "group", "", "Move to category group id")
	updateCmd.Flags().BoolVar(&hidden, "hidden", false, "Hide the category")

	return newEntityCmd(o, categoryKind, "Manage categories of a budget", createCmd, updateCmd)
}

func newTransactionsCmd(o *rootOptions) *cobra.Command {
	var (
		account  string
		category string
		amount   string
		date     string
		payee    string
		notes    string
		cleared  bool
	)

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Record a transaction",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			money, err := core.ParseMoney(amount)
			if err != nil {
				return fmt.Errorf("amount %q: %w", amount, err)
			}
			day := today()
			if date != "" {
				if day, err = core.ParseDate(date); err != nil {
					return fmt.Errorf("date %q: %w", date, err)
				}
			}
			draft := core.Transaction{
				AccountID:  strings.TrimSpace(account),
				CategoryID: category,
				Date:       day,
				Amount:     money,
				Payee:      payee,
				Notes:      notes,
				Cleared:    cleared,
			}
			if err := draft.Validate(); err != nil {
				return err
			}
			return runCreate(cmd, o, transactionKind, draft)
		},
	}
	createCmd.Flags().StringVar(&account, "account", "", "Account id")
	createCmd.Flags().StringVar(&amount, "amount", "", "Amount, e.g. -12.50")
	createCmd.Flags().StringVar(&date, "date", "", "Date as YYYY-MM-DD (default today)")
	createCmd.Flags().StringVar(&category, "category", "", "Category id")
	createCmd.Flags().StringVar(&payee, "payee", "", "Payee name")
	createCmd.Flags().StringVar(&notes, "notes", "", "Notes")
	createCmd.Flags().BoolVar(&cleared, "cleared", false, "Mark as cleared")
	_ = createCmd.MarkFlagRequired("account")
	_ = createCmd.MarkFlagRequired("amount")

	updateCmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch core.TransactionPatch
			f := cmd.Flags()
			if f.Changed("amount") {
				money, err := core.ParseMoney(amount)
				if err != nil {
					return fmt.Errorf("amount %q: %w", amount, err)
				}
				patch.Amount = &money
			}
			if f.Changed("date") {
				day, err := core.ParseDate(date)
				if err != nil {
					return fmt.Errorf("date %q: %w", date, err)
				}
				patch.Date = &day
			}
			if f.Changed("category") {
				patch.CategoryID = core.Ptr(category)
			}
			if f.Changed("payee") {
				patch.Payee = core.Ptr(payee)
			}
			if f.Changed("notes") {
				patch.Notes = core.Ptr(notes)
			}
			if f.Changed("cleared") {
				patch.Cleared = core.Ptr(cleared)
			}
			if patch == (core.TransactionPatch{}) {
				return errNothingToUpdate
			}
			return runUpdate[core.Transaction](cmd, o, transactionKind, args[0], patch)
		},
	}
	updateCmd.Flags().StringVar(&amount, "amount", "", "New amount")
	updateCmd.Flags().StringVar(&date, "date", "", "New date as YYYY-MM-DD")
	updateCmd.Flags().StringVar(&category, "category", "", "New category id")
	updateCmd.Flags().StringVar(&payee, "payee", "", "New payee name")
	updateCmd.Flags().StringVar(&notes, "notes", "", "New notes")
	updateCmd.Flags().BoolVar(&cleared, "cleared", false, "Mark as cleared")

	return newEntityCmd(o, transactionKind, "Manage transactions of a budget", createCmd, updateCmd)
}

var errNothingToUpdate = errors.New("nothing to update: pass at least one field flag")

func today() core.Date {
	now := time.Now()
	return core.NewDate(now.Year(), int(now.Month()), now.Day())
}
