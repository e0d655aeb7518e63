package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/haasonsaas/nexus/internal/config"
	"github.com/haasonsaas/nexus/internal/sessions"
	"github.com/spf13/cobra"
)

// buildSessionStores opens the session store the sessions subcommands
// operate on: Postgres-family when database.url is set, in-memory
// otherwise (useful only for --dry-run style inspection, since an
// in-memory store starts empty). Branches live in the in-process branch
// store regardless of backend.
func buildSessionStores(cfg *config.Config) (sessions.Store, sessions.BranchStore, error) {
	branches := sessions.NewMemoryBranchStore()
	if cfg.Database.URL == "" {
		return sessions.NewMemoryStore(), branches, nil
	}
	store, err := sessions.NewCockroachStoreFromDSN(cfg.Database.URL, nil)
	if err != nil {
		return nil, nil, err
	}
	return store, branches, nil
}

func newSessionsCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and manage persisted sessions",
	}

	var listLimit int
	list := &cobra.Command{
		Use:   "list [agent-name]",
		Short: "List persisted sessions for an agent",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			store, _, err := buildSessionStores(cfg)
			if err != nil {
				return err
			}
			agentName := cfg.Name
			if len(args) > 0 {
				agentName = args[0]
			}
			sessionsList, err := store.List(context.Background(), agentName, sessions.ListOptions{Limit: listLimit})
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tKEY\tTITLE\tUPDATED")
			for _, s := range sessionsList {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.ID, s.Key, s.Title, s.UpdatedAt.Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		},
	}
	list.Flags().IntVar(&listLimit, "limit", 50, "maximum sessions to list")

	var historyLimit int
	history := &cobra.Command{
		Use:   "history [session-id]",
		Short: "Print a session's persisted message history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			store, _, err := buildSessionStores(cfg)
			if err != nil {
				return err
			}
			msgs, err := store.GetHistory(context.Background(), args[0], historyLimit)
			if err != nil {
				return err
			}
			for _, m := range msgs {
				fmt.Printf("[%s] %s\n", m.Role, m.Content)
				for _, tc := range m.ToolCalls {
					fmt.Printf("  tool-use %s %s(%s)\n", tc.ID, tc.Name, string(tc.Input))
				}
				for _, tr := range m.ToolResults {
					fmt.Printf("  tool-result %s error=%v\n", tr.ToolCallID, tr.IsError)
				}
			}
			return nil
		},
	}
	history.Flags().IntVar(&historyLimit, "limit", 200, "maximum messages to print")

	var importDryRun bool
	importCmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Import sessions and messages from an export file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			store, _, err := buildSessionStores(cfg)
			if err != nil {
				return err
			}
			result, err := sessions.NewImporter(store).ImportFromFile(context.Background(), args[0], sessions.ImportOptions{
				DryRun:           importDryRun,
				SkipDuplicates:   true,
				DefaultAgentName: cfg.Name,
			})
			if err != nil {
				return err
			}
			fmt.Printf("imported %d session(s), %d message(s), skipped %d, %d error(s)\n",
				result.SessionsImported, result.MessagesImported, result.SessionsSkipped+result.MessagesSkipped, len(result.Errors))
			return nil
		},
	}
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "validate without writing")

	branch := &cobra.Command{
		Use:   "branch [session-id] [branch-point] [name]",
		Short: "Fork a session's primary branch at a message sequence number",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			_, branches, err := buildSessionStores(cfg)
			if err != nil {
				return err
			}
			ctx := context.Background()
			primary, err := branches.EnsurePrimaryBranch(ctx, args[0])
			if err != nil {
				return err
			}
			var point int64
			if _, err := fmt.Sscanf(args[1], "%d", &point); err != nil {
				return fmt.Errorf("branch-point must be a sequence number: %w", err)
			}
			forked, err := branches.ForkBranch(ctx, primary.ID, point, args[2])
			if err != nil {
				return err
			}
			fmt.Printf("branch %q created: %s (diverges at %d)\n", forked.Name, forked.ID, forked.BranchPoint)
			return nil
		},
	}

	branches := &cobra.Command{
		Use:   "branches [session-id]",
		Short: "List a session's branches",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			_, branchStore, err := buildSessionStores(cfg)
			if err != nil {
				return err
			}
			all, err := branchStore.ListBranches(context.Background(), args[0])
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tPRIMARY\tSTATUS\tPOINT")
			for _, b := range all {
				fmt.Fprintf(w, "%s\t%s\t%v\t%s\t%d\n", b.ID, b.Name, b.IsPrimary, b.Status, b.BranchPoint)
			}
			return w.Flush()
		},
	}

	var migrateSteps int
	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations to the session database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Database.URL == "" {
				return fmt.Errorf("database.url is not configured")
			}
			store, err := sessions.NewCockroachStoreFromDSN(cfg.Database.URL, nil)
			if err != nil {
				return err
			}
			migrator, err := sessions.NewMigrator(store.DB())
			if err != nil {
				return err
			}
			ctx := context.Background()
			if err := migrator.EnsureSchema(ctx); err != nil {
				return err
			}
			applied, err := migrator.Up(ctx, migrateSteps)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Println("database is up to date")
				return nil
			}
			for _, id := range applied {
				fmt.Println("applied:", id)
			}
			return nil
		},
	}
	migrate.Flags().IntVar(&migrateSteps, "steps", 0, "number of migrations to apply (0 = all pending)")

	root.AddCommand(list, history, importCmd, branch, branches, migrate)
	return root
}
