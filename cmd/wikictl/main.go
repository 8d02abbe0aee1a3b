package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"go-wiki-engine/internal/acl"
	"go-wiki-engine/internal/app"
	"go-wiki-engine/internal/config"
	"go-wiki-engine/internal/logger"
)

// openApp loads the configuration and opens the wiki. The caller closes it.
func openApp() (*app.App, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return app.Open(cfg, logger.New(cfg.Log, os.Stderr))
}

func main() {
	root := &cobra.Command{
		Use:           "wikictl",
		Short:         "Maintenance commands for the wiki",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(migrateCmd(), reconcileCmd(), recommendCmd(), flushCacheCmd(), reindexCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Migrate()
		},
	}
}

func reconcileCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Retry queued link and index updates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()
			res, err := a.Pages.Reconcile(cmd.Context(), limit)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "succeeded: %d, failed: %d, touched: %d\n", res.Succeeded, res.Failed, len(res.Touched))
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "max jobs to retry")
	return cmd
}

func recommendCmd() *cobra.Command {
	var (
		iterations int
		recent     bool
	)
	cmd := &cobra.Command{
		Use:   "recommend",
		Short: "Refresh the related pages of every page",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()
			if !cmd.Flags().Changed("iterations") {
				iterations = a.Config.Engine.RecommendIterations
			}
			updated, err := a.Pages.RefreshRecommendations(cmd.Context(), iterations, recent)
			if err != nil {
				return err
			}
			for _, t := range updated {
				fmt.Fprintln(cmd.OutOrStdout(), t)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&iterations, "iterations", 20, "random walks per page")
	cmd.Flags().BoolVar(&recent, "recent", false, "only walk from recently updated pages")
	return cmd
}

func flushCacheCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "flush-cache",
		Short: "Drop every cached value",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()
			a.Cache.FlushAll()
			return nil
		},
	}
}

func reindexCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "reindex [title...]",
		Short: "Rebuild the structured-data index of pages",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(args) == 0 {
				return fmt.Errorf("name at least one title or pass --all")
			}
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			titles := args
			if all {
				titles = nil
				pages, err := a.Pages.Index(cmd.Context(), &acl.User{Roles: []string{acl.AdminRole}})
				if err != nil {
					return err
				}
				for _, p := range pages {
					titles = append(titles, p.Title)
				}
			}
			for _, t := range titles {
				if err := a.Pages.Reindex(cmd.Context(), t); err != nil {
					return fmt.Errorf("reindexing %q: %w", t, err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), t)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "reindex every page")
	return cmd
}
