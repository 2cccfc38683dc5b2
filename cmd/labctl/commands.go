package main

import (
	"context"
	"fmt"

	"github.com/labsage/backend/internal/app"
	"github.com/spf13/cobra"
)

func newDetectCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "detect-now",
		Short: "Run one incident detection cycle",
		RunE: c.withApp(func(ctx context.Context, a *app.App) (interface{}, error) {
			return a.Detector.RunCycle(ctx)
		}),
	}
}

func newCollectFactsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "collect-facts-now",
		Short: "Snapshot every adapter into facts once",
		RunE: c.withApp(func(ctx context.Context, a *app.App) (interface{}, error) {
			return a.Facts.RunCycle(ctx)
		}),
	}
}

func newCollectLogsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "collect-logs-now",
		Short: "Pull new log lines from every running resource once",
		RunE: c.withApp(func(ctx context.Context, a *app.App) (interface{}, error) {
			return a.Logs.RunCycle(ctx)
		}),
	}
}

func newCompressCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "compress-now",
		Short: "Write today's log summaries and purge covered logs",
		Long: `Runs one compression cycle: every resource with stored logs gets at most one
summary per calendar day. A summary that failed earlier today is retried.`,
		RunE: c.withApp(func(ctx context.Context, a *app.App) (interface{}, error) {
			return a.Compressor.RunCycle(ctx)
		}),
	}
}

func newPurgeCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "purge-logs",
		Short: "Delete expired logs already covered by a summary, and expired summaries",
		RunE: c.withApp(func(ctx context.Context, a *app.App) (interface{}, error) {
			return a.Purger.Purge(ctx)
		}),
	}
}

func newRecreateCollectionCmd(c *cli) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "recreate-collection",
		Short: "Drop and recreate the memory collection",
		Long: `Deletes every stored memory and recreates the collection with EMBED_DIMENSION.
Needed after switching to an embedding model with a different vector length.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("this drops all stored memories; pass --yes to confirm")
			}
			return c.withApp(func(ctx context.Context, a *app.App) (interface{}, error) {
				if err := a.Memory.RecreateCollection(ctx); err != nil {
					return nil, err
				}
				return map[string]interface{}{
					"collection": a.Memory.Collection(),
					"backend":    a.Memory.Backend(),
					"dimension":  a.Config.EmbedDimension,
				}, nil
			})(cmd, args)
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm dropping all memories")
	return cmd
}

func newSearchMemoryCmd(c *cli) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search-memory QUERY",
		Short: "Show the memories most similar to QUERY",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(func(ctx context.Context, a *app.App) (interface{}, error) {
				return a.Memory.Search(ctx, args[0], limit)
			})(cmd, args)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 5, "Maximum number of results")
	return cmd
}
