package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/labsage/backend/internal/app"
	"github.com/labsage/backend/internal/config"
	"github.com/labsage/backend/internal/logger"
	"github.com/spf13/cobra"
)

// cli carries the flags shared by every subcommand and lazily wires the app.
type cli struct {
	configFile string
	logLevel   string
	stdout     io.Writer
}

func (c *cli) open() (*app.App, error) {
	cfg, err := config.NewLoader(c.configFile).Load()
	if err != nil {
		return nil, err
	}
	level := cfg.LogLevel
	if c.logLevel != "" {
		level = c.logLevel
	}
	logger.Initialize(logger.Options{Level: level})
	return app.Build(cfg)
}

// withApp runs fn against a freshly wired app and prints its result as JSON.
func (c *cli) withApp(fn func(ctx context.Context, a *app.App) (interface{}, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		a, err := c.open()
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := fn(cmd.Context(), a)
		if err != nil {
			return err
		}
		return c.print(result)
	}
}

func (c *cli) print(v interface{}) error {
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "labctl",
		Short:         "Administer a LabSage installation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&c.configFile, "config", os.Getenv("CONFIG_FILE"), "Path to labsage.yaml")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "Override LOG_LEVEL for this invocation")

	root.AddCommand(
		newDetectCmd(c),
		newCollectFactsCmd(c),
		newCollectLogsCmd(c),
		newCompressCmd(c),
		newPurgeCmd(c),
		newRecreateCollectionCmd(c),
		newSearchMemoryCmd(c),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := &cli{stdout: os.Stdout}
	if err := newRootCmd(c).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
