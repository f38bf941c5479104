// Command reconcilectl runs sync and review operations from a terminal
// against the same database the API uses.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/spf13/cobra"

	"github.com/wolfman30/medspa-roster-sync/cmd/mainconfig"
	"github.com/wolfman30/medspa-roster-sync/internal/app/bootstrap"
	appconfig "github.com/wolfman30/medspa-roster-sync/internal/config"
	"github.com/wolfman30/medspa-roster-sync/pkg/logging"
)

func main() {
	if err := newRootCmd(connect).Execute(); err != nil {
		os.Exit(1)
	}
}

// connect builds the application graph for one command invocation.
func connect(ctx context.Context) (*bootstrap.App, error) {
	cfg := appconfig.Load()
	logger := logging.NewWithWriter(cfg.LogLevel, os.Stderr)

	var awsCfg *aws.Config
	if loaded, err := mainconfig.LoadAWSConfig(ctx, cfg); err == nil {
		awsCfg = &loaded
	}
	return bootstrap.Build(ctx, cfg, logger, bootstrap.Options{AWS: awsCfg, VerifyRedis: true})
}

type connector func(ctx context.Context) (*bootstrap.App, error)

func newRootCmd(connect connector) *cobra.Command {
	root := &cobra.Command{
		Use:           "reconcilectl",
		Short:         "Roster reconciliation and payment sync operations",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().String("actor", "cli", "name recorded in the audit trail")

	cmds := &commands{connect: connect}
	root.AddCommand(
		cmds.syncCmd(),
		cmds.crmResyncCmd(),
		cmds.runsCmd(),
		cmds.duplicatesCmd(),
		cmds.reviewCmd(),
		cmds.resolveMatchCmd(),
		cmds.dismissMatchCmd(),
		cmds.confirmAutoLinksCmd(),
		cmds.linkCmd(),
		cmds.unlinkCmd(),
		cmds.billingReviewCmd(),
		cmds.importMembershipsCmd(),
		cmds.issuesCmd(),
		cmds.resolveIssueCmd(),
	)
	return root
}

type commands struct {
	connect connector
}

// withApp runs fn with a connected App and a context cancelled on SIGINT.
func (c *commands) withApp(cmd *cobra.Command, fn func(ctx context.Context, app *bootstrap.App) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(ctx, app)
}

func actor(cmd *cobra.Command) string {
	name, _ := cmd.Flags().GetString("actor")
	if name == "" {
		return "cli"
	}
	return name
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// createOutput opens path for writing, or returns stdout for "-".
func createOutput(path string) (io.WriteCloser, error) {
	if path == "-" {
		return nopCloser{os.Stdout}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	return f, nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
