// Package cli implements the querypilot command: a terminal chat over a
// warehouse table plus helpers that talk to a running API.
package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/querypilot/querypilot/internal/bootstrap"
	"github.com/querypilot/querypilot/internal/config"
	"github.com/querypilot/querypilot/internal/session"
	"github.com/querypilot/querypilot/internal/training"
	"github.com/querypilot/querypilot/internal/warehouse"
	"github.com/querypilot/querypilot/internal/workflow"
)

// ChatBackend is the part of the session manager the terminal chat drives.
type ChatBackend interface {
	Configure(ctx context.Context, sessionID string, settings session.Settings) (session.Summary, error)
	Handle(ctx context.Context, sessionID, question string, conv workflow.Conversation) (*workflow.Turn, error)
}

type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdin      io.Reader
	Stdout     io.Writer
	Stderr     io.Writer
	Lookup     config.LookupFunc

	// OpenChat and Warehouse default to the configured runtime.
	OpenChat  func(ctx context.Context, cfg config.Config, logger *slog.Logger) (ChatBackend, func() error, error)
	Warehouse func(cfg config.WarehouseConfig) (warehouse.Connector, training.Dialect, error)
}

type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }

// Run executes the command line and returns the process exit code: 0 on
// success, 2 on usage errors and 1 otherwise.
func Run(ctx context.Context, args []string, opts Options) int {
	opts = opts.withDefaults()
	root := newRootCommand(&opts)
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	_, _ = io.WriteString(opts.Stderr, err.Error()+"\n")
	var usage usageError
	if errors.As(err, &usage) || strings.HasPrefix(err.Error(), "unknown command") {
		_, _ = io.WriteString(opts.Stderr, "\n"+root.UsageString())
		return 2
	}
	return 1
}

func newRootCommand(opts *Options) *cobra.Command {
	root := &cobra.Command{
		Use:   "querypilot",
		Short: "Ask questions about a warehouse table in plain language",
		Long: `querypilot turns questions into SQL for one table, shows the estimated
bytes the query will process and runs it only after you confirm.

Use "chat" for an interactive session in the terminal, "plan" to inspect the
training plan built for a table, and "health", "ready" or "history" to talk to
a running querypilot-api.`,
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.SetIn(opts.Stdin)
	root.SetOut(opts.Stdout)
	root.SetErr(opts.Stderr)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err: err}
	})

	root.PersistentFlags().StringVar(&opts.BaseURL, "base-url", opts.BaseURL, "querypilot API base URL")
	root.PersistentFlags().StringVar(&opts.APIKey, "api-key", opts.APIKey, "API key for authenticated requests")
	root.PersistentFlags().DurationVar(&opts.Timeout, "timeout", opts.Timeout, "HTTP timeout (e.g. 10s)")

	root.AddCommand(
		newChatCommand(opts),
		newPlanCommand(opts),
		newRemoteCommand(opts, "health", "Check that the API is up", "/v1/health"),
		newRemoteCommand(opts, "ready", "Check that the API dependencies are ready", "/v1/ready"),
		newHistoryCommand(opts),
	)
	return root
}

func (o Options) withDefaults() Options {
	if o.Stdin == nil {
		o.Stdin = strings.NewReader("")
	}
	if o.Stdout == nil {
		o.Stdout = io.Discard
	}
	if o.Stderr == nil {
		o.Stderr = io.Discard
	}
	if strings.TrimSpace(o.BaseURL) == "" {
		o.BaseURL = "http://localhost:8080"
	}
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.Lookup == nil {
		o.Lookup = os.LookupEnv
	}
	if o.OpenChat == nil {
		o.OpenChat = openRuntime
	}
	if o.Warehouse == nil {
		o.Warehouse = bootstrap.Warehouse
	}
	return o
}

func openRuntime(ctx context.Context, cfg config.Config, logger *slog.Logger) (ChatBackend, func() error, error) {
	rt, err := bootstrap.Build(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return rt.Sessions, func() error { return rt.Close(context.Background()) }, nil
}
