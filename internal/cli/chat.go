package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/querypilot/querypilot/internal/config"
	"github.com/querypilot/querypilot/internal/observability"
	"github.com/querypilot/querypilot/internal/session"
	"github.com/querypilot/querypilot/internal/training"
	"github.com/querypilot/querypilot/internal/warehouse"
)

const terminalSessionID = "terminal"

type settingsFlags struct {
	accessToken    string
	projectID      string
	location       string
	resourceID     string
	historyQueries int
}

func (f *settingsFlags) register(cmd *cobra.Command, lookup config.LookupFunc) {
	defaults := map[string]string{}
	for _, descriptor := range session.SettingsForm() {
		defaults[descriptor.ID] = descriptor.Initial
	}
	cmd.Flags().StringVar(&f.accessToken, "token", envValue(lookup, "QUERYPILOT_ACCESS_TOKEN", ""), "OAuth access token for the warehouse")
	cmd.Flags().StringVar(&f.projectID, "project", envValue(lookup, "QUERYPILOT_PROJECT_ID", defaults[session.SettingProjectID]), "project the queries are billed to")
	cmd.Flags().StringVar(&f.location, "location", envValue(lookup, "QUERYPILOT_LOCATION", defaults[session.SettingLocation]), "warehouse location (region)")
	cmd.Flags().StringVar(&f.resourceID, "resource", envValue(lookup, "QUERYPILOT_RESOURCE_ID", ""), "table to query as project.dataset.table")
	cmd.Flags().IntVar(&f.historyQueries, "history-queries", 0, "number of recent queries against the table to learn from")
}

func (f *settingsFlags) settings() session.Settings {
	return session.Settings{
		AccessToken:    strings.TrimSpace(f.accessToken),
		ProjectID:      strings.TrimSpace(f.projectID),
		Location:       strings.TrimSpace(f.location),
		ResourceID:     strings.TrimSpace(f.resourceID),
		HistoryQueries: f.historyQueries,
	}
}

func newChatCommand(opts *Options) *cobra.Command {
	flags := &settingsFlags{}
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with a table in the terminal",
		Long: `chat trains an agent on one table and then answers questions typed on
standard input. Every generated query is dry-run first and only executed after
you confirm the estimated bytes. Type "exit" or send EOF to leave.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load("querypilot", opts.Lookup)
			if err != nil {
				return usageError{err: err}
			}
			logger := observability.NewLogger(cfg, opts.Stderr)

			backend, closeBackend, err := opts.OpenChat(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := closeBackend(); err != nil {
					logger.Warn("close chat runtime", slog.Any("error", err))
				}
			}()

			settings := flags.settings()
			pterm.Info.WithWriter(opts.Stdout).Println("Training agent on " + settings.ResourceID)
			summary, err := backend.Configure(ctx, terminalSessionID, settings)
			if err != nil {
				var cfgErr *session.ConfigurationError
				if errors.As(err, &cfgErr) {
					for _, problem := range cfgErr.Problems {
						pterm.Error.WithWriter(opts.Stdout).Println(problem)
					}
				}
				return fmt.Errorf("configure session: %w", err)
			}
			pterm.Success.WithWriter(opts.Stdout).Printfln("Trained on %d documentation and %d SQL items.", summary.DocumentationItems, summary.SQLItems)
			pterm.Info.WithWriter(opts.Stdout).Println(summary.Message)

			in := bufio.NewReader(opts.Stdin)
			conv := newTerminalConversation(in, opts.Stdout)
			for {
				pterm.Fprint(opts.Stdout, "> ")
				line, readErr := in.ReadString('\n')
				question := strings.TrimSpace(line)
				if question == "exit" || question == "quit" {
					return nil
				}
				if question != "" {
					turn, err := backend.Handle(ctx, terminalSessionID, question, conv)
					if err != nil {
						pterm.Error.WithWriter(opts.Stdout).Println(err.Error())
					} else {
						conv.renderTurn(turn)
					}
				}
				if readErr == io.EOF {
					pterm.Fprintln(opts.Stdout)
					return nil
				}
				if readErr != nil {
					return fmt.Errorf("read question: %w", readErr)
				}
			}
		},
	}
	flags.register(cmd, opts.Lookup)
	return cmd
}

func newPlanCommand(opts *Options) *cobra.Command {
	flags := &settingsFlags{}
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the training plan built for a table without training",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load("querypilot", opts.Lookup)
			if err != nil {
				return usageError{err: err}
			}
			settings := flags.settings()
			if err := settings.Validate(); err != nil {
				return usageError{err: err}
			}

			connector, dialect, err := opts.Warehouse(cfg.Warehouse)
			if err != nil {
				return err
			}
			client, err := connector(ctx, warehouse.ConnectOptions{
				ProjectID:   settings.ProjectID,
				Location:    settings.Location,
				AccessToken: settings.AccessToken,
			})
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			builder := training.NewBuilder(client, dialect)
			builder.Logger = observability.NewLogger(cfg, opts.Stderr)
			plan, err := builder.Build(ctx, settings.Location, settings.ResourceID)
			if err != nil {
				return err
			}
			pterm.Fprintln(opts.Stdout, renderMarkdown(planMarkdown(plan)))
			return nil
		},
	}
	flags.register(cmd, opts.Lookup)
	return cmd
}

func planMarkdown(plan training.Plan) string {
	var b strings.Builder
	for _, item := range plan.Items() {
		fmt.Fprintf(&b, "## %s: %s.%s\n\n", item.Kind, item.Group, item.Name)
		if item.Kind == training.KindSQL || strings.HasPrefix(strings.ToUpper(strings.TrimSpace(item.Value)), "CREATE") {
			fmt.Fprintf(&b, "```sql\n%s\n```\n\n", item.Value)
			continue
		}
		b.WriteString(item.Value)
		b.WriteString("\n\n")
	}
	if b.Len() == 0 {
		return "_empty plan_\n"
	}
	return b.String()
}

func envValue(lookup config.LookupFunc, key, fallback string) string {
	if lookup == nil {
		return fallback
	}
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}
