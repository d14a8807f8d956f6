// Package workflow runs one conversation turn: generate SQL, estimate its
// cost, wait for the user's confirmation, execute it and chart the result.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/querypilot/querypilot/internal/artifact"
	"github.com/querypilot/querypilot/internal/chart"
	"github.com/querypilot/querypilot/internal/observability"
	"github.com/querypilot/querypilot/internal/training"
	"github.com/querypilot/querypilot/internal/warehouse"
)

const (
	GenericFailureMessage = "An unexpected error occurred. Please review the output of the agent's steps for more details. If the issue persists, please contact support."
	CancelledMessage      = "Query execution cancelled by the user."

	ActionContinue = "continue"
	ActionCancel   = "cancel"

	Author = "Vanna"

	previewRows = 5
)

type State string

const (
	StateGeneratingSQL        State = "generating_sql"
	StateEstimatingCost       State = "estimating_cost"
	StateAwaitingConfirmation State = "awaiting_confirmation"
	StateExecuting            State = "executing"
	StateRendering            State = "rendering"
	StateDone                 State = "done"
	StateAborted              State = "aborted"
)

// Step names as shown in the step trace.
const (
	StepGenerateQuery = "Generate Query"
	StepDryRunQuery   = "Dry Run Query"
	StepExecuteQuery  = "Execute Query"
	StepPlot          = "Plot"
	StepSaveArtifacts = "Save Artifacts"
)

// Capabilities is what a turn needs from an agent.
type Capabilities interface {
	GenerateSQL(ctx context.Context, question string) (string, error)
	DryRun(ctx context.Context, sql string) (int64, error)
	Run(ctx context.Context, sql string) (warehouse.ResultSet, error)
	GenerateChart(ctx context.Context, question, sql string, result warehouse.ResultSet) (json.RawMessage, error)
}

type ArtifactSaver interface {
	Save(ctx context.Context, sessionID string, turnID int64, chart json.RawMessage, result warehouse.ResultSet) (artifact.Saved, error)
}

type MessageKind string

const (
	MessageSQL    MessageKind = "sql"
	MessageText   MessageKind = "text"
	MessageError  MessageKind = "error"
	MessagePrompt MessageKind = "prompt"
	MessageAnswer MessageKind = "answer"
)

type Action struct {
	Name  string `json:"name"`
	Value string `json:"value"`
	Label string `json:"label"`
}

type Message struct {
	Kind     MessageKind  `json:"kind"`
	Author   string       `json:"author,omitempty"`
	Content  string       `json:"content"`
	Language string       `json:"language,omitempty"`
	Chart    *chart.Chart `json:"chart,omitempty"`
	Actions  []Action     `json:"actions,omitempty"`
}

// Conversation is the chat surface a turn talks to. AskAction blocks until
// the user picks one of the message's actions and returns its value.
type Conversation interface {
	Send(ctx context.Context, msg Message) error
	AskAction(ctx context.Context, msg Message) (string, error)
}

type Step struct {
	Name      string        `json:"name"`
	Input     string        `json:"input,omitempty"`
	Output    string        `json:"output,omitempty"`
	Error     string        `json:"error,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`
}

// Turn is the state of one question from receipt to its final message.
type Turn struct {
	ID             int64               `json:"id"`
	SessionID      string              `json:"session_id"`
	Question       string              `json:"question"`
	SQL            string              `json:"sql,omitempty"`
	EstimatedBytes int64               `json:"estimated_bytes"`
	Decision       string              `json:"decision,omitempty"`
	Result         warehouse.ResultSet `json:"-"`
	Chart          *chart.Chart        `json:"chart,omitempty"`
	State          State               `json:"state"`
	Failure        string              `json:"failure,omitempty"`
	Steps          []Step              `json:"steps"`
	Artifacts      artifact.Saved      `json:"artifacts"`
	StartedAt      time.Time           `json:"started_at"`
	FinishedAt     time.Time           `json:"finished_at"`
}

type Options struct {
	StepTimeout time.Duration
	Artifacts   ArtifactSaver
	Logger      *slog.Logger
}

type Workflow struct {
	caps        Capabilities
	stepTimeout time.Duration
	artifacts   ArtifactSaver
	logger      *slog.Logger
	now         func() time.Time
}

func New(caps Capabilities, opts Options) *Workflow {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Workflow{
		caps:        caps,
		stepTimeout: opts.StepTimeout,
		artifacts:   opts.Artifacts,
		logger:      logger,
		now:         time.Now,
	}
}

// Run drives one turn to Done or Aborted. It always returns the turn; the
// failure detail of an aborted turn is in Failure and the step trace.
func (w *Workflow) Run(ctx context.Context, sessionID string, turnID int64, question string, conv Conversation) *Turn {
	turn := &Turn{
		ID:        turnID,
		SessionID: sessionID,
		Question:  question,
		State:     StateGeneratingSQL,
		StartedAt: w.now().UTC(),
	}
	logger := w.logger.With(slog.String("session_id", sessionID), slog.Int64("turn_id", turnID))
	defer observability.TurnStarted()()

	err := w.run(ctx, turn, conv, logger)
	turn.FinishedAt = w.now().UTC()
	switch {
	case err == nil:
		turn.State = StateDone
	case errors.Is(err, errCancelled):
		turn.State = StateAborted
		turn.Failure = CancelledMessage
	default:
		aborted := turn.State
		turn.State = StateAborted
		turn.Failure = err.Error()
		logger.WarnContext(ctx, "turn aborted", slog.String("state", string(aborted)), slog.Any("error", err))
		if !errors.Is(err, errDelivery) {
			_ = conv.Send(ctx, Message{Kind: MessageError, Author: Author, Content: GenericFailureMessage})
		}
	}
	observability.ObserveTurn(outcome(err))
	return turn
}

var (
	errCancelled = errors.New("cancelled by user")
	errDelivery  = errors.New("deliver message")
)

func (w *Workflow) run(ctx context.Context, turn *Turn, conv Conversation, logger *slog.Logger) error {
	err := w.step(ctx, turn, logger, StepGenerateQuery, turn.Question, func(ctx context.Context) (string, error) {
		sql, err := w.caps.GenerateSQL(ctx, turn.Question)
		if err != nil {
			return "", err
		}
		turn.SQL = sql
		return sql, nil
	})
	if err != nil {
		return err
	}
	if err := send(ctx, conv, Message{Kind: MessageSQL, Author: Author, Content: turn.SQL, Language: "sql"}); err != nil {
		return err
	}

	turn.State = StateEstimatingCost
	err = w.step(ctx, turn, logger, StepDryRunQuery, turn.SQL, func(ctx context.Context) (string, error) {
		bytes, err := w.caps.DryRun(ctx, turn.SQL)
		if err != nil {
			return "", err
		}
		turn.EstimatedBytes = bytes
		return fmt.Sprint(bytes), nil
	})
	if err != nil {
		if sendErr := send(ctx, conv, Message{Kind: MessageError, Author: Author, Content: turn.SQL, Language: "sql"}); sendErr != nil {
			return sendErr
		}
		return err
	}

	turn.State = StateAwaitingConfirmation
	decision, err := conv.AskAction(ctx, Message{
		Kind:    MessagePrompt,
		Author:  Author,
		Content: fmt.Sprintf("Query will process %d bytes.", turn.EstimatedBytes),
		Actions: []Action{
			{Name: ActionContinue, Value: ActionContinue, Label: "✅ Continue"},
			{Name: ActionCancel, Value: ActionCancel, Label: "❌ Cancel"},
		},
	})
	if err != nil {
		return fmt.Errorf("await confirmation: %w", err)
	}
	turn.Decision = decision
	if decision != ActionContinue {
		if err := send(ctx, conv, Message{Kind: MessageText, Content: CancelledMessage}); err != nil {
			return err
		}
		return errCancelled
	}

	turn.State = StateExecuting
	err = w.step(ctx, turn, logger, StepExecuteQuery, turn.SQL, func(ctx context.Context) (string, error) {
		result, err := w.caps.Run(ctx, turn.SQL)
		if err != nil {
			return "", err
		}
		turn.Result = result
		return training.MarkdownRows(result.Head(previewRows)), nil
	})
	if err != nil {
		return err
	}

	turn.State = StateRendering
	var spec json.RawMessage
	err = w.step(ctx, turn, logger, StepPlot, turn.SQL, func(ctx context.Context) (string, error) {
		generated, err := w.caps.GenerateChart(ctx, turn.Question, turn.SQL, turn.Result)
		if err != nil {
			return "", err
		}
		rendered, err := chart.Render(generated, turn.Result)
		if err != nil {
			return string(generated), err
		}
		spec = generated
		turn.Chart = &rendered
		return string(generated), nil
	})
	if err != nil {
		return err
	}

	if w.artifacts != nil {
		_ = w.step(ctx, turn, logger, StepSaveArtifacts, "", func(ctx context.Context) (string, error) {
			saved, err := w.artifacts.Save(ctx, turn.SessionID, turn.ID, spec, turn.Result)
			if err != nil {
				return "", err
			}
			turn.Artifacts = saved
			return saved.ResultKey, nil
		})
	}

	return send(ctx, conv, Message{Kind: MessageAnswer, Author: Author, Content: turn.Question, Chart: turn.Chart})
}

// step runs fn under the step timeout and appends it to the trace.
func (w *Workflow) step(ctx context.Context, turn *Turn, logger *slog.Logger, name, input string, fn func(context.Context) (string, error)) error {
	stepCtx := ctx
	if w.stepTimeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, w.stepTimeout)
		defer cancel()
	}

	started := w.now()
	output, err := fn(stepCtx)
	if err == nil && stepCtx.Err() != nil {
		err = stepCtx.Err()
	}
	elapsed := w.now().Sub(started)

	record := Step{Name: name, Input: input, Output: output, StartedAt: started.UTC(), Duration: elapsed}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%s timed out after %s: %w", name, w.stepTimeout, err)
		}
		record.Error = err.Error()
	}
	turn.Steps = append(turn.Steps, record)
	observability.ObserveStep(name, err != nil, elapsed)
	logger.DebugContext(ctx, "workflow step finished",
		slog.String("step", name),
		slog.Duration("duration", elapsed),
		slog.Bool("failed", err != nil),
	)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func send(ctx context.Context, conv Conversation, msg Message) error {
	if err := conv.Send(ctx, msg); err != nil {
		return fmt.Errorf("%w: %w", errDelivery, err)
	}
	return nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "done"
	case errors.Is(err, errCancelled):
		return "cancelled"
	default:
		return "aborted"
	}
}
