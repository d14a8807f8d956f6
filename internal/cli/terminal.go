package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/pterm/pterm"

	"github.com/querypilot/querypilot/internal/chart"
	"github.com/querypilot/querypilot/internal/training"
	"github.com/querypilot/querypilot/internal/workflow"
)

const (
	terminalWidth = 100
	previewRows   = 10
)

// terminalConversation renders turn messages to a terminal and reads
// decisions from the same input the questions come from.
type terminalConversation struct {
	in  *bufio.Reader
	out io.Writer
}

func newTerminalConversation(in *bufio.Reader, out io.Writer) *terminalConversation {
	return &terminalConversation{in: in, out: out}
}

func (c *terminalConversation) Send(_ context.Context, msg workflow.Message) error {
	switch msg.Kind {
	case workflow.MessageSQL:
		c.markdown("```sql\n" + msg.Content + "\n```")
	case workflow.MessageError:
		if msg.Language == "sql" {
			pterm.Error.WithWriter(c.out).Println("The query could not be validated:")
			c.markdown("```sql\n" + msg.Content + "\n```")
			return nil
		}
		pterm.Error.WithWriter(c.out).Println(msg.Content)
	case workflow.MessageAnswer:
		pterm.Success.WithWriter(c.out).Println(msg.Content)
	default:
		pterm.Info.WithWriter(c.out).Println(msg.Content)
	}
	return nil
}

// AskAction blocks until the user names an action by value, by an
// unambiguous prefix, or with yes/no. Anything else asks again.
func (c *terminalConversation) AskAction(_ context.Context, msg workflow.Message) (string, error) {
	labels := make([]string, len(msg.Actions))
	for i, action := range msg.Actions {
		labels[i] = fmt.Sprintf("[%s] %s", action.Value, action.Label)
	}
	pterm.Warning.WithWriter(c.out).Println(msg.Content)
	for {
		pterm.Fprint(c.out, strings.Join(labels, "  ")+" > ")
		line, err := c.in.ReadString('\n')
		if err != nil && (err != io.EOF || line == "") {
			return "", fmt.Errorf("read decision: %w", err)
		}
		if value, ok := matchAction(msg.Actions, line); ok {
			return value, nil
		}
		pterm.Info.WithWriter(c.out).Printfln("Please answer %s.", strings.Join(actionValues(msg.Actions), " or "))
		if err == io.EOF {
			return "", fmt.Errorf("read decision: %w", err)
		}
	}
}

func matchAction(actions []workflow.Action, input string) (string, bool) {
	input = strings.ToLower(strings.TrimSpace(input))
	if input == "" {
		return "", false
	}
	for _, action := range actions {
		if input == action.Value || input == action.Name {
			return action.Value, true
		}
	}
	switch input {
	case "y", "yes":
		return workflow.ActionContinue, true
	case "n", "no":
		return workflow.ActionCancel, true
	}
	match := ""
	for _, action := range actions {
		if !strings.HasPrefix(action.Value, input) {
			continue
		}
		if match != "" {
			return "", false
		}
		match = action.Value
	}
	return match, match != ""
}

func actionValues(actions []workflow.Action) []string {
	values := make([]string, len(actions))
	for i, action := range actions {
		values[i] = action.Value
	}
	return values
}

// renderTurn prints the result preview, a bar chart and the step trace of a
// finished turn.
func (c *terminalConversation) renderTurn(turn *workflow.Turn) {
	if turn == nil {
		return
	}
	if turn.State == workflow.StateDone {
		if len(turn.Result.Columns) > 0 {
			c.markdown(training.MarkdownRows(turn.Result.Head(previewRows)))
		}
		if turn.Chart != nil {
			box := pterm.DefaultBox.WithTitle(turn.Chart.Title).Sprint(chart.Terminal(*turn.Chart, turn.Result, terminalWidth-10))
			pterm.Fprintln(c.out, box)
		}
	}

	items := make([]pterm.BulletListItem, 0, len(turn.Steps))
	for _, step := range turn.Steps {
		status := "ok"
		if step.Error != "" {
			status = step.Error
		}
		items = append(items, pterm.BulletListItem{
			Level: 0,
			Text:  fmt.Sprintf("%s (%s): %s", step.Name, step.Duration.Round(time.Millisecond), status),
		})
	}
	if len(items) > 0 {
		rendered, err := pterm.DefaultBulletList.WithItems(items).Srender()
		if err == nil {
			pterm.Fprint(c.out, rendered)
		}
	}
}

func (c *terminalConversation) markdown(content string) {
	pterm.Fprintln(c.out, renderMarkdown(content))
}

func renderMarkdown(content string) string {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(terminalWidth),
	)
	if err != nil {
		return content
	}
	rendered, err := renderer.Render(content)
	if err != nil {
		return content
	}
	return rendered
}
