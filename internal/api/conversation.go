package api

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/querypilot/querypilot/internal/workflow"
)

var errConfirmationTimeout = errors.New("no decision received before the confirmation timeout")

// turnEvent is emitted by a running turn when it pauses for a decision or
// finishes.
type turnEvent struct {
	prompt *workflow.Message
	turn   *workflow.Turn
	err    error
}

// httpConversation bridges a running turn to request/response HTTP. Messages
// are buffered until the next pause; decisions arrive on a later request.
type httpConversation struct {
	timeout time.Duration

	// prompt + final event are the most a turn emits without a reader
	events    chan turnEvent
	decisions chan string

	mu       sync.Mutex
	messages []workflow.Message
	awaiting *workflow.Message
}

func newHTTPConversation(confirmationTimeout time.Duration) *httpConversation {
	return &httpConversation{
		timeout:   confirmationTimeout,
		events:    make(chan turnEvent, 2),
		decisions: make(chan string, 1),
	}
}

func (c *httpConversation) Send(_ context.Context, msg workflow.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msg)
	return nil
}

func (c *httpConversation) AskAction(ctx context.Context, msg workflow.Message) (string, error) {
	c.mu.Lock()
	c.awaiting = &msg
	c.mu.Unlock()
	c.events <- turnEvent{prompt: &msg}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case value := <-c.decisions:
		return value, nil
	case <-ctx.Done():
		c.clearAwaiting()
		return "", ctx.Err()
	case <-timer.C:
		c.clearAwaiting()
		return "", errConfirmationTimeout
	}
}

// decide hands a decision to the paused turn. It reports false when the turn
// is not waiting for one and errInvalidAction when value is not offered.
func (c *httpConversation) decide(value string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.awaiting == nil {
		return false, nil
	}
	offered := slices.ContainsFunc(c.awaiting.Actions, func(a workflow.Action) bool { return a.Value == value })
	if !offered {
		return true, errInvalidAction
	}
	c.awaiting = nil
	// the prompt event is still buffered when its request went away early
	select {
	case <-c.events:
	default:
	}
	c.decisions <- value
	return true, nil
}

func (c *httpConversation) clearAwaiting() {
	c.mu.Lock()
	c.awaiting = nil
	c.mu.Unlock()
}

func (c *httpConversation) drain() []workflow.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.messages
	c.messages = nil
	if out == nil {
		out = []workflow.Message{}
	}
	return out
}

var errInvalidAction = errors.New("action is not offered by the pending prompt")

// turnRegistry tracks turns that are running or paused, one per session key.
type turnRegistry struct {
	mu    sync.Mutex
	turns map[string]*httpConversation
}

func newTurnRegistry() *turnRegistry {
	return &turnRegistry{turns: map[string]*httpConversation{}}
}

func (r *turnRegistry) start(key string, conv *httpConversation) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.turns[key]; exists {
		return false
	}
	r.turns[key] = conv
	return true
}

func (r *turnRegistry) get(key string) (*httpConversation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.turns[key]
	return conv, ok
}

func (r *turnRegistry) finish(key string, conv *httpConversation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.turns[key] == conv {
		delete(r.turns, key)
	}
}
