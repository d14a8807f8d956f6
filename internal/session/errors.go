package session

import (
	"errors"
	"strings"
)

var ErrTurnInProgress = errors.New("a question is already being answered in this session")

// ConfigurationError is a setup failure: missing settings, an unreachable
// warehouse or a table that cannot be described. Problems are the lines shown
// to the user.
type ConfigurationError struct {
	Problems []string
	Err      error
}

func (e *ConfigurationError) Error() string {
	if len(e.Problems) > 0 {
		return strings.Join(e.Problems, "\n")
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "session is not configured"
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

func configurationFailure(err error) *ConfigurationError {
	var cfgErr *ConfigurationError
	if errors.As(err, &cfgErr) {
		return cfgErr
	}
	return &ConfigurationError{Problems: []string{err.Error()}, Err: err}
}
