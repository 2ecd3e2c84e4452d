package session

import (
	"errors"
	"fmt"

	"github.com/mcdev12/mafia-observer/go/clients"
)

// ErrClosed is returned by controller operations after Close.
var ErrClosed = errors.New("session controller is closed")

// FetchError is surfaced when refreshing the session state fails.
// The previous snapshot, if any, is kept.
type FetchError struct {
	SessionID string
	Err       error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch session %s: %v", e.SessionID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// StepError is surfaced when a step or a human action fails. Auto-advance
// stays off until a later refresh, step or action succeeds.
type StepError struct {
	SessionID string
	Op        string
	Err       error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("failed to %s session %s: %v", e.Op, e.SessionID, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// NarrationError wraps a failed utterance. It is only logged.
type NarrationError struct {
	Text string
	Err  error
}

func (e *NarrationError) Error() string {
	return fmt.Sprintf("failed to speak %q: %v", e.Text, e.Err)
}

func (e *NarrationError) Unwrap() error { return e.Err }

// displayMessage returns the text shown to the observer: the game service's
// own message when there is one, the error text otherwise.
func displayMessage(err error) string {
	var apiErr *clients.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	if cause := errors.Unwrap(err); cause != nil {
		return cause.Error()
	}
	return err.Error()
}
