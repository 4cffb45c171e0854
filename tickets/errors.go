package tickets

import (
	"errors"
	"fmt"
)

// ErrInvalidConfiguration is wrapped by every configuration failure.
var ErrInvalidConfiguration = errors.New("invalid configuration")

// ConfigError describes a rejected configuration value.
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrInvalidConfiguration, e.Key, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return ErrInvalidConfiguration
}

// RequestRejectedError is returned for 4xx responses other than 429.
type RequestRejectedError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *RequestRejectedError) Error() string {
	return fmt.Sprintf("freshdesk rejected %s %s with status %d: %s", e.Method, e.Path, e.Status, e.Body)
}

// RateLimitExceededError is returned once 429 retries are exhausted.
type RateLimitExceededError struct {
	Retries int
}

func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("freshdesk rate limit still exceeded after %d retries", e.Retries)
}

// TransientFailureError is returned once 5xx or connection retries are exhausted.
type TransientFailureError struct {
	Attempts int
	Status   int // 0 for transport errors
	Err      error
}

func (e *TransientFailureError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("freshdesk server error %d after %d attempts", e.Status, e.Attempts)
	}
	return fmt.Sprintf("freshdesk unreachable after %d attempts: %v", e.Attempts, e.Err)
}

func (e *TransientFailureError) Unwrap() error {
	return e.Err
}

// PayloadShapeError reports JSON that does not look like a ticket or a page of tickets.
type PayloadShapeError struct {
	Page   int
	Index  int // -1 when the whole page is malformed
	Reason string
}

func (e *PayloadShapeError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("unexpected payload shape on page %d: %s", e.Page, e.Reason)
	}
	return fmt.Sprintf("unexpected payload shape for ticket %d on page %d: %s", e.Index, e.Page, e.Reason)
}

// RunError is the single error surfaced to the host runtime when a run fails.
// Rows already emitted stay in the dataset.
type RunError struct {
	RunID          string
	State          State
	PagesFetched   int
	TicketsFetched int
	RowsEmitted    int
	Err            error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("run %s failed in %s after %d pages, %d tickets fetched, %d rows emitted: %v",
		e.RunID, e.State, e.PagesFetched, e.TicketsFetched, e.RowsEmitted, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}
