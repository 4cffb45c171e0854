package tickets

import (
	"fmt"
	"slices"
	"strings"

	"github.com/tidwall/gjson"
)

// Status is a Freshdesk ticket status code.
type Status int

const (
	StatusOpen     Status = 2
	StatusPending  Status = 3
	StatusResolved Status = 4
	StatusClosed   Status = 5
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "Open"
	case StatusPending:
		return "Pending"
	case StatusResolved:
		return "Resolved"
	case StatusClosed:
		return "Closed"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// ParseStatus accepts only the four statuses the recipe offers.
func ParseStatus(code int) (Status, error) {
	switch s := Status(code); s {
	case StatusOpen, StatusPending, StatusResolved, StatusClosed:
		return s, nil
	}
	return 0, &ConfigError{Key: "ticketStatuses", Reason: fmt.Sprintf("unsupported status %d", code)}
}

// StatusSet is the immutable, sorted, de-duplicated selection of statuses for a run.
type StatusSet struct {
	statuses []Status
}

// NewStatusSet validates codes and rejects an empty selection.
func NewStatusSet(codes ...int) (StatusSet, error) {
	var result StatusSet
	if len(codes) == 0 {
		return result, &ConfigError{Key: "ticketStatuses", Reason: "at least one status is required"}
	}
	for _, code := range codes {
		s, err := ParseStatus(code)
		if err != nil {
			return StatusSet{}, err
		}
		if !slices.Contains(result.statuses, s) {
			result.statuses = append(result.statuses, s)
		}
	}
	slices.Sort(result.statuses)
	return result, nil
}

func (s StatusSet) Empty() bool { return len(s.statuses) == 0 }

func (s StatusSet) Contains(status Status) bool {
	return slices.Contains(s.statuses, status)
}

// Statuses returns a copy of the selection in ascending order.
func (s StatusSet) Statuses() []Status {
	return slices.Clone(s.statuses)
}

// SearchQuery renders the set for the search endpoint, e.g. "status:2 OR status:3" in quotes.
func (s StatusSet) SearchQuery() string {
	parts := make([]string, len(s.statuses))
	for i, status := range s.statuses {
		parts[i] = fmt.Sprintf("status:%d", int(status))
	}
	return `"` + strings.Join(parts, " OR ") + `"`
}

// StatusFilter keeps tickets whose status is in the configured set.
type StatusFilter struct {
	Set StatusSet
}

// Passes reports whether the raw ticket's status is selected. A missing or
// non-numeric status never passes.
func (f StatusFilter) Passes(ticket gjson.Result) bool {
	status := ticket.Get("status")
	if status.Type != gjson.Number {
		return false
	}
	return f.Set.Contains(Status(status.Int()))
}
