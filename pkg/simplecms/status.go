package simplecms

import (
	"fmt"
	"slices"
)

// Status is a workflow status drawn from a StatusSet. The zero value is not a
// valid status; values are only produced by StatusSet.Parse and Initial.
type Status struct {
	name string
}

func (s Status) String() string {
	return s.name
}

// IsZero reports whether s was never assigned.
func (s Status) IsZero() bool {
	return s.name == ""
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.name), nil
}

// Default workflow statuses
const (
	StatusDraft          = "draft"
	StatusPendingReview  = "pending_review"
	StatusPendingPublish = "pending_publish"
)

// DefaultStatuses is the status set used when none is configured.
var DefaultStatuses = []string{StatusDraft, StatusPendingReview, StatusPendingPublish}

// StatusSet is the closed set of workflow statuses of a deployment.
type StatusSet struct {
	names   []string
	initial Status
}

// NewStatusSet builds a set from names. initial must be a member; an empty
// initial selects the first name.
func NewStatusSet(names []string, initial string) (StatusSet, error) {
	if len(names) == 0 {
		return StatusSet{}, &ConfigurationError{Field: "statuses", Reason: "at least one status is required"}
	}
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if n == "" {
			return StatusSet{}, &ConfigurationError{Field: "statuses", Reason: "empty status name"}
		}
		if seen[n] {
			return StatusSet{}, &ConfigurationError{Field: "statuses", Reason: fmt.Sprintf("duplicate status %q", n)}
		}
		seen[n] = true
	}
	if initial == "" {
		initial = names[0]
	}
	if !seen[initial] {
		return StatusSet{}, &ConfigurationError{Field: "initial_status", Reason: fmt.Sprintf("%q is not a configured status", initial)}
	}
	return StatusSet{names: slices.Clone(names), initial: Status{name: initial}}, nil
}

// Initial returns the status given to new drafts.
func (s StatusSet) Initial() Status {
	return s.initial
}

// Parse maps name onto a member of the set.
func (s StatusSet) Parse(name string) (Status, error) {
	if slices.Contains(s.names, name) {
		return Status{name: name}, nil
	}
	return Status{}, fmt.Errorf("%w: %q (allowed: %v)", ErrInvalidStatus, name, s.names)
}

// Names returns the configured statuses in order.
func (s StatusSet) Names() []string {
	return slices.Clone(s.names)
}

// StateKind tags the workflow state of an entry.
type StateKind int

const (
	// StateNoDraft means neither a draft nor a published copy exists
	StateNoDraft StateKind = iota
	// StateDraft means only an unpublished copy exists
	StateDraft
	// StatePublished means a published copy exists, with or without a draft
	StatePublished
)

func (k StateKind) String() string {
	switch k {
	case StateNoDraft:
		return "no_draft"
	case StateDraft:
		return "draft"
	case StatePublished:
		return "published"
	default:
		return fmt.Sprintf("state(%d)", int(k))
	}
}

// State is the workflow position of an entry. Status is set whenever a draft exists.
type State struct {
	Kind     StateKind
	HasDraft bool
	Status   Status
}
