package engine

import (
	"fmt"
	"strings"
	"time"
)

// Channel is one of the eligibility dimensions of a task.
type Channel int

const (
	ChannelAssignee Channel = iota + 1
	ChannelCandidateUser
	ChannelCandidateGroup
	// ChannelMerged is the union of the three channels in declared order.
	ChannelMerged
)

// Channels lists the single channels in merge order.
var Channels = []Channel{ChannelAssignee, ChannelCandidateUser, ChannelCandidateGroup}

func (c Channel) String() string {
	switch c {
	case ChannelAssignee:
		return "assignee"
	case ChannelCandidateUser:
		return "candidate_user"
	case ChannelCandidateGroup:
		return "candidate_group"
	case ChannelMerged:
		return "merged"
	default:
		return fmt.Sprintf("channel(%d)", int(c))
	}
}

// Valid reports whether c is a known channel, merged included.
func (c Channel) Valid() bool {
	return c >= ChannelAssignee && c <= ChannelMerged
}

// LinkKind returns the identity-link kind backing a candidate channel.
func (c Channel) LinkKind() (LinkKind, bool) {
	switch c {
	case ChannelCandidateUser:
		return LinkKindUser, true
	case ChannelCandidateGroup:
		return LinkKindGroup, true
	default:
		return "", false
	}
}

// ParseChannel parses the wire name of a channel. An empty string selects
// ChannelMerged.
func ParseChannel(s string) (Channel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "assignee":
		return ChannelAssignee, nil
	case "candidate_user", "candidate-user", "user":
		return ChannelCandidateUser, nil
	case "candidate_group", "candidate-group", "group":
		return ChannelCandidateGroup, nil
	case "", "merged", "all":
		return ChannelMerged, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidChannel, s)
	}
}

// LinkKind is the kind of an identity link.
type LinkKind string

const (
	LinkKindUser  LinkKind = "user"
	LinkKindGroup LinkKind = "group"
)

// Task is one open unit of human work inside a process instance.
type Task struct {
	ID         string
	InstanceID string
	Name       string
	Assignee   string

	// Raw candidate link values as reported by the engine. Resolution always
	// goes through IdentityLinks; these are informational.
	CandidateUsers  []string
	CandidateGroups []string

	CreatedAt time.Time
}

// AssigneeID is the assignee with surrounding whitespace removed.
func (t *Task) AssigneeID() string {
	return strings.TrimSpace(t.Assignee)
}

// IsAssigned reports whether the task has a non-blank assignee.
func (t *Task) IsAssigned() bool {
	return t.AssigneeID() != ""
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	clone := *t
	clone.CandidateUsers = append([]string(nil), t.CandidateUsers...)
	clone.CandidateGroups = append([]string(nil), t.CandidateGroups...)
	return &clone
}

// IdentityLink is one raw eligibility record. Value may hold several
// comma-joined identifiers.
type IdentityLink struct {
	TaskID string
	Kind   LinkKind
	Value  string
}

// HistoricTask is a task record retained by the engine after creation,
// including finished tasks.
type HistoricTask struct {
	ID         string
	InstanceID string
	Name       string
	Assignee   string
	StartedAt  time.Time
	EndedAt    time.Time
}

// Finished reports whether the task was completed.
func (h *HistoricTask) Finished() bool {
	return !h.EndedAt.IsZero()
}

// TaskFilter selects open tasks. Empty fields do not filter.
//
// CandidateUser and CandidateGroup are coarse: an engine matches any task with
// a link of that kind whose raw value contains the string. Callers confirm
// exact membership after parsing.
type TaskFilter struct {
	InstanceID     string
	Assignee       string
	CandidateUser  string
	CandidateGroup string
	Unassigned     bool
}

// HistoryFilter selects historic tasks. Candidate filters match exact
// identifiers inside delimited link values.
type HistoryFilter struct {
	Assignee       string
	CandidateUser  string
	CandidateGroup string
	FinishedOnly   bool
}
