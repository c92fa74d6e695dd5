// Package models defines the persistent entities of the log sink: issues,
// blacklist patterns, and duplicate edges, together with the error taxonomy
// shared across components.
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// IssueState is the lifecycle state of an issue.
type IssueState string

const (
	StatePending    IssueState = "pending"
	StateOpen       IssueState = "open"
	StateInProgress IssueState = "in_progress"
	StateDone       IssueState = "done"
	StateRevert     IssueState = "revert"
	StateClosed     IssueState = "closed"
)

// ValidState reports whether s is one of the defined lifecycle states.
func ValidState(s IssueState) bool {
	switch s {
	case StatePending, StateOpen, StateInProgress, StateDone, StateRevert, StateClosed:
		return true
	}
	return false
}

// Issue type classification.
const (
	TypeBugfix        = "bugfix"
	TypeFeature       = "feature"
	TypeDocumentation = "documentation"
)

// Issue effort classification.
const (
	EffortLow      = "low"
	EffortMedium   = "medium"
	EffortHigh     = "high"
	EffortCritical = "critical"
)

// Issue is the primary entity: a deduplicated application error or event
// progressing through the workflow state machine. The identifier is stable
// across all transitions.
type Issue struct {
	ID            uuid.UUID      `json:"id" db:"id"`
	ApplicationID string         `json:"applicationId" db:"application_id"`
	Timestamp     time.Time      `json:"timestamp" db:"timestamp"`
	Message       string         `json:"message" db:"message"`
	Context       JSONMap        `json:"context" db:"context"`
	Screenshots   pq.StringArray `json:"screenshots" db:"screenshots"`
	State         IssueState     `json:"state" db:"state"`
	ReopenCount   int            `json:"reopen_count" db:"reopen_count"`

	// Issue-management fields, set by workers.
	Plan      *string `json:"plan,omitempty" db:"plan"`
	Type      *string `json:"type,omitempty" db:"issue_type"`
	Effort    *string `json:"effort,omitempty" db:"effort"`
	LLMOutput *string `json:"llm_output,omitempty" db:"llm_output"`

	// Completion fields, set on done.
	LLMMessage *string `json:"llm_message,omitempty" db:"llm_message"`
	GitCommit  *string `json:"git_commit,omitempty" db:"git_commit"`
	Statistics JSONMap `json:"statistics,omitempty" db:"statistics"`

	RevertReason *string `json:"revert_reason,omitempty" db:"revert_reason"`

	StartedAt   *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	ReopenedAt  *time.Time `json:"reopened_at,omitempty" db:"reopened_at"`
	RevertedAt  *time.Time `json:"reverted_at,omitempty" db:"reverted_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`

	// Embedding is null while the issue is pending; promotion out of pending
	// sets it (or falls back to open after repeated provider failures).
	Embedding      Vector  `json:"-" db:"embedding"`
	EmbeddingModel *string `json:"embedding_model,omitempty" db:"embedding_model"`
}

// HasEmbedding reports whether an embedding vector has been persisted.
func (i *Issue) HasEmbedding() bool {
	return len(i.Embedding) > 0
}

// DedupeKey is the equality key for exact-duplicate detection: the message,
// concatenated with context.message when present.
func (i *Issue) DedupeKey() string {
	return DedupeKey(i.Message, i.Context)
}

// DedupeKey builds the exact-duplicate equality key for a message and its
// admission context.
func DedupeKey(message string, context JSONMap) string {
	if context != nil {
		if cm, ok := context["message"].(string); ok && cm != "" {
			return message + "\n" + cm
		}
	}
	return message
}

// SimilarIssue pairs an issue with its cosine similarity to a query vector.
type SimilarIssue struct {
	Issue      *Issue  `json:"issue"`
	Similarity float64 `json:"similarity"`
}
