package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeKey(t *testing.T) {
	tests := []struct {
		name     string
		message  string
		context  JSONMap
		expected string
	}{
		{
			name:     "message only",
			message:  "connection refused",
			expected: "connection refused",
		},
		{
			name:     "context message appended",
			message:  "connection refused",
			context:  JSONMap{"message": "dial tcp 10.0.0.1:5432"},
			expected: "connection refused\ndial tcp 10.0.0.1:5432",
		},
		{
			name:     "empty context message ignored",
			message:  "connection refused",
			context:  JSONMap{"message": ""},
			expected: "connection refused",
		},
		{
			name:     "non-string context message ignored",
			message:  "connection refused",
			context:  JSONMap{"message": 42.0},
			expected: "connection refused",
		},
		{
			name:     "unrelated context keys ignored",
			message:  "connection refused",
			context:  JSONMap{"url": "/checkout"},
			expected: "connection refused",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DedupeKey(tt.message, tt.context))

			issue := &Issue{Message: tt.message, Context: tt.context}
			assert.Equal(t, tt.expected, issue.DedupeKey())
		})
	}
}

func TestValidState(t *testing.T) {
	for _, s := range []IssueState{StatePending, StateOpen, StateInProgress, StateDone, StateRevert, StateClosed} {
		assert.True(t, ValidState(s), string(s))
	}
	assert.False(t, ValidState("resolved"))
	assert.False(t, ValidState(""))
}

func TestHasEmbedding(t *testing.T) {
	issue := &Issue{}
	assert.False(t, issue.HasEmbedding())
	issue.Embedding = Vector{0.1, 0.2}
	assert.True(t, issue.HasEmbedding())
}

func TestTransitionErrorMatchesPrecondition(t *testing.T) {
	err := &TransitionError{Current: StateClosed, Requested: StateDone}
	assert.True(t, errors.Is(err, ErrPrecondition))
	assert.Contains(t, err.Error(), "current state: closed")
}

func TestBlockedErrorReason(t *testing.T) {
	p := &BlacklistPattern{Pattern: "spam"}
	err := &BlockedError{Pattern: p}
	assert.Equal(t, "Message matches blacklist pattern", err.Reason())

	reason := "known noise"
	p.Reason = &reason
	assert.Equal(t, "known noise", err.Reason())
}
