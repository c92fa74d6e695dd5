package cleanup

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessageSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a, b     string
		expected float64
	}{
		{"identical", "connection refused", "connection refused", 1.0},
		{"both empty", "", "", 1.0},
		{"one empty", "abc", "", 0.0},
		{"completely different", "abc", "xyz", 0.0},
		{"single substitution", "timeout", "timeOut", 1.0 - 1.0/7.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, messageSimilarity(tt.a, tt.b), 1e-9)
			assert.InDelta(t, tt.expected, messageSimilarity(tt.b, tt.a), 1e-9)
		})
	}
}

func TestMessageSimilarityNearDuplicate(t *testing.T) {
	a := "failed to load user profile for id 1234"
	b := "failed to load user profile for id 5678"
	score := messageSimilarity(a, b)
	assert.Greater(t, score, 0.85)
	assert.Less(t, score, 1.0)
}

func TestLevenshtein(t *testing.T) {
	assert.Equal(t, 0, levenshtein([]rune("same"), []rune("same")))
	assert.Equal(t, 3, levenshtein([]rune("kitten"), []rune("sitting")))
	assert.Equal(t, 5, levenshtein([]rune(""), []rune("hello")))
	assert.Equal(t, 1, levenshtein([]rune("résumé"), []rune("resumé")))
}
