// Package embedding provides the vector-embedding provider contract, an
// OpenAI-compatible client, and the background worker that drains pending
// issues into deduplicated open ones.
package embedding

import (
	"context"

	"github.com/mattes337/logsink/internal/models"
)

// Client is the deterministic contract over an external embedding provider.
// Callers are agnostic to which provider sits behind it.
type Client interface {
	// Embed computes the embedding vector for a text.
	Embed(ctx context.Context, text string) (models.Vector, error)

	// Model returns the provider model identifier recorded alongside
	// persisted vectors.
	Model() string
}
