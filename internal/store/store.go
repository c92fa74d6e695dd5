// Package store defines the persistence contract over issues, blacklist
// patterns, duplicate edges, and vector embeddings. The postgres subpackage
// provides the production implementation; components depend only on the
// narrow interfaces they consume.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mattes337/logsink/internal/models"
)

// IssueStore is the contract over issue rows. Mutating operations are
// transactional; every mutation bumps updated_at.
type IssueStore interface {
	// Create inserts a new issue. ID, CreatedAt and UpdatedAt are assigned
	// when unset.
	Create(ctx context.Context, issue *models.Issue) error

	// Get returns the issue with the given id scoped to an application.
	// Returns models.ErrNotFound when absent.
	Get(ctx context.Context, applicationID string, id uuid.UUID) (*models.Issue, error)

	// GetByID returns the issue with the given id regardless of application.
	GetByID(ctx context.Context, id uuid.UUID) (*models.Issue, error)

	// Update persists all mutable fields of the issue.
	Update(ctx context.Context, issue *models.Issue) error

	// Delete removes an issue and returns the deleted row so callers can
	// garbage-collect its screenshots.
	Delete(ctx context.Context, id uuid.UUID) (*models.Issue, error)

	// List returns issues for an application, optionally filtered to the
	// given states. Ordering: revert before open, then descending timestamp,
	// ties by descending updated_at then id.
	List(ctx context.Context, applicationID string, states ...models.IssueState) ([]*models.Issue, error)

	// FindExactDone returns a done issue with the same (application_id,
	// message) pair, or models.ErrNotFound.
	FindExactDone(ctx context.Context, applicationID, message string) (*models.Issue, error)

	// Reopen performs the done->open transition under a row lock: merges
	// mergeCtx into the context (incoming wins), appends screenshots,
	// increments reopen_count, updates timestamp and reopened_at. Returns a
	// TransitionError if the row is no longer done.
	Reopen(ctx context.Context, id uuid.UUID, mergeCtx models.JSONMap, screenshots []string, timestamp time.Time) (*models.Issue, error)

	// AppendMerge merges context and screenshots into an issue without
	// changing its state. Used by the loser of a concurrent reopen race.
	AppendMerge(ctx context.Context, id uuid.UUID, mergeCtx models.JSONMap, screenshots []string) (*models.Issue, error)

	// CountByState returns per-state issue counts for an application.
	CountByState(ctx context.Context, applicationID string) (map[models.IssueState]int, error)

	// Applications returns the distinct application ids present in the store.
	Applications(ctx context.Context) ([]string, error)

	// ListPending returns up to limit pending issues without embeddings,
	// oldest first, excluding the given ids.
	ListPending(ctx context.Context, limit int, exclude []uuid.UUID) ([]*models.Issue, error)

	// CountPending returns the number of pending issues awaiting embedding.
	CountPending(ctx context.Context) (int, error)

	// DeleteAll removes every issue of an application, returning the deleted
	// rows for screenshot GC.
	DeleteAll(ctx context.Context, applicationID string) ([]*models.Issue, error)

	// DeleteByState removes issues of an application in the given state.
	DeleteByState(ctx context.Context, applicationID string, state models.IssueState) ([]*models.Issue, error)

	// DeleteClosedBefore removes closed issues last updated before cutoff.
	DeleteClosedBefore(ctx context.Context, cutoff time.Time) ([]*models.Issue, error)

	// AllScreenshots returns every screenshot filename referenced by any
	// live issue.
	AllScreenshots(ctx context.Context) ([]string, error)
}

// MergePolicy selects which side's context values win on key conflict when
// one issue is merged into another. Annotations always win over both.
type MergePolicy int

const (
	// MergeSourceWins keeps the merged-away issue's values on conflict.
	// Semantic dedup uses this: the source is the fresher report.
	MergeSourceWins MergePolicy = iota
	// MergeTargetWins keeps the surviving issue's values on conflict.
	// Cleanup reconciliation uses this: the newer issue survives.
	MergeTargetWins
)

// VectorStore is the contract over embeddings and similarity queries.
type VectorStore interface {
	// PromoteWithEmbedding persists the embedding on a pending issue and
	// transitions it to open.
	PromoteWithEmbedding(ctx context.Context, id uuid.UUID, embedding models.Vector, model string) error

	// Similar returns the top-k non-pending issues of an application with a
	// non-null embedding, ordered by ascending cosine distance to q. The
	// reported score is 1 - distance. Issues with id in exclude are skipped.
	Similar(ctx context.Context, applicationID string, q models.Vector, limit int, exclude ...uuid.UUID) ([]*models.SimilarIssue, error)

	// MergeInto atomically merges the source issue into the target: deep-
	// merges contexts per policy (annotations always win), appends
	// screenshots, increments the target's reopen_count, records a
	// duplicate edge with the given score, and deletes the source.
	MergeInto(ctx context.Context, targetID, sourceID uuid.UUID, annotations models.JSONMap, score float64, policy MergePolicy) error
}

// DuplicateStore exposes the append-only duplicate history.
type DuplicateStore interface {
	// ListEdges returns the duplicate edges recorded against an issue.
	ListEdges(ctx context.Context, originalID uuid.UUID) ([]*models.DuplicateEdge, error)

	// CountEdges returns the number of duplicate edges whose surviving
	// endpoint belongs to the application.
	CountEdges(ctx context.Context, applicationID string) (int, error)
}

// BlacklistStore is the contract over blacklist patterns.
type BlacklistStore interface {
	// ListPatterns returns patterns, optionally filtered to one application
	// scope. Global patterns are returned for a nil filter only.
	ListPatterns(ctx context.Context, applicationID *string) ([]*models.BlacklistPattern, error)

	// CreatePattern inserts a pattern. A (pattern, application_id) unique
	// violation yields models.ErrConflict.
	CreatePattern(ctx context.Context, p *models.BlacklistPattern) error

	// UpdatePattern updates pattern, type, scope, and reason by id.
	UpdatePattern(ctx context.Context, p *models.BlacklistPattern) error

	// DeletePattern removes a pattern by id.
	DeletePattern(ctx context.Context, id int64) error

	// ClearPatterns removes every pattern.
	ClearPatterns(ctx context.Context) error
}

// Store aggregates the full persistence contract.
type Store interface {
	IssueStore
	VectorStore
	DuplicateStore
	BlacklistStore

	Ping(ctx context.Context) error
	Close() error
}
