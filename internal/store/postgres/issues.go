package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/mattes337/logsink/internal/models"
)

const issueColumns = `id, application_id, timestamp, message, context, screenshots, state,
	reopen_count, plan, issue_type, effort, llm_output, llm_message, git_commit, statistics,
	revert_reason, started_at, completed_at, reopened_at, reverted_at, created_at, updated_at,
	embedding, embedding_model`

// issueOrder sorts listings by descending timestamp, ties broken by
// descending updated_at and id.
const issueOrder = `ORDER BY timestamp DESC, updated_at DESC, id ASC`

// revertFirstOrder additionally surfaces revert entries before everything
// else. Applied only to the open worker view (open plus revert).
const revertFirstOrder = `ORDER BY CASE WHEN state = 'revert' THEN 0 ELSE 1 END,
	timestamp DESC, updated_at DESC, id ASC`

// Create inserts a new issue, assigning id and timestamps when unset.
func (s *Store) Create(ctx context.Context, issue *models.Issue) error {
	if issue.ID == uuid.Nil {
		issue.ID = uuid.New()
	}
	now := time.Now().UTC()
	if issue.Timestamp.IsZero() {
		issue.Timestamp = now
	}
	issue.CreatedAt = now
	issue.UpdatedAt = now
	if issue.Context == nil {
		issue.Context = models.JSONMap{}
	}
	if issue.Screenshots == nil {
		issue.Screenshots = pq.StringArray{}
	}

	const query = `INSERT INTO issues (id, application_id, timestamp, message, context, screenshots,
		state, reopen_count, plan, issue_type, effort, llm_output, created_at, updated_at, embedding, embedding_model)
		VALUES (:id, :application_id, :timestamp, :message, :context, :screenshots,
		:state, :reopen_count, :plan, :issue_type, :effort, :llm_output, :created_at, :updated_at, :embedding, :embedding_model)`
	_, err := s.db.NamedExecContext(ctx, query, issue)
	if err != nil {
		return fmt.Errorf("failed to create issue: %w", translateError(err))
	}
	return nil
}

// Get fetches an issue scoped to an application.
func (s *Store) Get(ctx context.Context, applicationID string, id uuid.UUID) (*models.Issue, error) {
	var issue models.Issue
	query := fmt.Sprintf(`SELECT %s FROM issues WHERE application_id = $1 AND id = $2`, issueColumns)
	if err := s.db.GetContext(ctx, &issue, query, applicationID, id); err != nil {
		return nil, translateError(err)
	}
	return &issue, nil
}

// GetByID fetches an issue by id regardless of application.
func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*models.Issue, error) {
	var issue models.Issue
	query := fmt.Sprintf(`SELECT %s FROM issues WHERE id = $1`, issueColumns)
	if err := s.db.GetContext(ctx, &issue, query, id); err != nil {
		return nil, translateError(err)
	}
	return &issue, nil
}

// Update persists all mutable fields of an issue.
func (s *Store) Update(ctx context.Context, issue *models.Issue) error {
	issue.UpdatedAt = time.Now().UTC()
	const query = `UPDATE issues SET timestamp = :timestamp, message = :message, context = :context,
		screenshots = :screenshots, state = :state, reopen_count = :reopen_count, plan = :plan,
		issue_type = :issue_type, effort = :effort, llm_output = :llm_output, llm_message = :llm_message,
		git_commit = :git_commit, statistics = :statistics, revert_reason = :revert_reason,
		started_at = :started_at, completed_at = :completed_at, reopened_at = :reopened_at,
		reverted_at = :reverted_at, updated_at = :updated_at, embedding = :embedding,
		embedding_model = :embedding_model
		WHERE id = :id`
	res, err := s.db.NamedExecContext(ctx, query, issue)
	if err != nil {
		return fmt.Errorf("failed to update issue: %w", translateError(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}
	return nil
}

// Delete removes an issue, returning the deleted row.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) (*models.Issue, error) {
	var issue models.Issue
	query := fmt.Sprintf(`DELETE FROM issues WHERE id = $1 RETURNING %s`, issueColumns)
	if err := s.db.GetContext(ctx, &issue, query, id); err != nil {
		return nil, translateError(err)
	}
	return &issue, nil
}

// List returns issues for an application, optionally filtered by state.
func (s *Store) List(ctx context.Context, applicationID string, states ...models.IssueState) ([]*models.Issue, error) {
	args := []any{applicationID}
	query := fmt.Sprintf(`SELECT %s FROM issues WHERE application_id = $1`, issueColumns)
	if len(states) > 0 {
		stateStrs := make([]string, len(states))
		for i, st := range states {
			stateStrs[i] = string(st)
		}
		query += ` AND state = ANY($2)`
		args = append(args, pq.Array(stateStrs))
	}
	if isOpenView(states) {
		query += " " + revertFirstOrder
	} else {
		query += " " + issueOrder
	}

	var issues []*models.Issue
	if err := s.db.SelectContext(ctx, &issues, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list issues: %w", err)
	}
	return issues, nil
}

// isOpenView reports whether the state filter is the open worker view, the
// open and revert union.
func isOpenView(states []models.IssueState) bool {
	if len(states) != 2 {
		return false
	}
	hasOpen := states[0] == models.StateOpen || states[1] == models.StateOpen
	hasRevert := states[0] == models.StateRevert || states[1] == models.StateRevert
	return hasOpen && hasRevert
}

// FindExactDone probes for a done issue with the same (application_id,
// message) exact-duplicate key.
func (s *Store) FindExactDone(ctx context.Context, applicationID, message string) (*models.Issue, error) {
	var issue models.Issue
	query := fmt.Sprintf(`SELECT %s FROM issues
		WHERE application_id = $1 AND message = $2 AND state = 'done'
		ORDER BY updated_at DESC LIMIT 1`, issueColumns)
	if err := s.db.GetContext(ctx, &issue, query, applicationID, message); err != nil {
		return nil, translateError(err)
	}
	return &issue, nil
}

// Reopen transitions a done issue back to open under a row lock, merging the
// incoming context and screenshots. At most one concurrent admission wins;
// losers observe a TransitionError and fall back to AppendMerge.
func (s *Store) Reopen(ctx context.Context, id uuid.UUID, mergeCtx models.JSONMap, screenshots []string, timestamp time.Time) (*models.Issue, error) {
	var reopened *models.Issue
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		issue, err := lockIssue(ctx, tx, id)
		if err != nil {
			return err
		}
		if issue.State != models.StateDone {
			return &models.TransitionError{Current: issue.State, Requested: models.StateOpen}
		}

		now := time.Now().UTC()
		issue.Context = issue.Context.Merge(mergeCtx)
		issue.Screenshots = appendUnique(issue.Screenshots, screenshots)
		issue.ReopenCount++
		issue.State = models.StateOpen
		issue.Timestamp = timestamp
		issue.ReopenedAt = &now
		issue.UpdatedAt = now

		if err := updateIssueTx(ctx, tx, issue); err != nil {
			return err
		}
		reopened = issue
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reopened, nil
}

// AppendMerge merges context and screenshots into an issue without changing
// its state.
func (s *Store) AppendMerge(ctx context.Context, id uuid.UUID, mergeCtx models.JSONMap, screenshots []string) (*models.Issue, error) {
	var merged *models.Issue
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		issue, err := lockIssue(ctx, tx, id)
		if err != nil {
			return err
		}
		issue.Context = issue.Context.Merge(mergeCtx)
		issue.Screenshots = appendUnique(issue.Screenshots, screenshots)
		issue.UpdatedAt = time.Now().UTC()
		if err := updateIssueTx(ctx, tx, issue); err != nil {
			return err
		}
		merged = issue
		return nil
	})
	if err != nil {
		return nil, err
	}
	return merged, nil
}

// CountByState returns per-state issue counts for an application.
func (s *Store) CountByState(ctx context.Context, applicationID string) (map[models.IssueState]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT state, COUNT(*) FROM issues WHERE application_id = $1 GROUP BY state`, applicationID)
	if err != nil {
		return nil, fmt.Errorf("failed to count issues: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[models.IssueState]int)
	for rows.Next() {
		var state models.IssueState
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, err
		}
		counts[state] = count
	}
	return counts, rows.Err()
}

// Applications returns the distinct application ids in the store.
func (s *Store) Applications(ctx context.Context) ([]string, error) {
	var apps []string
	if err := s.db.SelectContext(ctx, &apps,
		`SELECT DISTINCT application_id FROM issues ORDER BY application_id`); err != nil {
		return nil, fmt.Errorf("failed to list applications: %w", err)
	}
	return apps, nil
}

// ListPending claims up to limit pending issues without embeddings, oldest
// first, skipping ids currently in flight.
func (s *Store) ListPending(ctx context.Context, limit int, exclude []uuid.UUID) ([]*models.Issue, error) {
	args := []any{limit}
	query := fmt.Sprintf(`SELECT %s FROM issues WHERE state = 'pending' AND embedding IS NULL`, issueColumns)
	if len(exclude) > 0 {
		ids := make([]string, len(exclude))
		for i, id := range exclude {
			ids[i] = id.String()
		}
		query += ` AND id <> ALL($2::uuid[])`
		args = append(args, pq.Array(ids))
	}
	query += ` ORDER BY created_at ASC LIMIT $1`

	var issues []*models.Issue
	if err := s.db.SelectContext(ctx, &issues, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list pending issues: %w", err)
	}
	return issues, nil
}

// CountPending returns the number of pending issues awaiting embedding.
func (s *Store) CountPending(ctx context.Context) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM issues WHERE state = 'pending' AND embedding IS NULL`)
	return count, err
}

// DeleteAll removes every issue of an application.
func (s *Store) DeleteAll(ctx context.Context, applicationID string) ([]*models.Issue, error) {
	query := fmt.Sprintf(`DELETE FROM issues WHERE application_id = $1 RETURNING %s`, issueColumns)
	var issues []*models.Issue
	if err := s.db.SelectContext(ctx, &issues, query, applicationID); err != nil {
		return nil, fmt.Errorf("failed to delete issues: %w", err)
	}
	return issues, nil
}

// DeleteByState removes issues of an application in the given state.
func (s *Store) DeleteByState(ctx context.Context, applicationID string, state models.IssueState) ([]*models.Issue, error) {
	query := fmt.Sprintf(`DELETE FROM issues WHERE application_id = $1 AND state = $2 RETURNING %s`, issueColumns)
	var issues []*models.Issue
	if err := s.db.SelectContext(ctx, &issues, query, applicationID, state); err != nil {
		return nil, fmt.Errorf("failed to delete issues by state: %w", err)
	}
	return issues, nil
}

// DeleteClosedBefore removes closed issues last updated before cutoff.
func (s *Store) DeleteClosedBefore(ctx context.Context, cutoff time.Time) ([]*models.Issue, error) {
	query := fmt.Sprintf(`DELETE FROM issues WHERE state = 'closed' AND updated_at < $1 RETURNING %s`, issueColumns)
	var issues []*models.Issue
	if err := s.db.SelectContext(ctx, &issues, query, cutoff); err != nil {
		return nil, fmt.Errorf("failed to expire closed issues: %w", err)
	}
	return issues, nil
}

// AllScreenshots returns every referenced screenshot filename.
func (s *Store) AllScreenshots(ctx context.Context) ([]string, error) {
	var names []string
	if err := s.db.SelectContext(ctx, &names,
		`SELECT DISTINCT unnest(screenshots) FROM issues`); err != nil {
		return nil, fmt.Errorf("failed to list screenshots: %w", err)
	}
	return names, nil
}

// inTx runs fn in a transaction, rolling back on error.
func (s *Store) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// lockIssue reads an issue row under FOR UPDATE.
func lockIssue(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*models.Issue, error) {
	var issue models.Issue
	query := fmt.Sprintf(`SELECT %s FROM issues WHERE id = $1 FOR UPDATE`, issueColumns)
	if err := tx.GetContext(ctx, &issue, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return &issue, nil
}

// updateIssueTx writes all mutable issue fields inside a transaction.
func updateIssueTx(ctx context.Context, tx *sqlx.Tx, issue *models.Issue) error {
	const query = `UPDATE issues SET timestamp = :timestamp, message = :message, context = :context,
		screenshots = :screenshots, state = :state, reopen_count = :reopen_count, plan = :plan,
		issue_type = :issue_type, effort = :effort, llm_output = :llm_output, llm_message = :llm_message,
		git_commit = :git_commit, statistics = :statistics, revert_reason = :revert_reason,
		started_at = :started_at, completed_at = :completed_at, reopened_at = :reopened_at,
		reverted_at = :reverted_at, updated_at = :updated_at, embedding = :embedding,
		embedding_model = :embedding_model
		WHERE id = :id`
	_, err := tx.NamedExecContext(ctx, query, issue)
	if err != nil {
		return fmt.Errorf("failed to update issue: %w", translateError(err))
	}
	return nil
}

// appendUnique appends incoming names to existing, skipping duplicates while
// preserving order.
func appendUnique(existing pq.StringArray, incoming []string) pq.StringArray {
	seen := make(map[string]struct{}, len(existing))
	for _, s := range existing {
		seen[s] = struct{}{}
	}
	out := existing
	for _, s := range incoming {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
