package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/mattes337/logsink/internal/models"
	"github.com/mattes337/logsink/internal/store"
)

// PromoteWithEmbedding persists the embedding on a pending issue and
// transitions it to open.
func (s *Store) PromoteWithEmbedding(ctx context.Context, id uuid.UUID, embedding models.Vector, model string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE issues SET embedding = $1, embedding_model = $2, state = 'open', updated_at = now()
		 WHERE id = $3 AND state = 'pending'`,
		embedding, model, id)
	if err != nil {
		return fmt.Errorf("failed to promote issue: %w", translateError(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}
	return nil
}

// similarRow carries an issue plus its similarity score out of a query.
type similarRow struct {
	models.Issue
	Similarity float64 `db:"similarity"`
}

// Similar returns the top-k non-pending neighbors by ascending cosine
// distance, with score 1 - distance.
func (s *Store) Similar(ctx context.Context, applicationID string, q models.Vector, limit int, exclude ...uuid.UUID) ([]*models.SimilarIssue, error) {
	args := []any{q.String(), applicationID, limit}
	query := fmt.Sprintf(`SELECT %s, 1 - (embedding <=> $1::vector) AS similarity
		FROM issues
		WHERE application_id = $2 AND embedding IS NOT NULL AND state <> 'pending'`, issueColumns)
	if len(exclude) > 0 {
		ids := make([]string, len(exclude))
		for i, id := range exclude {
			ids[i] = id.String()
		}
		query += ` AND id <> ALL($4::uuid[])`
		args = append(args, pq.Array(ids))
	}
	query += ` ORDER BY embedding <=> $1::vector ASC LIMIT $3`

	var rows []similarRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("similarity query failed: %w", err)
	}

	results := make([]*models.SimilarIssue, 0, len(rows))
	for i := range rows {
		issue := rows[i].Issue
		results = append(results, &models.SimilarIssue{Issue: &issue, Similarity: clamp01(rows[i].Similarity)})
	}
	return results, nil
}

// MergeInto atomically merges the source issue into the target and records a
// duplicate edge. Target and source rows are locked in id order so
// concurrent merges cannot deadlock.
func (s *Store) MergeInto(ctx context.Context, targetID, sourceID uuid.UUID, annotations models.JSONMap, score float64, policy store.MergePolicy) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		first, second := targetID, sourceID
		if second.String() < first.String() {
			first, second = second, first
		}
		locked := map[uuid.UUID]*models.Issue{}
		for _, id := range []uuid.UUID{first, second} {
			issue, err := lockIssue(ctx, tx, id)
			if err != nil {
				return err
			}
			locked[id] = issue
		}
		target, source := locked[targetID], locked[sourceID]

		if policy == store.MergeTargetWins {
			target.Context = source.Context.Merge(target.Context).Merge(annotations)
		} else {
			target.Context = target.Context.Merge(source.Context).Merge(annotations)
		}
		target.Screenshots = appendUnique(target.Screenshots, source.Screenshots)
		target.ReopenCount++
		target.UpdatedAt = time.Now().UTC()

		if err := updateIssueTx(ctx, tx, target); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO duplicate_logs (original_log_id, duplicate_log_id, similarity_score)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (original_log_id, duplicate_log_id) DO NOTHING`,
			targetID, sourceID, score); err != nil {
			return fmt.Errorf("failed to record duplicate edge: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM issues WHERE id = $1`, sourceID); err != nil {
			return fmt.Errorf("failed to delete merged issue: %w", err)
		}
		return nil
	})
}

// ListEdges returns the duplicate edges recorded against an issue.
func (s *Store) ListEdges(ctx context.Context, originalID uuid.UUID) ([]*models.DuplicateEdge, error) {
	var edges []*models.DuplicateEdge
	if err := s.db.SelectContext(ctx, &edges,
		`SELECT id, original_log_id, duplicate_log_id, similarity_score, detected_at
		 FROM duplicate_logs WHERE original_log_id = $1 ORDER BY detected_at DESC`, originalID); err != nil {
		return nil, fmt.Errorf("failed to list duplicate edges: %w", err)
	}
	return edges, nil
}

// CountEdges returns the number of duplicate edges recorded for an
// application's surviving issues.
func (s *Store) CountEdges(ctx context.Context, applicationID string) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM duplicate_logs d
		 JOIN issues i ON i.id = d.original_log_id
		 WHERE i.application_id = $1`, applicationID)
	return count, err
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
