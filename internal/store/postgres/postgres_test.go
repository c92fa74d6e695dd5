package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattes337/logsink/internal/models"
	"github.com/mattes337/logsink/internal/observability"
	"github.com/mattes337/logsink/internal/store"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := NewWithDB(sqlx.NewDb(db, "sqlmock"), observability.NewNoopLogger())
	return store, mock
}

func issueColumnsList() []string {
	return []string{
		"id", "application_id", "timestamp", "message", "context", "screenshots", "state",
		"reopen_count", "plan", "issue_type", "effort", "llm_output", "llm_message", "git_commit",
		"statistics", "revert_reason", "started_at", "completed_at", "reopened_at", "reverted_at",
		"created_at", "updated_at", "embedding", "embedding_model",
	}
}

func issueRow(id uuid.UUID, app, message string, state models.IssueState) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows(issueColumnsList()).AddRow(
		id, app, now, message, []byte(`{}`), []byte(`{}`), string(state),
		0, nil, nil, nil, nil, nil, nil,
		nil, nil, nil, nil, nil, nil,
		now, now, nil, nil,
	)
}

func TestPingWithRetryRecoversFromTransientFailure(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	mock.ExpectPing()

	err = pingWithRetry(context.Background(), sqlx.NewDb(db, "sqlmock"), observability.NewNoopLogger())
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGet(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectQuery(`FROM issues WHERE application_id = \$1 AND id = \$2`).
		WithArgs("shop", id).
		WillReturnRows(issueRow(id, "shop", "boom", models.StateOpen))

	issue, err := store.Get(context.Background(), "shop", id)
	require.NoError(t, err)
	assert.Equal(t, id, issue.ID)
	assert.Equal(t, "boom", issue.Message)
	assert.Equal(t, models.StateOpen, issue.State)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectQuery(`FROM issues WHERE application_id = \$1 AND id = \$2`).
		WithArgs("shop", id).
		WillReturnError(sql.ErrNoRows)

	_, err := store.Get(context.Background(), "shop", id)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCreateAssignsIdentity(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO issues`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	issue := &models.Issue{ApplicationID: "shop", Message: "boom", State: models.StatePending}
	require.NoError(t, store.Create(context.Background(), issue))
	assert.NotEqual(t, uuid.Nil, issue.ID)
	assert.False(t, issue.CreatedAt.IsZero())
	assert.False(t, issue.Timestamp.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateTranslatesUniqueViolation(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO issues`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "issues_pkey"})

	err := store.Create(context.Background(), &models.Issue{ApplicationID: "shop", Message: "boom"})
	assert.ErrorIs(t, err, models.ErrConflict)
}

func TestUpdateNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE issues SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Update(context.Background(), &models.Issue{ID: uuid.New()})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestFindExactDone(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectQuery(`WHERE application_id = \$1 AND message = \$2 AND state = 'done'`).
		WithArgs("shop", "boom").
		WillReturnRows(issueRow(id, "shop", "boom", models.StateDone))

	issue, err := store.FindExactDone(context.Background(), "shop", "boom")
	require.NoError(t, err)
	assert.Equal(t, models.StateDone, issue.State)
}

func TestCountByState(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT state, COUNT\(\*\) FROM issues WHERE application_id = \$1 GROUP BY state`).
		WithArgs("shop").
		WillReturnRows(sqlmock.NewRows([]string{"state", "count"}).
			AddRow("open", 3).
			AddRow("done", 1))

	counts, err := store.CountByState(context.Background(), "shop")
	require.NoError(t, err)
	assert.Equal(t, 3, counts[models.StateOpen])
	assert.Equal(t, 1, counts[models.StateDone])
}

func TestReopenTransitionGuard(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM issues WHERE id = \$1 FOR UPDATE`).
		WithArgs(id).
		WillReturnRows(issueRow(id, "shop", "boom", models.StateOpen))
	mock.ExpectRollback()

	_, err := store.Reopen(context.Background(), id, nil, nil, time.Now().UTC())
	var transition *models.TransitionError
	require.ErrorAs(t, err, &transition)
	assert.Equal(t, models.StateOpen, transition.Current)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReopen(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM issues WHERE id = \$1 FOR UPDATE`).
		WithArgs(id).
		WillReturnRows(issueRow(id, "shop", "boom", models.StateDone))
	mock.ExpectExec(`UPDATE issues SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ts := time.Now().UTC()
	issue, err := store.Reopen(context.Background(), id, models.JSONMap{"url": "/b"}, []string{"shop-img-x-1.png"}, ts)
	require.NoError(t, err)
	assert.Equal(t, models.StateOpen, issue.State)
	assert.Equal(t, 1, issue.ReopenCount)
	assert.Equal(t, "/b", issue.Context["url"])
	assert.Equal(t, pq.StringArray{"shop-img-x-1.png"}, issue.Screenshots)
	assert.NotNil(t, issue.ReopenedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPromoteWithEmbedding(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectExec(`UPDATE issues SET embedding = \$1`).
		WithArgs("[1,0,0]", "test-model", id).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.PromoteWithEmbedding(context.Background(), id, models.Vector{1, 0, 0}, "test-model")
	assert.NoError(t, err)
}

func TestPromoteWithEmbeddingRequiresPending(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectExec(`UPDATE issues SET embedding = \$1`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.PromoteWithEmbedding(context.Background(), id, models.Vector{1, 0, 0}, "test-model")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestSimilar(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()

	cols := append(issueColumnsList(), "similarity")
	now := time.Now().UTC()
	rows := sqlmock.NewRows(cols).AddRow(
		id, "shop", now, "boom", []byte(`{}`), []byte(`{}`), "open",
		0, nil, nil, nil, nil, nil, nil,
		nil, nil, nil, nil, nil, nil,
		now, now, "[1,0,0]", "test-model",
		1.2,
	)
	mock.ExpectQuery(`1 - \(embedding <=> \$1::vector\) AS similarity`).
		WithArgs("[1,0,0]", "shop", 5).
		WillReturnRows(rows)

	results, err := store.Similar(context.Background(), "shop", models.Vector{1, 0, 0}, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, id, results[0].Issue.ID)
	// Scores are clamped into [0,1].
	assert.Equal(t, 1.0, results[0].Similarity)
}

func TestMergeInto(t *testing.T) {
	st, mock := newMockStore(t)
	target := uuid.MustParse("00000000-0000-0000-0000-00000000000a")
	source := uuid.MustParse("00000000-0000-0000-0000-00000000000b")

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM issues WHERE id = \$1 FOR UPDATE`).
		WithArgs(target).
		WillReturnRows(issueRow(target, "shop", "boom", models.StateOpen))
	mock.ExpectQuery(`FROM issues WHERE id = \$1 FOR UPDATE`).
		WithArgs(source).
		WillReturnRows(issueRow(source, "shop", "boom again", models.StatePending))
	mock.ExpectExec(`UPDATE issues SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO duplicate_logs`).
		WithArgs(target, source, 0.95).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`DELETE FROM issues WHERE id = \$1`).
		WithArgs(source).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := st.MergeInto(context.Background(), target, source, models.JSONMap{"merge_reason": "semantic"}, 0.95, store.MergeSourceWins)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteClosedBefore(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()
	cutoff := time.Now().UTC().Add(-30 * 24 * time.Hour)

	mock.ExpectQuery(`DELETE FROM issues WHERE state = 'closed' AND updated_at < \$1 RETURNING`).
		WithArgs(cutoff).
		WillReturnRows(issueRow(id, "shop", "stale", models.StateClosed))

	deleted, err := store.DeleteClosedBefore(context.Background(), cutoff)
	require.NoError(t, err)
	require.Len(t, deleted, 1)
	assert.Equal(t, id, deleted[0].ID)
}
