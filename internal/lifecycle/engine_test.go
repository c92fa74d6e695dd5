package lifecycle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattes337/logsink/internal/images"
	"github.com/mattes337/logsink/internal/models"
	"github.com/mattes337/logsink/internal/observability"
	"github.com/mattes337/logsink/internal/store/storetest"
)

func strptr(s string) *string { return &s }

func seedIssue(t *testing.T, st *storetest.Memory, state models.IssueState) *models.Issue {
	t.Helper()
	issue := &models.Issue{ApplicationID: "shop", Message: "boom", State: state}
	require.NoError(t, st.Create(context.Background(), issue))
	return issue
}

func TestStartProgress(t *testing.T) {
	st := storetest.New()
	e := New(st, nil, observability.NewNoopLogger())

	for _, from := range []models.IssueState{models.StateOpen, models.StateRevert} {
		issue := seedIssue(t, st, from)
		updated, err := e.StartProgress(context.Background(), "shop", issue.ID)
		require.NoError(t, err, string(from))
		assert.Equal(t, models.StateInProgress, updated.State)
		assert.NotNil(t, updated.StartedAt)
	}

	for _, from := range []models.IssueState{models.StatePending, models.StateDone, models.StateClosed} {
		issue := seedIssue(t, st, from)
		_, err := e.StartProgress(context.Background(), "shop", issue.ID)
		assert.ErrorIs(t, err, models.ErrPrecondition, string(from))
	}
}

func TestSetDone(t *testing.T) {
	st := storetest.New()
	e := New(st, nil, observability.NewNoopLogger())

	issue := seedIssue(t, st, models.StateInProgress)
	updated, err := e.SetDone(context.Background(), "shop", issue.ID, DoneParams{
		LLMMessage: strptr("fixed the null check"),
		GitCommit:  strptr("abc123"),
		Statistics: models.JSONMap{"files_changed": 2.0},
	})
	require.NoError(t, err)
	assert.Equal(t, models.StateDone, updated.State)
	assert.NotNil(t, updated.CompletedAt)
	assert.Equal(t, "fixed the null check", *updated.LLMMessage)
	assert.Equal(t, "abc123", *updated.GitCommit)
	assert.Equal(t, 2.0, updated.Statistics["files_changed"])

	// Open goes directly to done as well.
	open := seedIssue(t, st, models.StateOpen)
	_, err = e.SetDone(context.Background(), "shop", open.ID, DoneParams{})
	assert.NoError(t, err)

	closed := seedIssue(t, st, models.StateClosed)
	_, err = e.SetDone(context.Background(), "shop", closed.ID, DoneParams{})
	assert.ErrorIs(t, err, models.ErrPrecondition)
}

func TestRevert(t *testing.T) {
	st := storetest.New()
	e := New(st, nil, observability.NewNoopLogger())

	issue := seedIssue(t, st, models.StateDone)
	updated, err := e.Revert(context.Background(), "shop", issue.ID, strptr("still broken in prod"))
	require.NoError(t, err)
	assert.Equal(t, models.StateRevert, updated.State)
	assert.NotNil(t, updated.RevertedAt)
	assert.Equal(t, "still broken in prod", *updated.RevertReason)
	assert.Zero(t, updated.ReopenCount)

	open := seedIssue(t, st, models.StateOpen)
	_, err = e.Revert(context.Background(), "shop", open.ID, nil)
	assert.ErrorIs(t, err, models.ErrPrecondition)
}

func TestForceReopen(t *testing.T) {
	st := storetest.New()
	e := New(st, nil, observability.NewNoopLogger())

	issue := seedIssue(t, st, models.StateDone)
	updated, err := e.ForceReopen(context.Background(), "shop", issue.ID, strptr("fix rejected"))
	require.NoError(t, err)
	assert.Equal(t, models.StateOpen, updated.State)
	assert.Equal(t, "fix rejected", updated.Context["reject_reason"])
	assert.Zero(t, updated.ReopenCount)

	open := seedIssue(t, st, models.StateOpen)
	_, err = e.ForceReopen(context.Background(), "shop", open.ID, nil)
	assert.ErrorIs(t, err, models.ErrPrecondition)
}

func TestCloseRemovesScreenshots(t *testing.T) {
	st := storetest.New()
	imgs, err := images.NewStore(t.TempDir(), observability.NewNoopLogger())
	require.NoError(t, err)
	e := New(st, imgs, observability.NewNoopLogger())

	require.NoError(t, imgs.Save("shop-img-x-1.png", []byte("png")))
	issue := &models.Issue{
		ApplicationID: "shop",
		Message:       "boom",
		State:         models.StateOpen,
		Screenshots:   []string{"shop-img-x-1.png"},
	}
	require.NoError(t, st.Create(context.Background(), issue))

	updated, err := e.Close(context.Background(), "shop", issue.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateClosed, updated.State)
	assert.Empty(t, updated.Screenshots)
	assert.False(t, imgs.Exists("shop-img-x-1.png"))

	_, err = e.Close(context.Background(), "shop", issue.ID)
	assert.ErrorIs(t, err, models.ErrPrecondition)
}

func TestSetPlanDoesNotPromote(t *testing.T) {
	st := storetest.New()
	e := New(st, nil, observability.NewNoopLogger())

	issue := seedIssue(t, st, models.StatePending)
	updated, err := e.SetPlan(context.Background(), "shop", issue.ID, "1. reproduce 2. fix")
	require.NoError(t, err)
	assert.Equal(t, models.StatePending, updated.State)
	assert.Equal(t, "1. reproduce 2. fix", *updated.Plan)
}

func TestSetIssueFieldsValidation(t *testing.T) {
	st := storetest.New()
	e := New(st, nil, observability.NewNoopLogger())
	issue := seedIssue(t, st, models.StateOpen)

	updated, err := e.SetIssueFields(context.Background(), "shop", issue.ID, IssueFields{
		Type:   strptr(models.TypeBugfix),
		Effort: strptr(models.EffortHigh),
	})
	require.NoError(t, err)
	assert.Equal(t, models.TypeBugfix, *updated.Type)
	assert.Equal(t, models.EffortHigh, *updated.Effort)

	_, err = e.SetIssueFields(context.Background(), "shop", issue.ID, IssueFields{Type: strptr("chore")})
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	_, err = e.SetIssueFields(context.Background(), "shop", issue.ID, IssueFields{Effort: strptr("huge")})
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestPurge(t *testing.T) {
	st := storetest.New()
	imgs, err := images.NewStore(t.TempDir(), observability.NewNoopLogger())
	require.NoError(t, err)
	e := New(st, imgs, observability.NewNoopLogger())

	require.NoError(t, imgs.Save("shop-img-y-1.png", []byte("png")))
	closed := &models.Issue{
		ApplicationID: "shop", Message: "old", State: models.StateClosed,
		Screenshots: []string{"shop-img-y-1.png"},
	}
	require.NoError(t, st.Create(context.Background(), closed))
	seedIssue(t, st, models.StateOpen)

	count, err := e.Purge(context.Background(), "shop", models.StateClosed)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.False(t, imgs.Exists("shop-img-y-1.png"))
	assert.Equal(t, 1, st.Len())

	count, err = e.Purge(context.Background(), "shop", "")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Zero(t, st.Len())
}

func TestNotFoundPropagates(t *testing.T) {
	st := storetest.New()
	e := New(st, nil, observability.NewNoopLogger())
	issue := seedIssue(t, st, models.StateOpen)

	_, err := e.StartProgress(context.Background(), "other-app", issue.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}
