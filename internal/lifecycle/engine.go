// Package lifecycle enforces the issue state machine. Every mutation outside
// admission and embedding-merge flows through here, so the transition guards
// in this file are the single source of truth for what states allow what.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mattes337/logsink/internal/images"
	"github.com/mattes337/logsink/internal/models"
	"github.com/mattes337/logsink/internal/observability"
	"github.com/mattes337/logsink/internal/store"
)

// Engine applies state-scoped mutations to issues.
type Engine struct {
	store  store.IssueStore
	images *images.Store
	logger observability.Logger
}

// New creates an Engine.
func New(st store.IssueStore, imgs *images.Store, logger observability.Logger) *Engine {
	if logger == nil {
		logger = observability.NewLogger("lifecycle.engine")
	}
	return &Engine{store: st, images: imgs, logger: logger}
}

// StartProgress transitions open or revert to in_progress, stamping
// started_at.
func (e *Engine) StartProgress(ctx context.Context, applicationID string, id uuid.UUID) (*models.Issue, error) {
	issue, err := e.store.Get(ctx, applicationID, id)
	if err != nil {
		return nil, err
	}
	if issue.State != models.StateOpen && issue.State != models.StateRevert {
		return nil, &models.TransitionError{Current: issue.State, Requested: models.StateInProgress}
	}
	now := time.Now().UTC()
	issue.State = models.StateInProgress
	issue.StartedAt = &now
	if err := e.store.Update(ctx, issue); err != nil {
		return nil, err
	}
	return issue, nil
}

// DoneParams carries the completion payload.
type DoneParams struct {
	LLMMessage *string
	GitCommit  *string
	Statistics models.JSONMap
}

// SetDone transitions open or in_progress to done, stamping completed_at and
// attaching the completion payload.
func (e *Engine) SetDone(ctx context.Context, applicationID string, id uuid.UUID, params DoneParams) (*models.Issue, error) {
	issue, err := e.store.Get(ctx, applicationID, id)
	if err != nil {
		return nil, err
	}
	if issue.State != models.StateOpen && issue.State != models.StateInProgress {
		return nil, &models.TransitionError{Current: issue.State, Requested: models.StateDone}
	}
	now := time.Now().UTC()
	issue.State = models.StateDone
	issue.CompletedAt = &now
	if params.LLMMessage != nil {
		issue.LLMMessage = params.LLMMessage
	}
	if params.GitCommit != nil {
		issue.GitCommit = params.GitCommit
	}
	if params.Statistics != nil {
		issue.Statistics = params.Statistics
	}
	if err := e.store.Update(ctx, issue); err != nil {
		return nil, err
	}
	return issue, nil
}

// Revert transitions done to revert, stamping reverted_at and the reason.
// Revert is not a reopen: reopen_count is untouched.
func (e *Engine) Revert(ctx context.Context, applicationID string, id uuid.UUID, reason *string) (*models.Issue, error) {
	issue, err := e.store.Get(ctx, applicationID, id)
	if err != nil {
		return nil, err
	}
	if issue.State != models.StateDone {
		return nil, &models.TransitionError{Current: issue.State, Requested: models.StateRevert}
	}
	now := time.Now().UTC()
	issue.State = models.StateRevert
	issue.RevertedAt = &now
	if reason != nil && *reason != "" {
		issue.RevertReason = reason
	}
	if err := e.store.Update(ctx, issue); err != nil {
		return nil, err
	}
	return issue, nil
}

// ForceReopen moves any non-open issue back to open, merging the reject
// reason into the context.
func (e *Engine) ForceReopen(ctx context.Context, applicationID string, id uuid.UUID, rejectReason *string) (*models.Issue, error) {
	issue, err := e.store.Get(ctx, applicationID, id)
	if err != nil {
		return nil, err
	}
	if issue.State == models.StateOpen {
		return nil, &models.TransitionError{Current: issue.State, Requested: models.StateOpen}
	}
	issue.State = models.StateOpen
	if rejectReason != nil && *rejectReason != "" {
		issue.Context = issue.Context.Merge(models.JSONMap{"reject_reason": *rejectReason})
	}
	if err := e.store.Update(ctx, issue); err != nil {
		return nil, err
	}
	return issue, nil
}

// Close moves any non-closed issue to closed and deletes its owned
// screenshots.
func (e *Engine) Close(ctx context.Context, applicationID string, id uuid.UUID) (*models.Issue, error) {
	issue, err := e.store.Get(ctx, applicationID, id)
	if err != nil {
		return nil, err
	}
	if issue.State == models.StateClosed {
		return nil, &models.TransitionError{Current: issue.State, Requested: models.StateClosed}
	}
	if len(issue.Screenshots) > 0 && e.images != nil {
		e.images.RemoveAll(issue.Screenshots)
	}
	issue.Screenshots = nil
	issue.State = models.StateClosed
	if err := e.store.Update(ctx, issue); err != nil {
		return nil, err
	}
	return issue, nil
}

// SetPlan attaches a plan. Promotion policy is embedding-promotes: a plan on
// a pending issue does not change its state.
func (e *Engine) SetPlan(ctx context.Context, applicationID string, id uuid.UUID, plan string) (*models.Issue, error) {
	issue, err := e.store.Get(ctx, applicationID, id)
	if err != nil {
		return nil, err
	}
	issue.Plan = &plan
	if err := e.store.Update(ctx, issue); err != nil {
		return nil, err
	}
	return issue, nil
}

// IssueFields is a partial update of the issue-management fields.
type IssueFields struct {
	Plan      *string
	Type      *string
	Effort    *string
	LLMOutput *string
}

// SetIssueFields applies a partial update, validating enum values.
func (e *Engine) SetIssueFields(ctx context.Context, applicationID string, id uuid.UUID, fields IssueFields) (*models.Issue, error) {
	if fields.Type != nil {
		switch *fields.Type {
		case models.TypeBugfix, models.TypeFeature, models.TypeDocumentation:
		default:
			return nil, fmt.Errorf("%w: invalid type %q", models.ErrInvalidInput, *fields.Type)
		}
	}
	if fields.Effort != nil {
		switch *fields.Effort {
		case models.EffortLow, models.EffortMedium, models.EffortHigh, models.EffortCritical:
		default:
			return nil, fmt.Errorf("%w: invalid effort %q", models.ErrInvalidInput, *fields.Effort)
		}
	}

	issue, err := e.store.Get(ctx, applicationID, id)
	if err != nil {
		return nil, err
	}
	if fields.Plan != nil {
		issue.Plan = fields.Plan
	}
	if fields.Type != nil {
		issue.Type = fields.Type
	}
	if fields.Effort != nil {
		issue.Effort = fields.Effort
	}
	if fields.LLMOutput != nil {
		issue.LLMOutput = fields.LLMOutput
	}
	if err := e.store.Update(ctx, issue); err != nil {
		return nil, err
	}
	return issue, nil
}

// Purge deletes issues and garbage-collects their screenshots. When state is
// non-empty only issues in that state are removed.
func (e *Engine) Purge(ctx context.Context, applicationID string, state models.IssueState) (int, error) {
	var (
		deleted []*models.Issue
		err     error
	)
	if state == "" {
		deleted, err = e.store.DeleteAll(ctx, applicationID)
	} else {
		deleted, err = e.store.DeleteByState(ctx, applicationID, state)
	}
	if err != nil {
		return 0, err
	}
	for _, issue := range deleted {
		if len(issue.Screenshots) > 0 && e.images != nil {
			e.images.RemoveAll(issue.Screenshots)
		}
	}
	return len(deleted), nil
}
