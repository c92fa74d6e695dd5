// Package admission orchestrates the intake of log entries: validation,
// blacklist screening, inline-image extraction, exact-duplicate detection,
// and persistence as pending or open.
package admission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/mattes337/logsink/internal/blacklist"
	"github.com/mattes337/logsink/internal/images"
	"github.com/mattes337/logsink/internal/models"
	"github.com/mattes337/logsink/internal/observability"
	"github.com/mattes337/logsink/internal/store"
)

// Action tells the caller what admission did.
type Action string

const (
	ActionCreated  Action = "created_new"
	ActionReopened Action = "reopened_existing"
)

// Request is an incoming log entry.
type Request struct {
	ApplicationID string
	Message       string
	Timestamp     *time.Time
	Context       models.JSONMap
	Type          *string
	Effort        *string
	Plan          *string
	LLMOutput     *string
}

// Result is the admission outcome.
type Result struct {
	Issue        *models.Issue
	Action       Action
	Deduplicated bool
}

// Pipeline admits log entries. Images are written to disk before the issue
// row is inserted; a failed admission can leave orphan files, which the
// cleanup orphan sweep reaps on its next run.
type Pipeline struct {
	store            store.IssueStore
	blacklist        *blacklist.Cache
	extractor        *images.Extractor
	embeddingEnabled bool
	logger           observability.Logger
}

// New creates a Pipeline. blacklistCache may be nil when the blacklist
// feature is disabled.
func New(st store.IssueStore, blacklistCache *blacklist.Cache, extractor *images.Extractor, embeddingEnabled bool, logger observability.Logger) *Pipeline {
	if logger == nil {
		logger = observability.NewLogger("admission.pipeline")
	}
	return &Pipeline{
		store:            st,
		blacklist:        blacklistCache,
		extractor:        extractor,
		embeddingEnabled: embeddingEnabled,
		logger:           logger,
	}
}

// Admit runs the pipeline. Returns a BlockedError when the blacklist
// matches, ErrInvalidInput on missing fields.
func (p *Pipeline) Admit(ctx context.Context, req Request) (*Result, error) {
	if req.ApplicationID == "" {
		return nil, fmt.Errorf("%w: applicationId is required", models.ErrInvalidInput)
	}
	if req.Message == "" {
		return nil, fmt.Errorf("%w: message is required", models.ErrInvalidInput)
	}

	if p.blacklist != nil {
		if pattern, blocked := p.blacklist.Match(ctx, req.Message, req.ApplicationID); blocked {
			return nil, &models.BlockedError{Pattern: pattern}
		}
	}

	// The issue id is assigned up front so extracted images can be named
	// after it even when the admission later dedupes.
	issueID := uuid.New()
	context_, screenshots := req.Context, []string(nil)
	if p.extractor != nil && req.Context != nil {
		context_, screenshots = p.extractor.Extract(req.ApplicationID, issueID, req.Context)
	}

	timestamp := time.Now().UTC()
	if req.Timestamp != nil {
		timestamp = req.Timestamp.UTC()
	}

	if result, err := p.reopenExisting(ctx, req, context_, screenshots, timestamp); err != nil || result != nil {
		return result, err
	}

	issue := &models.Issue{
		ID:            issueID,
		ApplicationID: req.ApplicationID,
		Timestamp:     timestamp,
		Message:       req.Message,
		Context:       context_,
		Screenshots:   pq.StringArray(screenshots),
		State:         p.initialState(),
		Type:          req.Type,
		Effort:        req.Effort,
		Plan:          req.Plan,
		LLMOutput:     req.LLMOutput,
	}
	if err := p.store.Create(ctx, issue); err != nil {
		return nil, err
	}
	p.logger.Info("Admitted new issue", map[string]any{
		"id":             issue.ID,
		"application_id": issue.ApplicationID,
		"state":          issue.State,
	})
	return &Result{Issue: issue, Action: ActionCreated}, nil
}

// reopenExisting probes for a done issue with the same exact-duplicate key
// and reopens it. Returns (nil, nil) when no duplicate exists.
func (p *Pipeline) reopenExisting(ctx context.Context, req Request, context_ models.JSONMap, screenshots []string, timestamp time.Time) (*Result, error) {
	existing, err := p.store.FindExactDone(ctx, req.ApplicationID, req.Message)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if existing.DedupeKey() != models.DedupeKey(req.Message, req.Context) {
		return nil, nil
	}

	reopened, err := p.store.Reopen(ctx, existing.ID, context_, screenshots, timestamp)
	if err == nil {
		p.logger.Info("Reopened existing issue", map[string]any{
			"id":           reopened.ID,
			"reopen_count": reopened.ReopenCount,
		})
		return &Result{Issue: reopened, Action: ActionReopened, Deduplicated: true}, nil
	}

	// A concurrent admission may have won the reopen race. The loser still
	// participates: its context and screenshots are merged in a second
	// mutation without another state change.
	var transition *models.TransitionError
	if errors.As(err, &transition) {
		merged, mergeErr := p.store.AppendMerge(ctx, existing.ID, context_, screenshots)
		if mergeErr != nil {
			return nil, mergeErr
		}
		return &Result{Issue: merged, Action: ActionReopened, Deduplicated: true}, nil
	}
	if errors.Is(err, models.ErrNotFound) {
		// Deleted between probe and reopen; admit as new.
		return nil, nil
	}
	return nil, err
}

func (p *Pipeline) initialState() models.IssueState {
	if p.embeddingEnabled {
		return models.StatePending
	}
	return models.StateOpen
}
