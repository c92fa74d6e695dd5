package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mattes337/logsink/internal/models"
	"github.com/mattes337/logsink/internal/observability"
	"github.com/mattes337/logsink/internal/store"
)

// mergeEdgeScore is the similarity recorded on edges produced by an
// embedding merge.
const mergeEdgeScore = 0.95

// WorkerStore is the slice of the store the worker needs.
type WorkerStore interface {
	store.IssueStore
	store.VectorStore
}

// Worker drains pending issues in the background: it computes embeddings,
// merges sufficiently similar issues into their nearest neighbor, and
// promotes the rest to open. At most one tick runs at a time.
type Worker struct {
	store     WorkerStore
	client    Client
	threshold float64
	batchSize int
	interval  time.Duration
	logger    observability.Logger

	running   atomic.Bool
	trigger   chan struct{}
	done      chan struct{}
	stopOnce  sync.Once
	cancelRun context.CancelFunc

	mu       sync.Mutex
	inFlight map[uuid.UUID]struct{}

	processed atomic.Int64
	merged    atomic.Int64
	failures  atomic.Int64
	lastRun   atomic.Value // time.Time
}

// NewWorker creates a Worker.
func NewWorker(st WorkerStore, client Client, threshold float64, batchSize int, interval time.Duration, logger observability.Logger) *Worker {
	if logger == nil {
		logger = observability.NewLogger("embedding.worker")
	}
	if batchSize <= 0 {
		batchSize = 20
	}
	if interval <= 0 {
		interval = 2 * time.Minute
	}
	if threshold <= 0 {
		threshold = 0.85
	}
	return &Worker{
		store:     st,
		client:    client,
		threshold: threshold,
		batchSize: batchSize,
		interval:  interval,
		logger:    logger,
		trigger:   make(chan struct{}, 1),
		done:      make(chan struct{}),
		inFlight:  map[uuid.UUID]struct{}{},
	}
}

// Start launches the background loop. The loop exits when ctx is cancelled
// or Stop is called.
func (w *Worker) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	w.cancelRun = cancel
	go w.loop(runCtx)
}

// Stop cancels the loop and waits for any in-flight tick to finish. A
// worker that was never started stops immediately.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		if w.cancelRun == nil {
			return
		}
		w.cancelRun()
		<-w.done
	})
}

func (w *Worker) loop(ctx context.Context) {
	defer close(w.done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-w.trigger:
		}
		if err := w.Process(ctx); err != nil && err != models.ErrBusy {
			w.logger.Error("Embedding tick failed", map[string]any{"error": err.Error()})
		}
	}
}

// Trigger requests an immediate tick. A trigger while a tick is already
// queued or running is a no-op.
func (w *Worker) Trigger() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

// Process runs one tick: claim a batch of pending issues and dedupe or
// promote each. Returns models.ErrBusy when a tick is already running.
func (w *Worker) Process(ctx context.Context) error {
	if !w.running.CompareAndSwap(false, true) {
		return models.ErrBusy
	}
	defer w.running.Store(false)
	defer w.lastRun.Store(time.Now().UTC())

	claimed, err := w.claim(ctx, w.batchSize)
	if err != nil {
		return fmt.Errorf("failed to claim pending issues: %w", err)
	}
	defer w.release(claimed)

	for _, issue := range claimed {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := w.processIssue(ctx, issue); err != nil {
			w.failures.Add(1)
			w.logger.Error("Failed to process pending issue", map[string]any{
				"id":    issue.ID,
				"error": err.Error(),
			})
		}
	}
	return nil
}

// ProcessIssue embeds and dedupes a single pending issue on demand.
func (w *Worker) ProcessIssue(ctx context.Context, id uuid.UUID) error {
	issue, err := w.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if issue.State != models.StatePending {
		return &models.TransitionError{Current: issue.State, Requested: models.StateOpen}
	}
	w.mu.Lock()
	if _, busy := w.inFlight[issue.ID]; busy {
		w.mu.Unlock()
		return models.ErrBusy
	}
	w.inFlight[issue.ID] = struct{}{}
	w.mu.Unlock()
	defer w.release([]*models.Issue{issue})

	return w.processIssue(ctx, issue)
}

func (w *Worker) claim(ctx context.Context, limit int) ([]*models.Issue, error) {
	w.mu.Lock()
	exclude := make([]uuid.UUID, 0, len(w.inFlight))
	for id := range w.inFlight {
		exclude = append(exclude, id)
	}
	w.mu.Unlock()

	issues, err := w.store.ListPending(ctx, limit, exclude)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	claimed := issues[:0]
	for _, issue := range issues {
		if _, busy := w.inFlight[issue.ID]; busy {
			continue
		}
		w.inFlight[issue.ID] = struct{}{}
		claimed = append(claimed, issue)
	}
	w.mu.Unlock()
	return claimed, nil
}

func (w *Worker) release(issues []*models.Issue) {
	w.mu.Lock()
	for _, issue := range issues {
		delete(w.inFlight, issue.ID)
	}
	w.mu.Unlock()
}

// processIssue embeds one issue and either merges it into its best neighbor
// or promotes it to open with the embedding persisted. No locks are held
// across the provider call.
func (w *Worker) processIssue(ctx context.Context, issue *models.Issue) error {
	vector, err := w.client.Embed(ctx, EmbeddingInput(issue))
	if err != nil {
		// Fallback: move to open without an embedding so the issue is not
		// stuck in pending.
		w.logger.Warn("Embedding failed, promoting without vector", map[string]any{
			"id":    issue.ID,
			"error": err.Error(),
		})
		issue.State = models.StateOpen
		if updateErr := w.store.Update(ctx, issue); updateErr != nil {
			return fmt.Errorf("fallback promotion failed: %w", updateErr)
		}
		return fmt.Errorf("embedding failed: %w", err)
	}

	neighbors, err := w.store.Similar(ctx, issue.ApplicationID, vector, 5, issue.ID)
	if err != nil {
		return fmt.Errorf("similarity query failed: %w", err)
	}

	candidate := w.bestCandidate(neighbors)
	if candidate != nil {
		annotations := models.JSONMap{
			"merged_from":     issue.ID.String(),
			"merge_reason":    fmt.Sprintf("semantic duplicate (similarity %.4f)", candidate.Similarity),
			"merge_timestamp": time.Now().UTC().Format(time.RFC3339),
		}
		if err := w.store.MergeInto(ctx, candidate.Issue.ID, issue.ID, annotations, mergeEdgeScore, store.MergeSourceWins); err != nil {
			return fmt.Errorf("merge failed: %w", err)
		}
		w.merged.Add(1)
		w.processed.Add(1)
		w.logger.Info("Merged duplicate issue", map[string]any{
			"source":     issue.ID,
			"target":     candidate.Issue.ID,
			"similarity": candidate.Similarity,
		})
		return nil
	}

	if err := w.store.PromoteWithEmbedding(ctx, issue.ID, vector, w.client.Model()); err != nil {
		return fmt.Errorf("promotion failed: %w", err)
	}
	w.processed.Add(1)
	return nil
}

// bestCandidate picks the highest-scoring neighbor above the threshold whose
// state allows merging.
func (w *Worker) bestCandidate(neighbors []*models.SimilarIssue) *models.SimilarIssue {
	var best *models.SimilarIssue
	for _, n := range neighbors {
		if n.Similarity < w.threshold {
			continue
		}
		switch n.Issue.State {
		case models.StateOpen, models.StateInProgress, models.StateDone:
		default:
			continue
		}
		if best == nil || n.Similarity > best.Similarity {
			best = n
		}
	}
	return best
}

// Status reports worker counters for the status endpoint.
func (w *Worker) Status(ctx context.Context) map[string]any {
	pending := -1
	if count, err := w.store.CountPending(ctx); err == nil {
		pending = count
	}
	status := map[string]any{
		"running":   w.running.Load(),
		"pending":   pending,
		"processed": w.processed.Load(),
		"merged":    w.merged.Load(),
		"failures":  w.failures.Load(),
		"model":     w.client.Model(),
		"threshold": w.threshold,
		"batchSize": w.batchSize,
	}
	if last, ok := w.lastRun.Load().(time.Time); ok {
		status["lastRun"] = last
	}
	return status
}

// EmbeddingInput builds the provider input text for an issue.
func EmbeddingInput(issue *models.Issue) string {
	input := fmt.Sprintf("Message: %s\nApplication: %s", issue.Message, issue.ApplicationID)
	if len(issue.Context) > 0 {
		if pretty, err := json.MarshalIndent(issue.Context, "", "  "); err == nil {
			input += "\nContext: " + string(pretty)
		}
	}
	return input
}
