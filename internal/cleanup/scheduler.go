// Package cleanup reconciles near-duplicate issues, expires old closed
// entries, and garbage-collects orphaned image artifacts on a periodic
// schedule.
package cleanup

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mattes337/logsink/internal/images"
	"github.com/mattes337/logsink/internal/llm"
	"github.com/mattes337/logsink/internal/models"
	"github.com/mattes337/logsink/internal/observability"
	"github.com/mattes337/logsink/internal/store"
)

// SchedulerStore is the slice of the store cleanup needs.
type SchedulerStore interface {
	store.IssueStore
	store.VectorStore
}

// Options configures a Scheduler.
type Options struct {
	// Interval is either a Go duration ("24h") or a daily UTC wall-clock
	// time ("02:00").
	Interval           string
	DuplicateThreshold float64
	MaxAge             time.Duration
	BatchSize          int
}

// RunStats are the counters published after each run.
type RunStats struct {
	DuplicatesFound       int       `json:"duplicates_found"`
	DuplicatesRemoved     int       `json:"duplicates_removed"`
	OldLogsRemoved        int       `json:"old_logs_removed"`
	OrphanedImagesRemoved int       `json:"orphaned_images_removed"`
	StartedAt             time.Time `json:"started_at"`
	Duration              string    `json:"duration"`
}

// Scheduler runs the cleanup phases. At most one run is active at a time.
type Scheduler struct {
	store   SchedulerStore
	images  *images.Store
	refiner llm.Refiner // nil when the LLM feature is disabled
	opts    Options
	logger  observability.Logger

	running  atomic.Bool
	trigger  chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	cancel   context.CancelFunc

	mu      sync.Mutex
	lastRun *RunStats
}

// New creates a Scheduler. refiner may be nil.
func New(st SchedulerStore, imgs *images.Store, refiner llm.Refiner, opts Options, logger observability.Logger) *Scheduler {
	if logger == nil {
		logger = observability.NewLogger("cleanup.scheduler")
	}
	if opts.DuplicateThreshold <= 0 {
		opts.DuplicateThreshold = 0.85
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = 30 * 24 * time.Hour
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.Interval == "" {
		opts.Interval = "02:00"
	}
	return &Scheduler{
		store:   st,
		images:  imgs,
		refiner: refiner,
		opts:    opts,
		logger:  logger,
		trigger: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Start launches the schedule loop.
func (s *Scheduler) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.loop(runCtx)
}

// Stop cancels the loop and waits for an in-flight run to finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel == nil {
			return
		}
		s.cancel()
		<-s.done
	})
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	for {
		timer := time.NewTimer(s.untilNextRun(time.Now().UTC()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		case <-s.trigger:
			timer.Stop()
		}
		if _, err := s.Run(ctx); err != nil && err != models.ErrBusy {
			s.logger.Error("Cleanup run failed", map[string]any{"error": err.Error()})
		}
	}
}

// Trigger requests an immediate run.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// untilNextRun computes the wait before the next scheduled run.
func (s *Scheduler) untilNextRun(now time.Time) time.Duration {
	if d, err := time.ParseDuration(s.opts.Interval); err == nil && d > 0 {
		return d
	}
	// Daily HH:MM UTC schedule.
	hour, minute := 2, 0
	if parts := strings.SplitN(s.opts.Interval, ":", 2); len(parts) == 2 {
		if h, err := strconv.Atoi(parts[0]); err == nil && h >= 0 && h < 24 {
			hour = h
		}
		if m, err := strconv.Atoi(parts[1]); err == nil && m >= 0 && m < 60 {
			minute = m
		}
	}
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next.Sub(now)
}

// Run executes the three cleanup phases. Returns models.ErrBusy when a run
// is already in flight. Per-item failures are logged and skipped; a phase
// never aborts the run.
func (s *Scheduler) Run(ctx context.Context) (*RunStats, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, models.ErrBusy
	}
	defer s.running.Store(false)

	stats := &RunStats{StartedAt: time.Now().UTC()}

	s.reconcileDuplicates(ctx, stats)
	s.expireClosed(ctx, stats)
	s.sweepOrphans(ctx, stats)

	stats.Duration = time.Since(stats.StartedAt).Round(time.Millisecond).String()
	s.mu.Lock()
	s.lastRun = stats
	s.mu.Unlock()

	s.logger.Info("Cleanup run complete", map[string]any{
		"duplicates_found":        stats.DuplicatesFound,
		"duplicates_removed":      stats.DuplicatesRemoved,
		"old_logs_removed":        stats.OldLogsRemoved,
		"orphaned_images_removed": stats.OrphanedImagesRemoved,
		"duration":                stats.Duration,
	})
	return stats, nil
}

// reconcileDuplicates merges near-duplicate active issues per application,
// older into newer.
func (s *Scheduler) reconcileDuplicates(ctx context.Context, stats *RunStats) {
	apps, err := s.store.Applications(ctx)
	if err != nil {
		s.logger.Error("Duplicate reconciliation: failed to list applications", map[string]any{"error": err.Error()})
		return
	}

	for _, app := range apps {
		if ctx.Err() != nil {
			return
		}
		issues, err := s.store.List(ctx, app,
			models.StateOpen, models.StateInProgress, models.StateDone, models.StateRevert)
		if err != nil {
			s.logger.Error("Duplicate reconciliation: listing failed", map[string]any{
				"application_id": app,
				"error":          err.Error(),
			})
			continue
		}
		if len(issues) > s.opts.BatchSize {
			issues = issues[:s.opts.BatchSize]
		}
		s.reconcileApp(ctx, issues, stats)
	}
}

func (s *Scheduler) reconcileApp(ctx context.Context, issues []*models.Issue, stats *RunStats) {
	merged := map[uuid.UUID]bool{}
	for i := 0; i < len(issues); i++ {
		for j := i + 1; j < len(issues); j++ {
			a, b := issues[i], issues[j]
			if merged[a.ID] || merged[b.ID] {
				continue
			}
			score := messageSimilarity(a.Message, b.Message)
			if score < s.opts.DuplicateThreshold && s.refiner != nil {
				refined, err := s.refiner.RefineSimilarity(ctx, a.Message, b.Message)
				if err != nil {
					s.logger.Debug("LLM refinement failed", map[string]any{"error": err.Error()})
				} else if refined > score {
					score = refined
				}
			}
			if score < s.opts.DuplicateThreshold {
				continue
			}
			stats.DuplicatesFound++

			// The newer member survives; the older one is merged into it.
			newer, older := a, b
			if older.CreatedAt.After(newer.CreatedAt) {
				newer, older = older, newer
			}
			annotations := models.JSONMap{
				"merged_from":     older.ID.String(),
				"merge_reason":    fmt.Sprintf("cleanup near-duplicate (similarity %.4f)", score),
				"merge_timestamp": time.Now().UTC().Format(time.RFC3339),
			}
			if err := s.store.MergeInto(ctx, newer.ID, older.ID, annotations, score, store.MergeTargetWins); err != nil {
				s.logger.Warn("Duplicate merge failed", map[string]any{
					"target": newer.ID,
					"source": older.ID,
					"error":  err.Error(),
				})
				continue
			}
			merged[older.ID] = true
			stats.DuplicatesRemoved++
		}
	}
}

// expireClosed deletes closed issues older than the max age, together with
// their screenshots.
func (s *Scheduler) expireClosed(ctx context.Context, stats *RunStats) {
	cutoff := time.Now().UTC().Add(-s.opts.MaxAge)
	deleted, err := s.store.DeleteClosedBefore(ctx, cutoff)
	if err != nil {
		s.logger.Error("Closed-issue expiry failed", map[string]any{"error": err.Error()})
		return
	}
	for _, issue := range deleted {
		if len(issue.Screenshots) > 0 && s.images != nil {
			s.images.RemoveAll(issue.Screenshots)
		}
	}
	stats.OldLogsRemoved = len(deleted)
}

// sweepOrphans removes image files no live issue references. The store is
// scanned first and the filesystem second; an admission racing the sweep is
// tolerated by re-running on the next tick.
func (s *Scheduler) sweepOrphans(ctx context.Context, stats *RunStats) {
	if s.images == nil {
		return
	}
	referenced, err := s.store.AllScreenshots(ctx)
	if err != nil {
		s.logger.Error("Orphan sweep: failed to list referenced screenshots", map[string]any{"error": err.Error()})
		return
	}
	refSet := make(map[string]struct{}, len(referenced))
	for _, name := range referenced {
		refSet[name] = struct{}{}
	}

	files, err := s.images.List()
	if err != nil {
		s.logger.Error("Orphan sweep: failed to list image directory", map[string]any{"error": err.Error()})
		return
	}
	for _, name := range files {
		if _, ok := refSet[name]; ok {
			continue
		}
		if err := s.images.Remove(name); err != nil {
			s.logger.Warn("Orphan sweep: removal failed", map[string]any{
				"file":  name,
				"error": err.Error(),
			})
			continue
		}
		stats.OrphanedImagesRemoved++
	}
}

// Running reports whether a run is in flight.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// Status reports the last run and the active configuration.
func (s *Scheduler) Status() map[string]any {
	s.mu.Lock()
	last := s.lastRun
	s.mu.Unlock()

	status := map[string]any{
		"running":  s.running.Load(),
		"interval": s.opts.Interval,
	}
	if last != nil {
		status["lastRun"] = last
	}
	return status
}

// Config reports the active cleanup configuration.
func (s *Scheduler) Config() map[string]any {
	return map[string]any{
		"interval":            s.opts.Interval,
		"duplicate_threshold": s.opts.DuplicateThreshold,
		"max_age_days":        int(s.opts.MaxAge.Hours() / 24),
		"batch_size":          s.opts.BatchSize,
		"llm_enabled":         s.refiner != nil,
	}
}
