// Package storetest provides an in-memory store.Store implementation for
// tests. Semantics follow the postgres implementation closely enough that
// components can be exercised without a database.
package storetest

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/mattes337/logsink/internal/models"
	"github.com/mattes337/logsink/internal/store"
)

// Memory is a mutex-guarded in-memory store.
type Memory struct {
	mu       sync.Mutex
	issues   map[uuid.UUID]*models.Issue
	patterns map[int64]*models.BlacklistPattern
	edges    []*models.DuplicateEdge
	nextID   int64

	// PingErr, when set, is returned by Ping.
	PingErr error
}

// New creates an empty Memory store.
func New() *Memory {
	return &Memory{
		issues:   map[uuid.UUID]*models.Issue{},
		patterns: map[int64]*models.BlacklistPattern{},
	}
}

func cloneIssue(i *models.Issue) *models.Issue {
	out := *i
	out.Context = i.Context.Clone()
	out.Statistics = i.Statistics.Clone()
	out.Screenshots = append(pq.StringArray(nil), i.Screenshots...)
	out.Embedding = append(models.Vector(nil), i.Embedding...)
	return &out
}

// Create implements store.IssueStore.
func (m *Memory) Create(ctx context.Context, issue *models.Issue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if issue.ID == uuid.Nil {
		issue.ID = uuid.New()
	}
	if _, exists := m.issues[issue.ID]; exists {
		return models.ErrConflict
	}
	now := time.Now().UTC()
	if issue.CreatedAt.IsZero() {
		issue.CreatedAt = now
	}
	// Tests may pre-set UpdatedAt to simulate age.
	if issue.UpdatedAt.IsZero() {
		issue.UpdatedAt = now
	}
	if issue.Timestamp.IsZero() {
		issue.Timestamp = now
	}
	m.issues[issue.ID] = cloneIssue(issue)
	return nil
}

// Get implements store.IssueStore.
func (m *Memory) Get(ctx context.Context, applicationID string, id uuid.UUID) (*models.Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	issue, ok := m.issues[id]
	if !ok || issue.ApplicationID != applicationID {
		return nil, models.ErrNotFound
	}
	return cloneIssue(issue), nil
}

// GetByID implements store.IssueStore.
func (m *Memory) GetByID(ctx context.Context, id uuid.UUID) (*models.Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	issue, ok := m.issues[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return cloneIssue(issue), nil
}

// Update implements store.IssueStore.
func (m *Memory) Update(ctx context.Context, issue *models.Issue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.issues[issue.ID]; !ok {
		return models.ErrNotFound
	}
	issue.UpdatedAt = time.Now().UTC()
	m.issues[issue.ID] = cloneIssue(issue)
	return nil
}

// Delete implements store.IssueStore.
func (m *Memory) Delete(ctx context.Context, id uuid.UUID) (*models.Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	issue, ok := m.issues[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	delete(m.issues, id)
	return issue, nil
}

// List implements store.IssueStore.
func (m *Memory) List(ctx context.Context, applicationID string, states ...models.IssueState) ([]*models.Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wanted := map[models.IssueState]bool{}
	for _, s := range states {
		wanted[s] = true
	}
	var out []*models.Issue
	for _, issue := range m.issues {
		if issue.ApplicationID != applicationID {
			continue
		}
		if len(states) > 0 && !wanted[issue.State] {
			continue
		}
		out = append(out, cloneIssue(issue))
	}
	// Revert entries lead only in the open worker view (open plus revert).
	revertFirst := len(states) == 2 && wanted[models.StateOpen] && wanted[models.StateRevert]
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if revertFirst {
			ar := 1
			if a.State == models.StateRevert {
				ar = 0
			}
			br := 1
			if b.State == models.StateRevert {
				br = 0
			}
			if ar != br {
				return ar < br
			}
		}
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.After(b.Timestamp)
		}
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.ID.String() < b.ID.String()
	})
	return out, nil
}

// FindExactDone implements store.IssueStore.
func (m *Memory) FindExactDone(ctx context.Context, applicationID, message string) (*models.Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, issue := range m.issues {
		if issue.ApplicationID == applicationID && issue.Message == message && issue.State == models.StateDone {
			return cloneIssue(issue), nil
		}
	}
	return nil, models.ErrNotFound
}

// Reopen implements store.IssueStore.
func (m *Memory) Reopen(ctx context.Context, id uuid.UUID, mergeCtx models.JSONMap, screenshots []string, timestamp time.Time) (*models.Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	issue, ok := m.issues[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	if issue.State != models.StateDone {
		return nil, &models.TransitionError{Current: issue.State, Requested: models.StateOpen}
	}
	issue.State = models.StateOpen
	issue.Context = issue.Context.Merge(mergeCtx)
	issue.Screenshots = appendUnique(issue.Screenshots, screenshots)
	issue.ReopenCount++
	issue.Timestamp = timestamp
	now := time.Now().UTC()
	issue.ReopenedAt = &now
	issue.UpdatedAt = now
	return cloneIssue(issue), nil
}

// AppendMerge implements store.IssueStore.
func (m *Memory) AppendMerge(ctx context.Context, id uuid.UUID, mergeCtx models.JSONMap, screenshots []string) (*models.Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	issue, ok := m.issues[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	issue.Context = issue.Context.Merge(mergeCtx)
	issue.Screenshots = appendUnique(issue.Screenshots, screenshots)
	issue.UpdatedAt = time.Now().UTC()
	return cloneIssue(issue), nil
}

// CountByState implements store.IssueStore.
func (m *Memory) CountByState(ctx context.Context, applicationID string) (map[models.IssueState]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := map[models.IssueState]int{}
	for _, issue := range m.issues {
		if issue.ApplicationID == applicationID {
			counts[issue.State]++
		}
	}
	return counts, nil
}

// Applications implements store.IssueStore.
func (m *Memory) Applications(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for _, issue := range m.issues {
		if !seen[issue.ApplicationID] {
			seen[issue.ApplicationID] = true
			out = append(out, issue.ApplicationID)
		}
	}
	sort.Strings(out)
	return out, nil
}

// ListPending implements store.IssueStore.
func (m *Memory) ListPending(ctx context.Context, limit int, exclude []uuid.UUID) ([]*models.Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	excluded := map[uuid.UUID]bool{}
	for _, id := range exclude {
		excluded[id] = true
	}
	var out []*models.Issue
	for _, issue := range m.issues {
		if issue.State != models.StatePending || issue.HasEmbedding() || excluded[issue.ID] {
			continue
		}
		out = append(out, cloneIssue(issue))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CountPending implements store.IssueStore.
func (m *Memory) CountPending(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, issue := range m.issues {
		if issue.State == models.StatePending && !issue.HasEmbedding() {
			count++
		}
	}
	return count, nil
}

// DeleteAll implements store.IssueStore.
func (m *Memory) DeleteAll(ctx context.Context, applicationID string) ([]*models.Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Issue
	for id, issue := range m.issues {
		if issue.ApplicationID == applicationID {
			out = append(out, issue)
			delete(m.issues, id)
		}
	}
	return out, nil
}

// DeleteByState implements store.IssueStore.
func (m *Memory) DeleteByState(ctx context.Context, applicationID string, state models.IssueState) ([]*models.Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Issue
	for id, issue := range m.issues {
		if issue.ApplicationID == applicationID && issue.State == state {
			out = append(out, issue)
			delete(m.issues, id)
		}
	}
	return out, nil
}

// DeleteClosedBefore implements store.IssueStore.
func (m *Memory) DeleteClosedBefore(ctx context.Context, cutoff time.Time) ([]*models.Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Issue
	for id, issue := range m.issues {
		if issue.State == models.StateClosed && issue.UpdatedAt.Before(cutoff) {
			out = append(out, issue)
			delete(m.issues, id)
		}
	}
	return out, nil
}

// AllScreenshots implements store.IssueStore.
func (m *Memory) AllScreenshots(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, issue := range m.issues {
		out = append(out, issue.Screenshots...)
	}
	return out, nil
}

// PromoteWithEmbedding implements store.VectorStore.
func (m *Memory) PromoteWithEmbedding(ctx context.Context, id uuid.UUID, embedding models.Vector, model string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	issue, ok := m.issues[id]
	if !ok {
		return models.ErrNotFound
	}
	if issue.State != models.StatePending {
		return &models.TransitionError{Current: issue.State, Requested: models.StateOpen}
	}
	issue.State = models.StateOpen
	issue.Embedding = append(models.Vector(nil), embedding...)
	issue.EmbeddingModel = &model
	issue.UpdatedAt = time.Now().UTC()
	return nil
}

// Similar implements store.VectorStore.
func (m *Memory) Similar(ctx context.Context, applicationID string, q models.Vector, limit int, exclude ...uuid.UUID) ([]*models.SimilarIssue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	excluded := map[uuid.UUID]bool{}
	for _, id := range exclude {
		excluded[id] = true
	}
	var out []*models.SimilarIssue
	for _, issue := range m.issues {
		if issue.ApplicationID != applicationID || issue.State == models.StatePending {
			continue
		}
		if !issue.HasEmbedding() || excluded[issue.ID] {
			continue
		}
		out = append(out, &models.SimilarIssue{
			Issue:      cloneIssue(issue),
			Similarity: cosine(q, issue.Embedding),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MergeInto implements store.VectorStore.
func (m *Memory) MergeInto(ctx context.Context, targetID, sourceID uuid.UUID, annotations models.JSONMap, score float64, policy store.MergePolicy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	target, ok := m.issues[targetID]
	if !ok {
		return fmt.Errorf("target: %w", models.ErrNotFound)
	}
	source, ok := m.issues[sourceID]
	if !ok {
		return fmt.Errorf("source: %w", models.ErrNotFound)
	}
	if policy == store.MergeTargetWins {
		target.Context = source.Context.Merge(target.Context).Merge(annotations)
	} else {
		target.Context = target.Context.Merge(source.Context).Merge(annotations)
	}
	target.Screenshots = appendUnique(target.Screenshots, source.Screenshots)
	target.ReopenCount++
	target.UpdatedAt = time.Now().UTC()
	m.edges = append(m.edges, &models.DuplicateEdge{
		OriginalLogID:   targetID,
		DuplicateLogID:  sourceID,
		SimilarityScore: score,
		DetectedAt:      time.Now().UTC(),
	})
	delete(m.issues, sourceID)
	return nil
}

// ListEdges implements store.DuplicateStore.
func (m *Memory) ListEdges(ctx context.Context, originalID uuid.UUID) ([]*models.DuplicateEdge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.DuplicateEdge
	for _, e := range m.edges {
		if e.OriginalLogID == originalID {
			out = append(out, e)
		}
	}
	return out, nil
}

// CountEdges implements store.DuplicateStore.
func (m *Memory) CountEdges(ctx context.Context, applicationID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, e := range m.edges {
		if issue, ok := m.issues[e.OriginalLogID]; ok && issue.ApplicationID == applicationID {
			count++
		}
	}
	return count, nil
}

// ListPatterns implements store.BlacklistStore.
func (m *Memory) ListPatterns(ctx context.Context, applicationID *string) ([]*models.BlacklistPattern, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.BlacklistPattern
	for _, p := range m.patterns {
		if applicationID != nil {
			if p.ApplicationID == nil || *p.ApplicationID != *applicationID {
				continue
			}
		}
		clone := *p
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CreatePattern implements store.BlacklistStore.
func (m *Memory) CreatePattern(ctx context.Context, p *models.BlacklistPattern) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.patterns {
		if existing.Pattern == p.Pattern && scope(existing) == scope(p) {
			return models.ErrConflict
		}
	}
	m.nextID++
	p.ID = m.nextID
	p.CreatedAt = time.Now().UTC()
	p.UpdatedAt = p.CreatedAt
	clone := *p
	m.patterns[p.ID] = &clone
	return nil
}

// UpdatePattern implements store.BlacklistStore.
func (m *Memory) UpdatePattern(ctx context.Context, p *models.BlacklistPattern) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.patterns[p.ID]; !ok {
		return models.ErrNotFound
	}
	p.UpdatedAt = time.Now().UTC()
	clone := *p
	m.patterns[p.ID] = &clone
	return nil
}

// DeletePattern implements store.BlacklistStore.
func (m *Memory) DeletePattern(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.patterns[id]; !ok {
		return models.ErrNotFound
	}
	delete(m.patterns, id)
	return nil
}

// ClearPatterns implements store.BlacklistStore.
func (m *Memory) ClearPatterns(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patterns = map[int64]*models.BlacklistPattern{}
	return nil
}

// Ping implements store.Store.
func (m *Memory) Ping(ctx context.Context) error { return m.PingErr }

// Close implements store.Store.
func (m *Memory) Close() error { return nil }

// Len reports the number of stored issues.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.issues)
}

func scope(p *models.BlacklistPattern) string {
	if p.ApplicationID == nil {
		return ""
	}
	return *p.ApplicationID
}

func appendUnique(existing pq.StringArray, incoming []string) pq.StringArray {
	seen := map[string]bool{}
	for _, s := range existing {
		seen[s] = true
	}
	for _, s := range incoming {
		if !seen[s] {
			existing = append(existing, s)
			seen[s] = true
		}
	}
	return existing
}

func cosine(a, b models.Vector) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
