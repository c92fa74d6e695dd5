// Package blacklist maintains an in-memory pattern index over the blacklist
// table, matching admission messages against exact, substring, and regex
// patterns scoped globally or per application. The index is rebuilt on
// startup, after any mutation, and when its TTL elapses.
package blacklist

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mattes337/logsink/internal/models"
	"github.com/mattes337/logsink/internal/observability"
	"github.com/mattes337/logsink/internal/store"
)

const globalScope = "global"

// IssueCloser closes issues matched by a newly added pattern when
// auto-delete is enabled. Satisfied by the lifecycle engine.
type IssueCloser interface {
	Close(ctx context.Context, applicationID string, id uuid.UUID) (*models.Issue, error)
}

type compiledPattern struct {
	pattern *models.BlacklistPattern
	re      *regexp.Regexp // non-nil for well-formed regex patterns only
}

// Cache is the in-memory blacklist index.
type Cache struct {
	store      store.BlacklistStore
	issues     store.IssueStore
	closer     IssueCloser
	ttl        time.Duration
	autoDelete bool
	logger     observability.Logger

	mu          sync.RWMutex
	byScope     map[string][]compiledPattern
	refreshedAt time.Time
}

// New creates a Cache. closer may be nil when auto-delete is disabled.
func New(st store.BlacklistStore, issues store.IssueStore, closer IssueCloser, ttl time.Duration, autoDelete bool, logger observability.Logger) *Cache {
	if logger == nil {
		logger = observability.NewLogger("blacklist.cache")
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{
		store:      st,
		issues:     issues,
		closer:     closer,
		ttl:        ttl,
		autoDelete: autoDelete,
		logger:     logger,
		byScope:    map[string][]compiledPattern{},
	}
}

// Refresh rebuilds the index from the store. Readers observe either the old
// or the new snapshot, never a torn state.
func (c *Cache) Refresh(ctx context.Context) error {
	patterns, err := c.store.ListPatterns(ctx, nil)
	if err != nil {
		return err
	}

	byScope := make(map[string][]compiledPattern)
	for _, p := range patterns {
		cp := compiledPattern{pattern: p}
		if p.PatternType == models.PatternRegex {
			re, err := regexp.Compile("(?i)" + p.Pattern)
			if err != nil {
				// Ill-formed regex patterns never match.
				c.logger.Warn("Skipping ill-formed regex blacklist pattern", map[string]any{
					"id":      p.ID,
					"pattern": p.Pattern,
					"error":   err.Error(),
				})
			} else {
				cp.re = re
			}
		}
		scope := globalScope
		if !p.Global() {
			scope = *p.ApplicationID
		}
		byScope[scope] = append(byScope[scope], cp)
	}

	c.mu.Lock()
	c.byScope = byScope
	c.refreshedAt = time.Now()
	c.mu.Unlock()
	return nil
}

// Match checks a message against global patterns first, then the
// application's own patterns, returning the first matching pattern.
func (c *Cache) Match(ctx context.Context, message, applicationID string) (*models.BlacklistPattern, bool) {
	c.maybeRefresh(ctx)

	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, scope := range []string{globalScope, applicationID} {
		for _, cp := range c.byScope[scope] {
			if matches(cp, message) {
				return cp.pattern, true
			}
		}
	}
	return nil, false
}

func (c *Cache) maybeRefresh(ctx context.Context) {
	c.mu.RLock()
	stale := time.Since(c.refreshedAt) > c.ttl
	c.mu.RUnlock()
	if !stale {
		return
	}
	if err := c.Refresh(ctx); err != nil {
		c.logger.Error("Blacklist cache refresh failed", map[string]any{"error": err.Error()})
	}
}

func matches(cp compiledPattern, message string) bool {
	switch cp.pattern.PatternType {
	case models.PatternExact:
		return message == cp.pattern.Pattern
	case models.PatternSubstring:
		return strings.Contains(strings.ToLower(message), strings.ToLower(cp.pattern.Pattern))
	case models.PatternRegex:
		return cp.re != nil && cp.re.MatchString(message)
	}
	return false
}

// List returns the stored patterns, optionally narrowed to one application.
func (c *Cache) List(ctx context.Context, applicationID *string) ([]*models.BlacklistPattern, error) {
	return c.store.ListPatterns(ctx, applicationID)
}

// Add creates a pattern, refreshes the index, and applies the auto-close
// policy for application-scoped patterns.
func (c *Cache) Add(ctx context.Context, p *models.BlacklistPattern) error {
	if err := c.store.CreatePattern(ctx, p); err != nil {
		return err
	}
	if err := c.Refresh(ctx); err != nil {
		return err
	}
	c.autoClose(ctx, p)
	return nil
}

// Update updates a pattern and refreshes the index.
func (c *Cache) Update(ctx context.Context, p *models.BlacklistPattern) error {
	if err := c.store.UpdatePattern(ctx, p); err != nil {
		return err
	}
	if err := c.Refresh(ctx); err != nil {
		return err
	}
	c.autoClose(ctx, p)
	return nil
}

// Remove deletes a pattern and refreshes the index.
func (c *Cache) Remove(ctx context.Context, id int64) error {
	if err := c.store.DeletePattern(ctx, id); err != nil {
		return err
	}
	return c.Refresh(ctx)
}

// Clear removes every pattern and refreshes the index.
func (c *Cache) Clear(ctx context.Context) error {
	if err := c.store.ClearPatterns(ctx); err != nil {
		return err
	}
	return c.Refresh(ctx)
}

// Statistics summarizes the cached patterns per scope and type.
func (c *Cache) Statistics() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()

	total := 0
	byType := map[string]int{}
	byScope := map[string]int{}
	for scope, patterns := range c.byScope {
		byScope[scope] = len(patterns)
		total += len(patterns)
		for _, cp := range patterns {
			byType[string(cp.pattern.PatternType)]++
		}
	}
	return map[string]any{
		"totalPatterns": total,
		"byType":        byType,
		"byScope":       byScope,
		"refreshedAt":   c.refreshedAt,
	}
}

// autoClose closes existing issues of the pattern's application whose
// message matches the new pattern. Global patterns are deliberately skipped:
// scanning every application on each global mutation is unbounded.
func (c *Cache) autoClose(ctx context.Context, p *models.BlacklistPattern) {
	if !c.autoDelete || c.closer == nil || p.Global() {
		return
	}
	app := *p.ApplicationID
	issues, err := c.issues.List(ctx, app)
	if err != nil {
		c.logger.Error("Auto-close scan failed", map[string]any{
			"application_id": app,
			"error":          err.Error(),
		})
		return
	}

	cp := compiledPattern{pattern: p}
	if p.PatternType == models.PatternRegex {
		if re, err := regexp.Compile("(?i)" + p.Pattern); err == nil {
			cp.re = re
		}
	}

	closed := 0
	for _, issue := range issues {
		if issue.State == models.StateClosed || !matches(cp, issue.Message) {
			continue
		}
		if _, err := c.closer.Close(ctx, app, issue.ID); err != nil {
			c.logger.Warn("Auto-close failed", map[string]any{
				"id":    issue.ID,
				"error": err.Error(),
			})
			continue
		}
		closed++
	}
	if closed > 0 {
		c.logger.Info("Auto-closed blacklisted issues", map[string]any{
			"application_id": app,
			"pattern":        p.Pattern,
			"closed":         closed,
		})
	}
}
