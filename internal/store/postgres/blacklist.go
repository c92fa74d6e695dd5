package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/mattes337/logsink/internal/models"
)

const blacklistColumns = `id, pattern, pattern_type, application_id, reason, created_at, updated_at`

// ListPatterns returns blacklist patterns, optionally filtered to one
// application scope.
func (s *Store) ListPatterns(ctx context.Context, applicationID *string) ([]*models.BlacklistPattern, error) {
	var patterns []*models.BlacklistPattern
	if applicationID == nil {
		query := fmt.Sprintf(`SELECT %s FROM blacklist ORDER BY id`, blacklistColumns)
		if err := s.db.SelectContext(ctx, &patterns, query); err != nil {
			return nil, fmt.Errorf("failed to list blacklist patterns: %w", err)
		}
		return patterns, nil
	}
	query := fmt.Sprintf(`SELECT %s FROM blacklist WHERE application_id = $1 ORDER BY id`, blacklistColumns)
	if err := s.db.SelectContext(ctx, &patterns, query, *applicationID); err != nil {
		return nil, fmt.Errorf("failed to list blacklist patterns: %w", err)
	}
	return patterns, nil
}

// CreatePattern inserts a pattern; unique violations map to ErrConflict.
func (s *Store) CreatePattern(ctx context.Context, p *models.BlacklistPattern) error {
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO blacklist (pattern, pattern_type, application_id, reason, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		p.Pattern, p.PatternType, p.ApplicationID, p.Reason, p.CreatedAt, p.UpdatedAt).Scan(&p.ID)
	if err != nil {
		return translateError(err)
	}
	return nil
}

// UpdatePattern updates a pattern by id.
func (s *Store) UpdatePattern(ctx context.Context, p *models.BlacklistPattern) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE blacklist SET pattern = $1, pattern_type = $2, application_id = $3, reason = $4, updated_at = now()
		 WHERE id = $5`,
		p.Pattern, p.PatternType, p.ApplicationID, p.Reason, p.ID)
	if err != nil {
		return translateError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}
	return nil
}

// DeletePattern removes a pattern by id.
func (s *Store) DeletePattern(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM blacklist WHERE id = $1`, id)
	if err != nil {
		return translateError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}
	return nil
}

// ClearPatterns removes every pattern.
func (s *Store) ClearPatterns(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM blacklist`); err != nil {
		return fmt.Errorf("failed to clear blacklist: %w", err)
	}
	return nil
}
