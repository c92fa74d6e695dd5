package models

import "time"

// PatternType selects the blacklist match semantics.
type PatternType string

const (
	PatternExact     PatternType = "exact"
	PatternSubstring PatternType = "substring"
	PatternRegex     PatternType = "regex"
)

// ValidPatternType reports whether t is a defined pattern type.
func ValidPatternType(t PatternType) bool {
	switch t {
	case PatternExact, PatternSubstring, PatternRegex:
		return true
	}
	return false
}

// BlacklistPattern blocks admissions whose message matches. A nil
// ApplicationID scopes the pattern globally. (pattern, application_id) is a
// unique key.
type BlacklistPattern struct {
	ID            int64       `json:"id" db:"id"`
	Pattern       string      `json:"pattern" db:"pattern"`
	PatternType   PatternType `json:"patternType" db:"pattern_type"`
	ApplicationID *string     `json:"applicationId,omitempty" db:"application_id"`
	Reason        *string     `json:"reason,omitempty" db:"reason"`
	CreatedAt     time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at" db:"updated_at"`
}

// Global reports whether the pattern applies to every application.
func (p *BlacklistPattern) Global() bool {
	return p.ApplicationID == nil || *p.ApplicationID == ""
}
