package models

import (
	"time"

	"github.com/google/uuid"
)

// DuplicateEdge records that DuplicateLogID was identified as a duplicate of
// OriginalLogID and merged into it. Edges are append-only history; they never
// affect issue queries.
type DuplicateEdge struct {
	ID              int64     `json:"id" db:"id"`
	OriginalLogID   uuid.UUID `json:"original_log_id" db:"original_log_id"`
	DuplicateLogID  uuid.UUID `json:"duplicate_log_id" db:"duplicate_log_id"`
	SimilarityScore float64   `json:"similarity_score" db:"similarity_score"`
	DetectedAt      time.Time `json:"detected_at" db:"detected_at"`
}
