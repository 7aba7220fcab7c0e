// Package models contains shared data models used across the riskforge codebase.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Application is one submitted credit-risk request. Applications are
// immutable once created; a correction is a new Application.
type Application struct {
	ID        uuid.UUID      `db:"id"         json:"id"`
	UserRef   string         `db:"user_ref"   json:"user_ref"`
	Payload   map[string]any `db:"payload"    json:"payload"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
}
