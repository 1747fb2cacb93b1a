// Package audit persists the user activity log.
package audit

import (
	"context"
	"time"

	"github.com/dmitrijs2005/authgate/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, e *models.AuditEvent) error

	// ListBefore returns up to limit events created before cutoff, oldest first.
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.AuditEvent, error)

	// DeleteUpTo removes events with id <= maxID created before cutoff.
	DeleteUpTo(ctx context.Context, maxID int64, cutoff time.Time) (int64, error)
}
