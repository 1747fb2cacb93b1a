// Package audit writes the user activity log and ships aged events to
// object storage.
package audit

import (
	"context"
	"database/sql"
	"time"

	"github.com/dmitrijs2005/authgate/internal/logging"
	"github.com/dmitrijs2005/authgate/internal/server/models"
	"github.com/dmitrijs2005/authgate/internal/server/repositories/repomanager"
)

// recordTimeout bounds a single insert; recording outlives request cancellation.
const recordTimeout = 3 * time.Second

// Recorder persists audit events. Failures are logged and swallowed, so an
// unavailable audit table never breaks authentication.
type Recorder struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	logger      logging.Logger
}

func NewRecorder(db *sql.DB, m repomanager.RepositoryManager, l logging.Logger) *Recorder {
	return &Recorder{db: db, repomanager: m, logger: l.With("module", "audit")}
}

// Record stores e. It is safe to call after the request context is done.
func (r *Recorder) Record(ctx context.Context, e models.AuditEvent) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	if err := r.repomanager.Audit(r.db).Create(ctx, &e); err != nil {
		r.logger.Warn(ctx, "audit write failed", "action", e.Action, "user_id", e.UserID, "error", err)
		return
	}
	r.logger.Debug(ctx, "audit", "action", e.Action, "user_id", e.UserID, "ip", e.IPAddress, "path", e.Path)
}
