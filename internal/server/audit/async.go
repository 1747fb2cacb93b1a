package audit

import (
	"context"

	"github.com/dmitrijs2005/authgate/internal/logging"
	"github.com/dmitrijs2005/authgate/internal/server/models"
)

type sink interface {
	Record(ctx context.Context, e models.AuditEvent)
}

// AsyncRecorder queues events for a single writer goroutine so callers on
// hot paths (the route guard) never wait for the database.
type AsyncRecorder struct {
	next   sink
	events chan models.AuditEvent
	logger logging.Logger
}

// NewAsyncRecorder buffers up to size events in front of next.
func NewAsyncRecorder(next sink, size int, l logging.Logger) *AsyncRecorder {
	return &AsyncRecorder{
		next:   next,
		events: make(chan models.AuditEvent, size),
		logger: l.With("module", "audit_queue"),
	}
}

// Record queues e. A full queue drops the event.
func (r *AsyncRecorder) Record(ctx context.Context, e models.AuditEvent) {
	select {
	case r.events <- e:
	default:
		r.logger.Warn(ctx, "audit queue full, event dropped", "action", e.Action, "path", e.Path)
	}
}

// Run writes queued events until ctx is done, then flushes what is left.
func (r *AsyncRecorder) Run(ctx context.Context) {
	for {
		select {
		case e := <-r.events:
			r.next.Record(ctx, e)
		case <-ctx.Done():
			r.flush(context.WithoutCancel(ctx))
			return
		}
	}
}

func (r *AsyncRecorder) flush(ctx context.Context) {
	for {
		select {
		case e := <-r.events:
			r.next.Record(ctx, e)
		default:
			return
		}
	}
}
