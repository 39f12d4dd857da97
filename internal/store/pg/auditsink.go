package pg

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"mediboard.org/internal/audit"
	"mediboard.org/internal/ids"
	"mediboard.org/internal/obs"
)

const auditQueueDepth = 256

// AuditSink persists audit events in the audit_events table. Writes run on a
// background goroutine behind a buffered queue so Emit returns immediately:
// a full queue drops the event and a failed insert is logged and swallowed,
// never surfaced to the auth decision that produced it.
type AuditSink struct {
	store *Store
	queue chan pendingEvent
	done  chan struct{}
	once  sync.Once
}

type pendingEvent struct {
	ev        audit.Event
	requestID string
	ts        time.Time
}

// NewAuditSink wraps a store as an audit sink and starts its writer.
func NewAuditSink(store *Store) *AuditSink {
	s := &AuditSink{
		store: store,
		queue: make(chan pendingEvent, auditQueueDepth),
		done:  make(chan struct{}),
	}
	go s.run()
	return s
}

var _ audit.Sink = (*AuditSink)(nil)

// Emit enqueues the event and returns without waiting for the write. The
// request id is captured here because the write outlives the request context.
func (s *AuditSink) Emit(ctx context.Context, ev audit.Event) {
	if ev.Kind == "" {
		return
	}
	p := pendingEvent{
		ev:        ev,
		requestID: audit.RequestIDFromContext(ctx),
		ts:        time.Now().UTC(),
	}
	select {
	case s.queue <- p:
	default:
		obs.LogRequest(map[string]any{
			"type":  "audit",
			"event": "dropped",
			"kind":  ev.Kind,
		})
	}
}

// Close drains queued events and stops the writer. Safe to call twice.
func (s *AuditSink) Close() {
	s.once.Do(func() {
		close(s.queue)
		<-s.done
	})
}

func (s *AuditSink) run() {
	defer close(s.done)
	for p := range s.queue {
		s.write(p)
	}
}

func (s *AuditSink) write(p pendingEvent) {
	fields := []byte("{}")
	if len(p.ev.Fields) > 0 {
		if data, err := json.Marshal(p.ev.Fields); err == nil {
			fields = data
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	_, err := s.store.db.ExecContext(ctx, `
		insert into audit_events (id, ts, event, principal_id, target_kind, target_id, outcome, request_id, fields)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		ids.New(), p.ts, p.ev.Kind, p.ev.PrincipalID, p.ev.TargetKind,
		p.ev.TargetID, p.ev.Outcome, p.requestID, fields,
	)
	if err != nil {
		obs.LogRequest(map[string]any{
			"type":  "audit",
			"event": "persist_failed",
			"error": err.Error(),
		})
	}
}
