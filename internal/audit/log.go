package audit

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"mediboard.org/internal/ids"
	"mediboard.org/internal/obs"
)

// Event kinds produced by the authentication core.
const (
	KindLoginSucceeded       = "LoginSucceeded"
	KindLoginFailed          = "LoginFailed"
	KindAccountLocked        = "AccountLocked"
	KindTokenIssued          = "TokenIssued"
	KindTokenRefreshed       = "TokenRefreshed"
	KindTokenRevoked         = "TokenRevoked"
	KindRefreshReuseDetected = "RefreshReuseDetected"
	KindAuthorizationDenied  = "AuthorizationDenied"
)

// Outcomes attached to events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeDenied  = "denied"
)

// Event is a single structured audit record. Credentials must never appear in
// Fields; callers pass identifiers and outcomes only.
type Event struct {
	Kind        string
	PrincipalID string
	TargetKind  string
	TargetID    string
	Outcome     string
	Fields      map[string]any
}

// Sink receives audit events. Delivery is best-effort: implementations must
// not block the auth decision and must swallow their own failures.
type Sink interface {
	Emit(ctx context.Context, ev Event)
}

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the audit request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogSink writes events as JSON lines through the shared logger.
type LogSink struct{}

// NewLogSink returns a sink backed by the process-wide structured logger.
func NewLogSink() *LogSink {
	return &LogSink{}
}

// Emit writes the event. Marshal failures are reported as a plain error line;
// they never propagate to the caller.
func (s *LogSink) Emit(ctx context.Context, ev Event) {
	if strings.TrimSpace(ev.Kind) == "" {
		return
	}
	entry := map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"type":  "audit",
		"id":    ids.New(),
		"event": ev.Kind,
	}
	if ev.PrincipalID != "" {
		entry["principal_id"] = ev.PrincipalID
	}
	if ev.TargetKind != "" {
		entry["target_kind"] = ev.TargetKind
	}
	if ev.TargetID != "" {
		entry["target_id"] = ev.TargetID
	}
	if ev.Outcome != "" {
		entry["outcome"] = ev.Outcome
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		entry["request_id"] = rid
	}
	if len(ev.Fields) > 0 {
		fields := make(map[string]any, len(ev.Fields))
		for k, v := range ev.Fields {
			fields[k] = v
		}
		entry["fields"] = fields
	} else {
		entry["fields"] = map[string]any{}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		obs.Logger().Println(`{"type":"audit","event":"marshal_failed"}`)
		return
	}
	obs.Logger().Println(string(data))
}

// NopSink discards every event. Used when no sink is configured.
type NopSink struct{}

func (NopSink) Emit(context.Context, Event) {}
