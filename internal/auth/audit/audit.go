// Package audit emits the security events consumed by the observability
// collaborator: login outcomes, lockouts, breach detections, MFA outcomes.
package audit

import (
	"context"
	"log/slog"
	"time"
)

// Event names. Stable identifiers; downstream alerting keys off them.
const (
	EventLoginSuccess        = "login_success"
	EventLoginFailure        = "login_failure"
	EventLockoutTriggered    = "lockout_triggered"
	EventMFAIssued           = "mfa_issued"
	EventMFAConfirmed        = "mfa_confirmed"
	EventMFAFailed           = "mfa_failed"
	EventMFAAttemptsExceeded = "mfa_attempts_exceeded"
	EventBreachDetected      = "breach_detected"
	EventTokenRevoked        = "token_revoked"
	EventLogout              = "logout"
)

// Event is the canonical audit record.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Name      string    `json:"event"`
	Subject   string    `json:"subject,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	IP        string    `json:"ip,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// Sink receives emitted audit events. Implementations must not block the
// request path; slow transports should buffer internally.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// SlogSink writes audit events through the structured logger. This is the
// default sink; deployments wanting a SIEM feed swap in their own.
type SlogSink struct {
	Logger *slog.Logger
}

func (s *SlogSink) Emit(ctx context.Context, event Event) {
	if s == nil || s.Logger == nil {
		return
	}
	s.Logger.LogAttrs(ctx, slog.LevelInfo, "audit",
		slog.String("event", event.Name),
		slog.String("subject", event.Subject),
		slog.String("session_id", event.SessionID),
		slog.String("ip", event.IP),
		slog.String("detail", event.Detail),
	)
}

// NopSink drops events; used in tests that do not assert on auditing.
type NopSink struct{}

func (NopSink) Emit(context.Context, Event) {}

// Emit fills in the timestamp and forwards to the sink, tolerating a nil
// sink so services do not have to guard every call site.
func Emit(ctx context.Context, sink Sink, event Event) {
	if sink == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	sink.Emit(ctx, event)
}
