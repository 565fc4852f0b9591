package identio

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// AuditEvent is the structured record emitted for every security-relevant
// operation. Delivery is fire-and-forget; the core never blocks on or fails
// because of a sink.
type AuditEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	UserID    string            `json:"user_id,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	IP        string            `json:"ip,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// AuditSink receives audit events from the core's dispatcher.
type AuditSink interface {
	Emit(ctx context.Context, event AuditEvent)
}

// NoOpSink discards all events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, AuditEvent) {}

// ChannelSink buffers events into a channel, mainly for tests and custom
// forwarding loops.
type ChannelSink struct {
	events chan AuditEvent
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{events: make(chan AuditEvent, buffer)}
}

func (s *ChannelSink) Emit(ctx context.Context, event AuditEvent) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan AuditEvent {
	return s.events
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{writer: w}
}

func (s *JSONWriterSink) Emit(ctx context.Context, event AuditEvent) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}

// Audit event type names. Kept flat and stable; downstream consumers filter
// on them.
const (
	auditEventRegister           = "register"
	auditEventLoginSuccess       = "login_success"
	auditEventLoginFailure       = "login_failure"
	auditEventLoginMFARequired   = "login_mfa_required"
	auditEventLoginExternal      = "login_external"
	auditEventLogout             = "logout"
	auditEventSessionRevoked     = "session_revoked"
	auditEventSessionsRevokedAll = "sessions_revoked_all"
	auditEventPasswordChange     = "password_change"
	auditEventPasswordForgot     = "password_forgot"
	auditEventPasswordReset      = "password_reset"
	auditEventEmailVerifyRequest = "email_verify_request"
	auditEventEmailVerified      = "email_verified"
	auditEventTOTPSetupBegin     = "totp_setup_begin"
	auditEventTOTPSetupConfirm   = "totp_setup_confirm"
	auditEventTOTPDisabled       = "totp_disabled"
	auditEventUserSoftDeleted    = "user_soft_deleted"
	auditEventUserRestored       = "user_restored"
	auditEventEmailSendFailed    = "email_send_failed"
)
