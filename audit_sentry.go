package identio

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"
)

// SentrySink forwards failed operations to Sentry. Successful events are
// skipped; they belong in metrics and log sinks, not an error tracker.
// The hub must already be initialized via sentry.Init.
type SentrySink struct {
	hub *sentry.Hub
}

// NewSentrySink returns a sink bound to the current hub.
func NewSentrySink() *SentrySink {
	return &SentrySink{hub: sentry.CurrentHub()}
}

func (s *SentrySink) Emit(_ context.Context, event AuditEvent) {
	if s == nil || s.hub == nil || event.Success {
		return
	}

	s.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("event_type", event.EventType)
		scope.SetLevel(sentry.LevelWarning)
		if event.UserID != "" {
			scope.SetUser(sentry.User{ID: event.UserID, IPAddress: event.IP})
		}
		if len(event.Metadata) > 0 {
			scope.SetContext("audit", toSentryContext(event.Metadata))
		}
		s.hub.CaptureMessage(event.EventType + ": " + event.Error)
	})
}

// Flush waits for buffered Sentry events to leave the process, typically on
// shutdown.
func (s *SentrySink) Flush(timeout time.Duration) {
	if s == nil || s.hub == nil {
		return
	}
	s.hub.Flush(timeout)
}

func toSentryContext(meta map[string]string) map[string]any {
	ctx := make(map[string]any, len(meta))
	for k, v := range meta {
		ctx[k] = v
	}
	return ctx
}
