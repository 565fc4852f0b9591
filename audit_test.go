package identio

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestDispatcherDeliversAndDrainsOnClose(t *testing.T) {
	sink := NewChannelSink(16)
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 16, DropIfFull: true}, sink)

	for i := 0; i < 5; i++ {
		d.Emit(context.Background(), AuditEvent{EventType: auditEventLoginSuccess})
	}
	d.Close()

	received := 0
	for {
		select {
		case <-sink.Events():
			received++
		default:
			if received != 5 {
				t.Fatalf("expected 5 events, got %d", received)
			}
			return
		}
	}
}

func TestDispatcherDropsWhenSaturated(t *testing.T) {
	// A sink that never drains forces the buffer to fill.
	blocked := make(chan struct{})
	sink := &blockingSink{release: blocked}
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)
	defer func() {
		close(blocked)
		d.Close()
	}()

	deadline := time.After(2 * time.Second)
	for d.Dropped() == 0 {
		select {
		case <-deadline:
			t.Fatal("expected drops under backpressure")
		default:
			d.Emit(context.Background(), AuditEvent{EventType: auditEventLoginFailure})
		}
	}
}

type blockingSink struct {
	release chan struct{}
}

func (s *blockingSink) Emit(ctx context.Context, event AuditEvent) {
	<-s.release
}

func TestDispatcherCloseIsIdempotentAndSealsQueue(t *testing.T) {
	sink := NewChannelSink(4)
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 4, DropIfFull: true}, sink)

	d.Emit(context.Background(), AuditEvent{EventType: auditEventLogout})
	d.Close()
	d.Close()

	// Discarded without panic, not delivered.
	d.Emit(context.Background(), AuditEvent{EventType: auditEventLoginSuccess})

	received := 0
	for {
		select {
		case <-sink.Events():
			received++
		default:
			if received != 1 {
				t.Fatalf("expected 1 event, got %d", received)
			}
			return
		}
	}
}

func TestDisabledDispatcherIsNil(t *testing.T) {
	d := newAuditDispatcher(AuditConfig{Enabled: false}, NoOpSink{})
	if d != nil {
		t.Fatal("disabled config must produce a nil dispatcher")
	}
	// Nil receivers are safe.
	d.Emit(context.Background(), AuditEvent{})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher reports zero drops")
	}
}

func TestJSONWriterSinkWritesOneLinePerEvent(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)

	sink.Emit(context.Background(), AuditEvent{EventType: auditEventRegister, UserID: "u1", Success: true})
	sink.Emit(context.Background(), AuditEvent{EventType: auditEventLogout, UserID: "u1", Success: true})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}

	var event AuditEvent
	if err := json.Unmarshal([]byte(lines[0]), &event); err != nil {
		t.Fatalf("line not valid JSON: %v", err)
	}
	if event.EventType != auditEventRegister || event.UserID != "u1" {
		t.Fatalf("unexpected event: %+v", event)
	}
}

func TestMetricsCountersAndSnapshot(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})

	m.Inc(MetricLoginSuccess)
	m.Inc(MetricLoginSuccess)
	m.Inc(MetricLoginFailure)
	m.Observe(MetricValidateLatency, 7*time.Millisecond)

	if got := m.Value(MetricLoginSuccess); got != 2 {
		t.Fatalf("expected 2 login successes, got %d", got)
	}

	snap := m.Snapshot()
	if snap.Counters[MetricLoginFailure] != 1 {
		t.Fatalf("snapshot mismatch: %+v", snap.Counters)
	}
	buckets := snap.Histograms[MetricValidateLatency]
	if len(buckets) != histBucketCount || buckets[1] != 1 {
		t.Fatalf("unexpected histogram: %v", buckets)
	}
}

func TestDisabledMetricsAreInert(t *testing.T) {
	m := NewMetrics(MetricsConfig{})
	m.Inc(MetricLoginSuccess)
	if m.Value(MetricLoginSuccess) != 0 {
		t.Fatal("disabled metrics must not count")
	}

	var nilMetrics *Metrics
	nilMetrics.Inc(MetricLoginSuccess)
	if nilMetrics.Value(MetricLoginSuccess) != 0 {
		t.Fatal("nil metrics must be safe")
	}
}
