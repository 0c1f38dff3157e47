package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPromMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	Register(reg)

	SetBuildInfo("1.0.0", "abc", "2024-01-01")
	SessionOpened()
	SessionClosed("client_close")
	QueueDropped("sess-1")
	ChildRestarted()
	SetChildHealth(1)
	RecordRequest("ok")
	ObserveRequestDuration("tools/call", 100*time.Millisecond)
	RecordFilterAction("redact_secrets", "transform")

	if v := testutil.ToFloat64(buildInfo.WithLabelValues("2024-01-01", "abc", "1.0.0")); v != 1 {
		t.Fatalf("build info: %v", v)
	}
	if v := testutil.ToFloat64(sessionsOpenedTotal); v != 1 {
		t.Fatalf("sessions opened: %v", v)
	}
	if v := testutil.ToFloat64(sessionsClosedTotal.WithLabelValues("client_close")); v != 1 {
		t.Fatalf("sessions closed: %v", v)
	}
	if v := testutil.ToFloat64(queueDroppedTotal.WithLabelValues("sess-1")); v != 1 {
		t.Fatalf("queue dropped: %v", v)
	}
	if v := testutil.ToFloat64(childRestartsTotal); v != 1 {
		t.Fatalf("child restarts: %v", v)
	}
	if v := testutil.ToFloat64(childHealth); v != 1 {
		t.Fatalf("child health: %v", v)
	}
	if v := testutil.ToFloat64(requestsTotal.WithLabelValues("ok")); v != 1 {
		t.Fatalf("requests total: %v", v)
	}
	if v := testutil.ToFloat64(filterActionsTotal.WithLabelValues("redact_secrets", "transform")); v != 1 {
		t.Fatalf("filter actions: %v", v)
	}
}
