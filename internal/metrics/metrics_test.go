package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorsRecord(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveTick("ok", 120*time.Millisecond)
	m.IncGateRejection("confidence")
	m.IncGateRejection("confidence")
	m.IncGateRejection("")
	m.SetEquity(7, 10250.5)

	if got := testutil.ToFloat64(m.Ticks.WithLabelValues("ok")); got != 1 {
		t.Fatalf("ticks=%v want=1", got)
	}
	if got := testutil.ToFloat64(m.GateRejections.WithLabelValues("confidence")); got != 2 {
		t.Fatalf("rejections=%v want=2", got)
	}
	if got := testutil.ToFloat64(m.Equity.WithLabelValues("7")); got != 10250.5 {
		t.Fatalf("equity=%v", got)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveTick("error", time.Second)
	m.IncDecision("executed")
	m.IncOrder("simulated", "filled")
	m.IncExit("take_profit", "long")
	m.IncReasoningRetry("openai", nil)
	m.IncMismatch()
}
