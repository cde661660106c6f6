package observability

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsCountToolCalls(t *testing.T) {
	m := NewMetrics(fmt.Sprintf("drivethru_obs_test_%d", time.Now().UnixNano()))
	m.ToolCalls.WithLabelValues("addToOrder", "ok").Inc()
	m.ToolCalls.WithLabelValues("addToOrder", "ok").Inc()
	m.ToolCalls.WithLabelValues("addToOrder", "miss").Inc()

	if got := testutil.ToFloat64(m.ToolCalls.WithLabelValues("addToOrder", "ok")); got != 2 {
		t.Fatalf("tool_calls_total{ok} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ToolCalls.WithLabelValues("addToOrder", "miss")); got != 1 {
		t.Fatalf("tool_calls_total{miss} = %v, want 1", got)
	}
}
