package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersRegistered(t *testing.T) {
	before := testutil.ToFloat64(Deliveries.WithLabelValues("native", "ok"))
	Deliveries.WithLabelValues("native", "ok").Inc()
	if got := testutil.ToFloat64(Deliveries.WithLabelValues("native", "ok")); got != before+1 {
		t.Errorf("Deliveries = %v, want %v", got, before+1)
	}
	if n := testutil.CollectAndCount(UpdatesTotal); n < 0 {
		t.Errorf("CollectAndCount = %d", n)
	}
}
