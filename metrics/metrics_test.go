package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersIncrement(t *testing.T) {
	QueriesTotal.WithLabelValues("events", "ok").Inc()
	if got := testutil.ToFloat64(QueriesTotal.WithLabelValues("events", "ok")); got != 1 {
		t.Errorf("QueriesTotal = %v, want 1", got)
	}

	FanoutPeersTotal.WithLabelValues("failed").Inc()
	if got := testutil.ToFloat64(FanoutPeersTotal.WithLabelValues("failed")); got != 1 {
		t.Errorf("FanoutPeersTotal = %v, want 1", got)
	}

	DiskBytesRead.Add(4096)
	if got := testutil.ToFloat64(DiskBytesRead); got != 4096 {
		t.Errorf("DiskBytesRead = %v, want 4096", got)
	}
}
