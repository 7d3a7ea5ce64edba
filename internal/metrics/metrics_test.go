package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectEmitsRegisteredSessions(t *testing.T) {
	c := New("tsunamigo", prometheus.Labels{"role": "server"})
	c.Add("sess-1", "10.0.0.5:9000", func() Snapshot {
		return Snapshot{IPDUsec: 125, LossPPM: 2000, BlocksDone: 10, BlocksTotal: 100, BytesSent: 4096, BytesRecv: 0}
	})

	if got := testutil.CollectAndCount(c); got != 6 {
		t.Fatalf("CollectAndCount = %d, want 6", got)
	}
	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", c.Len())
	}
}

func TestRemoveStopsEmittingSession(t *testing.T) {
	c := New("tsunamigo", nil)
	c.Add("sess-1", "10.0.0.5:9000", func() Snapshot { return Snapshot{} })
	c.Remove("sess-1")
	if got := testutil.CollectAndCount(c); got != 0 {
		t.Fatalf("CollectAndCount after Remove = %d, want 0", got)
	}
}
