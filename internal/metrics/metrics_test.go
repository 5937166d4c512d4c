package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterIsIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := Register(reg); err != nil {
		t.Fatalf("second register: %v", err)
	}
}

func TestObserveExecution(t *testing.T) {
	before := testutil.ToFloat64(executionsTotal.WithLabelValues("scale", "true", OutcomeSuccess))
	ObserveExecution("scale", true, true, 5*time.Millisecond)
	after := testutil.ToFloat64(executionsTotal.WithLabelValues("scale", "true", OutcomeSuccess))
	if after-before != 1 {
		t.Fatalf("expected counter to increase by 1, got %v", after-before)
	}
}

func TestObserveIngestIgnoresEmptyBatches(t *testing.T) {
	before := testutil.ToFloat64(eventsIngestedTotal.WithLabelValues("test"))
	ObserveIngest("test", 0)
	ObserveIngest("test", 3)
	after := testutil.ToFloat64(eventsIngestedTotal.WithLabelValues("test"))
	if after-before != 3 {
		t.Fatalf("expected +3, got %v", after-before)
	}
}

func TestObservePollNormalisesOutcome(t *testing.T) {
	before := testutil.ToFloat64(lokiPollsTotal.WithLabelValues(OutcomeSuccess))
	ObservePoll("anything")
	after := testutil.ToFloat64(lokiPollsTotal.WithLabelValues(OutcomeSuccess))
	if after-before != 1 {
		t.Fatalf("expected unknown outcomes to count as success")
	}
}
