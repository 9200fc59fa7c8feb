package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 1)
	c.Collect(ch)
	m := &dto.Metric{}
	if err := (<-ch).Write(m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	if m.Counter != nil {
		return m.Counter.GetValue()
	}
	if m.Gauge != nil {
		return m.Gauge.GetValue()
	}
	return 0
}

func TestRecordTaskClaimIncrementsCounter(t *testing.T) {
	m := NewWithRegistry("test", prometheus.NewRegistry())
	m.RecordTaskClaim("dreaming", "background")
	got := counterValue(t, m.TasksClaimedTotal.WithLabelValues("dreaming", "background"))
	if got != 1 {
		t.Errorf("got %v, want 1", got)
	}
}

func TestRecordTaskOutcomeSuccessIncrementsCompletedOnly(t *testing.T) {
	m := NewWithRegistry("test", prometheus.NewRegistry())
	m.RecordTaskOutcome("dreaming", "background", 2*time.Second, true, false)

	if got := counterValue(t, m.TasksCompletedTotal.WithLabelValues("dreaming", "background")); got != 1 {
		t.Errorf("completed = %v, want 1", got)
	}
	if got := counterValue(t, m.TasksFailedTotal.WithLabelValues("dreaming", "background", "false")); got != 0 {
		t.Errorf("failed = %v, want 0", got)
	}
}

func TestRecordTaskOutcomeFailureLabelsTerminalCorrectly(t *testing.T) {
	m := NewWithRegistry("test", prometheus.NewRegistry())
	m.RecordTaskOutcome("dreaming", "background", time.Second, false, true)

	if got := counterValue(t, m.TasksFailedTotal.WithLabelValues("dreaming", "background", "true")); got != 1 {
		t.Errorf("got %v, want 1", got)
	}
	if got := counterValue(t, m.TasksCompletedTotal.WithLabelValues("dreaming", "background")); got != 0 {
		t.Errorf("completed = %v, want 0", got)
	}
}

func TestRecordRemQueryIncrementsCounterAndObservesDuration(t *testing.T) {
	m := NewWithRegistry("test", prometheus.NewRegistry())
	m.RecordRemQuery("lookup", "ok", 10*time.Millisecond)
	if got := counterValue(t, m.RemQueriesTotal.WithLabelValues("lookup", "ok")); got != 1 {
		t.Errorf("got %v, want 1", got)
	}
}

func TestRecordKmsOperationIncrementsErrorsOnlyOnFailure(t *testing.T) {
	m := NewWithRegistry("test", prometheus.NewRegistry())
	m.RecordKmsOperation("wrap", "local", nil)
	m.RecordKmsOperation("wrap", "local", errMetricsBoom{})

	if got := counterValue(t, m.KmsOperationsTotal.WithLabelValues("wrap", "local")); got != 2 {
		t.Errorf("operations = %v, want 2", got)
	}
	if got := counterValue(t, m.KmsErrorsTotal.WithLabelValues("wrap", "local")); got != 1 {
		t.Errorf("errors = %v, want 1", got)
	}
}

type errMetricsBoom struct{}

func (errMetricsBoom) Error() string { return "boom" }

func TestGlobalReturnsTheSameInstanceAcrossCalls(t *testing.T) {
	a := Global()
	b := Global()
	if a != b {
		t.Error("expected Global() to return a stable singleton")
	}
}
