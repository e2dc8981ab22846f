package metrics

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/ricesearch/rankeval/internal/bus"
	"github.com/ricesearch/rankeval/internal/pkg/errors"
)

func TestCounter(t *testing.T) {
	c := NewCounter("test_counter", "A test counter", nil)

	if c.Value() != 0 {
		t.Errorf("expected initial value 0, got %d", c.Value())
	}

	c.Inc()
	if c.Value() != 1 {
		t.Errorf("expected value 1 after Inc(), got %d", c.Value())
	}

	c.Add(5)
	if c.Value() != 6 {
		t.Errorf("expected value 6 after Add(5), got %d", c.Value())
	}

	// Counters can't decrease
	c.Add(-10)
	if c.Value() != 6 {
		t.Errorf("expected value 6 after Add(-10), got %d", c.Value())
	}

	c.Reset()
	if c.Value() != 0 {
		t.Errorf("expected value 0 after Reset(), got %d", c.Value())
	}
}

func TestGauge(t *testing.T) {
	g := NewGauge("test_gauge", "A test gauge", nil)

	if g.Value() != 0 {
		t.Errorf("expected initial value 0, got %f", g.Value())
	}

	g.Set(42.5)
	if g.Value() != 42.5 {
		t.Errorf("expected value 42.5, got %f", g.Value())
	}

	g.Inc()
	if g.Value() != 43.5 {
		t.Errorf("expected value 43.5 after Inc(), got %f", g.Value())
	}

	g.Dec()
	g.Add(-10)
	if g.Value() != 32.5 {
		t.Errorf("expected value 32.5 after Dec() and Add(-10), got %f", g.Value())
	}
}

func TestHistogram(t *testing.T) {
	h := NewHistogram("test_histogram", "A test histogram", []float64{10, 1, 5}, nil)

	h.Observe(0.5)
	h.Observe(2.5)
	h.Observe(7.0)
	h.Observe(150.0)

	if h.Count() != 4 {
		t.Errorf("expected count 4, got %d", h.Count())
	}
	if h.Sum() != 160 {
		t.Errorf("expected sum 160, got %f", h.Sum())
	}

	want := []int64{1, 2, 3, 4} // le 1, 5, 10, +Inf
	got := h.BucketCounts()
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("bucket %d count = %d, want %d (all: %v)", i, got[i], want[i], got)
		}
	}

	if b := h.Buckets(); b[0] != 1 || b[2] != 10 {
		t.Errorf("expected sorted buckets, got %v", b)
	}
}

func TestHistogram_BoundaryValue(t *testing.T) {
	h := NewHistogram("test_histogram", "A test histogram", []float64{1, 5}, nil)
	h.Observe(5)

	if got := h.BucketCounts(); got[0] != 0 || got[1] != 1 {
		t.Errorf("value on a bound belongs to that bucket, got %v", got)
	}
}

func TestCounterVec(t *testing.T) {
	cv := NewCounterVec("test_counter_vec", "A test counter vector", []string{"status"})

	c1 := cv.WithLabels("ok")
	c1.Inc()
	c1.Inc()

	c2 := cv.WithLabels("TIMEOUT")
	c2.Inc()

	counters := cv.GetAll()
	if len(counters) != 2 {
		t.Errorf("expected 2 counters, got %d", len(counters))
	}

	if cv.WithLabels("ok") != c1 {
		t.Error("expected to get same counter instance for same labels")
	}
	if c1.Value() != 2 || c2.Value() != 1 {
		t.Errorf("counter values = %d, %d, want 2, 1", c1.Value(), c2.Value())
	}
}

func TestCounterVec_WrongLabelCount(t *testing.T) {
	cv := NewCounterVec("test_counter_vec", "A test counter vector", []string{"a", "b"})

	defer func() {
		if recover() == nil {
			t.Error("expected panic for wrong label count")
		}
	}()
	cv.WithLabels("only-one")
}

func TestMetricsRecording(t *testing.T) {
	m := New()
	defer m.Close()

	m.RecordUpdate(10)
	m.RecordUpdate(5)
	if m.Updates.Value() != 2 {
		t.Errorf("expected 2 updates, got %d", m.Updates.Value())
	}
	if m.Samples.Value() != 15 {
		t.Errorf("expected 15 samples, got %d", m.Samples.Value())
	}

	m.RecordCompute(4, 2*time.Millisecond, nil)
	m.RecordCompute(0, time.Millisecond, errors.NoPositiveTargetError("no positive"))
	if v := m.Computes.WithLabels("ok").Value(); v != 1 {
		t.Errorf("expected 1 successful compute, got %d", v)
	}
	if v := m.Computes.WithLabels(errors.CodeNoPositiveTarget).Value(); v != 1 {
		t.Errorf("expected 1 failed compute, got %d", v)
	}
	if m.QueriesScored.Count() != 1 {
		t.Errorf("expected 1 scored-queries observation, got %d", m.QueriesScored.Count())
	}

	m.RecordSync(3, 10*time.Millisecond, errors.TimeoutError("all-gather"))
	if v := m.Syncs.WithLabels(errors.CodeTimeout).Value(); v != 1 {
		t.Errorf("expected 1 timed out sync, got %d", v)
	}
	if m.WorldSize.Value() != 3 {
		t.Errorf("expected world size 3, got %f", m.WorldSize.Value())
	}

	m.RecordBusPublish(bus.TopicGather, time.Millisecond, nil)
	if v := m.BusEventsPublished.WithLabels(bus.TopicGather).Value(); v != 1 {
		t.Errorf("expected 1 published event, got %d", v)
	}
}

func TestPrometheusFormat(t *testing.T) {
	m := New()
	defer m.Close()

	m.RecordUpdate(7)
	m.RecordCompute(2, time.Millisecond, nil)
	m.RecordBusPublish(bus.TopicGather, time.Millisecond, nil)

	output := m.PrometheusFormat()

	requiredStrings := []string{
		"# HELP rankeval_metric_updates_total",
		"# TYPE rankeval_metric_updates_total counter",
		"rankeval_metric_updates_total 1",
		"rankeval_samples_total 7",
		"rankeval_computes_total{status=\"ok\"} 1",
		"# TYPE rankeval_compute_duration_seconds histogram",
		"rankeval_compute_duration_seconds_bucket{le=\"+Inf\"} 1",
		"rankeval_compute_duration_seconds_count 1",
		"rankeval_bus_events_published_total{topic=\"rankeval.gather\"} 1",
		"rankeval_bus_event_latency_seconds_bucket{le=\"0.001\",topic=\"rankeval.gather\"} 1",
		"# TYPE rankeval_goroutines gauge",
	}

	for _, s := range requiredStrings {
		if !strings.Contains(output, s) {
			t.Errorf("expected Prometheus output to contain %q", s)
		}
	}

	// families without members are omitted
	if strings.Contains(output, "rankeval_state_syncs_total") {
		t.Error("expected no sync counter family before any sync")
	}
}

func TestEventSubscriber(t *testing.T) {
	m := New()
	defer m.Close()

	b := bus.NewMemoryBus(nil)
	defer b.Close()

	ctx := context.Background()
	if err := NewEventSubscriber(m, b).SubscribeToEvents(ctx); err != nil {
		t.Fatalf("SubscribeToEvents() error = %v", err)
	}

	for _, source := range []string{"0", "1", "1", "not-a-rank"} {
		if err := b.Publish(ctx, bus.TopicGather, bus.Event{Source: source}); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}
	b.DrainTimeout(time.Second)

	if v := m.GatherContributions.WithLabels("1").Value(); v != 2 {
		t.Errorf("expected 2 contributions from rank 1, got %d", v)
	}
	if n := len(m.GatherContributions.GetAll()); n != 2 {
		t.Errorf("expected 2 ranks, got %d", n)
	}
}

func TestLabelsToKey(t *testing.T) {
	tests := []struct {
		name   string
		labels map[string]string
		want   string
	}{
		{
			name:   "empty",
			labels: map[string]string{},
			want:   "",
		},
		{
			name:   "single label",
			labels: map[string]string{"topic": "rankeval.gather"},
			want:   "topic=rankeval.gather",
		},
		{
			name:   "multiple labels",
			labels: map[string]string{"path": "/metrics", "method": "GET"},
			want:   "method=GET,path=/metrics",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := labelsToKey(tt.labels)
			if got != tt.want {
				t.Errorf("labelsToKey() = %v, want %v", got, tt.want)
			}
		})
	}
}

func BenchmarkCounterInc(b *testing.B) {
	c := NewCounter("bench_counter", "Benchmark counter", nil)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Inc()
	}
}

func BenchmarkHistogramObserve(b *testing.B) {
	h := NewHistogram("bench_histogram", "Benchmark histogram", nil, nil)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		h.Observe(float64(i%1000) / 1000)
	}
}

func BenchmarkPrometheusFormat(b *testing.B) {
	m := New()
	defer m.Close()
	m.RecordUpdate(10)
	m.RecordCompute(3, time.Millisecond, nil)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = m.PrometheusFormat()
	}
}
