package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNewTimer(t *testing.T) {
	timer := NewTimer()

	if timer == nil {
		t.Fatal("NewTimer() returned nil")
	}
	if timer.start.IsZero() {
		t.Error("NewTimer() start time is zero")
	}
	if time.Since(timer.start) > time.Second {
		t.Error("NewTimer() start time is not recent")
	}
}

func TestTimerDuration(t *testing.T) {
	timer := NewTimer()

	sleepDuration := 50 * time.Millisecond
	time.Sleep(sleepDuration)

	duration := timer.Duration()
	if duration < sleepDuration {
		t.Errorf("Timer.Duration() = %v, want >= %v", duration, sleepDuration)
	}
	if duration > 2*sleepDuration {
		t.Errorf("Timer.Duration() = %v, want < %v", duration, 2*sleepDuration)
	}
}

func TestTimerObserveDuration(t *testing.T) {
	hist := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "test_observe_duration",
	})

	timer := NewTimer()
	time.Sleep(10 * time.Millisecond)
	timer.ObserveDuration(hist)

	if err := testutilCollect(hist); err != nil {
		t.Errorf("Timer.ObserveDuration() produced uncollectable metric: %v", err)
	}
}

func TestTimerObserveDurationVec(t *testing.T) {
	histVec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "test_observe_duration_vec",
	}, []string{"source"})

	timer := NewTimer()
	time.Sleep(10 * time.Millisecond)
	timer.ObserveDurationVec(histVec, "http")

	if err := testutilCollect(histVec); err != nil {
		t.Errorf("Timer.ObserveDurationVec() produced uncollectable metric: %v", err)
	}
}

// testutilCollect drains a collector's channel once, surfacing a
// collection error if Write on any metric fails.
func testutilCollect(c prometheus.Collector) error {
	ch := make(chan prometheus.Metric, 16)
	go func() {
		c.Collect(ch)
		close(ch)
	}()
	var pb dto.Metric
	for m := range ch {
		if err := m.Write(&pb); err != nil {
			return err
		}
	}
	return nil
}
