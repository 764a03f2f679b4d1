package perfmon

import "testing"

func TestSeriesAggregate(t *testing.T) {
	s := NewSeries("voice_command", 100)
	for i := 1; i <= 10; i++ {
		s.Record(float64(i * 10))
	}

	agg := s.Aggregate()
	if agg.WindowSamples != 10 {
		t.Fatalf("expected 10 window samples, got %d", agg.WindowSamples)
	}
	if agg.IntervalSamples != 10 {
		t.Fatalf("expected 10 interval samples, got %d", agg.IntervalSamples)
	}
	if agg.AvgMs != 55 {
		t.Fatalf("expected avg 55, got %v", agg.AvgMs)
	}
	if agg.P95Ms != 100 {
		t.Fatalf("expected p95 100, got %v", agg.P95Ms)
	}
}

func TestSeriesIntervalResetsPerAggregate(t *testing.T) {
	s := NewSeries("database_query", 100)
	s.Record(5)
	s.Record(5)

	first := s.Aggregate()
	if first.IntervalSamples != 2 {
		t.Fatalf("expected 2 in first interval, got %d", first.IntervalSamples)
	}

	s.Record(7)
	second := s.Aggregate()
	if second.IntervalSamples != 1 {
		t.Fatalf("expected interval counter reset, got %d", second.IntervalSamples)
	}
	// The window keeps accumulating across intervals.
	if second.WindowSamples != 3 {
		t.Fatalf("expected window of 3, got %d", second.WindowSamples)
	}
}

func TestSeriesWindowEviction(t *testing.T) {
	s := NewSeries("cache_operation", 3)
	for i := 0; i < 5; i++ {
		s.Record(100)
	}
	s.Record(1)

	agg := s.Aggregate()
	if agg.WindowSamples != 3 {
		t.Fatalf("expected window capped at 3, got %d", agg.WindowSamples)
	}
	if agg.AvgMs != 67 {
		t.Fatalf("expected windowed avg 67, got %v", agg.AvgMs)
	}
}

func TestSeriesEmptyAggregate(t *testing.T) {
	s := NewSeries("websocket_message", 10)
	agg := s.Aggregate()
	if agg.AvgMs != 0 || agg.P95Ms != 0 || agg.WindowSamples != 0 || agg.IntervalSamples != 0 {
		t.Fatalf("expected zeroed aggregate, got %+v", agg)
	}
}
