package main

import (
	"log/slog"
	"testing"

	"github.com/crewlink/pulse/internal/config"
	"github.com/crewlink/pulse/internal/perfmon"
)

func TestAlertThresholdsDropConnectionPair(t *testing.T) {
	table := map[string]config.ThresholdConfig{
		"cpu":        {Warning: 70, Critical: 90},
		"error_rate": {Warning: 5, Critical: 15},
		"connection": {Warning: 500, Critical: 1000},
	}

	got := alertThresholds(table)
	if len(got) != 2 {
		t.Fatalf("expected 2 alerting pairs, got %d", len(got))
	}
	if got[perfmon.AlertCPU].Critical != 90 {
		t.Fatalf("unexpected cpu pair: %+v", got[perfmon.AlertCPU])
	}
	if _, ok := got[perfmon.AlertType("connection")]; ok {
		t.Fatalf("connection pair must not drive alerts")
	}
}

func TestHealthThresholdsKeepAllPairs(t *testing.T) {
	table := map[string]config.ThresholdConfig{
		"cpu":        {Warning: 70, Critical: 90},
		"connection": {Warning: 500, Critical: 1000},
	}

	got := healthThresholds(table)
	if len(got) != 2 {
		t.Fatalf("expected all pairs kept, got %d", len(got))
	}
	if got["connection"].Warning != 500 {
		t.Fatalf("unexpected connection pair: %+v", got["connection"])
	}
}

func TestCompileMutesSkipsBrokenExpressions(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)

	got := compileMutes(logger, map[string]string{
		"cpu":        "cpu < 95.0",
		"memory":     "not valid (((",
		"error_rate": "  ",
	})
	if len(got) != 1 {
		t.Fatalf("expected only the valid expression compiled, got %d", len(got))
	}
	if _, ok := got[perfmon.AlertCPU]; !ok {
		t.Fatalf("expected cpu predicate present")
	}
}

func TestCompileMutesEmptyInput(t *testing.T) {
	if got := compileMutes(slog.New(slog.DiscardHandler), nil); got != nil {
		t.Fatalf("expected nil for empty input, got %v", got)
	}
}

func TestCompileMessagesSkipsBrokenTemplates(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)

	got := compileMessages(logger, map[string]string{
		"cpu":    "{{ .Type }} high",
		"memory": "{{ .Type",
	})
	if len(got) != 1 {
		t.Fatalf("expected only the valid template compiled, got %d", len(got))
	}
	if _, ok := got[perfmon.AlertCPU]; !ok {
		t.Fatalf("expected cpu template present")
	}
}
