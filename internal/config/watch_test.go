package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writePolicy(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write policy: %v", err)
	}
}

func TestLoadTTLPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ttl.yaml")
	writePolicy(t, path, "user: 600\ntask: 180\n")

	table, err := LoadTTLPolicy(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if table["user"] != 600 || table["task"] != 180 {
		t.Fatalf("unexpected table: %v", table)
	}
}

func TestLoadTTLPolicyRejectsNonPositive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ttl.yaml")
	writePolicy(t, path, "user: 0\n")

	if _, err := LoadTTLPolicy(path); err == nil {
		t.Fatalf("expected error for non-positive ttl")
	}
}

func TestLoadTTLPolicyUnsupportedFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ttl.conf")
	writePolicy(t, path, "user=600\n")

	if _, err := LoadTTLPolicy(path); err == nil {
		t.Fatalf("expected error for unsupported format")
	}
}

func TestWatchTTLPolicyDeliversInitialTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ttl.yaml")
	writePolicy(t, path, "user: 600\n")

	tables := make(chan map[string]int, 4)
	loader := NewLoader("PULSETESTWATCH")
	watcher, err := loader.WatchTTLPolicy(context.Background(), path, func(table map[string]int) {
		tables <- table
	}, nil)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer watcher.Stop()

	select {
	case table := <-tables:
		if table["user"] != 600 {
			t.Fatalf("unexpected initial table: %v", table)
		}
	default:
		t.Fatalf("expected initial table before WatchTTLPolicy returned")
	}
}

func TestWatchTTLPolicyReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ttl.yaml")
	writePolicy(t, path, "user: 600\n")

	tables := make(chan map[string]int, 4)
	loader := NewLoader("PULSETESTWATCH")
	watcher, err := loader.WatchTTLPolicy(context.Background(), path, func(table map[string]int) {
		tables <- table
	}, func(err error) { t.Logf("watch error: %v", err) })
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer watcher.Stop()

	<-tables // initial delivery

	writePolicy(t, path, "user: 900\nchannel: 300\n")

	deadline := time.After(5 * time.Second)
	for {
		select {
		case table := <-tables:
			if table["user"] == 900 && table["channel"] == 300 {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for reload")
		}
	}
}

func TestWatchTTLPolicyRequiresCallbackAndPath(t *testing.T) {
	loader := NewLoader("PULSETESTWATCH")
	if _, err := loader.WatchTTLPolicy(context.Background(), "x.yaml", nil, nil); err == nil {
		t.Fatalf("expected error for nil callback")
	}
	if _, err := loader.WatchTTLPolicy(context.Background(), "", func(map[string]int) {}, nil); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestWatchTTLPolicyStopIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ttl.yaml")
	writePolicy(t, path, "user: 600\n")

	loader := NewLoader("PULSETESTWATCH")
	watcher, err := loader.WatchTTLPolicy(context.Background(), path, func(map[string]int) {}, nil)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	watcher.Stop()
	watcher.Stop()
}
