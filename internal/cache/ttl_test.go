package cache

import (
	"testing"
	"time"
)

func TestTTLPolicyLookup(t *testing.T) {
	policy := NewTTLPolicy(5*time.Minute, map[string]int{
		"user":    600,
		"message": 120,
	})

	if got := policy.TTLFor("user"); got != 10*time.Minute {
		t.Fatalf("expected 10m for user, got %v", got)
	}
	if got := policy.TTLFor("channel"); got != 5*time.Minute {
		t.Fatalf("expected fallback for unknown entity, got %v", got)
	}
	if got := policy.Default(); got != 5*time.Minute {
		t.Fatalf("expected default 5m, got %v", got)
	}
}

func TestTTLPolicyReplaceAll(t *testing.T) {
	policy := NewTTLPolicy(time.Minute, map[string]int{"user": 600})

	policy.ReplaceAll(map[string]int{
		"task":   180,
		"broken": -5,
	})

	if got := policy.TTLFor("task"); got != 3*time.Minute {
		t.Fatalf("expected 3m for task, got %v", got)
	}
	if got := policy.TTLFor("user"); got != time.Minute {
		t.Fatalf("expected old entry dropped after replace, got %v", got)
	}
	if got := policy.TTLFor("broken"); got != time.Minute {
		t.Fatalf("expected non-positive entry dropped, got %v", got)
	}
}

func TestTTLPolicySnapshotIsACopy(t *testing.T) {
	policy := NewTTLPolicy(time.Minute, map[string]int{"user": 600})

	snap := policy.Snapshot()
	snap["user"] = 1

	if got := policy.TTLFor("user"); got != 10*time.Minute {
		t.Fatalf("expected snapshot mutation not to leak, got %v", got)
	}
}
