package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadOrDefault_MissingFile(t *testing.T) {
	c := LoadOrDefault(filepath.Join(t.TempDir(), "nope.yaml"))
	if c.Gate.Blocked.MaxSpreadPercent != 1.5 {
		t.Fatalf("want default block spread 1.5, got %v", c.Gate.Blocked.MaxSpreadPercent)
	}
	if c.Queue.MaxOrdersPerMinute != 60 || c.Queue.MaxQueueSize != 1000 {
		t.Fatalf("want default queue limits, got %+v", c.Queue)
	}
	if c.Lifecycle.TTLByCategory["CLOSE_EXIT"] != 15 {
		t.Fatalf("want CLOSE_EXIT ttl 15, got %d", c.Lifecycle.TTLByCategory["CLOSE_EXIT"])
	}
}

func TestLoadOrDefault_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("gate: [not a map"), 0644); err != nil {
		t.Fatal(err)
	}
	c := LoadOrDefault(path)
	if c.Gate.AutoApproved.MaxSpreadPercent != 0.3 {
		t.Fatalf("malformed config must fall back to defaults, got %+v", c.Gate)
	}
}

func TestLoad_PartialFileBackfills(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.yaml")
	body := []byte("queue:\n  max_orders_per_minute: 10\n")
	if err := os.WriteFile(path, body, 0644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Queue.MaxOrdersPerMinute != 10 {
		t.Fatalf("override lost: %+v", c.Queue)
	}
	if c.Queue.PerSymbolCooldownSeconds != 5 || c.Queue.BatchIntervalMs != 500 {
		t.Fatalf("unset fields must backfill: %+v", c.Queue)
	}
	if c.Lifecycle.MinReplaceIntervalSeconds != 2.5 {
		t.Fatalf("lifecycle defaults missing: %+v", c.Lifecycle)
	}
}

func TestDurationHelpers(t *testing.T) {
	c := Default()
	if c.Queue.Cooldown().Seconds() != 5 {
		t.Fatalf("cooldown helper: %v", c.Queue.Cooldown())
	}
	if c.Lifecycle.MinReplaceInterval().Seconds() != 2.5 {
		t.Fatalf("replace interval helper: %v", c.Lifecycle.MinReplaceInterval())
	}
	if c.Lifecycle.StaleThreshold().Seconds() != 90 {
		t.Fatalf("stale threshold helper: %v", c.Lifecycle.StaleThreshold())
	}
}
