package main

import (
	"testing"
	"time"
)

func TestLoadConfigRollupPolicy(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/test")
	t.Setenv("ROLLUP_GRACE_MINUTE", "90s")
	t.Setenv("ROLLUP_GRACE_HOUR", "20m")
	t.Setenv("ROLLUP_DEDUP_RETENTION", "4h")
	t.Setenv("ROLLUP_BATCH_DEADLINE", "10s")

	cfg := loadConfig()
	if cfg.RollupGraceMinute != 90*time.Second {
		t.Fatalf("grace minute = %s, want 90s", cfg.RollupGraceMinute)
	}
	if cfg.RollupGraceHour != 20*time.Minute {
		t.Fatalf("grace hour = %s, want 20m", cfg.RollupGraceHour)
	}
	if cfg.RollupDedupRetention != 4*time.Hour {
		t.Fatalf("dedup retention = %s, want 4h", cfg.RollupDedupRetention)
	}
	if cfg.RollupBatchDeadline != 10*time.Second {
		t.Fatalf("batch deadline = %s, want 10s", cfg.RollupBatchDeadline)
	}
}

func TestLoadConfigRollupPolicyDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/test")
	t.Setenv("ROLLUP_GRACE_MINUTE", "")
	t.Setenv("ROLLUP_GRACE_HOUR", "")
	t.Setenv("ROLLUP_DEDUP_RETENTION", "")
	t.Setenv("ROLLUP_BATCH_DEADLINE", "")

	cfg := loadConfig()
	if cfg.RollupGraceMinute != 2*time.Minute {
		t.Fatalf("grace minute default = %s, want 2m", cfg.RollupGraceMinute)
	}
	if cfg.RollupGraceHour != 10*time.Minute {
		t.Fatalf("grace hour default = %s, want 10m", cfg.RollupGraceHour)
	}
	if cfg.RollupDedupRetention != 2*time.Hour {
		t.Fatalf("dedup retention default = %s, want 2h", cfg.RollupDedupRetention)
	}
	if cfg.RollupBatchDeadline != 5*time.Second {
		t.Fatalf("batch deadline default = %s, want 5s", cfg.RollupBatchDeadline)
	}
}

func TestBackoffDelay(t *testing.T) {
	base := 2 * time.Second
	cases := []struct {
		failures int
		want     time.Duration
	}{
		{0, 2 * time.Second},
		{1, 4 * time.Second},
		{3, 16 * time.Second},
		{5, time.Minute},
		{20, time.Minute},
	}
	for _, tc := range cases {
		if got := backoffDelay(base, tc.failures); got != tc.want {
			t.Errorf("backoffDelay(%s, %d) = %s, want %s", base, tc.failures, got, tc.want)
		}
	}
}
