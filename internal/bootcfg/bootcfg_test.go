package bootcfg

import (
	"os"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{envNCPU, envQuantum, envMemKB} {
		if err := os.Unsetenv(k); err != nil {
			t.Fatalf("unsetenv %s: %v", k, err)
		}
	}
}

func TestFromEnvDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.NCPU != defaultNCPU {
		t.Errorf("NCPU = %d, want %d", cfg.NCPU, defaultNCPU)
	}
	if cfg.Quantum != defaultQuantum {
		t.Errorf("Quantum = %v, want %v", cfg.Quantum, defaultQuantum)
	}
	if cfg.MemRegionKB != defaultMemKB {
		t.Errorf("MemRegionKB = %d, want %d", cfg.MemRegionKB, defaultMemKB)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv(envNCPU, "1")
	t.Setenv(envQuantum, "500")
	t.Setenv(envMemKB, "2048")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.NCPU != 1 {
		t.Errorf("NCPU = %d, want 1", cfg.NCPU)
	}
	if cfg.Quantum != 500*time.Microsecond {
		t.Errorf("Quantum = %v, want 500us", cfg.Quantum)
	}
	if cfg.MemRegionKB != 2048 {
		t.Errorf("MemRegionKB = %d, want 2048", cfg.MemRegionKB)
	}
}

func TestFromEnvRejectsBadValues(t *testing.T) {
	clearEnv(t)
	cases := []struct {
		env string
		val string
	}{
		{envNCPU, "0"},
		{envNCPU, "not-a-number"},
		{envQuantum, "-1"},
		{envMemKB, "bogus"},
	}
	for _, c := range cases {
		clearEnv(t)
		t.Setenv(c.env, c.val)
		if _, err := FromEnv(); err == nil {
			t.Errorf("%s=%q: expected error, got nil", c.env, c.val)
		}
	}
}
