package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.TenancyID != "default" {
		t.Errorf("TenancyID default = %q, want %q", cfg.TenancyID, "default")
	}
	if cfg.RevokeDelay <= 0 {
		t.Errorf("RevokeDelay default must be positive, got %v", cfg.RevokeDelay)
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("VORTEX_TENANCY_ID", "tenant-a")
	t.Setenv("VORTEX_REVOKE_DELAY", "250ms")
	t.Setenv("VORTEX_COORDINATOR_MAX_SLEEP", "1500")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TenancyID != "tenant-a" {
		t.Errorf("TenancyID = %q, want tenant-a", cfg.TenancyID)
	}
	if cfg.RevokeDelay != 250*time.Millisecond {
		t.Errorf("RevokeDelay = %v, want 250ms", cfg.RevokeDelay)
	}
	if cfg.CoordinatorMaxSleep != 1500*time.Millisecond {
		t.Errorf("CoordinatorMaxSleep = %v, want 1500ms (bare-integer ms fallback)", cfg.CoordinatorMaxSleep)
	}
}

func TestLoadYAMLOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cluster.yaml")
	body := "tenancy_id: tenant-yaml\nheartbeat: 3s\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TenancyID != "tenant-yaml" {
		t.Errorf("TenancyID = %q, want tenant-yaml", cfg.TenancyID)
	}
	if cfg.Heartbeat != 3*time.Second {
		t.Errorf("Heartbeat = %v, want 3s", cfg.Heartbeat)
	}
	// Fields untouched by the YAML file keep their default.
	if cfg.CoordinatorBarrierPeriod != Defaults().CoordinatorBarrierPeriod {
		t.Errorf("CoordinatorBarrierPeriod = %v, want unchanged default", cfg.CoordinatorBarrierPeriod)
	}
}

func TestLoadMissingFileErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}
