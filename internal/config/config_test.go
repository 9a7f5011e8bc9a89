package config

import "testing"

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("MANAGER_PIN", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
	if cfg.ManagerPIN != "" {
		t.Fatalf("expected empty MANAGER_PIN when unset, got %q", cfg.ManagerPIN)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DEFAULT_COMPANY_ID", "")
	t.Setenv("RECONCILIATION_TTL_SECONDS", "")
	t.Setenv("LOG_LEVEL", "")

	cfg := Load()
	if cfg.CompanyID != "co_demo" {
		t.Fatalf("expected default company id co_demo, got %q", cfg.CompanyID)
	}
	if cfg.ReconciliationTTLSeconds != 15 {
		t.Fatalf("expected default reconciliation ttl 15, got %d", cfg.ReconciliationTTLSeconds)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("expected default log level info, got %q", cfg.LogLevel)
	}
}
