package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Addr != ":8788" {
		t.Errorf("Addr = %q", cfg.Addr)
	}
	if cfg.AccessTTL != 15*time.Minute {
		t.Errorf("AccessTTL = %v", cfg.AccessTTL)
	}
	if cfg.RefreshTTL != 30*24*time.Hour {
		t.Errorf("RefreshTTL = %v", cfg.RefreshTTL)
	}
	if cfg.DraftTTL != 7*24*time.Hour {
		t.Errorf("DraftTTL = %v", cfg.DraftTTL)
	}
	if cfg.MinioEndpoint != "" {
		t.Errorf("MinioEndpoint default should disable uploads, got %q", cfg.MinioEndpoint)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("API_ADDR", ":9000")
	t.Setenv("MOSAIC_ACCESS_TTL_SECONDS", "60")
	t.Setenv("MINIO_USE_SSL", "true")
	t.Setenv("MOSAIC_REFRESH_TTL_SECONDS", "not-a-number")

	cfg := Load()
	if cfg.Addr != ":9000" {
		t.Errorf("Addr = %q", cfg.Addr)
	}
	if cfg.AccessTTL != time.Minute {
		t.Errorf("AccessTTL = %v", cfg.AccessTTL)
	}
	if !cfg.MinioUseSSL {
		t.Error("MinioUseSSL override not applied")
	}
	// Unparseable values fall back to the default.
	if cfg.RefreshTTL != 30*24*time.Hour {
		t.Errorf("RefreshTTL = %v", cfg.RefreshTTL)
	}
}
