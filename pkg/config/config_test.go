package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Processor != DefaultProcessor {
		t.Errorf("Expected default processor %q, got %q", DefaultProcessor, cfg.Processor)
	}
	if cfg.BatchWindow != DefaultBatchWindow {
		t.Errorf("Expected default batch window %v, got %v", DefaultBatchWindow, cfg.BatchWindow)
	}
	if cfg.WatermarkBackend != WatermarkMongo {
		t.Errorf("Expected mongo watermark backend by default, got %q", cfg.WatermarkBackend)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PROCESSOR_NAME", "site_exporter")
	t.Setenv("BATCH_SECONDS", "0.5")
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Processor != "site_exporter" {
		t.Errorf("Expected processor from env, got %q", cfg.Processor)
	}
	if cfg.BatchWindow != 500*time.Millisecond {
		t.Errorf("Expected 500ms batch window, got %v", cfg.BatchWindow)
	}
	if !cfg.LogJSON {
		t.Error("Expected JSON logging")
	}
}

func TestMalformedBatchSecondsRejected(t *testing.T) {
	t.Setenv("BATCH_SECONDS", "not-a-number")

	if _, err := Load(); err == nil {
		t.Fatal("Expected an error for a malformed BATCH_SECONDS")
	}
}

func TestNonPositiveBatchSecondsRejected(t *testing.T) {
	t.Setenv("BATCH_SECONDS", "-2")

	if _, err := Load(); err == nil {
		t.Fatal("Expected a validation error for a non-positive batch window")
	}
}

func TestBadgerBackendRequiresPath(t *testing.T) {
	t.Setenv("WATERMARK_BACKEND", "badger")

	if _, err := Load(); err == nil {
		t.Fatal("Expected validation error: badger backend without a path")
	}

	t.Setenv("WATERMARK_BADGER_PATH", "/var/lib/cim/watermark")
	if _, err := Load(); err != nil {
		t.Fatalf("Load failed with path set: %v", err)
	}
}

func TestUnknownWatermarkBackendRejected(t *testing.T) {
	t.Setenv("WATERMARK_BACKEND", "redis")

	if _, err := Load(); err == nil {
		t.Fatal("Expected validation error for unknown watermark backend")
	}
}
