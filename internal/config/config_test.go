package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != 8742 {
		t.Fatalf("expected default port 8742, got %d", cfg.Port)
	}
	if cfg.ShuttleBatchSize != 10 {
		t.Fatalf("expected default batch size 10, got %d", cfg.ShuttleBatchSize)
	}
	if cfg.ShuttleMinSalience != 0.3 {
		t.Fatalf("expected default min salience 0.3, got %f", cfg.ShuttleMinSalience)
	}
	if !cfg.ShuttleDedup {
		t.Fatal("dedup should default on")
	}
	if cfg.SessionIdleTTL != 24*time.Hour {
		t.Fatalf("expected 24h session ttl, got %s", cfg.SessionIdleTTL)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("SHUTTLE_UPLOAD_INTERVAL", "5s")
	t.Setenv("SHUTTLE_DEDUP", "false")
	t.Setenv("SEARCH_THRESHOLD", "0.5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != 9000 {
		t.Fatalf("expected 9000, got %d", cfg.Port)
	}
	if cfg.ShuttleUploadInterval != 5*time.Second {
		t.Fatalf("expected 5s, got %s", cfg.ShuttleUploadInterval)
	}
	if cfg.ShuttleDedup {
		t.Fatal("dedup should be disabled")
	}
	if cfg.SearchThreshold != 0.5 {
		t.Fatalf("expected 0.5, got %f", cfg.SearchThreshold)
	}
}

func TestLoadMalformedEnvFallsBack(t *testing.T) {
	t.Setenv("PORT", "not-a-number")
	t.Setenv("SHUTTLE_MIN_SALIENCE", "high")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != 8742 {
		t.Fatalf("malformed PORT should fall back to default, got %d", cfg.Port)
	}
	if cfg.ShuttleMinSalience != 0.3 {
		t.Fatalf("malformed float should fall back, got %f", cfg.ShuttleMinSalience)
	}
}

func TestLoadValidation(t *testing.T) {
	t.Run("port out of range", func(t *testing.T) {
		t.Setenv("PORT", "70000")
		if _, err := Load(); err == nil {
			t.Fatal("expected validation error")
		}
	})

	t.Run("threshold out of range", func(t *testing.T) {
		t.Setenv("SEARCH_THRESHOLD", "1.5")
		if _, err := Load(); err == nil {
			t.Fatal("expected validation error")
		}
	})

	t.Run("batch size positive", func(t *testing.T) {
		t.Setenv("SHUTTLE_BATCH_SIZE", "0")
		if _, err := Load(); err == nil {
			t.Fatal("expected validation error")
		}
	})
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "port: 9100\nlogLevel: debug\nshuttleBatchSize: 25\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("MEMORY_CONFIG_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != 9100 || cfg.LogLevel != "debug" || cfg.ShuttleBatchSize != 25 {
		t.Fatalf("yaml values not applied: %+v", cfg)
	}

	t.Run("environment beats the file", func(t *testing.T) {
		t.Setenv("PORT", "9200")
		cfg, err := Load()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Port != 9200 {
			t.Fatalf("env should override yaml, got %d", cfg.Port)
		}
	})

	t.Run("missing file errors", func(t *testing.T) {
		t.Setenv("MEMORY_CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))
		if _, err := Load(); err == nil {
			t.Fatal("expected error for missing config file")
		}
	})
}
