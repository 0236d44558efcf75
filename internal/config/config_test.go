package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg := Load()
	if cfg.Destination.TokenFrom != "source" || cfg.Destination.TokenTo != "dest" {
		t.Fatalf("unexpected destination tokens %+v", cfg.Destination)
	}
	if cfg.Upload.URLTTL != 300*time.Second {
		t.Fatalf("expected 300s upload ttl, got %s", cfg.Upload.URLTTL)
	}
	if cfg.Upload.ContentType != "image/jpg" || cfg.Upload.DefaultFilename != "image.jpg" {
		t.Fatalf("unexpected upload defaults %+v", cfg.Upload)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}
}

func TestLoadReadsDotEnvWithoutOverridingEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	content := "DEST_TOKEN_FROM=raw\nDEST_TOKEN_TO=cooked\nUPLOAD_URL_TTL=90s\nWORKER_MAX_ATTEMPTS=3\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("DEST_TOKEN_TO", "final")
	t.Cleanup(func() {
		for _, key := range []string{"DEST_TOKEN_FROM", "UPLOAD_URL_TTL", "WORKER_MAX_ATTEMPTS"} {
			os.Unsetenv(key)
		}
	})

	cfg := Load(path)
	if cfg.Destination.TokenFrom != "raw" {
		t.Fatalf("expected token from .env, got %q", cfg.Destination.TokenFrom)
	}
	if cfg.Destination.TokenTo != "final" {
		t.Fatalf("expected environment to win over .env, got %q", cfg.Destination.TokenTo)
	}
	if cfg.Upload.URLTTL != 90*time.Second {
		t.Fatalf("expected 90s ttl, got %s", cfg.Upload.URLTTL)
	}
	if cfg.Worker.MaxAttempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", cfg.Worker.MaxAttempts)
	}
}

func TestEnvDuration(t *testing.T) {
	t.Setenv("TEST_DURATION", "45")
	if got := envDuration("TEST_DURATION", time.Minute); got != 45*time.Second {
		t.Fatalf("expected bare seconds, got %s", got)
	}
	t.Setenv("TEST_DURATION", "2m")
	if got := envDuration("TEST_DURATION", time.Minute); got != 2*time.Minute {
		t.Fatalf("expected 2m, got %s", got)
	}
	t.Setenv("TEST_DURATION", "soon")
	if got := envDuration("TEST_DURATION", time.Minute); got != time.Minute {
		t.Fatalf("expected fallback, got %s", got)
	}
}

func TestValidateRejectsBadDestinationTokens(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg := Load()

	cfg.Destination.TokenFrom = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected empty token to fail validation")
	}

	cfg.Destination = DestinationConfig{TokenFrom: "same", TokenTo: "same"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected identity mapping to fail validation")
	}
}

func TestValidateRateLimitPolicies(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg := Load()
	cfg.RateLimit.Enabled = true
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected default policies to validate, got %v", err)
	}

	cfg.RateLimit.EventsBurst = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected zero events burst to fail validation")
	}
}
