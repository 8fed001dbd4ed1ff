package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("POLL_INTERVAL", "")
	t.Setenv("MAX_POLL_ATTEMPTS", "")
	t.Setenv("BUCKET_NAME", "")

	cfg := Load()

	if cfg.Worker.PollInterval != 60*time.Second {
		t.Fatalf("PollInterval = %v, want 60s", cfg.Worker.PollInterval)
	}
	if cfg.Worker.MaxPollAttempts != 120 {
		t.Fatalf("MaxPollAttempts = %d, want 120", cfg.Worker.MaxPollAttempts)
	}
	if cfg.MinIO.URLExpiry != 24*time.Hour {
		t.Fatalf("URLExpiry = %v, want 24h", cfg.MinIO.URLExpiry)
	}
	if cfg.MinIO.Bucket != "transcriptions" {
		t.Fatalf("Bucket = %q", cfg.MinIO.Bucket)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("POLL_INTERVAL", "5s")
	t.Setenv("MAX_POLL_ATTEMPTS", "10")
	t.Setenv("MINIO_USE_SSL", "true")
	t.Setenv("UPLOAD_PART_SIZE_MB", "8")

	cfg := Load()

	if cfg.Worker.PollInterval != 5*time.Second {
		t.Fatalf("PollInterval = %v", cfg.Worker.PollInterval)
	}
	if cfg.Worker.MaxPollAttempts != 10 {
		t.Fatalf("MaxPollAttempts = %d", cfg.Worker.MaxPollAttempts)
	}
	if !cfg.MinIO.UseSSL {
		t.Fatal("UseSSL = false, want true")
	}
	if cfg.MinIO.PartSize != 8<<20 {
		t.Fatalf("PartSize = %d", cfg.MinIO.PartSize)
	}
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("MAX_POLL_ATTEMPTS", "many")
	t.Setenv("POLL_INTERVAL", "soon")

	cfg := Load()

	if cfg.Worker.MaxPollAttempts != 120 {
		t.Fatalf("MaxPollAttempts = %d, want default", cfg.Worker.MaxPollAttempts)
	}
	if cfg.Worker.PollInterval != time.Minute {
		t.Fatalf("PollInterval = %v, want default", cfg.Worker.PollInterval)
	}
}
