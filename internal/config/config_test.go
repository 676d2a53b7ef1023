package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("APP_ENV", "")
	t.Setenv("MAX_IMAGES", "")
	t.Setenv("PROMPT_METADATA_LIMIT", "")
	t.Setenv("ACCESS_TOKEN_TTL", "")

	cfg := Load()
	if cfg.AppEnv != "production" || cfg.Development() {
		t.Fatalf("expected production default, got %q", cfg.AppEnv)
	}
	if cfg.MaxImages != 3 || cfg.PromptMetadataLimit != 450 || cfg.AccessTokenTTL != time.Hour {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.RabbitQueue != "transform_jobs" || cfg.RabbitReconcileQueue != "provision_reconcile" {
		t.Fatalf("unexpected queues %q %q", cfg.RabbitQueue, cfg.RabbitReconcileQueue)
	}
}

func TestLoad_PromptLimitCappedAtProviderCeiling(t *testing.T) {
	t.Setenv("PROMPT_METADATA_LIMIT", "900")
	if got := Load().PromptMetadataLimit; got != 450 {
		t.Fatalf("expected fallback to 450, got %d", got)
	}
	t.Setenv("PROMPT_METADATA_LIMIT", "500")
	if got := Load().PromptMetadataLimit; got != 500 {
		t.Fatalf("expected 500, got %d", got)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("APP_ENV", "Development")
	t.Setenv("WORKER_CONCURRENCY", "500")
	t.Setenv("SHARE_TOKEN_TTL", "15m")
	t.Setenv("DB_DRIVER", "Postgres")

	cfg := Load()
	if !cfg.Development() {
		t.Fatalf("expected development")
	}
	if cfg.WorkerConcurrency != 50 {
		t.Fatalf("expected concurrency capped at 50, got %d", cfg.WorkerConcurrency)
	}
	if cfg.ShareTokenTTL != 15*time.Minute || cfg.DBDriver != "postgres" {
		t.Fatalf("unexpected overrides %+v", cfg)
	}
}
