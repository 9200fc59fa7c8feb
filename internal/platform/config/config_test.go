package config

import "testing"

func TestLoadAppliesDefaultsWhenOnlyRequiredVarsAreSet(t *testing.T) {
	t.Setenv("P8_DATABASE_URL", "postgres://localhost/p8k8")
	t.Setenv("P8_BLOB_BUCKET", "p8k8-dev")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Database.MaxOpenConns != 20 || cfg.Database.MaxIdleConns != 5 {
		t.Errorf("got database pool config %+v", cfg.Database)
	}
	if cfg.KMS.Provider != "local" {
		t.Errorf("got kms provider %q, want local", cfg.KMS.Provider)
	}
	if cfg.Memory.EmbeddingModel != "text-embedding-3-small" || cfg.Memory.ContextTokenBudget != 8000 {
		t.Errorf("got memory config %+v", cfg.Memory)
	}
	if cfg.Queue.MaxRetries != 5 || cfg.Queue.StaleClaimMinutes != 15 {
		t.Errorf("got queue config %+v", cfg.Queue)
	}
	if cfg.Blob.Region != "us-east-1" {
		t.Errorf("got blob region %q", cfg.Blob.Region)
	}
	if cfg.Agent.Provider != "stub" || cfg.Agent.DefaultModel != "stub-model" {
		t.Errorf("got agent config %+v", cfg.Agent)
	}
	if cfg.Seed.FixturePath != "configs/seed.yaml" {
		t.Errorf("got seed fixture path %q", cfg.Seed.FixturePath)
	}
}

func TestLoadOverridesDefaultsFromEnv(t *testing.T) {
	t.Setenv("P8_DATABASE_URL", "postgres://localhost/p8k8")
	t.Setenv("P8_BLOB_BUCKET", "p8k8-dev")
	t.Setenv("P8_KMS_PROVIDER", "vault")
	t.Setenv("P8_QUEUE_MAX_RETRIES", "9")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.KMS.Provider != "vault" {
		t.Errorf("got kms provider %q, want vault", cfg.KMS.Provider)
	}
	if cfg.Queue.MaxRetries != 9 {
		t.Errorf("got max retries %d, want 9", cfg.Queue.MaxRetries)
	}
}

func TestLoadErrorsWhenARequiredVarIsMissing(t *testing.T) {
	t.Setenv("P8_BLOB_BUCKET", "p8k8-dev")
	// P8_DATABASE_URL intentionally left unset.
	if _, err := Load(); err == nil {
		t.Fatal("expected Load to error when a required env var is missing")
	}
}
