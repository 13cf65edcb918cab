package config

import "testing"

func TestDefaultConfigValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected default config to validate, got %v", err)
	}
}

func TestNewAppliesOptions(t *testing.T) {
	cfg, err := New(WithTopK(9), WithDataDir("/tmp/x"), WithRecallStrategy(RecallStrategySimilarity))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if cfg.RecallEngine.TopK != 9 {
		t.Fatalf("expected TopK=9, got %d", cfg.RecallEngine.TopK)
	}
	if cfg.DataDir != "/tmp/x" {
		t.Fatalf("expected DataDir=/tmp/x, got %q", cfg.DataDir)
	}
	if cfg.RecallEngine.Strategy != RecallStrategySimilarity {
		t.Fatalf("expected strategy similarity, got %s", cfg.RecallEngine.Strategy)
	}
}

func TestValidateRejectsEmptyDataDir(t *testing.T) {
	cfg := Default()
	cfg.DataDir = ""
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected empty DataDir to be rejected")
	}
}

func TestValidateRejectsBadRecallStrategy(t *testing.T) {
	cfg := Default()
	cfg.RecallEngine.Strategy = RecallStrategy("nonsense")
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected invalid recall_strategy to be rejected")
	}
}

func TestValidateRejectsBadFusionStrategy(t *testing.T) {
	cfg := Default()
	cfg.Fusion.Strategy = FusionStrategy("nonsense")
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected invalid fusion.strategy to be rejected")
	}
}

func TestValidateRejectsNonPositiveSessionLimits(t *testing.T) {
	cfg := Default()
	cfg.SessionManager.MaxSessions = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected non-positive max_sessions to be rejected")
	}
}

func TestValidateRejectsOutOfRangeBM25Params(t *testing.T) {
	cfg := Default()
	cfg.SparseRetriever.BM25B = 1.5
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected bm25_b out of [0,1] to be rejected")
	}
}
