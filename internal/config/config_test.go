package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ORB_EVALUATOR_MODE", "subprocess")
	t.Setenv("ORB_EVALUATOR_COMMAND", "/usr/local/bin/orb-eval")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Port != 8090 {
		t.Errorf("Port=%d, want 8090", cfg.Port)
	}
	if cfg.HistoryWindow != time.Hour {
		t.Errorf("HistoryWindow=%v, want 1h", cfg.HistoryWindow)
	}
	if cfg.AttentionThreshold != 120 {
		t.Errorf("AttentionThreshold=%v, want 120", cfg.AttentionThreshold)
	}
	if cfg.EvaluatorTimeout != 5*time.Second {
		t.Errorf("EvaluatorTimeout=%v, want 5s", cfg.EvaluatorTimeout)
	}
	if cfg.JWTAudience != "orb-agent" {
		t.Errorf("JWTAudience=%q, want orb-agent", cfg.JWTAudience)
	}
}

func TestLoadRejectsUnknownEvaluatorMode(t *testing.T) {
	t.Setenv("ORB_EVALUATOR_MODE", "telepathy")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown evaluator mode")
	}
}

func TestLoadRequiresEvaluatorCommand(t *testing.T) {
	t.Setenv("ORB_EVALUATOR_MODE", "subprocess")
	t.Setenv("ORB_EVALUATOR_COMMAND", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when subprocess mode has no command")
	}
}

func TestLoadRequiresEvaluatorURL(t *testing.T) {
	t.Setenv("ORB_EVALUATOR_MODE", "http")
	t.Setenv("ORB_EVALUATOR_URL", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when http mode has no URL")
	}
}

func TestLoadDerivesControlPlaneDefaults(t *testing.T) {
	t.Setenv("ORB_EVALUATOR_MODE", "http")
	t.Setenv("ORB_EVALUATOR_URL", "http://localhost:9000/evaluate")
	t.Setenv("ORB_CONTROL_PLANE_URL", "https://api.example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.JWKSEndpoint != "https://api.example.com/.well-known/jwks.json" {
		t.Errorf("JWKSEndpoint=%q", cfg.JWKSEndpoint)
	}
	if cfg.JWTIssuer != "https://api.example.com" {
		t.Errorf("JWTIssuer=%q", cfg.JWTIssuer)
	}
	wantOrigins := []string{"https://api.example.com", "https://*.example.com"}
	if len(cfg.AllowedOrigins) != len(wantOrigins) {
		t.Fatalf("AllowedOrigins=%v, want %v", cfg.AllowedOrigins, wantOrigins)
	}
	for i, want := range wantOrigins {
		if cfg.AllowedOrigins[i] != want {
			t.Errorf("AllowedOrigins[%d]=%q, want %q", i, cfg.AllowedOrigins[i], want)
		}
	}
}

func TestLoadFromTOMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orb.toml")
	content := `
port = 9100
evaluator_mode = "http"
evaluator_url = "http://localhost:9000/evaluate"
evaluator_timeout = "2s"
history_window = "30m"
attention_threshold = 200.0
allowed_origins = ["https://app.example.com"]
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv("ORB_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Port != 9100 {
		t.Errorf("Port=%d, want 9100", cfg.Port)
	}
	if cfg.EvaluatorMode != "http" {
		t.Errorf("EvaluatorMode=%q, want http", cfg.EvaluatorMode)
	}
	if cfg.EvaluatorTimeout != 2*time.Second {
		t.Errorf("EvaluatorTimeout=%v, want 2s", cfg.EvaluatorTimeout)
	}
	if cfg.HistoryWindow != 30*time.Minute {
		t.Errorf("HistoryWindow=%v, want 30m", cfg.HistoryWindow)
	}
	if cfg.AttentionThreshold != 200 {
		t.Errorf("AttentionThreshold=%v, want 200", cfg.AttentionThreshold)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "https://app.example.com" {
		t.Errorf("AllowedOrigins=%v", cfg.AllowedOrigins)
	}
	// Unset file keys keep their defaults.
	if cfg.SessionTTL != 30*time.Minute {
		t.Errorf("SessionTTL=%v, want default 30m", cfg.SessionTTL)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orb.toml")
	content := `
port = 9100
evaluator_mode = "subprocess"
evaluator_command = "/opt/eval"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv("ORB_CONFIG", path)
	t.Setenv("ORB_PORT", "9200")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Port != 9200 {
		t.Errorf("Port=%d, want env override 9200", cfg.Port)
	}
	if cfg.EvaluatorCommand != "/opt/eval" {
		t.Errorf("EvaluatorCommand=%q, want file value", cfg.EvaluatorCommand)
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orb.toml")
	if err := os.WriteFile(path, []byte("port = [not toml"), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv("ORB_CONFIG", path)

	if _, err := Load(); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestDeriveAllowedOriginsStripsPortAndPath(t *testing.T) {
	t.Parallel()

	got := deriveAllowedOrigins("https://api.example.com:8443/base")
	if len(got) != 2 {
		t.Fatalf("got %v", got)
	}
	if got[1] != "https://*.example.com" {
		t.Errorf("wildcard origin=%q, want https://*.example.com", got[1])
	}
}
