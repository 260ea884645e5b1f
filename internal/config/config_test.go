package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadEnvOnlyDefaults(t *testing.T) {
	cfg, err := Load("", true)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Risk.DefaultMinConfidence != 0.65 {
		t.Fatalf("default_min_confidence=%v want=0.65", cfg.Risk.DefaultMinConfidence)
	}
	if cfg.Risk.CloseTolerance != 0.05 {
		t.Fatalf("close_tolerance=%v want=0.05", cfg.Risk.CloseTolerance)
	}
	if cfg.Risk.EstimatedSlippagePct != 0.05 {
		t.Fatalf("estimated_slippage_pct=%v want=0.05", cfg.Risk.EstimatedSlippagePct)
	}
	if cfg.Engine.TickTimeoutFloor != 30*time.Second {
		t.Fatalf("tick_timeout_floor=%v want=30s", cfg.Engine.TickTimeoutFloor)
	}
	if cfg.Scheduler.Spec != "@every 5s" {
		t.Fatalf("scheduler.spec=%q", cfg.Scheduler.Spec)
	}
	p, ok := cfg.Reasoning.Providers["anthropic"]
	if !ok {
		t.Fatalf("anthropic provider missing from defaults")
	}
	if p.Kind != "anthropic" || p.APIKeyEnv != "ANTHROPIC_API_KEY" {
		t.Fatalf("anthropic provider=%+v", p)
	}
	if cfg.App.IsProduction() {
		t.Fatalf("dev env reported as production")
	}
}

func TestLoadFileOverridesAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := []byte(`
app:
  env: production
engine:
  fee_bps: 2
reasoning:
  providers:
    local:
      kind: openai
      base_url: http://127.0.0.1:11434/v1
`)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("TL_ENGINE_SLIPPAGE_BPS", "11")

	cfg, err := Load(path, false)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.App.IsProduction() {
		t.Fatalf("env=%q not production", cfg.App.Env)
	}
	if cfg.Engine.FeeBps != 2 {
		t.Fatalf("fee_bps=%d want=2", cfg.Engine.FeeBps)
	}
	if cfg.Engine.SlippageBps != 11 {
		t.Fatalf("slippage_bps=%d want=11", cfg.Engine.SlippageBps)
	}
	if got := cfg.Reasoning.Providers["local"].BaseURL; got != "http://127.0.0.1:11434/v1" {
		t.Fatalf("local base_url=%q", got)
	}
}
