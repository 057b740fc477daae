package config

import (
	"os"
	"path/filepath"
	"testing"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("ENGINE_PATH", "/usr/bin/stockfish")
	t.Setenv("FEED_BASE_URL", "https://feed.example")
	t.Setenv("FEED_WS_URL", "wss://feed.example/stream")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.EngineThreads != 1 || cfg.EngineHashMB != 64 {
		t.Fatalf("engine defaults: %+v", cfg)
	}
	if cfg.MinThinkMillis != 50 || cfg.ReserveMillis != 300 || cfg.GraceMillis != 2000 || cfg.BudgetDivisor != 40 {
		t.Fatalf("timing defaults: %+v", cfg)
	}
	if cfg.MaxConcurrentGames != 1 {
		t.Fatalf("MaxConcurrentGames = %d", cfg.MaxConcurrentGames)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	t.Setenv("ENGINE_PATH", "")
	t.Setenv("FEED_BASE_URL", "https://feed.example")
	t.Setenv("FEED_WS_URL", "wss://feed.example/stream")
	if _, err := Load(); err == nil {
		t.Fatal("expected error without ENGINE_PATH")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("ENGINE_THREADS", "4")
	t.Setenv("MAX_CONCURRENT_GAMES", "3")
	t.Setenv("MIN_THINK_MS", "100")
	t.Setenv("BUDGET_DIVISOR", "25")
	t.Setenv("AUTO_CHALLENGE", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.EngineThreads != 4 || cfg.MaxConcurrentGames != 3 || cfg.MinThinkMillis != 100 || !cfg.AutoChallenge {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.BudgetDivisor != 25 {
		t.Fatalf("BudgetDivisor = %d, want 25", cfg.BudgetDivisor)
	}
}

func TestLoadOptionsFile(t *testing.T) {
	setRequired(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.yaml")
	body := `
options:
  Skill Level: "15"
  SyzygyPath: /tablebases
timing:
  min_think_ms: 80
  budget_divisor: 30
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write options file: %v", err)
	}
	t.Setenv("ENGINE_OPTIONS_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.EngineOptions["Skill Level"] != "15" || cfg.EngineOptions["SyzygyPath"] != "/tablebases" {
		t.Fatalf("options not parsed: %+v", cfg.EngineOptions)
	}
	if cfg.MinThinkMillis != 80 || cfg.BudgetDivisor != 30 {
		t.Fatalf("timing overrides not applied: %+v", cfg)
	}
	if cfg.ReserveMillis != 300 {
		t.Fatalf("untouched timing changed: %+v", cfg)
	}
}

func TestLoadBadOptionsFile(t *testing.T) {
	setRequired(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.yaml")
	if err := os.WriteFile(path, []byte("{not yaml"), 0o644); err != nil {
		t.Fatalf("write options file: %v", err)
	}
	t.Setenv("ENGINE_OPTIONS_FILE", path)
	if _, err := Load(); err == nil {
		t.Fatal("expected error for malformed options file")
	}
}
