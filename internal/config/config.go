package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type AppConfig struct {
	EnginePath        string
	EngineThreads     int
	EngineHashMB      int
	EngineOptionsFile string
	EngineOptions     map[string]string

	FeedBaseURL string
	FeedWSURL   string
	FeedToken   string
	BotUsername string

	RedisURL    string
	DatabaseURL string

	MaxConcurrentGames int

	// Per-move timing policy. Millisecond fields may be overridden by the
	// engine options file.
	MinThinkMillis int
	ReserveMillis  int
	GraceMillis    int
	BudgetDivisor  int

	AutoChallenge        bool
	ChallengeIntervalSec int
}

// optionsFile is the YAML shape of ENGINE_OPTIONS_FILE.
type optionsFile struct {
	Options map[string]string `yaml:"options"`
	Timing  struct {
		MinThinkMillis int `yaml:"min_think_ms"`
		ReserveMillis  int `yaml:"reserve_ms"`
		GraceMillis    int `yaml:"grace_ms"`
		BudgetDivisor  int `yaml:"budget_divisor"`
	} `yaml:"timing"`
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		EngineThreads:        1,
		EngineHashMB:         64,
		MaxConcurrentGames:   1,
		MinThinkMillis:       50,
		ReserveMillis:        300,
		GraceMillis:          2000,
		BudgetDivisor:        40,
		ChallengeIntervalSec: 45,
	}

	cfg.EnginePath = strings.TrimSpace(os.Getenv("ENGINE_PATH"))
	cfg.EngineOptionsFile = strings.TrimSpace(os.Getenv("ENGINE_OPTIONS_FILE"))

	cfg.FeedBaseURL = strings.TrimSpace(os.Getenv("FEED_BASE_URL"))
	cfg.FeedWSURL = strings.TrimSpace(os.Getenv("FEED_WS_URL"))
	cfg.FeedToken = strings.TrimSpace(os.Getenv("FEED_TOKEN"))
	cfg.BotUsername = strings.TrimSpace(os.Getenv("BOT_USERNAME"))

	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))

	if v := strings.TrimSpace(os.Getenv("ENGINE_THREADS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.EngineThreads = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("ENGINE_HASH_MB")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.EngineHashMB = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("MAX_CONCURRENT_GAMES")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxConcurrentGames = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("MIN_THINK_MS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MinThinkMillis = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("TIME_RESERVE_MS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.ReserveMillis = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("SEARCH_GRACE_MS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.GraceMillis = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("BUDGET_DIVISOR")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.BudgetDivisor = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("AUTO_CHALLENGE")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.AutoChallenge = b
		}
	}
	if v := strings.TrimSpace(os.Getenv("CHALLENGE_INTERVAL_SEC")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ChallengeIntervalSec = n
		}
	}

	if cfg.EngineOptionsFile != "" {
		if err := cfg.applyOptionsFile(cfg.EngineOptionsFile); err != nil {
			return nil, err
		}
	}

	if cfg.EnginePath == "" {
		return nil, errors.New("ENGINE_PATH is required")
	}
	if cfg.FeedBaseURL == "" {
		return nil, errors.New("FEED_BASE_URL is required")
	}
	if cfg.FeedWSURL == "" {
		return nil, errors.New("FEED_WS_URL is required")
	}

	return cfg, nil
}

func (c *AppConfig) applyOptionsFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read engine options file: %w", err)
	}
	var f optionsFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse engine options file: %w", err)
	}
	if len(f.Options) > 0 {
		c.EngineOptions = make(map[string]string, len(f.Options))
		for k, v := range f.Options {
			k = strings.TrimSpace(k)
			if k == "" {
				continue
			}
			c.EngineOptions[k] = strings.TrimSpace(v)
		}
	}
	if f.Timing.MinThinkMillis > 0 {
		c.MinThinkMillis = f.Timing.MinThinkMillis
	}
	if f.Timing.ReserveMillis > 0 {
		c.ReserveMillis = f.Timing.ReserveMillis
	}
	if f.Timing.GraceMillis > 0 {
		c.GraceMillis = f.Timing.GraceMillis
	}
	if f.Timing.BudgetDivisor > 0 {
		c.BudgetDivisor = f.Timing.BudgetDivisor
	}
	return nil
}
