package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" || cfg.LogLevel != slog.LevelInfo || cfg.RedisURL != "" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Timing.RoundDuration != 180*time.Second || cfg.Timing.SpeedWindow != 15*time.Second {
		t.Errorf("timing = %+v", cfg.Timing)
	}
	if cfg.Janitor.ForfeitGrace != 30*time.Second || cfg.Janitor.AbandonAfter != time.Hour {
		t.Errorf("janitor = %+v", cfg.Janitor)
	}
}

func TestLoadPrefixes(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("BATTLE_ROUND_DURATION", "90s")
	t.Setenv("JANITOR_QUEUE_TTL", "1m")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Timing.RoundDuration != 90*time.Second {
		t.Errorf("round duration = %v", cfg.Timing.RoundDuration)
	}
	if cfg.Janitor.QueueTTL != time.Minute {
		t.Errorf("queue ttl = %v", cfg.Janitor.QueueTTL)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("log level = %v", cfg.LogLevel)
	}
}

func TestLoadClientScoring(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("SCORING_BASE_SCORES", "100,50")
	t.Setenv("SCORING_MAX_SCORE", "200")

	cfg, err := LoadClient()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Scoring.BaseScores) != 2 || cfg.Scoring.BaseScores[0] != 100 {
		t.Errorf("base scores = %v", cfg.Scoring.BaseScores)
	}
	if cfg.Scoring.MaxScore != 200 {
		t.Errorf("max score = %d", cfg.Scoring.MaxScore)
	}
}
