package config

import (
	"errors"
	"testing"
	"time"

	"gridclash/logging"
)

func TestLoadFromAppliesDefaults(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{})
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.ListenAddr != ":8080" || cfg.TickRate != 30 || cfg.Codec != "json" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.ProjectilePrewarm != 500 || cfg.ProjectileCeiling != 3000 {
		t.Fatalf("unexpected pool defaults prewarm=%d ceiling=%d", cfg.ProjectilePrewarm, cfg.ProjectileCeiling)
	}
	if len(cfg.LogSinks) != 1 || cfg.LogSinks[0] != "console" {
		t.Fatalf("expected console sink by default, got %v", cfg.LogSinks)
	}

	m := cfg.Match()
	if m.Arena.Max.X != 32 || m.Arena.Max.Y != 16 || m.ProjectileTTL != 90 {
		t.Fatalf("unexpected match config %+v", m)
	}
	g := cfg.Grid()
	if g.Columns != 32 || g.Rows != 16 || g.SeedColumns != 6 {
		t.Fatalf("unexpected grid config %+v", g)
	}
	if cfg.Tracing().Enabled {
		t.Fatalf("expected tracing disabled by default")
	}
}

func TestLoadFromOverrides(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{
		"GRIDCLASH_TICK_RATE":          "60",
		"GRIDCLASH_GRID_WIDTH":         "20",
		"GRIDCLASH_GRID_HEIGHT":        "10",
		"GRIDCLASH_PROJECTILE_CEILING": "800",
		"GRIDCLASH_PROJECTILE_PREWARM": "100",
		"GRIDCLASH_CODEC":              "protobuf",
		"GRIDCLASH_LOG_SINKS":          "console,json",
		"GRIDCLASH_LOG_LEVEL":          "debug",
		"GRIDCLASH_LOG_FLUSH_INTERVAL": "250ms",
		"GRIDCLASH_OTEL_ENABLED":       "true",
		"GRIDCLASH_OTEL_ENDPOINT":      "http://collector:4318",
	})
	if err != nil {
		t.Fatalf("load overrides: %v", err)
	}
	if cfg.Loop().TickRate != 60 {
		t.Fatalf("expected tick rate 60, got %d", cfg.Loop().TickRate)
	}
	if m := cfg.Match(); m.Arena.Max.X != 20 || m.ProjectileCeiling != 800 || m.ProjectilePrewarm != 100 {
		t.Fatalf("unexpected match config %+v", m)
	}
	l := cfg.Logging()
	if !l.SinkEnabled("json") || l.MinimumSeverity != logging.SeverityDebug || l.JSON.FlushInterval != 250*time.Millisecond {
		t.Fatalf("unexpected logging config %+v", l)
	}
	if tr := cfg.Tracing(); !tr.Enabled || tr.Endpoint != "http://collector:4318" {
		t.Fatalf("unexpected tracing config %+v", tr)
	}
}

func TestLoadFromRejectsInvalidSettings(t *testing.T) {
	cases := map[string]map[string]string{
		"tick rate": {"GRIDCLASH_TICK_RATE": "0"},
		"ceiling":   {"GRIDCLASH_PROJECTILE_PREWARM": "10", "GRIDCLASH_PROJECTILE_CEILING": "5"},
		"alpha":     {"GRIDCLASH_TERRITORY_ALPHA": "1.5"},
		"codec":     {"GRIDCLASH_CODEC": "xml"},
		"seed cols": {"GRIDCLASH_GRID_WIDTH": "8", "GRIDCLASH_GRID_SEED_COLUMNS": "6"},
	}
	for name, vars := range cases {
		if _, err := LoadFrom(vars); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("%s: expected ErrInvalidConfig, got %v", name, err)
		}
	}
	if _, err := LoadFrom(map[string]string{"GRIDCLASH_TICK_RATE": "fast"}); err == nil || errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected a parse error for a malformed tick rate, got %v", err)
	}
}
