package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"gridclash/internal/geom"
	"gridclash/internal/grid"
	"gridclash/internal/match"
	"gridclash/internal/net/proto"
	"gridclash/internal/sim"
	"gridclash/internal/telemetry"
	"gridclash/logging"
)

// Prefix is prepended to every environment variable name.
const Prefix = "GRIDCLASH_"

var ErrInvalidConfig = errors.New("invalid config")

// Config is the process configuration read from the environment.
type Config struct {
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080"`
	GinMode    string `env:"GIN_MODE" envDefault:"release"`
	Codec      string `env:"CODEC" envDefault:"json"`
	SendBuffer int    `env:"SEND_BUFFER" envDefault:"256"`

	TickRate        int `env:"TICK_RATE" envDefault:"30"`
	CatchupMaxTicks int `env:"CATCHUP_MAX_TICKS" envDefault:"3"`
	CommandCapacity int `env:"COMMAND_CAPACITY" envDefault:"1024"`
	PerActorLimit   int `env:"PER_ACTOR_LIMIT" envDefault:"16"`

	GridWidth       int `env:"GRID_WIDTH" envDefault:"32"`
	GridHeight      int `env:"GRID_HEIGHT" envDefault:"16"`
	GridSeedColumns int `env:"GRID_SEED_COLUMNS" envDefault:"6"`

	CoreHealth        int     `env:"CORE_HEALTH" envDefault:"10"`
	ProjectilePrewarm int     `env:"PROJECTILE_PREWARM" envDefault:"500"`
	ProjectileCeiling int     `env:"PROJECTILE_CEILING" envDefault:"3000"`
	ProjectileSpeed   float64 `env:"PROJECTILE_SPEED" envDefault:"12"`
	ProjectileTTL     int     `env:"PROJECTILE_TTL_TICKS" envDefault:"90"`
	ReleasePerTick    int     `env:"RELEASE_PER_TICK" envDefault:"8"`
	LauncherSpeed     float64 `env:"LAUNCHER_SPEED" envDefault:"6"`
	TerritoryAlpha    float64 `env:"TERRITORY_ALPHA" envDefault:"0.2"`
	EchoCount         int     `env:"ECHO_COUNT" envDefault:"12"`
	Seed              int64   `env:"SEED" envDefault:"0"`

	LogSinks    []string      `env:"LOG_SINKS" envSeparator:"," envDefault:"console"`
	LogLevel    string        `env:"LOG_LEVEL" envDefault:"info"`
	LogJSONPath string        `env:"LOG_JSON_PATH"`
	LogFlush    time.Duration `env:"LOG_FLUSH_INTERVAL" envDefault:"1s"`

	OTelEnabled     bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTelEndpoint    string  `env:"OTEL_ENDPOINT"`
	OTelServiceName string  `env:"OTEL_SERVICE_NAME" envDefault:"gridclash"`
	OTelSampleRatio float64 `env:"OTEL_SAMPLE_RATIO" envDefault:"1"`
}

// Load parses the process environment.
func Load() (Config, error) {
	return parse(env.Options{Prefix: Prefix})
}

// LoadFrom parses the given variables instead of the process environment.
// Keys include the prefix.
func LoadFrom(vars map[string]string) (Config, error) {
	return parse(env.Options{Prefix: Prefix, Environment: vars})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c Config) Validate() error {
	switch {
	case c.TickRate <= 0:
		return fmt.Errorf("%w: tick rate must be positive", ErrInvalidConfig)
	case c.GridWidth < 2 || c.GridHeight < 1:
		return fmt.Errorf("%w: grid must be at least 2x1", ErrInvalidConfig)
	case c.GridSeedColumns < 0 || c.GridSeedColumns > c.GridWidth/2:
		return fmt.Errorf("%w: seed columns must fit in half the grid", ErrInvalidConfig)
	case c.CoreHealth <= 0:
		return fmt.Errorf("%w: core health must be positive", ErrInvalidConfig)
	case c.ProjectilePrewarm < 0 || c.ProjectileCeiling < c.ProjectilePrewarm:
		return fmt.Errorf("%w: projectile ceiling %d below prewarm %d", ErrInvalidConfig, c.ProjectileCeiling, c.ProjectilePrewarm)
	case c.ProjectileTTL <= 0:
		return fmt.Errorf("%w: projectile ttl must be positive", ErrInvalidConfig)
	case c.ReleasePerTick <= 0:
		return fmt.Errorf("%w: release per tick must be positive", ErrInvalidConfig)
	case c.TerritoryAlpha <= 0 || c.TerritoryAlpha > 1:
		return fmt.Errorf("%w: territory alpha must be in (0, 1]", ErrInvalidConfig)
	}
	if _, err := proto.CodecByName(c.Codec); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// Loop returns the tick loop settings.
func (c Config) Loop() sim.LoopConfig {
	loop := sim.DefaultLoopConfig()
	loop.TickRate = c.TickRate
	loop.CatchupMaxTicks = c.CatchupMaxTicks
	loop.CommandCapacity = c.CommandCapacity
	loop.PerActorLimit = c.PerActorLimit
	return loop
}

// Grid returns the reference terrain settings. Cells are one world unit.
func (c Config) Grid() grid.Config {
	return grid.Config{Columns: c.GridWidth, Rows: c.GridHeight, CellSize: 1, SeedColumns: c.GridSeedColumns}
}

// Match returns the coordinator settings.
func (c Config) Match() match.Config {
	m := match.DefaultConfig()
	m.Arena = geom.Rect{Max: geom.Vec2{X: float64(c.GridWidth), Y: float64(c.GridHeight)}}
	m.CoreHealth = c.CoreHealth
	m.ProjectilePrewarm = c.ProjectilePrewarm
	m.ProjectileCeiling = c.ProjectileCeiling
	m.ProjectileSpeed = c.ProjectileSpeed
	m.ProjectileTTL = uint64(c.ProjectileTTL)
	m.ReleasePerTick = c.ReleasePerTick
	m.LauncherSpeed = c.LauncherSpeed
	m.TerritoryAlpha = c.TerritoryAlpha
	m.EchoCount = c.EchoCount
	return m
}

// Logging returns the event router settings.
func (c Config) Logging() logging.Config {
	l := logging.DefaultConfig()
	if len(c.LogSinks) > 0 {
		l.EnabledSinks = c.LogSinks
	}
	l.MinimumSeverity = logging.ParseSeverity(c.LogLevel)
	l.JSON.FilePath = c.LogJSONPath
	if c.LogFlush > 0 {
		l.JSON.FlushInterval = c.LogFlush
	}
	return l
}

// Tracing returns the OTLP exporter settings.
func (c Config) Tracing() telemetry.TracingConfig {
	return telemetry.TracingConfig{
		Enabled:     c.OTelEnabled,
		Endpoint:    c.OTelEndpoint,
		ServiceName: c.OTelServiceName,
		SampleRatio: c.OTelSampleRatio,
	}
}
