// Package config loads application configuration from the environment,
// with an optional .env file for local development.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"market-data-lab/internal/domain"
	"market-data-lab/internal/schedule"
)

// Config represents the application configuration.
type Config struct {
	App       AppConfig       `envPrefix:"APP_"`
	Storage   StorageConfig   `envPrefix:"STORAGE_"`
	Provider  ProviderConfig  `envPrefix:"PROVIDER_"`
	Scheduler SchedulerConfig `envPrefix:"SCHEDULER_"`
	Levels    LevelsConfig    `envPrefix:"LEVELS_"`
}

// AppConfig represents the application configuration.
type AppConfig struct {
	Name        string `env:"NAME" envDefault:"market-data-lab"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	Port        int    `env:"PORT" envDefault:"8080"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
}

// StorageConfig selects and configures the storage backends. Empty DSNs
// fall back to in-memory stores, which keeps local development free of
// infrastructure.
type StorageConfig struct {
	PostgresDSN   string `env:"POSTGRES_DSN"`
	ClickhouseDSN string `env:"CLICKHOUSE_DSN"`
	RedisAddr     string `env:"REDIS_ADDR"`
}

// ProviderConfig configures the market data source.
type ProviderConfig struct {
	// Kind selects the source: binance or stub.
	Kind      string `env:"KIND" envDefault:"binance"`
	BaseURL   string `env:"BASE_URL"`
	StreamURL string `env:"STREAM_URL"`
	// Stream enables live kline streaming alongside polling.
	Stream bool `env:"STREAM" envDefault:"false"`
}

// SchedulerConfig configures the periodic jobs.
type SchedulerConfig struct {
	// Pairs is a comma-separated list of symbol:timeframe entries,
	// e.g. "BTCUSDT:1h,AAPL:1h@session".  The @session suffix gates
	// intraday refresh to the configured trading session.
	Pairs            []string      `env:"PAIRS" envSeparator:"," envDefault:"BTCUSDT:1h,ETHUSDT:1h"`
	Workers          int           `env:"WORKERS" envDefault:"4"`
	IntradayInterval time.Duration `env:"INTRADAY_INTERVAL" envDefault:"5m"`
	EODHourUTC       int           `env:"EOD_HOUR_UTC" envDefault:"20"`
	EODMinuteUTC     int           `env:"EOD_MINUTE_UTC" envDefault:"45"`
	BackfillLookback time.Duration `env:"BACKFILL_LOOKBACK" envDefault:"720h"`
	EODLookback      time.Duration `env:"EOD_LOOKBACK" envDefault:"168h"`
	Retention        time.Duration `env:"RETENTION" envDefault:"720h"`
	SessionOpenHour  int           `env:"SESSION_OPEN_HOUR" envDefault:"9"`
	SessionCloseHour int           `env:"SESSION_CLOSE_HOUR" envDefault:"16"`
	SessionTimezone  string        `env:"SESSION_TIMEZONE" envDefault:"UTC"`
	RollupBucket     time.Duration `env:"ROLLUP_BUCKET" envDefault:"24h"`
}

// LevelsConfig tunes zone detection.
type LevelsConfig struct {
	Lookback        int     `env:"LOOKBACK" envDefault:"500"`
	SwingNeighbors  int     `env:"SWING_NEIGHBORS" envDefault:"2"`
	TolerancePct    float64 `env:"TOLERANCE_PCT" envDefault:"0.02"`
	MaxZonesPerSide int     `env:"MAX_ZONES_PER_SIDE" envDefault:"5"`
	MinTouches      int     `env:"MIN_TOUCHES" envDefault:"1"`
}

// Load loads the configuration from the environment.
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return cfg, nil
}

// ParsePairs expands the configured pair list into scheduler pairs.
func (c *SchedulerConfig) ParsePairs() ([]schedule.Pair, error) {
	loc, err := time.LoadLocation(c.SessionTimezone)
	if err != nil {
		return nil, fmt.Errorf("load session timezone: %w", err)
	}

	var pairs []schedule.Pair
	for _, entry := range c.Pairs {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		sessionGated := false
		if rest, ok := strings.CutSuffix(entry, "@session"); ok {
			sessionGated = true
			entry = rest
		}

		symbol, tfStr, ok := strings.Cut(entry, ":")
		if !ok {
			return nil, fmt.Errorf("pair %q: want symbol:timeframe", entry)
		}
		tf, err := domain.ParseTimeframe(tfStr)
		if err != nil {
			return nil, fmt.Errorf("pair %q: %w", entry, err)
		}

		pair := schedule.Pair{Symbol: symbol, Timeframe: tf}
		if sessionGated {
			pair.Calendar = schedule.NewWeekdaySession(loc, c.SessionOpenHour, c.SessionCloseHour)
		} else {
			pair.Calendar = schedule.AlwaysOpen{}
		}
		pairs = append(pairs, pair)
	}

	if len(pairs) == 0 {
		return nil, fmt.Errorf("no pairs configured")
	}
	return pairs, nil
}
