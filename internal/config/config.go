package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"ticketwatch/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    logging.Config   `mapstructure:"logging"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Escalation EscalationConfig `mapstructure:"escalation"`
	Analytics  AnalyticsConfig  `mapstructure:"analytics"`
	Optimizer  OptimizerConfig  `mapstructure:"optimizer"`
	Dispatch   DispatchConfig   `mapstructure:"dispatch"`
	Export     ExportConfig     `mapstructure:"export"`
	Encryption EncryptionConfig `mapstructure:"encryption"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// EngineConfig governs the snapshot sweep loop.
type EngineConfig struct {
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	Workers         int           `mapstructure:"workers"`
	BatchSize       int           `mapstructure:"batch_size"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// EscalationConfig tunes the retry scheduler.
type EscalationConfig struct {
	PollInterval       time.Duration `mapstructure:"poll_interval"`
	Workers            int           `mapstructure:"workers"`
	DefaultMaxAttempts int           `mapstructure:"default_max_attempts"`
	Strategy           string        `mapstructure:"strategy"`
	BaseDelay          time.Duration `mapstructure:"base_delay"`
	MaxDelay           time.Duration `mapstructure:"max_delay"`
	DispatchTimeout    time.Duration `mapstructure:"dispatch_timeout"`
	RatePerSecond      float64       `mapstructure:"rate_per_second"`
	RateBurst          int           `mapstructure:"rate_burst"`
}

// AnalyticsConfig drives the daily volatility digest.
type AnalyticsConfig struct {
	DigestCron        string `mapstructure:"digest_cron"`
	BestDealWindowDays int    `mapstructure:"best_deal_window_days"`
}

// OptimizerConfig bounds cadence retuning.
type OptimizerConfig struct {
	RetuneCron          string        `mapstructure:"retune_cron"`
	MinInterval         time.Duration `mapstructure:"min_interval"`
	MaxInterval         time.Duration `mapstructure:"max_interval"`
	Hysteresis          time.Duration `mapstructure:"hysteresis"`
	LowEffectiveness    float64       `mapstructure:"low_effectiveness"`
	MinTriggersToJudge  int           `mapstructure:"min_triggers_to_judge"`
	ActivityWindowDays  int           `mapstructure:"activity_window_days"`
	EffectivenessWindow int           `mapstructure:"effectiveness_window"`
}

// DispatchConfig points at the external notification gateway.
type DispatchConfig struct {
	GatewayURL     string        `mapstructure:"gateway_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
	AuthToken      string        `mapstructure:"auth_token"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// EncryptionConfig keys the condition-parameter cipher.
type EncryptionConfig struct {
	Key string `mapstructure:"key"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TICKETWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "ticketwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("engine.sweep_interval", "30s")
	v.SetDefault("engine.align_to_bucket", true)
	v.SetDefault("engine.startup_delay", "0s")
	v.SetDefault("engine.workers", 8)
	v.SetDefault("engine.batch_size", 200)
	v.SetDefault("engine.advisory_lock_key", int64(0x7477636b))

	v.SetDefault("escalation.poll_interval", "15s")
	v.SetDefault("escalation.workers", 4)
	v.SetDefault("escalation.default_max_attempts", 3)
	v.SetDefault("escalation.strategy", "exponential")
	v.SetDefault("escalation.base_delay", "60s")
	v.SetDefault("escalation.max_delay", "1h")
	v.SetDefault("escalation.dispatch_timeout", "10s")
	v.SetDefault("escalation.rate_per_second", 20.0)
	v.SetDefault("escalation.rate_burst", 5)

	v.SetDefault("analytics.digest_cron", "0 15 0 * * *")
	v.SetDefault("analytics.best_deal_window_days", 30)

	v.SetDefault("optimizer.retune_cron", "0 0 */6 * * *")
	v.SetDefault("optimizer.min_interval", "60s")
	v.SetDefault("optimizer.max_interval", "1h")
	v.SetDefault("optimizer.hysteresis", "30s")
	v.SetDefault("optimizer.low_effectiveness", 0.1)
	v.SetDefault("optimizer.min_triggers_to_judge", 10)
	v.SetDefault("optimizer.activity_window_days", 7)
	v.SetDefault("optimizer.effectiveness_window", 50)

	v.SetDefault("dispatch.request_timeout", "10s")
	v.SetDefault("dispatch.user_agent", "ticketwatch/1.0")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Engine.SweepInterval <= 0 {
		return fmt.Errorf("engine.sweep_interval must be greater than zero")
	}
	if c.Engine.Workers <= 0 {
		return fmt.Errorf("engine.workers must be greater than zero")
	}
	if c.Escalation.PollInterval <= 0 {
		return fmt.Errorf("escalation.poll_interval must be greater than zero")
	}
	if c.Escalation.DefaultMaxAttempts <= 0 {
		return fmt.Errorf("escalation.default_max_attempts must be greater than zero")
	}
	if c.Escalation.DispatchTimeout <= 0 {
		return fmt.Errorf("escalation.dispatch_timeout must be greater than zero")
	}
	if c.Optimizer.MinInterval <= 0 || c.Optimizer.MaxInterval < c.Optimizer.MinInterval {
		return fmt.Errorf("optimizer interval bounds are inconsistent")
	}
	if c.Analytics.BestDealWindowDays <= 0 {
		return fmt.Errorf("analytics.best_deal_window_days must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
