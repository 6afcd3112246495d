// Package config assembles the runtime configuration surface from package
// defaults, environment variables and an optional yaml file. Protocol
// behavior is never configurable; only values are.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/Aidin1998/fairbatch/internal/batch"
	"github.com/Aidin1998/fairbatch/internal/events"
	"github.com/Aidin1998/fairbatch/internal/kv"
	"github.com/Aidin1998/fairbatch/internal/manipulation"
	"github.com/Aidin1998/fairbatch/internal/ratelimit"
	"github.com/Aidin1998/fairbatch/internal/validation"
)

// IntakeConfig holds the commit-reveal and admission value knobs.
type IntakeConfig struct {
	MinRevealDelay    time.Duration   `mapstructure:"min_reveal_delay" yaml:"min_reveal_delay"`
	MaxRevealDelay    time.Duration   `mapstructure:"max_reveal_delay" yaml:"max_reveal_delay"`
	CommitmentTTL     time.Duration   `mapstructure:"commitment_ttl" yaml:"commitment_ttl"`
	MinOrderValue     decimal.Decimal `mapstructure:"min_order_value" yaml:"min_order_value"`
	MaxPriceImpactBps int64           `mapstructure:"max_price_impact_bps" yaml:"max_price_impact_bps"`
}

// DefaultIntakeConfig returns the production intake values.
func DefaultIntakeConfig() IntakeConfig {
	return IntakeConfig{
		MinRevealDelay:    500 * time.Millisecond,
		MaxRevealDelay:    30 * time.Second,
		CommitmentTTL:     time.Minute,
		MinOrderValue:     decimal.NewFromInt(10),
		MaxPriceImpactBps: 500,
	}
}

// ServerConfig holds the process-level settings.
type ServerConfig struct {
	LogLevel    string `mapstructure:"log_level" yaml:"log_level"`
	MetricsAddr string `mapstructure:"metrics_addr" yaml:"metrics_addr"`
}

// Config is the full runtime configuration.
type Config struct {
	Server     ServerConfig                 `mapstructure:"server" yaml:"server"`
	Intake     IntakeConfig                 `mapstructure:"intake" yaml:"intake"`
	Redis      kv.RedisConfig               `mapstructure:"redis" yaml:"redis"`
	RateLimit  ratelimit.Config             `mapstructure:"ratelimit" yaml:"ratelimit"`
	Scheduler  batch.SchedulerConfig        `mapstructure:"scheduler" yaml:"scheduler"`
	Detection  manipulation.DetectionConfig `mapstructure:"detection" yaml:"detection"`
	Kafka      events.KafkaConfig           `mapstructure:"kafka" yaml:"kafka"`
	Validation validation.Config            `mapstructure:"validation" yaml:"validation"`
	Ledger     validation.HTTPLedgerConfig  `mapstructure:"ledger" yaml:"ledger"`
}

// Default returns a Config built from every package's defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			LogLevel:    "info",
			MetricsAddr: ":9106",
		},
		Intake:     DefaultIntakeConfig(),
		Redis:      kv.DefaultRedisConfig(),
		RateLimit:  ratelimit.DefaultConfig(),
		Scheduler:  batch.DefaultSchedulerConfig(),
		Detection:  manipulation.DefaultDetectionConfig(),
		Kafka:      events.DefaultKafkaConfig(),
		Validation: validation.DefaultConfig(),
		Ledger:     validation.DefaultHTTPLedgerConfig(),
	}
}

// Load builds the configuration: defaults, then environment variables, then
// an optional yaml file (config.yaml in ., ./config or /etc/fairbatch).
func Load() (*Config, error) {
	cfg := Default()
	applyEnv(cfg)

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/fairbatch")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		return cfg, nil
	}
	if err := applyFile(v, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if lv := os.Getenv("LOG_LEVEL"); lv != "" {
		cfg.Server.LogLevel = lv
	}
	if addr := os.Getenv("METRICS_ADDR"); addr != "" {
		cfg.Server.MetricsAddr = addr
	}
	if addr := os.Getenv("REDIS_ADDRESS"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if pwd := os.Getenv("REDIS_PASSWORD"); pwd != "" {
		cfg.Redis.Password = pwd
	}
	if db, err := strconv.Atoi(os.Getenv("REDIS_DB")); err == nil {
		cfg.Redis.DB = db
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = strings.Split(brokers, ",")
	}
	if topic := os.Getenv("KAFKA_SECURITY_TOPIC"); topic != "" {
		cfg.Kafka.Topic = topic
	}
	if u := os.Getenv("LEDGER_URL"); u != "" {
		cfg.Ledger.BaseURL = u
	}
}

func applyFile(v *viper.Viper, cfg *Config) error {
	if v.IsSet("server.log_level") {
		cfg.Server.LogLevel = v.GetString("server.log_level")
	}
	if v.IsSet("server.metrics_addr") {
		cfg.Server.MetricsAddr = v.GetString("server.metrics_addr")
	}

	if v.IsSet("intake.min_reveal_delay") {
		cfg.Intake.MinRevealDelay = v.GetDuration("intake.min_reveal_delay")
	}
	if v.IsSet("intake.max_reveal_delay") {
		cfg.Intake.MaxRevealDelay = v.GetDuration("intake.max_reveal_delay")
	}
	if v.IsSet("intake.commitment_ttl") {
		cfg.Intake.CommitmentTTL = v.GetDuration("intake.commitment_ttl")
	}
	if v.IsSet("intake.min_order_value") {
		cfg.Intake.MinOrderValue = decimal.NewFromFloat(v.GetFloat64("intake.min_order_value"))
	}
	if v.IsSet("intake.max_price_impact_bps") {
		cfg.Intake.MaxPriceImpactBps = v.GetInt64("intake.max_price_impact_bps")
	}

	if v.IsSet("redis.addr") {
		cfg.Redis.Addr = v.GetString("redis.addr")
	}
	if v.IsSet("redis.password") {
		cfg.Redis.Password = v.GetString("redis.password")
	}
	if v.IsSet("redis.db") {
		cfg.Redis.DB = v.GetInt("redis.db")
	}

	if v.IsSet("ratelimit.window") {
		cfg.RateLimit.Window = v.GetDuration("ratelimit.window")
	}
	if v.IsSet("ratelimit.retail_ceiling") {
		cfg.RateLimit.RetailCeiling = v.GetInt("ratelimit.retail_ceiling")
	}
	if v.IsSet("ratelimit.pro_ceiling") {
		cfg.RateLimit.ProCeiling = v.GetInt("ratelimit.pro_ceiling")
	}
	if v.IsSet("ratelimit.market_maker_ceiling") {
		cfg.RateLimit.MarketMakerCeiling = v.GetInt("ratelimit.market_maker_ceiling")
	}
	if v.IsSet("ratelimit.vip_ceiling") {
		cfg.RateLimit.VIPCeiling = v.GetInt("ratelimit.vip_ceiling")
	}
	if v.IsSet("ratelimit.violation_threshold") {
		cfg.RateLimit.ViolationThreshold = v.GetInt("ratelimit.violation_threshold")
	}
	if v.IsSet("ratelimit.block_duration") {
		cfg.RateLimit.BlockDuration = v.GetDuration("ratelimit.block_duration")
	}

	if v.IsSet("scheduler.window_duration") {
		cfg.Scheduler.WindowDuration = v.GetDuration("scheduler.window_duration")
	}
	if v.IsSet("scheduler.retention") {
		cfg.Scheduler.Retention = v.GetDuration("scheduler.retention")
	}

	if v.IsSet("detection.block_threshold") {
		cfg.Detection.BlockThreshold = decimal.NewFromFloat(v.GetFloat64("detection.block_threshold"))
	}
	if v.IsSet("detection.monitor_threshold") {
		cfg.Detection.MonitorThreshold = decimal.NewFromFloat(v.GetFloat64("detection.monitor_threshold"))
	}
	if v.IsSet("detection.z_score_threshold") {
		cfg.Detection.ZScoreThreshold = v.GetFloat64("detection.z_score_threshold")
	}
	if v.IsSet("detection.high_frequency_ceiling") {
		cfg.Detection.HighFrequencyCeiling = v.GetInt("detection.high_frequency_ceiling")
	}

	if v.IsSet("kafka.brokers") {
		cfg.Kafka.Brokers = v.GetStringSlice("kafka.brokers")
	}
	if v.IsSet("kafka.topic") {
		cfg.Kafka.Topic = v.GetString("kafka.topic")
	}

	if v.IsSet("validation.balance_tolerance") {
		cfg.Validation.BalanceTolerance = decimal.NewFromFloat(v.GetFloat64("validation.balance_tolerance"))
	}
	if v.IsSet("validation.volume_tolerance") {
		cfg.Validation.VolumeTolerance = decimal.NewFromFloat(v.GetFloat64("validation.volume_tolerance"))
	}
	if v.IsSet("validation.authority_timeout") {
		cfg.Validation.AuthorityTimeout = v.GetDuration("validation.authority_timeout")
	}

	if v.IsSet("ledger.base_url") {
		cfg.Ledger.BaseURL = v.GetString("ledger.base_url")
	}
	if v.IsSet("ledger.timeout") {
		cfg.Ledger.Timeout = v.GetDuration("ledger.timeout")
	}

	return cfg.Validate()
}

// Validate rejects configurations that would violate protocol invariants.
func (c *Config) Validate() error {
	if c.Intake.MinRevealDelay <= 0 || c.Intake.MaxRevealDelay <= c.Intake.MinRevealDelay {
		return fmt.Errorf("config: reveal delay bounds must satisfy 0 < min < max")
	}
	if c.Intake.CommitmentTTL < c.Intake.MaxRevealDelay {
		return fmt.Errorf("config: commitment ttl must cover the reveal window")
	}
	if c.Scheduler.WindowDuration <= 0 {
		return fmt.Errorf("config: window duration must be positive")
	}
	if c.Detection.MonitorThreshold.GreaterThanOrEqual(c.Detection.BlockThreshold) {
		return fmt.Errorf("config: monitor threshold must be below block threshold")
	}
	return nil
}
