package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/rail-service/bridge_core/internal/domain/entities"
	"github.com/rail-service/bridge_core/internal/domain/services/bridge"
	"github.com/rail-service/bridge_core/pkg/retry"
)

// Config holds all configuration for the application
type Config struct {
	Environment string         `mapstructure:"environment"`
	LogLevel    string         `mapstructure:"log_level"`
	Storage     string         `mapstructure:"storage"` // postgres or memory
	Server      ServerConfig   `mapstructure:"server"`
	Database    DatabaseConfig `mapstructure:"database"`
	Redis       RedisConfig    `mapstructure:"redis"`
	Tracing     TracingConfig  `mapstructure:"tracing"`
	Bridge      BridgeConfig   `mapstructure:"bridge"`
	Workers     WorkerConfig   `mapstructure:"workers"`
}

type ServerConfig struct {
	Port         int    `mapstructure:"port"`
	Host         string `mapstructure:"host"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
	// RateLimitPerMin caps requests per client IP; 0 disables limiting
	RateLimitPerMin int `mapstructure:"rate_limit_per_min"`
	// IdempotencyTTL is how long Idempotency-Key responses are replayed
	IdempotencyTTL time.Duration `mapstructure:"idempotency_ttl"`
}

type DatabaseConfig struct {
	URL             string `mapstructure:"url"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Name            string `mapstructure:"name"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string `mapstructure:"migrations_path"`
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	CollectorURL string  `mapstructure:"collector_url"`
	SampleRate   float64 `mapstructure:"sample_rate"`
	Insecure     bool    `mapstructure:"insecure"`
}

type WorkerConfig struct {
	// SweepSchedule is a cron spec for the timeout and refund sweeper
	SweepSchedule string `mapstructure:"sweep_schedule"`
}

// FeeConfig is the public fee schedule. Amounts are decimal strings.
type FeeConfig struct {
	BaseFee       string `mapstructure:"base_fee"`
	PercentageBps int64  `mapstructure:"percentage_bps"`
	MinFee        string `mapstructure:"min_fee"`
	MaxFee        string `mapstructure:"max_fee"`
	Precision     int32  `mapstructure:"precision"`
}

// AdapterConfig points a chain at its transaction gateway. A chain without
// a base URL is driven by external confirmation callbacks only.
type AdapterConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	RateLimit  float64       `mapstructure:"rate_limit"` // requests per second
	Burst      int           `mapstructure:"burst"`
	MaxRetries int           `mapstructure:"max_retries"`
}

type ChainConfig struct {
	Name              string        `mapstructure:"name"`
	ChainID           int64         `mapstructure:"chain_id"`
	NativeToken       bool          `mapstructure:"native_token"`
	ConfirmationDepth int           `mapstructure:"confirmation_depth"`
	BlockTime         time.Duration `mapstructure:"block_time"`
	Explorer          string        `mapstructure:"explorer"`
	Enabled           bool          `mapstructure:"enabled"`
	Adapter           AdapterConfig `mapstructure:"adapter"`
}

type DirectionConfig struct {
	SourceChain      string `mapstructure:"source_chain"`
	DestinationChain string `mapstructure:"destination_chain"`
}

type BridgeConfig struct {
	MinAmount          string                     `mapstructure:"min_amount"`
	MaxAmount          string                     `mapstructure:"max_amount"`
	Fee                FeeConfig                  `mapstructure:"fee"`
	RequiredSignatures int                        `mapstructure:"required_signatures"`
	Validators         []bridge.ValidatorKey      `mapstructure:"validators"`
	TransactionTimeout time.Duration              `mapstructure:"transaction_timeout"`
	ValidationEstimate time.Duration              `mapstructure:"validation_estimate"`
	RetryBudget        int                        `mapstructure:"retry_budget"`
	RetryInitialDelay  time.Duration              `mapstructure:"retry_initial_delay"`
	RetryMaxDelay      time.Duration              `mapstructure:"retry_max_delay"`
	MaxRefundAttempts  int                        `mapstructure:"max_refund_attempts"`
	RefundPolicy       string                     `mapstructure:"refund_policy"`
	AutoRefund         bool                       `mapstructure:"auto_refund"`
	AwaitConfirmations bool                       `mapstructure:"await_confirmations"`
	Chains             map[string]ChainConfig     `mapstructure:"chains"`
	Directions         map[string]DirectionConfig `mapstructure:"directions"`
}

// Load reads configuration from .env, configs/config.yaml and the environment
func Load() (*Config, error) {
	// Load .env file if it exists (ignore errors if file doesn't exist)
	godotenv.Load()
	return LoadFrom("./configs", ".")
}

// LoadFrom reads config.yaml from the first path that has one
func LoadFrom(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	overrideFromEnv(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Build database URL if not provided
	if config.Database.URL == "" {
		config.Database.URL = fmt.Sprintf(
			"postgres://%s:%s@%s:%d/%s?sslmode=%s",
			config.Database.User,
			config.Database.Password,
			config.Database.Host,
			config.Database.Port,
			config.Database.Name,
			config.Database.SSLMode,
		)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// IsProduction returns true for production and staging
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "staging"
}

// ToDomain converts the bridge section into the orchestrator configuration.
// Viper lowercases map keys, so direction names are upper-cased here.
func (b BridgeConfig) ToDomain() (bridge.Config, error) {
	minAmount, err := parseDecimal("bridge.min_amount", b.MinAmount)
	if err != nil {
		return bridge.Config{}, err
	}
	maxAmount, err := parseDecimal("bridge.max_amount", b.MaxAmount)
	if err != nil {
		return bridge.Config{}, err
	}
	baseFee, err := parseDecimal("bridge.fee.base_fee", b.Fee.BaseFee)
	if err != nil {
		return bridge.Config{}, err
	}
	minFee, err := parseDecimal("bridge.fee.min_fee", b.Fee.MinFee)
	if err != nil {
		return bridge.Config{}, err
	}
	maxFee, err := parseDecimal("bridge.fee.max_fee", b.Fee.MaxFee)
	if err != nil {
		return bridge.Config{}, err
	}

	chains := make(map[string]entities.ChainConfig, len(b.Chains))
	for id, c := range b.Chains {
		chains[id] = entities.ChainConfig{
			ID:                id,
			Name:              c.Name,
			ChainID:           c.ChainID,
			NativeToken:       c.NativeToken,
			ConfirmationDepth: c.ConfirmationDepth,
			BlockTime:         c.BlockTime,
			Explorer:          c.Explorer,
			Enabled:           c.Enabled,
		}
	}

	directions := make(map[entities.Direction]bridge.Route, len(b.Directions))
	for name, d := range b.Directions {
		directions[entities.Direction(strings.ToUpper(name))] = bridge.Route{
			SourceChain:      d.SourceChain,
			DestinationChain: d.DestinationChain,
		}
	}

	cfg := bridge.Config{
		FeeSchedule: bridge.FeeSchedule{
			BaseFee:       baseFee,
			PercentageBps: b.Fee.PercentageBps,
			MinFee:        minFee,
			MaxFee:        maxFee,
			Precision:     b.Fee.Precision,
		},
		MinAmount:          minAmount,
		MaxAmount:          maxAmount,
		Chains:             chains,
		Directions:         directions,
		TransactionTimeout: b.TransactionTimeout,
		ValidationEstimate: b.ValidationEstimate,
		RetryPolicy: retry.Policy{
			MaxRetries:   b.RetryBudget,
			InitialDelay: b.RetryInitialDelay,
			MaxDelay:     b.RetryMaxDelay,
			Multiplier:   2,
		},
		MaxRefundAttempts:  b.MaxRefundAttempts,
		RefundPolicy:       entities.RefundPolicy(b.RefundPolicy),
		AutoRefund:         b.AutoRefund,
		AwaitConfirmations: b.AwaitConfirmations,
	}
	if err := cfg.Validate(); err != nil {
		return bridge.Config{}, err
	}
	return cfg, nil
}

func parseDecimal(field, value string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: invalid decimal %q: %w", field, value, err)
	}
	return d, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("storage", "postgres")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 120)
	v.SetDefault("server.rate_limit_per_min", 600)
	v.SetDefault("server.idempotency_ttl", 24*time.Hour)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "bridge_core")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 300)
	v.SetDefault("database.migrations_path", "migrations")

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.cache_ttl", time.Hour)

	// Tracing defaults
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.collector_url", "localhost:4317")
	v.SetDefault("tracing.sample_rate", 0.1)

	v.SetDefault("workers.sweep_schedule", "@every 1m")

	// Bridge defaults
	v.SetDefault("bridge.min_amount", "100")
	v.SetDefault("bridge.max_amount", "1000000")
	v.SetDefault("bridge.fee.base_fee", "10")
	v.SetDefault("bridge.fee.percentage_bps", 25)
	v.SetDefault("bridge.fee.min_fee", "10")
	v.SetDefault("bridge.fee.max_fee", "10000")
	v.SetDefault("bridge.fee.precision", 0)
	v.SetDefault("bridge.required_signatures", 3)
	v.SetDefault("bridge.transaction_timeout", 30*time.Minute)
	v.SetDefault("bridge.validation_estimate", 2*time.Minute)
	v.SetDefault("bridge.retry_budget", 3)
	v.SetDefault("bridge.retry_initial_delay", 500*time.Millisecond)
	v.SetDefault("bridge.retry_max_delay", 10*time.Second)
	v.SetDefault("bridge.max_refund_attempts", 3)
	v.SetDefault("bridge.refund_policy", string(entities.RefundPolicyFull))
	v.SetDefault("bridge.auto_refund", true)
	v.SetDefault("bridge.await_confirmations", true)
	v.SetDefault("bridge.chains", map[string]interface{}{
		"solana": map[string]interface{}{
			"name":               "Solana",
			"chain_id":           101,
			"native_token":       true,
			"confirmation_depth": 32,
			"block_time":         "400ms",
			"explorer":           "https://explorer.solana.com",
			"enabled":            true,
		},
		"ethereum": map[string]interface{}{
			"name":               "Ethereum",
			"chain_id":           1,
			"native_token":       false,
			"confirmation_depth": 12,
			"block_time":         "12s",
			"explorer":           "https://etherscan.io",
			"enabled":            true,
		},
	})
	v.SetDefault("bridge.directions", map[string]interface{}{
		"solana_to_ethereum": map[string]interface{}{"source_chain": "solana", "destination_chain": "ethereum"},
		"ethereum_to_solana": map[string]interface{}{"source_chain": "ethereum", "destination_chain": "solana"},
	})
}

func overrideFromEnv(v *viper.Viper) {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			v.Set("server.port", p)
		}
	}

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		v.Set("database.url", dbURL)
	}

	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		v.Set("redis.password", redisPassword)
	}

	if collector := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); collector != "" {
		v.Set("tracing.collector_url", collector)
		v.Set("tracing.enabled", true)
	}
}

func validate(config *Config) error {
	switch config.Storage {
	case "postgres":
		if config.Database.URL == "" && (config.Database.Host == "" || config.Database.Name == "") {
			return fmt.Errorf("database configuration is incomplete")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown storage backend %q", config.Storage)
	}

	if len(config.Bridge.Validators) == 0 {
		return fmt.Errorf("at least one bridge validator is required")
	}
	if config.Bridge.RequiredSignatures < 1 || config.Bridge.RequiredSignatures > len(config.Bridge.Validators) {
		return fmt.Errorf("bridge.required_signatures must be between 1 and %d", len(config.Bridge.Validators))
	}
	if config.Workers.SweepSchedule == "" {
		return fmt.Errorf("workers.sweep_schedule is required")
	}

	if _, err := config.Bridge.ToDomain(); err != nil {
		return err
	}
	return nil
}
