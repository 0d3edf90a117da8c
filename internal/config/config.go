package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"CurveLedger/internal/curve"
	"CurveLedger/internal/engine"
)

// Config holds all application configuration.
type Config struct {
	Database struct {
		DSN           string `yaml:"dsn"`
		MigrationsDir string `yaml:"migrations_dir"`
	} `yaml:"database"`
	NATS struct {
		URL            string `yaml:"url"`
		RequestTimeout string `yaml:"request_timeout"`
		MaxAttempts    int    `yaml:"max_attempts"`
	} `yaml:"nats"`
	Server struct {
		GRPCAddr    string `yaml:"grpc_addr"`
		MetricsAddr string `yaml:"metrics_addr"`
	} `yaml:"server"`
	Curve struct {
		BasePrice  int64 `yaml:"base_price"`
		LinearCoef int64 `yaml:"linear_coef"`
		QuadCoef   int64 `yaml:"quad_coef"`
	} `yaml:"curve"`
	Fees struct {
		ReserveBps  int64 `yaml:"reserve_bps"`
		ProjectBps  int64 `yaml:"project_bps"`
		PlatformBps int64 `yaml:"platform_bps"`
		ReferralBps int64 `yaml:"referral_bps"`
		RewardsBps  int64 `yaml:"rewards_bps"`
		SellFeeBps  int64 `yaml:"sell_fee_bps"`
	} `yaml:"fees"`
	Launch struct {
		MinSupply          int64 `yaml:"min_supply"`
		MinHolders         int64 `yaml:"min_holders"`
		MinReserve         int64 `yaml:"min_reserve"`
		TotalTokenSupply   int64 `yaml:"total_token_supply"`
		ParticipantPoolBps int64 `yaml:"participant_pool_bps"`
	} `yaml:"launch"`
	Trading struct {
		MinTradeKeys    int64 `yaml:"min_trade_keys"`
		MaxTradeRetries int   `yaml:"max_trade_retries"`
		MaxReadRetries  int   `yaml:"max_read_retries"`
	} `yaml:"trading"`
	Reconciler struct {
		Cron string `yaml:"cron"`
	} `yaml:"reconciler"`
}

// Load reads config from a YAML file, then applies environment
// variable overrides, then fills in defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("CURVE_DB_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("CURVE_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("CURVE_GRPC_ADDR"); v != "" {
		cfg.Server.GRPCAddr = v
	}
	if v := os.Getenv("CURVE_METRICS_ADDR"); v != "" {
		cfg.Server.MetricsAddr = v
	}
	if v := os.Getenv("CURVE_BASE_PRICE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Curve.BasePrice = n
		}
	}
	if v := os.Getenv("CURVE_MIN_SUPPLY"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Launch.MinSupply = n
		}
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	def := engine.Default()

	if cfg.Database.MigrationsDir == "" {
		cfg.Database.MigrationsDir = "migrations"
	}
	if cfg.NATS.URL == "" {
		cfg.NATS.URL = "nats://127.0.0.1:4222"
	}
	if cfg.NATS.RequestTimeout == "" {
		cfg.NATS.RequestTimeout = "10s"
	}
	if cfg.NATS.MaxAttempts == 0 {
		cfg.NATS.MaxAttempts = 5
	}
	if cfg.Server.GRPCAddr == "" {
		cfg.Server.GRPCAddr = ":9090"
	}
	if cfg.Server.MetricsAddr == "" {
		cfg.Server.MetricsAddr = ":9100"
	}
	if cfg.Curve.BasePrice == 0 {
		cfg.Curve.BasePrice = def.Pricing.BasePrice
	}
	if cfg.Curve.LinearCoef == 0 {
		cfg.Curve.LinearCoef = def.Pricing.LinearCoef
	}
	if cfg.Curve.QuadCoef == 0 {
		cfg.Curve.QuadCoef = def.Pricing.QuadCoef
	}
	if cfg.Fees.ReserveBps == 0 && cfg.Fees.ProjectBps == 0 &&
		cfg.Fees.PlatformBps == 0 && cfg.Fees.ReferralBps == 0 && cfg.Fees.RewardsBps == 0 {
		cfg.Fees.ReserveBps = def.Fees.ReserveBps
		cfg.Fees.ProjectBps = def.Fees.ProjectBps
		cfg.Fees.PlatformBps = def.Fees.PlatformBps
		cfg.Fees.ReferralBps = def.Fees.ReferralBps
		cfg.Fees.RewardsBps = def.Fees.RewardsBps
	}
	if cfg.Fees.SellFeeBps == 0 {
		cfg.Fees.SellFeeBps = def.SellFeeBps
	}
	if cfg.Launch.MinSupply == 0 {
		cfg.Launch.MinSupply = def.MinSupplyForLaunch
	}
	if cfg.Launch.MinHolders == 0 {
		cfg.Launch.MinHolders = def.MinHoldersForLaunch
	}
	if cfg.Launch.MinReserve == 0 {
		cfg.Launch.MinReserve = def.MinReserveForLaunch
	}
	if cfg.Launch.TotalTokenSupply == 0 {
		cfg.Launch.TotalTokenSupply = def.TotalTokenSupply
	}
	if cfg.Launch.ParticipantPoolBps == 0 {
		cfg.Launch.ParticipantPoolBps = def.ParticipantPoolBps
	}
	if cfg.Trading.MinTradeKeys == 0 {
		cfg.Trading.MinTradeKeys = def.MinTradeKeys
	}
	if cfg.Trading.MaxTradeRetries == 0 {
		cfg.Trading.MaxTradeRetries = def.MaxTradeRetries
	}
	if cfg.Trading.MaxReadRetries == 0 {
		cfg.Trading.MaxReadRetries = def.MaxReadRetries
	}
	if cfg.Reconciler.Cron == "" {
		cfg.Reconciler.Cron = "@every 1m"
	}
}

// Validate checks that all required fields are set and coherent.
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if err := c.EngineConfig().Fees.Validate(); err != nil {
		return err
	}
	if err := c.EngineConfig().Pricing.Validate(); err != nil {
		return err
	}
	return nil
}

// EngineConfig maps the file shape onto the engine's Config.
func (c *Config) EngineConfig() engine.Config {
	return engine.Config{
		Pricing: curve.Params{
			BasePrice:  c.Curve.BasePrice,
			LinearCoef: c.Curve.LinearCoef,
			QuadCoef:   c.Curve.QuadCoef,
		},
		Fees: engine.Weights{
			ReserveBps:  c.Fees.ReserveBps,
			ProjectBps:  c.Fees.ProjectBps,
			PlatformBps: c.Fees.PlatformBps,
			ReferralBps: c.Fees.ReferralBps,
			RewardsBps:  c.Fees.RewardsBps,
		},
		SellFeeBps:          c.Fees.SellFeeBps,
		MinTradeKeys:        c.Trading.MinTradeKeys,
		MinSupplyForLaunch:  c.Launch.MinSupply,
		MinHoldersForLaunch: c.Launch.MinHolders,
		MinReserveForLaunch: c.Launch.MinReserve,
		TotalTokenSupply:    c.Launch.TotalTokenSupply,
		ParticipantPoolBps:  c.Launch.ParticipantPoolBps,
		MaxTradeRetries:     c.Trading.MaxTradeRetries,
		MaxReadRetries:      c.Trading.MaxReadRetries,
	}
}
