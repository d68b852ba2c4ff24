// Package config loads runcore's configuration: database connection,
// budget/pricing policy, logging, and the ambient HTTP/Redis surface.
// Structure follows the teacher's pkg/config package exactly (YAML parse ->
// env expand -> mergo-merge defaults -> dependency-ordered validation ->
// sentinel+wrapped errors) generalized from chain/agent/MCP registries to
// runcore's own domain.
package config

import (
	"fmt"
	"os"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/runcore-labs/runcore/pkg/runmodel"
)

// DatabaseConfig configures the Postgres-backed DurableStore.
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RedisConfig configures the optional cross-process budget accumulator.
type RedisConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	DB      int    `yaml:"db"`
}

// ServerConfig configures the ambient health/metrics HTTP surface.
type ServerConfig struct {
	HTTPPort string `yaml:"http_port"`
	GinMode  string `yaml:"gin_mode"`
}

// LogConfig configures pkg/log's slog setup.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" | "text"
}

// CostConfig mirrors the env-var-named knobs spec.md §6 requires
// (COST_UNKNOWN_PRICING_MODE, BUDGET_*, MAX_CONCURRENT_TASKS).
type CostConfig struct {
	UnknownPricingMode    string  `yaml:"unknown_pricing_mode" validate:"oneof=warn block"`
	MaxCostPerRun         float64 `yaml:"max_cost_per_run"`
	MaxCostPerSession     float64 `yaml:"max_cost_per_session"`
	WarningThreshold      float64 `yaml:"warning_threshold"`
	MaxConcurrentTasks    int     `yaml:"max_concurrent_tasks"`
	TreatUnknownAsFailure bool    `yaml:"treat_unknown_as_failure"`
	PricingCatalogFile    string  `yaml:"pricing_catalog_file"`
}

// Config is the root configuration object.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Cost     CostConfig     `yaml:"cost"`
}

// Defaults returns the built-in configuration, matching spec.md §3's
// BudgetConfig defaults and §6's default unknown-pricing mode.
func Defaults() Config {
	return Config{
		Database: DatabaseConfig{
			Host: "localhost", Port: 5432, User: "runcore", Database: "runcore",
			SSLMode: "disable", MaxOpenConns: 10, MaxIdleConns: 5,
			ConnMaxLifetime: time.Hour, ConnMaxIdleTime: 10 * time.Minute,
		},
		Redis: RedisConfig{Enabled: false, Addr: "localhost:6379"},
		Server: ServerConfig{HTTPPort: "8080", GinMode: "release"},
		Log:    LogConfig{Level: "info", Format: "json"},
		Cost: CostConfig{
			UnknownPricingMode: "block",
			MaxCostPerRun:      runmodel.DefaultBudgetConfig().MaxCostPerRun,
			MaxCostPerSession:  runmodel.DefaultBudgetConfig().MaxCostPerSession,
			WarningThreshold:   runmodel.DefaultBudgetConfig().WarningThreshold,
			MaxConcurrentTasks: 1,
		},
	}
}

// Load reads a YAML config file (if present), env-expands it, merges it over
// Defaults(), overlays the five spec-named environment variables, and
// validates the result. configPath may be "" to use defaults-plus-env only.
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	if configPath != "" {
		raw, err := os.ReadFile(configPath)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, &LoadError{File: configPath, Err: ErrConfigNotFound}
			}
			return nil, &LoadError{File: configPath, Err: err}
		}
		expanded := ExpandEnv(raw)

		var fileCfg Config
		if err := yaml.Unmarshal(expanded, &fileCfg); err != nil {
			return nil, &LoadError{File: configPath, Err: fmt.Errorf("%w: %v", ErrInvalidYAML, err)}
		}
		if err := mergo.Merge(&cfg, fileCfg, mergo.WithOverride); err != nil {
			return nil, &LoadError{File: configPath, Err: fmt.Errorf("merge config: %w", err)}
		}
	}

	applyEnvOverrides(&cfg)

	if err := (&Validator{cfg: &cfg}).ValidateAll(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides overlays the five environment variables spec.md §6 names
// directly, so a deployment can tune budget policy without a config file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("COST_UNKNOWN_PRICING_MODE"); v != "" {
		cfg.Cost.UnknownPricingMode = v
	}
	if v := os.Getenv("BUDGET_MAX_COST_PER_RUN"); v != "" {
		if f, err := parseFloat(v); err == nil {
			cfg.Cost.MaxCostPerRun = f
		}
	}
	if v := os.Getenv("BUDGET_MAX_COST_PER_SESSION"); v != "" {
		if f, err := parseFloat(v); err == nil {
			cfg.Cost.MaxCostPerSession = f
		}
	}
	if v := os.Getenv("BUDGET_WARNING_THRESHOLD"); v != "" {
		if f, err := parseFloat(v); err == nil {
			cfg.Cost.WarningThreshold = f
		}
	}
	if v := os.Getenv("MAX_CONCURRENT_TASKS"); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.Cost.MaxConcurrentTasks = n
		}
	}
}

// BudgetConfig derives a runmodel.BudgetConfig from the loaded Cost section.
func (c *Config) BudgetConfig() runmodel.BudgetConfig {
	return runmodel.BudgetConfig{
		MaxCostPerRun:         c.Cost.MaxCostPerRun,
		MaxCostPerSession:     c.Cost.MaxCostPerSession,
		WarningThreshold:      c.Cost.WarningThreshold,
		TreatUnknownAsFailure: c.Cost.TreatUnknownAsFailure,
	}
}
