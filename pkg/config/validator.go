package config

import (
	"fmt"
	"strconv"
)

// Validator runs dependency-ordered validation over a loaded Config,
// mirroring the teacher's pkg/config/validator.go hand-rolled ValidateAll
// pattern rather than struct-tag validation: database fields are checked
// before cost fields reference them indirectly (pricing catalog path),
// and cost fields are checked in the order a human reasons about budget
// policy (unknown-pricing mode, then limits, then warning threshold, then
// concurrency).
type Validator struct {
	cfg *Config
}

// ValidateAll runs every validation step in dependency order, returning the
// first failure as a *ValidationError, which wraps ErrMissingRequired or
// ErrInvalidValue.
func (v *Validator) ValidateAll() error {
	steps := []func() error{
		v.validateDatabase,
		v.validateServer,
		v.validateLog,
		v.validateCost,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

func (v *Validator) validateDatabase() error {
	db := v.cfg.Database
	if db.Host == "" {
		return &ValidationError{Component: "database", Field: "host", Err: ErrMissingRequired}
	}
	if db.Port <= 0 || db.Port > 65535 {
		return &ValidationError{Component: "database", Field: "port", Err: ErrInvalidValue}
	}
	if db.Database == "" {
		return &ValidationError{Component: "database", Field: "database", Err: ErrMissingRequired}
	}
	if db.MaxOpenConns <= 0 {
		return &ValidationError{Component: "database", Field: "max_open_conns", Err: ErrInvalidValue}
	}
	if db.MaxIdleConns < 0 || db.MaxIdleConns > db.MaxOpenConns {
		return &ValidationError{Component: "database", Field: "max_idle_conns", Err: ErrInvalidValue}
	}
	return nil
}

func (v *Validator) validateServer() error {
	if v.cfg.Server.HTTPPort == "" {
		return &ValidationError{Component: "server", Field: "http_port", Err: ErrMissingRequired}
	}
	switch v.cfg.Server.GinMode {
	case "release", "debug", "test":
	default:
		return &ValidationError{Component: "server", Field: "gin_mode", Err: ErrInvalidValue}
	}
	return nil
}

func (v *Validator) validateLog() error {
	switch v.cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return &ValidationError{Component: "log", Field: "level", Err: ErrInvalidValue}
	}
	switch v.cfg.Log.Format {
	case "json", "text":
	default:
		return &ValidationError{Component: "log", Field: "format", Err: ErrInvalidValue}
	}
	return nil
}

func (v *Validator) validateCost() error {
	c := v.cfg.Cost
	switch c.UnknownPricingMode {
	case "warn", "block":
	default:
		return &ValidationError{Component: "cost", Field: "unknown_pricing_mode", Err: ErrInvalidValue}
	}
	if c.MaxCostPerRun <= 0 {
		return &ValidationError{Component: "cost", Field: "max_cost_per_run", Err: ErrInvalidValue}
	}
	if c.MaxCostPerSession <= 0 {
		return &ValidationError{Component: "cost", Field: "max_cost_per_session", Err: ErrInvalidValue}
	}
	if c.MaxCostPerSession < c.MaxCostPerRun {
		return &ValidationError{Component: "cost", Field: "max_cost_per_session", Err: fmt.Errorf("%w: session budget must be >= per-run budget", ErrInvalidValue)}
	}
	if c.WarningThreshold <= 0 || c.WarningThreshold > 1 {
		return &ValidationError{Component: "cost", Field: "warning_threshold", Err: ErrInvalidValue}
	}
	if c.MaxConcurrentTasks <= 0 {
		return &ValidationError{Component: "cost", Field: "max_concurrent_tasks", Err: ErrInvalidValue}
	}
	return nil
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}

func parseInt(s string) (int, error) {
	return strconv.Atoi(s)
}
