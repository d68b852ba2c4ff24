package config

import "fmt"

// Sentinel errors, following the teacher's pkg/config/errors.go idiom
// exactly: a handful of sentinels plus wrapped struct types carrying field
// context, checked with errors.Is/errors.As.
var (
	ErrConfigNotFound   = fmt.Errorf("config file not found")
	ErrInvalidYAML      = fmt.Errorf("invalid yaml")
	ErrValidationFailed = fmt.Errorf("config validation failed")
	ErrMissingRequired  = fmt.Errorf("missing required field")
	ErrInvalidValue     = fmt.Errorf("invalid value")
)

// ValidationError reports a single field-level validation failure.
type ValidationError struct {
	Component string
	Field     string
	Err       error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: field %q: %v", e.Component, e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// LoadError reports a failure loading a specific config file.
type LoadError struct {
	File string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.File, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }
