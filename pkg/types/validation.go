package types

import (
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
)

// FUNCTIONAL DISCOVERY: one validator instance caches struct metadata across calls
var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.RegisterStructValidation(timerConfigRules, TimerConfig{})
	})
	return validate
}

// timerConfigRules enforces the duration rule that tags cannot express:
// every kind but stopwatch needs a positive duration, stopwatch takes none.
func timerConfigRules(sl validator.StructLevel) {
	cfg := sl.Current().Interface().(TimerConfig)
	if cfg.Kind.RequiresDuration() && cfg.DurationMs <= 0 {
		sl.ReportError(cfg.DurationMs, "durationMs", "DurationMs", "required_for_kind", string(cfg.Kind))
	}
	if !cfg.Kind.RequiresDuration() && cfg.DurationMs != 0 {
		sl.ReportError(cfg.DurationMs, "durationMs", "DurationMs", "excluded_for_kind", string(cfg.Kind))
	}
}

// Validate runs struct-tag validation on v.
func Validate(v any) error {
	return validatorInstance().Struct(v)
}

// ValidateTimerConfig checks a timer definition before it reaches the store.
func ValidateTimerConfig(cfg TimerConfig) error {
	if err := Validate(cfg); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTimer, err)
	}
	return nil
}
