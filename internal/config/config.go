// Package config contains utility structs/functions and types
// for validating the configurations across the library.
package config

import (
	"github.com/FerroO2000/ritmo/internal"
)

// Config defines the minimal interface for a configuration
// in order to be validated.
type Config interface {
	// Validate checks the configuration.
	Validate(ac *AnomalyCollector)
}

// Validator is an utility struct for validating a configuration.
type Validator struct {
	tel *internal.Telemetry

	anomalyCollector *AnomalyCollector
}

// NewValidator returns a new validator.
func NewValidator(tel *internal.Telemetry) *Validator {
	return &Validator{
		tel: tel,

		anomalyCollector: newAnomalyCollector(),
	}
}

// Validate validates the given configuration.
func (v *Validator) Validate(config Config) {
	config.Validate(v.anomalyCollector)

	for anomaly := range v.anomalyCollector.iter() {
		v.handleAnomaly(anomaly)
	}
}

func (v *Validator) handleAnomaly(an *anomaly) {
	v.tel.LogWarn("config anomaly",
		"field", an.field, "reason", an.reason,
		"actual", an.actual, "fallback", an.fallback)
}
