package cli

import (
	"fmt"

	envparse "github.com/caarlos0/env/v11"
)

// baseEnv defines root CLI defaults sourced from METALCTL_* env vars.
type baseEnv struct {
	// ConfigPath is the config file path from METALCTL_CONFIG.
	ConfigPath string `env:"METALCTL_CONFIG"`
	// LogLevel is the logging level from METALCTL_LOG_LEVEL.
	LogLevel string `env:"METALCTL_LOG_LEVEL"`
	// DryRun toggles pre-create dry runs from METALCTL_DRY_RUN.
	DryRun bool `env:"METALCTL_DRY_RUN"`
	// Vars is a k=v,k2=v2 list from METALCTL_VARS.
	Vars string `env:"METALCTL_VARS"`
	// VarFile is a YAML/ENV path from METALCTL_VAR_FILE.
	VarFile string `env:"METALCTL_VAR_FILE"`
	// MetricsFile is the Prometheus textfile path from METALCTL_METRICS_FILE.
	MetricsFile string `env:"METALCTL_METRICS_FILE"`
}

// loadBaseEnv fills baseEnv from METALCTL_* env vars via caarlos0/env.
func loadBaseEnv() (baseEnv, error) {
	var out baseEnv
	if err := envparse.Parse(&out); err != nil {
		return baseEnv{}, fmt.Errorf("parse METALCTL_* environment: %w", err)
	}
	return out, nil
}
