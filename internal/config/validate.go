package config

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Validate checks that the configuration is usable for the given mode.
// Modes: "process" (one-shot CLI pipeline), "serve" (HTTP API).
func (c *Config) Validate(mode string) error {
	var problems []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		problems = append(problems, `store.driver must be "sqlite" or "postgres"`)
	}
	if c.Store.DatabaseURL == "" {
		problems = append(problems, "store.database_url is required")
	}

	if c.Pipeline.Concurrency < 1 || c.Pipeline.Concurrency > 32 {
		problems = append(problems, "pipeline.concurrency must be between 1 and 32")
	}
	if c.Validation.FlagThreshold < 0 || c.Validation.FlagThreshold > 1 {
		problems = append(problems, "validation.flag_threshold must be between 0 and 1")
	}
	if c.Validation.CriticalThreshold < 0 || c.Validation.CriticalThreshold > 1 {
		problems = append(problems, "validation.critical_threshold must be between 0 and 1")
	}

	switch mode {
	case "process":
		if c.Export.OutputDir == "" {
			problems = append(problems, "export.output_dir is required")
		}
	case "serve":
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
		if c.Server.RatePerSecond <= 0 {
			problems = append(problems, "server.rate_per_second must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: invalid configuration:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}
