package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validate checks the configuration against the struct validation tags plus
// the cross-field rules the tags cannot express.
func Validate(cfg *Config) error {
	validate := validator.New()

	if err := validate.Struct(cfg); err != nil {
		errs, ok := err.(validator.ValidationErrors)
		if !ok {
			return err
		}
		messages := make([]string, 0, len(errs))
		for _, fe := range errs {
			messages = append(messages, fmt.Sprintf("%s: failed %q validation (value %v)",
				fieldPath(fe), fe.Tag(), fe.Value()))
		}
		return fmt.Errorf("invalid configuration:\n  %s", strings.Join(messages, "\n  "))
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Sink == "ilp" && cfg.Metrics.Endpoint == "" {
		return fmt.Errorf("invalid configuration: metrics.endpoint is required for the ilp sink")
	}
	if cfg.Telemetry.Enabled && cfg.Telemetry.Endpoint == "" {
		return fmt.Errorf("invalid configuration: telemetry.endpoint is required when tracing is enabled")
	}
	if cfg.Pool.MaxIdle > cfg.Pool.MaxConnections {
		return fmt.Errorf("invalid configuration: pool.max_idle (%d) exceeds pool.max_connections (%d)",
			cfg.Pool.MaxIdle, cfg.Pool.MaxConnections)
	}

	return nil
}

// fieldPath renders "Config.Server.Port" as "server.port" to match the file
// keys users actually write.
func fieldPath(fe validator.FieldError) string {
	path := fe.Namespace()
	if i := strings.Index(path, "."); i >= 0 {
		path = path[i+1:]
	}
	return strings.ToLower(path)
}
