// Package config holds the confmaster runtime settings.
package config

import (
	"errors"
	"fmt"
	"net"
	"time"
)

// Config configures one confmaster process.
type Config struct {
	// AdminAddr is the command surface listen address (default: :1122)
	AdminAddr string
	// HTTPAddr serves the read-only API and /metrics (default: :1123)
	HTTPAddr string
	// DataDir holds the metadata store. Empty keeps it in memory.
	DataDir string

	// ProbeTimeout bounds each replica and gateway call (default: 3s)
	ProbeTimeout time.Duration
	// MaxCascade bounds follow-up workflow runs of one cascading call (default: 8)
	MaxCascade int
	// MetricsInterval is the gauge refresh period (default: 15s)
	MetricsInterval time.Duration
	// ShutdownTimeout bounds graceful shutdown of the HTTP server (default: 5s)
	ShutdownTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		AdminAddr:       ":1122",
		HTTPAddr:        ":1123",
		DataDir:         "./data",
		ProbeTimeout:    3 * time.Second,
		MaxCascade:      8,
		MetricsInterval: 15 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

func (c *Config) Validate() error {
	var errs []error

	if err := validateAddr("admin addr", c.AdminAddr); err != nil {
		errs = append(errs, err)
	}
	if c.HTTPAddr != "" {
		if err := validateAddr("http addr", c.HTTPAddr); err != nil {
			errs = append(errs, err)
		}
	}
	if c.ProbeTimeout <= 0 {
		errs = append(errs, fmt.Errorf("probe timeout must be positive: %s", c.ProbeTimeout))
	}
	if c.MaxCascade <= 0 {
		errs = append(errs, fmt.Errorf("max cascade must be positive: %d", c.MaxCascade))
	}
	if c.MetricsInterval <= 0 {
		errs = append(errs, fmt.Errorf("metrics interval must be positive: %s", c.MetricsInterval))
	}

	return errors.Join(errs...)
}

func validateAddr(what, addr string) error {
	if addr == "" {
		return fmt.Errorf("%s cannot be empty", what)
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("invalid %s %q: %w", what, addr, err)
	}
	return nil
}
