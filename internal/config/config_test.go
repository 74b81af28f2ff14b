package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"empty admin addr", func(c *Config) { c.AdminAddr = "" }, "admin addr cannot be empty"},
		{"bad admin addr", func(c *Config) { c.AdminAddr = "1122" }, `invalid admin addr "1122"`},
		{"http disabled", func(c *Config) { c.HTTPAddr = "" }, ""},
		{"bad http addr", func(c *Config) { c.HTTPAddr = "localhost" }, `invalid http addr "localhost"`},
		{"zero probe timeout", func(c *Config) { c.ProbeTimeout = 0 }, "probe timeout must be positive"},
		{"zero cascade", func(c *Config) { c.MaxCascade = 0 }, "max cascade must be positive: 0"},
		{"negative interval", func(c *Config) { c.MetricsInterval = -time.Second }, "metrics interval must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	c := DefaultConfig()
	c.AdminAddr = ""
	c.MaxCascade = -1

	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "admin addr cannot be empty")
	assert.Contains(t, err.Error(), "max cascade must be positive")
}
