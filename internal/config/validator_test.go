package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/avaproxy/internal/util"
)

func validConfig() *GatewayConfig {
	cfg := &GatewayConfig{}
	cfg.ApplyDefaults()
	return cfg
}

func TestValidateConfig_Valid(t *testing.T) {
	t.Parallel()

	assert.NoError(t, ValidateConfig(validConfig()))
}

func TestValidateConfig_Nil(t *testing.T) {
	t.Parallel()

	err := ValidateConfig(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration is nil")
}

func TestValidateConfig_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*GatewayConfig)
		path   string
	}{
		{
			name:   "bad listen address",
			mutate: func(c *GatewayConfig) { c.Listen = "8080" },
			path:   "listen",
		},
		{
			name:   "bad local address",
			mutate: func(c *GatewayConfig) { c.LocalAddress = "localhost" },
			path:   "localAddress",
		},
		{
			name:   "relative admin path",
			mutate: func(c *GatewayConfig) { c.AdminPath = "admin/rules" },
			path:   "adminPath",
		},
		{
			name:   "profile template without placeholder",
			mutate: func(c *GatewayConfig) { c.Profile.PathTemplate = "/users/profile" },
			path:   "profile.pathTemplate",
		},
		{
			name:   "unknown storage type",
			mutate: func(c *GatewayConfig) { c.Storage.Type = "s3" },
			path:   "storage.type",
		},
		{
			name:   "redis without url",
			mutate: func(c *GatewayConfig) { c.Storage.Type = StorageTypeRedis },
			path:   "storage.redis.url",
		},
		{
			name: "redis with wrong scheme",
			mutate: func(c *GatewayConfig) {
				c.Storage.Type = StorageTypeRedis
				c.Storage.Redis = &RedisStorageConfig{URL: "http://localhost:6379"}
			},
			path: "storage.redis.url",
		},
		{
			name: "metrics port out of range",
			mutate: func(c *GatewayConfig) {
				c.Metrics.Enabled = true
				c.Metrics.Port = 70000
			},
			path: "metrics.port",
		},
		{
			name:   "sampling rate above one",
			mutate: func(c *GatewayConfig) { c.Tracing.SamplingRate = 1.5 },
			path:   "tracing.samplingRate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := validConfig()
			tt.mutate(cfg)

			err := ValidateConfig(cfg)
			require.Error(t, err)
			assert.True(t, errors.Is(err, util.ErrConfigInvalid))

			var verrs ValidationErrors
			require.True(t, errors.As(err, &verrs))
			require.Len(t, verrs, 1)
			assert.Equal(t, tt.path, verrs[0].Path)
		})
	}
}

func TestValidationErrors_Error(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "no validation errors", ValidationErrors{}.Error())
	assert.Equal(t, "listen: bad", ValidationErrors{{Path: "listen", Message: "bad"}}.Error())

	multi := ValidationErrors{
		{Path: "a", Message: "first"},
		{Message: "second"},
	}
	assert.Equal(t, "2 validation errors:\n  1. a: first\n  2. second\n", multi.Error())
}

func TestValidateConfig_RedisValid(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Storage.Type = StorageTypeRedis
	cfg.Storage.Redis = &RedisStorageConfig{URL: "rediss://cache:6380/1", PoolSize: 10}

	assert.NoError(t, ValidateConfig(cfg))
}
