package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/vyrodovalexey/avaproxy/internal/util"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Path    string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Is lets errors.Is(err, util.ErrConfigInvalid) match.
func (e ValidationErrors) Is(target error) bool {
	return target == util.ErrConfigInvalid
}

// ValidateConfig validates a process configuration. Defaults are
// expected to have been applied.
func ValidateConfig(cfg *GatewayConfig) error {
	if cfg == nil {
		return ValidationErrors{{Message: "configuration is nil"}}
	}

	var errs ValidationErrors
	add := func(path, msg string) {
		errs = append(errs, ValidationError{Path: path, Message: msg})
	}

	if _, _, err := net.SplitHostPort(cfg.Listen); err != nil {
		add("listen", "must be host:port: "+err.Error())
	}
	if _, _, err := net.SplitHostPort(cfg.LocalAddress); err != nil {
		add("localAddress", "must be host:port: "+err.Error())
	}
	if !strings.HasPrefix(cfg.AdminPath, "/") {
		add("adminPath", "must start with /")
	}
	if strings.Count(cfg.Profile.PathTemplate, "%s") != 1 {
		add("profile.pathTemplate", "must contain exactly one %s")
	}

	switch cfg.Storage.Type {
	case StorageTypeMemory:
	case StorageTypeRedis:
		validateRedis(cfg.Storage.Redis, add)
	default:
		add("storage.type", "unknown storage type: "+cfg.Storage.Type)
	}

	if cfg.Metrics.Enabled && (cfg.Metrics.Port <= 0 || cfg.Metrics.Port > 65535) {
		add("metrics.port", "must be between 1 and 65535")
	}
	if cfg.Tracing.SamplingRate < 0 || cfg.Tracing.SamplingRate > 1 {
		add("tracing.samplingRate", "must be between 0 and 1")
	}
	if cfg.Audit.MaxBodyBytes < 0 {
		add("audit.maxBodyBytes", "must not be negative")
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateRedis(cfg *RedisStorageConfig, add func(path, msg string)) {
	if cfg == nil || cfg.URL == "" {
		add("storage.redis.url", "is required for redis storage")
		return
	}
	u, err := url.Parse(cfg.URL)
	if err != nil || (u.Scheme != "redis" && u.Scheme != "rediss") {
		add("storage.redis.url", "must be a redis:// or rediss:// URL")
	}
	if cfg.PoolSize < 0 {
		add("storage.redis.poolSize", "must not be negative")
	}
}
