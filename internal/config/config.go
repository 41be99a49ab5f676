package config

import "time"

// Storage type constants.
const (
	StorageTypeMemory = "memory"
	StorageTypeRedis  = "redis"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultListen          = ":7012"
	DefaultLocalAddress    = "localhost:7012"
	DefaultAdminPath       = "/server/admin/v1/routing/rules"
	DefaultProfileTemplate = "/server/users/v1/%s/profile"
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMetricsPort     = 9090
	DefaultMetricsPath     = "/metrics"
)

// GatewayConfig is the root process configuration.
type GatewayConfig struct {
	// Listen is the inbound HTTP listen address.
	Listen string `yaml:"listen" json:"listen"`

	// LocalAddress is the host:port that "local" rules forward to,
	// normally the proxy's own listener.
	LocalAddress string `yaml:"localAddress" json:"localAddress"`

	// AdminPath is where the rules resource is served for GET and PUT.
	AdminPath string `yaml:"adminPath" json:"adminPath"`

	// RulesFile is the JSON routing rules resource loaded at startup and
	// watched for changes. Optional.
	RulesFile string `yaml:"rulesFile" json:"rulesFile"`

	// Properties are substituted into ${name} references of the rules.
	Properties map[string]string `yaml:"properties" json:"properties"`

	Profile         ProfileConfig `yaml:"profile" json:"profile"`
	Storage         StorageConfig `yaml:"storage" json:"storage"`
	Logging         LoggingConfig `yaml:"logging" json:"logging"`
	Audit           AuditConfig   `yaml:"audit" json:"audit"`
	Metrics         MetricsConfig `yaml:"metrics" json:"metrics"`
	Tracing         TracingConfig `yaml:"tracing" json:"tracing"`
	ShutdownTimeout Duration      `yaml:"shutdownTimeout" json:"shutdownTimeout"`
	Server          ServerConfig  `yaml:"server" json:"server"`
}

// ProfileConfig configures user profile enrichment.
type ProfileConfig struct {
	// PathTemplate is a fmt template with one %s for the user id.
	PathTemplate string `yaml:"pathTemplate" json:"pathTemplate"`
}

// StorageConfig selects the resource storage backend.
type StorageConfig struct {
	Type  string              `yaml:"type" json:"type"`
	Redis *RedisStorageConfig `yaml:"redis,omitempty" json:"redis,omitempty"`
}

// RedisStorageConfig configures the Redis resource storage.
type RedisStorageConfig struct {
	URL            string   `yaml:"url" json:"url"`
	PoolSize       int      `yaml:"poolSize" json:"poolSize"`
	KeyPrefix      string   `yaml:"keyPrefix" json:"keyPrefix"`
	ConnectTimeout Duration `yaml:"connectTimeout" json:"connectTimeout"`
	ReadTimeout    Duration `yaml:"readTimeout" json:"readTimeout"`
	WriteTimeout   Duration `yaml:"writeTimeout" json:"writeTimeout"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
}

// AuditConfig configures the request audit sink.
type AuditConfig struct {
	Enabled       bool     `yaml:"enabled" json:"enabled"`
	Output        string   `yaml:"output" json:"output"`
	RedactHeaders []string `yaml:"redactHeaders" json:"redactHeaders"`
	MaxBodyBytes  int      `yaml:"maxBodyBytes" json:"maxBodyBytes"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Port    int    `yaml:"port" json:"port"`
	Path    string `yaml:"path" json:"path"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	Endpoint     string  `yaml:"endpoint" json:"endpoint"`
	SamplingRate float64 `yaml:"samplingRate" json:"samplingRate"`
	ServiceName  string  `yaml:"serviceName" json:"serviceName"`
}

// ServerConfig configures the inbound HTTP server.
type ServerConfig struct {
	ReadHeaderTimeout Duration `yaml:"readHeaderTimeout" json:"readHeaderTimeout"`
	IdleTimeout       Duration `yaml:"idleTimeout" json:"idleTimeout"`
}

// ApplyDefaults fills unset fields with their defaults.
func (c *GatewayConfig) ApplyDefaults() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.LocalAddress == "" {
		c.LocalAddress = DefaultLocalAddress
	}
	if c.AdminPath == "" {
		c.AdminPath = DefaultAdminPath
	}
	if c.Profile.PathTemplate == "" {
		c.Profile.PathTemplate = DefaultProfileTemplate
	}
	if c.Storage.Type == "" {
		c.Storage.Type = StorageTypeMemory
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Audit.Output == "" {
		c.Audit.Output = "stdout"
	}
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "avaproxy"
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = Duration(DefaultShutdownTimeout)
	}
	if c.Properties == nil {
		c.Properties = make(map[string]string)
	}
}
