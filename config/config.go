// Package config loads wsgate settings from an optional file and WSGATE_*
// environment variables layered over defaults.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override, e.g. WSGATE_ADDR or
// WSGATE_LIMITS_MAX_BODY_BYTES.
const EnvPrefix = "WSGATE"

type Config struct {
	Addr      string           `mapstructure:"addr" yaml:"addr"`
	TLS       TLSConfig        `mapstructure:"tls" yaml:"tls"`
	Limits    LimitsConfig     `mapstructure:"limits" yaml:"limits"`
	Timeouts  TimeoutsConfig   `mapstructure:"timeouts" yaml:"timeouts"`
	Accept    AcceptConfig     `mapstructure:"accept" yaml:"accept"`
	Logging   LoggingConfig    `mapstructure:"logging" yaml:"logging"`
	Metrics   MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
	Endpoints []EndpointConfig `mapstructure:"endpoints" yaml:"endpoints"`
}

type TLSConfig struct {
	CertFile string `mapstructure:"cert_file" yaml:"cert_file"`
	KeyFile  string `mapstructure:"key_file" yaml:"key_file"`
}

type LimitsConfig struct {
	MaxHeaderBytes      int   `mapstructure:"max_header_bytes" yaml:"max_header_bytes"`
	MaxTotalHeaderBytes int   `mapstructure:"max_total_header_bytes" yaml:"max_total_header_bytes"`
	MaxBodyBytes        int64 `mapstructure:"max_body_bytes" yaml:"max_body_bytes"`
}

type TimeoutsConfig struct {
	ReadHeader time.Duration `mapstructure:"read_header" yaml:"read_header"`
	Read       time.Duration `mapstructure:"read" yaml:"read"`
	Write      time.Duration `mapstructure:"write" yaml:"write"`
	Idle       time.Duration `mapstructure:"idle" yaml:"idle"`
	Shutdown   time.Duration `mapstructure:"shutdown" yaml:"shutdown"`
}

// AcceptConfig throttles new connections. Rate 0 disables throttling.
type AcceptConfig struct {
	Rate  float64 `mapstructure:"rate" yaml:"rate"`
	Burst int     `mapstructure:"burst" yaml:"burst"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// MetricsConfig exposes prometheus metrics on Addr; empty disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// EndpointConfig registers one echo service under Path.
type EndpointConfig struct {
	Path            string `mapstructure:"path" yaml:"path"`
	Service         string `mapstructure:"service" yaml:"service"`
	Port            string `mapstructure:"port" yaml:"port"`
	Prefix          string `mapstructure:"prefix" yaml:"prefix,omitempty"`
	DescriptionFile string `mapstructure:"description_file" yaml:"description_file,omitempty"`
	// Schemas are served for "?xsd=<name>" discovery queries.
	Schemas []SchemaConfig `mapstructure:"schemas" yaml:"schemas,omitempty"`
}

// SchemaConfig names one schema document. Names are matched exactly, so
// they are listed rather than used as map keys.
type SchemaConfig struct {
	Name string `mapstructure:"name" yaml:"name"`
	File string `mapstructure:"file" yaml:"file"`
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() *Config {
	return &Config{
		Addr: ":4040",
		Limits: LimitsConfig{
			MaxHeaderBytes:      8 << 10,
			MaxTotalHeaderBytes: 64 << 10,
			MaxBodyBytes:        65536,
		},
		Timeouts: TimeoutsConfig{
			ReadHeader: 10 * time.Second,
			Idle:       60 * time.Second,
			Shutdown:   10 * time.Second,
		},
		Accept: AcceptConfig{Burst: 1},
		Logging: LoggingConfig{
			Format: "text",
			Level:  "info",
		},
		Endpoints: []EndpointConfig{
			{Path: "/echoService", Service: "echoService", Port: "echoPort"},
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("addr", d.Addr)
	v.SetDefault("tls.cert_file", "")
	v.SetDefault("tls.key_file", "")
	v.SetDefault("limits.max_header_bytes", d.Limits.MaxHeaderBytes)
	v.SetDefault("limits.max_total_header_bytes", d.Limits.MaxTotalHeaderBytes)
	v.SetDefault("limits.max_body_bytes", d.Limits.MaxBodyBytes)
	v.SetDefault("timeouts.read_header", d.Timeouts.ReadHeader)
	v.SetDefault("timeouts.read", d.Timeouts.Read)
	v.SetDefault("timeouts.write", d.Timeouts.Write)
	v.SetDefault("timeouts.idle", d.Timeouts.Idle)
	v.SetDefault("timeouts.shutdown", d.Timeouts.Shutdown)
	v.SetDefault("accept.rate", d.Accept.Rate)
	v.SetDefault("accept.burst", d.Accept.Burst)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("metrics.addr", "")
	v.SetDefault("endpoints", []map[string]any{
		{"path": "/echoService", "service": "echoService", "port": "echoPort"},
	})
}

// Load reads configuration. With a non-empty path that file must exist; its
// format follows the extension (yaml, json, toml). With an empty path,
// wsgate.{yaml,json,toml} is looked up in the working directory and
// /etc/wsgate, and defaults are used when none is found.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else {
		v.SetConfigName("wsgate")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/wsgate")
		if err := v.ReadInConfig(); err != nil {
			var nf viper.ConfigFileNotFoundError
			if !errors.As(err, &nf) {
				return nil, fmt.Errorf("config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return &ConfigError{Field: "addr", Message: "must not be empty"}
	}
	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		return &ConfigError{Field: "tls", Message: "cert_file and key_file must be set together"}
	}
	if c.Limits.MaxHeaderBytes <= 0 {
		return &ConfigError{Field: "limits.max_header_bytes", Message: "must be positive"}
	}
	if c.Limits.MaxTotalHeaderBytes < c.Limits.MaxHeaderBytes {
		return &ConfigError{Field: "limits.max_total_header_bytes", Message: "must be at least max_header_bytes"}
	}
	if c.Limits.MaxBodyBytes <= 0 {
		return &ConfigError{Field: "limits.max_body_bytes", Message: "must be positive"}
	}
	if c.Accept.Rate < 0 {
		return &ConfigError{Field: "accept.rate", Message: "must not be negative"}
	}
	if c.Accept.Rate > 0 && c.Accept.Burst <= 0 {
		return &ConfigError{Field: "accept.burst", Message: "must be positive when accept.rate is set"}
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return &ConfigError{Field: "logging.format", Message: fmt.Sprintf("unknown format %q", c.Logging.Format)}
	}
	seen := make(map[string]bool, len(c.Endpoints))
	for i, ep := range c.Endpoints {
		field := fmt.Sprintf("endpoints[%d]", i)
		if !strings.HasPrefix(ep.Path, "/") {
			return &ConfigError{Field: field + ".path", Message: fmt.Sprintf("%q must start with /", ep.Path)}
		}
		if seen[ep.Path] {
			return &ConfigError{Field: field + ".path", Message: fmt.Sprintf("duplicate path %q", ep.Path)}
		}
		seen[ep.Path] = true
		if ep.Service == "" || ep.Port == "" {
			return &ConfigError{Field: field, Message: "service and port are required"}
		}
		names := make(map[string]bool, len(ep.Schemas))
		for j, sc := range ep.Schemas {
			sfield := fmt.Sprintf("%s.schemas[%d]", field, j)
			if sc.Name == "" || sc.File == "" {
				return &ConfigError{Field: sfield, Message: "name and file are required"}
			}
			if names[sc.Name] {
				return &ConfigError{Field: sfield, Message: fmt.Sprintf("duplicate schema %q", sc.Name)}
			}
			names[sc.Name] = true
		}
	}
	return nil
}

// LoadTLS returns the server TLS configuration, or nil when TLS is off.
func (t TLSConfig) LoadTLS() (*tls.Config, error) {
	if t.CertFile == "" {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(t.CertFile, t.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("config: load tls key pair: %w", err)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}, nil
}

// YAML renders the effective configuration.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}
