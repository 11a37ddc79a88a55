// Package config loads the YAML configuration shared by the CLI and the
// long-running server.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/anstrom/inventorama/internal/db"
	"github.com/anstrom/inventorama/internal/errors"
	"github.com/anstrom/inventorama/internal/logging"
	"github.com/anstrom/inventorama/internal/models"
	"github.com/anstrom/inventorama/internal/probe"
	"github.com/anstrom/inventorama/internal/remote"
)

// Config represents the complete configuration.
type Config struct {
	Scan     ScanConfig     `yaml:"scan" json:"scan"`
	Probe    probe.Config   `yaml:"probe" json:"probe"`
	Remote   remote.Config  `yaml:"remote" json:"remote"`
	Output   OutputConfig   `yaml:"output" json:"output"`
	Logging  logging.Config `yaml:"logging" json:"logging"`
	API      APIConfig      `yaml:"api" json:"api"`
	Database db.Config      `yaml:"database" json:"database"`
	Schedule ScheduleConfig `yaml:"schedule" json:"schedule"`
}

// ScanConfig holds the defaults applied to every run.
type ScanConfig struct {
	// Maximum number of targets in flight at once
	MaxConcurrency int `yaml:"max_concurrency" json:"max_concurrency" validate:"min=1,max=4096"`

	// Reachability probe timeout per target
	ProbeTimeout time.Duration `yaml:"probe_timeout" json:"probe_timeout" validate:"gt=0"`

	// Capabilities queried on reachable hosts, e.g. [hostname, ram-size]
	Capabilities []string `yaml:"capabilities" json:"capabilities"`

	// Write each record to the sinks as soon as it is terminal
	AutoSave bool `yaml:"auto_save" json:"auto_save"`

	// Nameserver ("host:port") for reverse lookups when the remote query
	// has no host name; empty uses /etc/resolv.conf
	DNSServer string `yaml:"dns_server" json:"dns_server" validate:"omitempty,hostname_port"`
}

// OutputConfig holds result file settings.
type OutputConfig struct {
	// CSV file records are appended to; empty disables CSV output
	Path string `yaml:"path" json:"path"`

	// Truncate the file before the first run instead of appending
	Overwrite bool `yaml:"overwrite" json:"overwrite"`
}

// APIConfig holds API server settings.
type APIConfig struct {
	Enabled        bool          `yaml:"enabled" json:"enabled"`
	ListenAddr     string        `yaml:"listen_addr" json:"listen_addr"`
	Port           int           `yaml:"port" json:"port" validate:"min=0,max=65535"`
	TLS            TLSConfig     `yaml:"tls" json:"tls"`
	Auth           AuthConfig    `yaml:"auth" json:"auth"`
	CORS           CORSConfig    `yaml:"cors" json:"cors"`
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout" validate:"min=0"`
	MaxRequestSize int64         `yaml:"max_request_size" json:"max_request_size" validate:"min=0"`
}

// TLSConfig holds TLS settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	CertFile string `yaml:"cert_file" json:"cert_file"`
	KeyFile  string `yaml:"key_file" json:"key_file"`
}

// AuthConfig enables API key checks. KeyHashes holds bcrypt hashes as
// printed by "inventorama apikey generate"; the keys themselves are never
// stored.
type AuthConfig struct {
	Enabled   bool     `yaml:"enabled" json:"enabled"`
	KeyHashes []string `yaml:"key_hashes" json:"-"`
}

// CORSConfig holds CORS settings.
type CORSConfig struct {
	Enabled        bool     `yaml:"enabled" json:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods" json:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers" json:"allowed_headers"`
}

// ScheduleConfig describes a recurring scan run by the server.
type ScheduleConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Standard five-field cron expression or descriptor such as "@hourly"
	Cron string `yaml:"cron" json:"cron"`

	// Target input, interpreted like the scan command's arguments
	Input string `yaml:"input" json:"input"`

	// Input kind: single, segment, list, file (a list path) or empty to detect
	Kind string `yaml:"kind" json:"kind" validate:"omitempty,oneof=single segment list file"`
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Scan: ScanConfig{
			MaxConcurrency: runtime.NumCPU(),
			ProbeTimeout:   models.DefaultProbeTimeout,
			Capabilities:   []string{"hostname"},
			AutoSave:       true,
		},
		Probe:   probe.DefaultConfig(),
		Remote:  remote.DefaultConfig(),
		Output:  OutputConfig{Path: "inventory.csv"},
		Logging: logging.DefaultConfig(),
		API: APIConfig{
			Enabled:    true,
			ListenAddr: "127.0.0.1",
			Port:       8080,
			CORS: CORSConfig{
				Enabled:        true,
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type", "Authorization"},
			},
			RequestTimeout: 30 * time.Second,
			MaxRequestSize: 1024 * 1024, // 1MB
		},
		Database: db.DefaultConfig(),
		Schedule: ScheduleConfig{
			Cron: "@daily",
		},
	}
}

// Load loads configuration from a file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	config := Default()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapConfigError(errors.CodeConfiguration, "failed to read config file", err)
	}

	// JSON is a subset of YAML, so one decoder covers both.
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, errors.WrapConfigError(errors.CodeConfiguration,
			fmt.Sprintf("failed to parse config %s", filepath.Base(path)), err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Save saves configuration to a file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tags and the rules that span fields.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.WrapConfigError(errors.CodeValidation, "invalid configuration", err)
	}

	if _, err := c.Capabilities(); err != nil {
		return errors.NewConfigFieldError(errors.CodeValidation, err.Error(), "scan.capabilities", c.Scan.Capabilities)
	}

	if c.Probe.Method == probe.MethodTCP && len(c.Probe.TCPPorts) == 0 {
		return errors.NewConfigFieldError(errors.CodeValidation,
			"tcp probe requires at least one port", "probe.tcp_ports", c.Probe.TCPPorts)
	}

	switch c.Remote.Backend {
	case remote.BackendSSH:
		if c.Remote.SSH.Username == "" {
			return errors.NewConfigFieldError(errors.CodeValidation,
				"ssh backend requires a username", "remote.ssh.username", c.Remote.SSH.Username)
		}
		if c.Remote.SSH.Password == "" && c.Remote.SSH.KeyFile == "" {
			return errors.NewConfigFieldError(errors.CodeValidation,
				"ssh backend requires a password or key file", "remote.ssh", nil)
		}
	case remote.BackendFixture:
		if c.Remote.Fixture.Path == "" {
			return errors.NewConfigFieldError(errors.CodeValidation,
				"fixture backend requires a path", "remote.fixture.path", c.Remote.Fixture.Path)
		}
	}

	if c.API.Enabled {
		if c.API.Port <= 0 {
			return errors.NewConfigFieldError(errors.CodeValidation,
				"API port must be between 1 and 65535", "api.port", c.API.Port)
		}
		if c.API.ListenAddr == "" {
			return errors.NewConfigFieldError(errors.CodeValidation,
				"API listen address is required when API is enabled", "api.listen_addr", c.API.ListenAddr)
		}
	}

	if c.API.TLS.Enabled && (c.API.TLS.CertFile == "" || c.API.TLS.KeyFile == "") {
		return errors.NewConfigFieldError(errors.CodeValidation,
			"TLS certificate and key files are required when TLS is enabled", "api.tls", nil)
	}

	if c.API.Auth.Enabled && len(c.API.Auth.KeyHashes) == 0 {
		return errors.NewConfigFieldError(errors.CodeValidation,
			"API authentication requires at least one key hash", "api.auth.key_hashes", nil)
	}

	if err := c.Database.Validate(); err != nil {
		return err
	}

	if c.Schedule.Enabled {
		if c.Schedule.Input == "" {
			return errors.NewConfigFieldError(errors.CodeValidation,
				"schedule requires a target input", "schedule.input", c.Schedule.Input)
		}
		if _, err := cron.ParseStandard(c.Schedule.Cron); err != nil {
			return errors.NewConfigFieldError(errors.CodeValidation,
				fmt.Sprintf("invalid cron expression: %v", err), "schedule.cron", c.Schedule.Cron)
		}
	}

	return nil
}

// Capabilities parses the configured capability names.
func (c *Config) Capabilities() (models.CapabilitySet, error) {
	return models.ParseCapabilityList(c.Scan.Capabilities)
}

// ScanSettings converts the scan section into the settings of one run.
func (c *Config) ScanSettings() (models.ScanConfig, error) {
	caps, err := c.Capabilities()
	if err != nil {
		return models.ScanConfig{}, err
	}
	return models.ScanConfig{
		MaxConcurrency: c.Scan.MaxConcurrency,
		ProbeTimeout:   c.Scan.ProbeTimeout,
		Capabilities:   caps,
		AutoPersist:    c.Scan.AutoSave,
	}, nil
}

// GetAPIAddress returns the full API listen address.
func (c *Config) GetAPIAddress() string {
	return net.JoinHostPort(c.API.ListenAddr, strconv.Itoa(c.API.Port))
}
