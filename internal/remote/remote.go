// Package remote defines the contract the inventory collector uses to ask a
// host about itself, plus the SNMP, SSH and fixture implementations.
//
// A Querier opens one Session per host. Connection problems are reported by
// Connect with a REMOTE_CONNECTION or PERMISSION coded error; once a session
// exists each property query fails independently.
package remote

import (
	"context"
	"fmt"

	"github.com/anstrom/inventorama/internal/logging"
)

// Backend names a remote query implementation.
type Backend string

const (
	BackendSNMP    Backend = "snmp"
	BackendSSH     Backend = "ssh"
	BackendFixture Backend = "fixture"
)

// ComputerSystem holds identity properties of the host.
type ComputerSystem struct {
	Name     string `yaml:"name" json:"name"`
	Model    string `yaml:"model" json:"model"`
	UserName string `yaml:"user_name" json:"user_name"`
}

// OperatingSystem holds the OS caption and build number.
type OperatingSystem struct {
	Caption     string `yaml:"caption" json:"caption"`
	BuildNumber string `yaml:"build_number" json:"build_number"`
}

// Product is one installed software package.
type Product struct {
	Name    string `yaml:"name" json:"name"`
	Version string `yaml:"version" json:"version"`
}

// Querier opens query sessions against hosts.
type Querier interface {
	Connect(ctx context.Context, address string) (Session, error)
}

// Session answers property queries for one host.
type Session interface {
	ComputerSystem(ctx context.Context) (ComputerSystem, error)
	ProductVersion(ctx context.Context) (string, error)
	// InstalledProducts returns at most limit products.
	InstalledProducts(ctx context.Context, limit int) ([]Product, error)
	// MemoryModules returns the capacity of each module in bytes.
	MemoryModules(ctx context.Context) ([]uint64, error)
	OperatingSystem(ctx context.Context) (OperatingSystem, error)
	Close() error
}

// Config selects and configures the backend.
type Config struct {
	Backend Backend       `yaml:"backend" validate:"omitempty,oneof=snmp ssh fixture"`
	SNMP    SNMPConfig    `yaml:"snmp"`
	SSH     SSHConfig     `yaml:"ssh"`
	Fixture FixtureConfig `yaml:"fixture"`
}

// DefaultConfig returns SNMP v2c defaults.
func DefaultConfig() Config {
	return Config{
		Backend: BackendSNMP,
		SNMP:    DefaultSNMPConfig(),
		SSH:     DefaultSSHConfig(),
	}
}

// New builds the querier named by cfg.Backend.
func New(cfg Config, logger *logging.Logger) (Querier, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	switch cfg.Backend {
	case "", BackendSNMP:
		return NewSNMPQuerier(cfg.SNMP, logger), nil
	case BackendSSH:
		q, err := NewSSHQuerier(cfg.SSH, logger)
		if err != nil {
			return nil, err
		}
		return q, nil
	case BackendFixture:
		f, err := LoadFixture(cfg.Fixture.Path)
		if err != nil {
			return nil, err
		}
		return f, nil
	default:
		return nil, fmt.Errorf("unknown remote backend %q", cfg.Backend)
	}
}
