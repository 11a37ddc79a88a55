package remote

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/anstrom/inventorama/internal/errors"
)

// FixtureConfig points at a YAML fixture file.
type FixtureConfig struct {
	Path string `yaml:"path"`
}

// FixtureHost describes what a host answers in offline runs.
type FixtureHost struct {
	ComputerSystem    ComputerSystem  `yaml:"computer_system"`
	ProductVersion    string          `yaml:"product_version"`
	InstalledProducts []Product       `yaml:"installed_products"`
	MemoryModules     []uint64        `yaml:"memory_modules"`
	OperatingSystem   OperatingSystem `yaml:"operating_system"`
	// ConnectError makes Connect fail. Kind is "connection" (default) or
	// "permission".
	ConnectError *FixtureError `yaml:"connect_error,omitempty"`
	// Fail lists property queries that return a protocol error, by name:
	// computer_system, product_version, installed_products,
	// memory_modules, operating_system.
	Fail []string `yaml:"fail,omitempty"`
}

// FixtureError is a scripted failure.
type FixtureError struct {
	Kind    string `yaml:"kind"`
	Message string `yaml:"message"`
}

// Fixture is an in-memory Querier keyed by address.
type Fixture struct {
	Hosts map[string]FixtureHost `yaml:"hosts"`
}

// ParseFixture decodes fixture YAML.
func ParseFixture(data []byte) (*Fixture, error) {
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse fixture: %w", err)
	}
	if f.Hosts == nil {
		f.Hosts = make(map[string]FixtureHost)
	}
	return &f, nil
}

// LoadFixture reads and decodes a fixture file.
func LoadFixture(path string) (*Fixture, error) {
	if path == "" {
		return nil, fmt.Errorf("fixture path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture: %w", err)
	}
	return ParseFixture(data)
}

// Connect implements Querier.
func (f *Fixture) Connect(ctx context.Context, address string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	host, ok := f.Hosts[address]
	if !ok {
		return nil, errors.ErrRemoteConnection(address, stderrors.New("no remote endpoint"))
	}
	if host.ConnectError != nil {
		cause := stderrors.New(host.ConnectError.Message)
		if host.ConnectError.Kind == "permission" {
			return nil, errors.ErrPermissionDenied(address, cause)
		}
		return nil, errors.ErrRemoteConnection(address, cause)
	}
	return &fixtureSession{address: address, host: host}, nil
}

type fixtureSession struct {
	address string
	host    FixtureHost
}

func (s *fixtureSession) check(ctx context.Context, property string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if slices.Contains(s.host.Fail, property) {
		return errors.ErrRemoteProtocol(s.address, fmt.Errorf("%s query failed", property)).WithOperation(property)
	}
	return nil
}

func (s *fixtureSession) ComputerSystem(ctx context.Context) (ComputerSystem, error) {
	if err := s.check(ctx, "computer_system"); err != nil {
		return ComputerSystem{}, err
	}
	return s.host.ComputerSystem, nil
}

func (s *fixtureSession) ProductVersion(ctx context.Context) (string, error) {
	if err := s.check(ctx, "product_version"); err != nil {
		return "", err
	}
	return s.host.ProductVersion, nil
}

func (s *fixtureSession) InstalledProducts(ctx context.Context, limit int) ([]Product, error) {
	if err := s.check(ctx, "installed_products"); err != nil {
		return nil, err
	}
	products := s.host.InstalledProducts
	if len(products) > limit {
		products = products[:limit]
	}
	return slices.Clone(products), nil
}

func (s *fixtureSession) MemoryModules(ctx context.Context) ([]uint64, error) {
	if err := s.check(ctx, "memory_modules"); err != nil {
		return nil, err
	}
	return slices.Clone(s.host.MemoryModules), nil
}

func (s *fixtureSession) OperatingSystem(ctx context.Context) (OperatingSystem, error) {
	if err := s.check(ctx, "operating_system"); err != nil {
		return OperatingSystem{}, err
	}
	return s.host.OperatingSystem, nil
}

func (s *fixtureSession) Close() error { return nil }
