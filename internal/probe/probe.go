// Package probe decides whether a host is alive before it is queried.
//
// Every prober fails closed: a timeout, an unreachable network or a socket
// error all report the host as down with a nil error. Only cancellation of
// the caller's context is returned as an error.
package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/anstrom/inventorama/internal/logging"
)

// Method names a probe implementation.
type Method string

const (
	MethodICMP Method = "icmp"
	MethodTCP  Method = "tcp"
	MethodNmap Method = "nmap"
)

// Prober checks reachability of one address.
type Prober interface {
	Probe(ctx context.Context, address string, timeout time.Duration) (bool, error)
}

// Func adapts a plain function to the Prober interface.
type Func func(ctx context.Context, address string, timeout time.Duration) (bool, error)

// Probe calls f.
func (f Func) Probe(ctx context.Context, address string, timeout time.Duration) (bool, error) {
	return f(ctx, address, timeout)
}

// Always returns a prober with a fixed answer.
func Always(alive bool) Prober {
	return Func(func(ctx context.Context, _ string, _ time.Duration) (bool, error) {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		return alive, nil
	})
}

// Config selects and tunes the prober.
type Config struct {
	Method   Method `yaml:"method" validate:"omitempty,oneof=icmp tcp nmap"`
	TCPPorts []int  `yaml:"tcp_ports" validate:"dive,min=1,max=65535"`
}

// DefaultConfig uses ICMP echo.
func DefaultConfig() Config {
	return Config{
		Method:   MethodICMP,
		TCPPorts: append([]int(nil), DefaultTCPPorts...),
	}
}

// New builds the prober named by cfg.Method.
func New(cfg Config, logger *logging.Logger) (Prober, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	switch cfg.Method {
	case "", MethodICMP:
		return NewICMPProber(logger), nil
	case MethodTCP:
		return NewTCPProber(cfg.TCPPorts, logger), nil
	case MethodNmap:
		return NewNmapProber(logger), nil
	default:
		return nil, fmt.Errorf("unknown probe method %q", cfg.Method)
	}
}
