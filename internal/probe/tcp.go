package probe

import (
	"context"
	"errors"
	"net"
	"strconv"
	"syscall"
	"time"

	"github.com/anstrom/inventorama/internal/logging"
)

// DefaultTCPPorts are commonly open on Windows and Unix hosts.
var DefaultTCPPorts = []int{135, 445, 22, 3389}

// TCPProber treats a host as alive when any port accepts or actively
// refuses a connection. It works without raw socket privileges.
type TCPProber struct {
	ports  []int
	dialer net.Dialer
	logger *logging.Logger
}

// NewTCPProber creates a TCP connect prober. An empty port list uses
// DefaultTCPPorts.
func NewTCPProber(ports []int, logger *logging.Logger) *TCPProber {
	if len(ports) == 0 {
		ports = DefaultTCPPorts
	}
	return &TCPProber{
		ports:  append([]int(nil), ports...),
		logger: logger.WithComponent("probe.tcp"),
	}
}

// Probe implements Prober. Ports are dialed concurrently and the first
// positive answer wins.
func (p *TCPProber) Probe(ctx context.Context, address string, timeout time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	results := make(chan bool, len(p.ports))
	for _, port := range p.ports {
		go func(port int) {
			results <- p.dial(probeCtx, net.JoinHostPort(address, strconv.Itoa(port)))
		}(port)
	}

	for range p.ports {
		select {
		case alive := <-results:
			if alive {
				return true, nil
			}
		case <-probeCtx.Done():
			return false, ctx.Err()
		}
	}
	return false, nil
}

func (p *TCPProber) dial(ctx context.Context, hostport string) bool {
	conn, err := p.dialer.DialContext(ctx, "tcp", hostport)
	if err == nil {
		_ = conn.Close()
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	p.logger.Debug("tcp probe failed", "addr", hostport, "error", err)
	return false
}
