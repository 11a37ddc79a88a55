package probe

import (
	"context"
	"time"

	"github.com/Ullaakut/nmap/v3"

	"github.com/anstrom/inventorama/internal/logging"
)

// NmapProber runs an nmap host discovery scan against a single address.
// It requires the nmap binary on PATH; if nmap cannot run the host is
// reported as down.
type NmapProber struct {
	logger *logging.Logger
}

// NewNmapProber creates an nmap backed prober.
func NewNmapProber(logger *logging.Logger) *NmapProber {
	return &NmapProber{logger: logger.WithComponent("probe.nmap")}
}

// Probe implements Prober.
func (p *NmapProber) Probe(ctx context.Context, address string, timeout time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	scanner, err := nmap.NewScanner(probeCtx, buildNmapOptions(address, timeout)...)
	if err != nil {
		p.logger.Debug("failed to create nmap scanner", "target", address, "error", err)
		return false, nil
	}

	result, warnings, err := scanner.Run()
	if err != nil {
		p.logger.Debug("nmap ping scan failed", "target", address, "error", err)
		return false, ctx.Err()
	}
	if warnings != nil && len(*warnings) > 0 {
		p.logger.Debug("nmap reported warnings", "target", address, "warnings", *warnings)
	}

	for i := range result.Hosts {
		if hostUp(&result.Hosts[i], address) {
			return true, nil
		}
	}
	return false, nil
}

func buildNmapOptions(address string, timeout time.Duration) []nmap.Option {
	options := []nmap.Option{
		nmap.WithTargets(address),
		nmap.WithPingScan(),
	}
	if timeout <= 2*time.Second {
		options = append(options, nmap.WithTimingTemplate(nmap.TimingAggressive))
	} else {
		options = append(options, nmap.WithTimingTemplate(nmap.TimingNormal))
	}
	return options
}

func hostUp(host *nmap.Host, address string) bool {
	if host.Status.State != "up" {
		return false
	}
	for _, addr := range host.Addresses {
		if addr.Addr == address {
			return true
		}
	}
	return false
}
