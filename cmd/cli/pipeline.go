package cli

import (
	"context"
	"fmt"

	"github.com/anstrom/inventorama/internal/config"
	"github.com/anstrom/inventorama/internal/db"
	"github.com/anstrom/inventorama/internal/inventory"
	"github.com/anstrom/inventorama/internal/logging"
	"github.com/anstrom/inventorama/internal/metrics"
	"github.com/anstrom/inventorama/internal/models"
	"github.com/anstrom/inventorama/internal/output"
	"github.com/anstrom/inventorama/internal/probe"
	"github.com/anstrom/inventorama/internal/remote"
	"github.com/anstrom/inventorama/internal/scanning"
)

// pipeline is the scan machinery assembled from one configuration.
type pipeline struct {
	settings models.ScanConfig
	columns  []output.Column
	csv      *output.CSVSink
	database *db.DB
	repo     *db.RecordRepository
	orch     *scanning.Orchestrator
	logger   *logging.Logger
}

// buildPipeline wires the prober, the remote collector and the result
// sinks named by cfg. Sinks are attached to the orchestrator and only
// receive records of runs with auto-save enabled.
func buildPipeline(ctx context.Context, cfg *config.Config, logger *logging.Logger, recorder metrics.Recorder) (*pipeline, error) {
	settings, err := cfg.ScanSettings()
	if err != nil {
		return nil, err
	}

	prober, err := probe.New(cfg.Probe, logger)
	if err != nil {
		return nil, err
	}

	p := &pipeline{
		settings: settings,
		columns:  output.Columns(settings.Capabilities),
		logger:   logger,
	}

	var collector scanning.Collector
	if !settings.Capabilities.Empty() {
		c, err := newCollector(cfg, settings.Capabilities, logger, recorder)
		if err != nil {
			return nil, err
		}
		collector = c
	}

	var sinks []scanning.Sink
	if cfg.Output.Path != "" {
		p.csv = output.NewCSVSink(cfg.Output.Path, logger)
		if cfg.Output.Overwrite {
			if err := p.csv.Truncate(); err != nil {
				return nil, fmt.Errorf("failed to truncate %s: %w", cfg.Output.Path, err)
			}
		}
		sinks = append(sinks, p.csv.Writer(p.columns))
	}

	if cfg.Database.Enabled {
		database, err := db.ConnectAndMigrate(ctx, cfg.Database, logger)
		if err != nil {
			return nil, err
		}
		p.database = database
		p.repo = db.NewRecordRepository(database)
		sinks = append(sinks, db.NewRecordSink(p.repo))
	}

	p.orch = scanning.NewOrchestrator(prober, collector, logger,
		scanning.WithSinks(sinks...),
		scanning.WithRecorder(recorder))
	return p, nil
}

func newCollector(cfg *config.Config, caps models.CapabilitySet, logger *logging.Logger, recorder metrics.Recorder) (*inventory.Collector, error) {
	querier, err := remote.New(cfg.Remote, logger)
	if err != nil {
		return nil, err
	}

	opts := []inventory.Option{inventory.WithRecorder(recorder)}
	if caps.Has(models.CapHostname) {
		resolver, err := inventory.NewDNSResolver(cfg.Scan.DNSServer, cfg.Scan.ProbeTimeout)
		if err != nil {
			logger.Warn("reverse lookup fallback disabled", "error", err)
		} else {
			opts = append(opts, inventory.WithResolver(resolver))
		}
	}
	return inventory.NewCollector(querier, logger, opts...), nil
}

// Close releases the database connection, if any.
func (p *pipeline) Close() {
	if p.database == nil {
		return
	}
	if err := p.database.Close(); err != nil {
		p.logger.Error("Failed to close database connection", "error", err)
	}
}
