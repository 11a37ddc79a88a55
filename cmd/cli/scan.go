package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/anstrom/inventorama/internal/config"
	"github.com/anstrom/inventorama/internal/metrics"
	"github.com/anstrom/inventorama/internal/models"
	"github.com/anstrom/inventorama/internal/output"
	"github.com/anstrom/inventorama/internal/probe"
	"github.com/anstrom/inventorama/internal/remote"
	"github.com/anstrom/inventorama/internal/scanning"
	"github.com/anstrom/inventorama/internal/targets"
)

// scanOptions holds the scan command flags.
type scanOptions struct {
	ip           string
	segment      string
	file         string
	capabilities []string
	concurrency  int
	timeoutMS    int
	output       string
	autoSave     bool
	overwrite    bool
	probe        string
	tcpPorts     []int
	remote       string
	fixture      string
	quiet        bool
}

var summaryOrder = []models.Status{
	models.StatusComplete,
	models.StatusError,
	models.StatusNotReachable,
	models.StatusInvalid,
	models.StatusCancelled,
}

func newScanCmd(a *app) *cobra.Command {
	opts := &scanOptions{}

	cmd := &cobra.Command{
		Use:   "scan [input]",
		Short: "Scan targets and collect inventory from reachable hosts",
		Long: `Scan one address, a /24 segment or a list file. Each target is probed
for reachability and reachable hosts are queried for the selected
capabilities. Results are printed as a table and, with --output, appended
to a CSV file.

An input argument is detected as an address ("10.0.0.1") or a segment
("10.0.0"). Press Ctrl-C to cancel; finished records are kept.`,
		Example: `  inventorama scan 192.168.1
  inventorama scan --ip 192.168.1.20 --capabilities all
  inventorama scan --file hosts.txt --capabilities hostname,ram-size --output inventory.csv
  inventorama scan --segment 10.0.4 --probe tcp --concurrency 64 --auto-save`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runScan(cmd, opts, args)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.ip, "ip", "", "single IPv4 address to scan")
	flags.StringVar(&opts.segment, "segment", "", "first three octets of a /24 segment, e.g. 192.168.1")
	flags.StringVar(&opts.file, "file", "", "text file with one address or segment per line")
	flags.StringSliceVar(&opts.capabilities, "capabilities", nil,
		"capabilities to collect: "+capabilityNames()+", all or none")
	flags.IntVar(&opts.concurrency, "concurrency", 0, "maximum number of targets in flight")
	flags.IntVar(&opts.timeoutMS, "timeout", 0, "reachability probe timeout in milliseconds")
	flags.StringVarP(&opts.output, "output", "o", "", "CSV file to append results to")
	flags.BoolVar(&opts.autoSave, "auto-save", false, "write each record as soon as it is finished")
	flags.BoolVar(&opts.overwrite, "overwrite", false, "truncate the output file before scanning")
	flags.StringVar(&opts.probe, "probe", "", "reachability probe: icmp, tcp or nmap")
	flags.IntSliceVar(&opts.tcpPorts, "tcp-ports", nil, "ports dialed by the tcp probe")
	flags.StringVar(&opts.remote, "remote", "", "remote query backend: snmp, ssh or fixture")
	flags.StringVar(&opts.fixture, "fixture", "", "answer remote queries from a fixture file")
	flags.BoolVarP(&opts.quiet, "quiet", "q", false, "do not print the result table")

	cmd.MarkFlagsMutuallyExclusive("ip", "segment", "file")
	_ = cmd.MarkFlagFilename("file", "txt", "csv")
	_ = cmd.MarkFlagFilename("output", "csv")
	return cmd
}

func capabilityNames() string {
	names := make([]string, len(models.AllCapabilities))
	for i, c := range models.AllCapabilities {
		names[i] = c.String()
	}
	return strings.Join(names, ", ")
}

// applyScanFlags overrides configuration with the flags given on the
// command line.
func applyScanFlags(cmd *cobra.Command, opts *scanOptions, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("capabilities") {
		cfg.Scan.Capabilities = opts.capabilities
	}
	if flags.Changed("concurrency") {
		cfg.Scan.MaxConcurrency = opts.concurrency
	}
	if flags.Changed("timeout") {
		cfg.Scan.ProbeTimeout = time.Duration(opts.timeoutMS) * time.Millisecond
	}
	if flags.Changed("output") {
		cfg.Output.Path = opts.output
	}
	if flags.Changed("auto-save") {
		cfg.Scan.AutoSave = opts.autoSave
	}
	if flags.Changed("overwrite") {
		cfg.Output.Overwrite = opts.overwrite
	}
	if flags.Changed("probe") {
		cfg.Probe.Method = probe.Method(opts.probe)
	}
	if flags.Changed("tcp-ports") {
		cfg.Probe.TCPPorts = opts.tcpPorts
	}
	if flags.Changed("remote") {
		cfg.Remote.Backend = remote.Backend(opts.remote)
	}
	if flags.Changed("fixture") {
		cfg.Remote.Backend = remote.BackendFixture
		cfg.Remote.Fixture.Path = opts.fixture
	}
}

// scanInput resolves the target input from flags or the positional
// argument.
func scanInput(opts *scanOptions, args []string) (targets.Input, error) {
	given := 0
	for _, s := range []string{opts.ip, opts.segment, opts.file} {
		if s != "" {
			given++
		}
	}
	if len(args) > 0 {
		given++
	}

	switch {
	case given == 0:
		return targets.Input{}, fmt.Errorf("no targets: pass an input argument or one of --ip, --segment, --file")
	case given > 1:
		return targets.Input{}, fmt.Errorf("only one of the input argument, --ip, --segment and --file may be given")
	case opts.ip != "":
		return targets.Single(opts.ip), nil
	case opts.segment != "":
		return targets.Segment(opts.segment), nil
	case opts.file != "":
		return targets.ReadList(opts.file)
	default:
		return targets.Parse(args[0]), nil
	}
}

func (a *app) runScan(cmd *cobra.Command, opts *scanOptions, args []string) error {
	in, err := scanInput(opts, args)
	if err != nil {
		return err
	}

	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	applyScanFlags(cmd, opts, cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	logger, err := a.newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := metrics.NewRegistry()
	p, err := buildPipeline(ctx, cfg, logger, registry)
	if err != nil {
		return err
	}
	defer p.Close()

	run, err := p.orch.Start(ctx, targets.Expand(in), p.settings)
	if err != nil {
		return err
	}

	if a.verbose {
		errOut := cmd.ErrOrStderr()
		for rec := range run.Events() {
			printTransition(errOut, rec)
		}
	} else {
		run.DiscardEvents()
	}
	summary := run.Wait()
	records := run.Records()

	out := cmd.OutOrStdout()
	if !opts.quiet {
		if err := output.RenderTable(out, records, p.columns); err != nil {
			return fmt.Errorf("failed to render results: %w", err)
		}
	}

	// Without auto-save the snapshot is written once the run is over.
	if !p.settings.AutoPersist {
		if err := saveSnapshot(context.WithoutCancel(ctx), p, run.ID(), records); err != nil {
			return err
		}
	}

	printSummary(out, summary, registry)
	if p.csv != nil {
		fmt.Fprintf(out, "Results written to %s\n", p.csv.Path())
	}
	return nil
}

// saveSnapshot writes the records of a finished run to the configured
// sinks.
func saveSnapshot(ctx context.Context, p *pipeline, runID string, records []models.ScanRecord) error {
	if p.csv != nil {
		if err := p.csv.EnsureHeader(p.columns); err != nil {
			return fmt.Errorf("failed to save results: %w", err)
		}
		if err := p.csv.AppendAll(records, p.columns); err != nil {
			return fmt.Errorf("failed to save results: %w", err)
		}
	}
	if p.repo != nil {
		id, err := uuid.Parse(runID)
		if err != nil {
			return err
		}
		if err := p.repo.InsertBatch(ctx, id, records); err != nil {
			return fmt.Errorf("failed to store results: %w", err)
		}
	}
	return nil
}

func printTransition(w io.Writer, rec models.ScanRecord) {
	if rec.Detail != "" {
		fmt.Fprintf(w, "%-15s %-12s %s\n", rec.Address, rec.Status, rec.Detail)
		return
	}
	fmt.Fprintf(w, "%-15s %s\n", rec.Address, rec.Status)
}

func printSummary(w io.Writer, summary scanning.Summary, registry *metrics.Registry) {
	fmt.Fprintf(w, "\nScanned %d targets in %s\n", summary.Total, summary.Duration.Round(time.Millisecond))
	for _, st := range summaryOrder {
		if n := summary.Count(st); n > 0 {
			fmt.Fprintf(w, "  %-13s %d\n", st, n)
		}
	}
	for _, c := range models.AllCapabilities {
		if n := registry.Value(metrics.MetricFetchFailures, metrics.Labels{"capability": c.String()}); n > 0 {
			fmt.Fprintf(w, "  %s unavailable on %d hosts\n", c, int(n))
		}
	}
	if summary.PersistFailures > 0 {
		fmt.Fprintf(w, "  %d records could not be saved\n", summary.PersistFailures)
	}
	if summary.Cancelled {
		fmt.Fprintln(w, "Scan cancelled")
	}
}
