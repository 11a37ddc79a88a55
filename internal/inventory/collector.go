// Package inventory gathers the remote properties of a reachable host and
// renders them into record fields.
//
// A Collector opens one remote session per host and runs a fixed table of
// fetchers, one per capability, in capability order. A failing fetcher only
// loses its own field.
package inventory

import (
	"context"
	"fmt"

	"github.com/anstrom/inventorama/internal/errors"
	"github.com/anstrom/inventorama/internal/logging"
	"github.com/anstrom/inventorama/internal/metrics"
	"github.com/anstrom/inventorama/internal/models"
	"github.com/anstrom/inventorama/internal/remote"
)

// Result is the outcome of one collection. Fields holds the rendered value
// for every capability that was fetched successfully; Failed and Failures
// describe the ones that were not.
type Result struct {
	Fields   map[models.Capability]string
	Failed   models.CapabilitySet
	Failures map[models.Capability]error
}

func newResult() Result {
	return Result{
		Fields:   make(map[models.Capability]string),
		Failures: make(map[models.Capability]error),
	}
}

// AllFailed reports whether every requested capability failed. A fetch
// that succeeded with an empty value does not count as a failure.
func (r Result) AllFailed(requested models.CapabilitySet) bool {
	requested &= models.FullCapabilities
	return requested != 0 && r.Failed&requested == requested
}

// FirstFailure returns the failure of the lowest failed capability.
func (r Result) FirstFailure() error {
	for _, c := range r.Failed.List() {
		if err := r.Failures[c]; err != nil {
			return err
		}
	}
	return nil
}

// Apply copies the collected fields onto rec.
func (r Result) Apply(rec *models.ScanRecord) error {
	for _, c := range models.AllCapabilities {
		v, ok := r.Fields[c]
		if !ok {
			continue
		}
		if err := rec.SetField(c, v); err != nil {
			return err
		}
	}
	return nil
}

// Option configures a Collector.
type Option func(*Collector)

// WithResolver enables the reverse-DNS hostname fallback.
func WithResolver(r Resolver) Option {
	return func(c *Collector) { c.resolver = r }
}

// WithRecorder reports fetch failures to r.
func WithRecorder(r metrics.Recorder) Option {
	return func(c *Collector) {
		if r != nil {
			c.recorder = r
		}
	}
}

// Collector queries hosts through a remote.Querier.
type Collector struct {
	querier  remote.Querier
	resolver Resolver
	recorder metrics.Recorder
	logger   *logging.Logger
}

// NewCollector creates a collector backed by querier.
func NewCollector(querier remote.Querier, logger *logging.Logger, opts ...Option) *Collector {
	if logger == nil {
		logger = logging.NewNop()
	}
	c := &Collector{
		querier:  querier,
		recorder: metrics.Nop{},
		logger:   logger.WithComponent("inventory"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// fetch holds the per-collect session and the shared query results.
type fetch struct {
	address string
	session remote.Session

	cs    *remote.ComputerSystem
	csErr error
	os    *remote.OperatingSystem
	osErr error
}

func (f *fetch) computerSystem(ctx context.Context) (remote.ComputerSystem, error) {
	if f.cs == nil && f.csErr == nil {
		cs, err := f.session.ComputerSystem(ctx)
		if err != nil {
			f.csErr = err
		} else {
			f.cs = &cs
		}
	}
	if f.csErr != nil {
		return remote.ComputerSystem{}, f.csErr
	}
	return *f.cs, nil
}

func (f *fetch) operatingSystem(ctx context.Context) (remote.OperatingSystem, error) {
	if f.os == nil && f.osErr == nil {
		osInfo, err := f.session.OperatingSystem(ctx)
		if err != nil {
			f.osErr = err
		} else {
			f.os = &osInfo
		}
	}
	if f.osErr != nil {
		return remote.OperatingSystem{}, f.osErr
	}
	return *f.os, nil
}

type fetcher func(ctx context.Context, c *Collector, f *fetch) (string, error)

var fetchers = map[models.Capability]fetcher{
	models.CapHostname:          fetchHostname,
	models.CapLastLoggedUser:    fetchLastLoggedUser,
	models.CapMachineType:       fetchMachineType,
	models.CapMachineSKU:        fetchMachineSKU,
	models.CapInstalledSoftware: fetchInstalledSoftware,
	models.CapRAMSize:           fetchRAMSize,
	models.CapWindowsVersion:    fetchWindowsVersion,
	models.CapWindowsRelease:    fetchWindowsRelease,
}

// Collect fetches every capability in caps from address. A connection
// failure is returned as a coded error before any fetcher runs.
// Cancellation returns ctx.Err() together with what was collected so far.
func (c *Collector) Collect(ctx context.Context, address string, caps models.CapabilitySet) (Result, error) {
	result := newResult()
	if caps.Empty() {
		return result, nil
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}

	session, err := c.querier.Connect(ctx, address)
	if err != nil {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		if errors.GetCode(err) == errors.CodeUnknown {
			err = errors.WrapScanErrorWithTarget(errors.CodeUnknown, "Remote session failed", address, err)
		}
		return result, err
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			c.logger.Debug("failed to close remote session", "target", address, "error", cerr)
		}
	}()

	f := &fetch{address: address, session: session}
	for _, capability := range caps.List() {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		value, err := fetchers[capability](ctx, c, f)
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			c.logger.WarnFetch(address, capability.String(), err)
			c.recorder.FetchFailed(capability.String())
			result.Failed = result.Failed.With(capability)
			result.Failures[capability] = err
			continue
		}
		result.Fields[capability] = orNA(value)
	}
	return result, nil
}

func orNA(v string) string {
	if v == "" {
		return models.NotApplicable
	}
	return v
}

func fetchHostname(ctx context.Context, c *Collector, f *fetch) (string, error) {
	cs, err := f.computerSystem(ctx)
	if err == nil && cs.Name != "" {
		return cs.Name, nil
	}
	if c.resolver != nil {
		name, rerr := c.resolver.LookupPTR(ctx, f.address)
		if rerr == nil && name != "" {
			return name, nil
		}
		c.logger.Debug("reverse lookup failed", "target", f.address, "error", rerr)
	}
	return "", err
}

func fetchLastLoggedUser(ctx context.Context, _ *Collector, f *fetch) (string, error) {
	cs, err := f.computerSystem(ctx)
	return cs.UserName, err
}

func fetchMachineType(ctx context.Context, _ *Collector, f *fetch) (string, error) {
	cs, err := f.computerSystem(ctx)
	return cs.Model, err
}

func fetchMachineSKU(ctx context.Context, _ *Collector, f *fetch) (string, error) {
	return f.session.ProductVersion(ctx)
}

func fetchInstalledSoftware(ctx context.Context, _ *Collector, f *fetch) (string, error) {
	products, err := f.session.InstalledProducts(ctx, MaxSoftwareEntries)
	if err != nil {
		return "", err
	}
	return FormatSoftware(products), nil
}

func fetchRAMSize(ctx context.Context, _ *Collector, f *fetch) (string, error) {
	modules, err := f.session.MemoryModules(ctx)
	if err != nil {
		return "", err
	}
	return FormatRAM(modules), nil
}

func fetchWindowsVersion(ctx context.Context, _ *Collector, f *fetch) (string, error) {
	osInfo, err := f.operatingSystem(ctx)
	return osInfo.Caption, err
}

func fetchWindowsRelease(ctx context.Context, _ *Collector, f *fetch) (string, error) {
	osInfo, err := f.operatingSystem(ctx)
	if err != nil {
		return "", err
	}
	return ReleaseLabel(osInfo.BuildNumber), nil
}

// PartialDetail renders the detail of a Complete record whose fetchers
// partly failed.
func PartialDetail(failed models.CapabilitySet) string {
	return fmt.Sprintf("Partial: %s unavailable", failed)
}
