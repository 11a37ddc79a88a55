package scanning

import (
	"context"
	"fmt"
	"iter"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/anstrom/inventorama/internal/errors"
	"github.com/anstrom/inventorama/internal/inventory"
	"github.com/anstrom/inventorama/internal/logging"
	"github.com/anstrom/inventorama/internal/metrics"
	"github.com/anstrom/inventorama/internal/models"
	"github.com/anstrom/inventorama/internal/probe"
	"github.com/anstrom/inventorama/internal/status"
	"github.com/anstrom/inventorama/internal/targets"
)

// eventBuffer is the capacity of the channel returned by Run.Events.
const eventBuffer = 64

var cancelDetail = errors.Detail(context.Canceled)

type runIDKey struct{}

// RunIDFrom returns the identifier of the run a sink write belongs to.
func RunIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(runIDKey{}).(string)
	return id, ok
}

// Sink receives every record that reaches a terminal status while
// auto-persist is on.
type Sink interface {
	Name() string
	Write(ctx context.Context, rec models.ScanRecord) error
}

// Preparer is implemented by sinks that need setup before the first write.
// A Prepare failure aborts Start.
type Preparer interface {
	Prepare(ctx context.Context) error
}

// Collector gathers the remote properties of a reachable host.
type Collector interface {
	Collect(ctx context.Context, address string, caps models.CapabilitySet) (inventory.Result, error)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithStore publishes record transitions to s instead of a private store.
func WithStore(s *status.Store) Option {
	return func(o *Orchestrator) {
		if s != nil {
			o.store = s
		}
	}
}

// WithSinks sets the destinations for terminal records.
func WithSinks(sinks ...Sink) Option {
	return func(o *Orchestrator) { o.sinks = append(o.sinks, sinks...) }
}

// WithRecorder reports run metrics to r.
func WithRecorder(r metrics.Recorder) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.recorder = r
		}
	}
}

// WithClock overrides the time source used for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// Orchestrator runs targets through the probe and collect stages with
// bounded concurrency. One run at a time should use a given store.
type Orchestrator struct {
	prober    probe.Prober
	collector Collector
	store     *status.Store
	sinks     []Sink
	recorder  metrics.Recorder
	logger    *logging.Logger
	now       func() time.Time
}

// NewOrchestrator creates an orchestrator. collector may be nil when runs
// never select capabilities.
func NewOrchestrator(prober probe.Prober, collector Collector, logger *logging.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = logging.NewNop()
	}
	o := &Orchestrator{
		prober:    prober,
		collector: collector,
		store:     status.NewStore(),
		recorder:  metrics.Nop{},
		logger:    logger.WithComponent("scanning"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Store returns the live status view.
func (o *Orchestrator) Store() *status.Store {
	return o.store
}

// Summary describes a finished run.
type Summary struct {
	ID              string                `json:"id"`
	Total           int                   `json:"total"`
	Counts          map[models.Status]int `json:"counts"`
	PersistFailures int                   `json:"persist_failures"`
	Cancelled       bool                  `json:"cancelled"`
	Started         time.Time             `json:"started"`
	Finished        time.Time             `json:"finished"`
	Duration        time.Duration         `json:"duration"`
}

// Count returns the number of records that ended in st.
func (s Summary) Count(st models.Status) int {
	return s.Counts[st]
}

type item struct {
	target targets.Target
	key    string
	record models.ScanRecord
}

// Run is one execution of a target list.
type Run struct {
	id     string
	cfg    models.ScanConfig
	orch   *Orchestrator
	ctx    context.Context
	cancel context.CancelFunc
	logger *logging.Logger
	rm     *FixedResourceManager
	items  []*item
	events *eventQueue

	done            atomic.Int64
	persistFailures atomic.Int64

	started  time.Time
	finished chan struct{}
	summary  Summary
}

// Start registers every target as Pending (or Invalid) and begins
// scheduling pipelines. The sequence is consumed once. Per-target failures
// are recorded on the records; only resource-level problems are returned.
// The caller must drain Run.Events or call Run.DiscardEvents.
func (o *Orchestrator) Start(ctx context.Context, seq iter.Seq[targets.Target], cfg models.ScanConfig) (*Run, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.WrapConfigError(errors.CodeValidation, "invalid scan configuration", err)
	}
	if o.prober == nil {
		return nil, errors.NewScanError(errors.CodeConfiguration, "no reachability prober configured")
	}

	// Repeated entries get their own store key so each occurrence stays
	// visible in the live view: "10.0.0.1", "10.0.0.1#2", ...
	var items []*item
	seen := make(map[string]int)
	for t := range seq {
		key := t.Key()
		seen[key]++
		if n := seen[key]; n > 1 {
			key = fmt.Sprintf("%s#%d", key, n)
		}
		items = append(items, &item{target: t, key: key})
	}
	if len(items) == 0 {
		return nil, errors.NewScanError(errors.CodeValidation, "no targets to scan")
	}

	if cfg.AutoPersist {
		for _, s := range o.sinks {
			if p, ok := s.(Preparer); ok {
				if err := p.Prepare(ctx); err != nil {
					return nil, fmt.Errorf("failed to prepare %s sink: %w", s.Name(), err)
				}
			}
		}
	}

	id := uuid.NewString()
	runCtx, cancel := context.WithCancel(context.WithValue(ctx, runIDKey{}, id))
	r := &Run{
		id:       id,
		cfg:      cfg,
		orch:     o,
		ctx:      runCtx,
		cancel:   cancel,
		logger:   o.logger.WithScanID(id),
		rm:       NewFixedResourceManager(cfg.MaxConcurrency),
		items:    items,
		events:   newEventQueue(eventBuffer),
		started:  o.now(),
		finished: make(chan struct{}),
	}

	r.logger.Info("scan started",
		"targets", len(items),
		"concurrency", cfg.MaxConcurrency,
		"timeout", cfg.ProbeTimeout,
		"capabilities", cfg.Capabilities.String())

	o.store.Reset()
	for _, it := range items {
		if it.target.Valid {
			it.record = models.NewRecord(it.target.Address, r.started)
		} else {
			it.record = models.NewInvalidRecord(it.target.Raw, r.started)
		}
		r.publish(it)
		if it.record.IsTerminal() {
			r.logger.Warn("invalid target", "input", it.target.Raw, "line", it.target.Line)
			r.terminal(it)
		}
	}

	go r.dispatch()
	return r, nil
}

// Scan runs targets to completion and returns the final records in
// submission order.
func (o *Orchestrator) Scan(ctx context.Context, seq iter.Seq[targets.Target], cfg models.ScanConfig) ([]models.ScanRecord, Summary, error) {
	run, err := o.Start(ctx, seq, cfg)
	if err != nil {
		return nil, Summary{}, err
	}
	run.DiscardEvents()
	summary := run.Wait()
	return run.Records(), summary, nil
}

// ID returns the run identifier.
func (r *Run) ID() string { return r.id }

// Config returns the settings the run was started with.
func (r *Run) Config() models.ScanConfig { return r.cfg }

// Events delivers every record transition in the order it happened and is
// closed once all targets are terminal. Transitions queue up until read.
func (r *Run) Events() <-chan models.ScanRecord { return r.events.out }

// DiscardEvents stops event delivery for callers that only need Wait or
// Records. The Events channel is closed soon after.
func (r *Run) DiscardEvents() { r.events.discard() }

// Progress returns the number of terminal records out of the total.
func (r *Run) Progress() Progress {
	elapsed := r.orch.now().Sub(r.started)
	select {
	case <-r.finished:
		elapsed = r.summary.Duration
	default:
	}
	return newProgress(int(r.done.Load()), len(r.items), elapsed)
}

// Cancel stops scheduling. Pending targets become Cancelled and in-flight
// pipelines stop at their next checkpoint.
func (r *Run) Cancel() {
	r.logger.Info("scan cancellation requested")
	r.cancel()
}

// Done is closed when every target is terminal.
func (r *Run) Done() <-chan struct{} { return r.finished }

// Wait blocks until the run is finished.
func (r *Run) Wait() Summary {
	<-r.finished
	return r.summary
}

// Records blocks until the run is finished and returns the final records in
// submission order.
func (r *Run) Records() []models.ScanRecord {
	<-r.finished
	out := make([]models.ScanRecord, len(r.items))
	for i, it := range r.items {
		out[i] = it.record
	}
	return out
}

// Stats reports the concurrency slots of the run.
func (r *Run) Stats() ResourceStats {
	return r.rm.Stats()
}

func (r *Run) dispatch() {
	defer r.complete()

	var wg sync.WaitGroup
	next := 0
	for ; next < len(r.items); next++ {
		it := r.items[next]
		if !it.target.Valid {
			continue
		}
		slot := strconv.Itoa(next)
		if err := r.rm.Acquire(r.ctx, slot); err != nil {
			break
		}
		if r.ctx.Err() != nil {
			r.rm.Release(slot)
			break
		}
		r.orch.recorder.SetInFlight(r.rm.Active())
		wg.Go(func() {
			defer func() {
				r.rm.Release(slot)
				r.orch.recorder.SetInFlight(r.rm.Active())
			}()
			r.pipeline(it)
		})
	}

	for _, it := range r.items[next:] {
		r.finish(it, models.StatusCancelled, cancelDetail)
	}
	wg.Wait()
}

func (r *Run) pipeline(it *item) {
	addr := it.target.Address
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("pipeline panic", "target", addr, "panic", p)
			r.finish(it, models.StatusError, fmt.Sprintf("Unknown error: %v", p))
		}
	}()

	if r.ctx.Err() != nil {
		r.finish(it, models.StatusCancelled, cancelDetail)
		return
	}

	r.transition(it, models.StatusProbing)
	alive, err := r.orch.prober.Probe(r.ctx, addr, r.cfg.ProbeTimeout)
	switch {
	case r.ctx.Err() != nil:
		r.finish(it, models.StatusCancelled, cancelDetail)
		return
	case err != nil:
		r.logger.ErrorScan("probe failed", addr, err)
		r.finish(it, models.StatusError, errors.Detail(err))
		return
	case !alive:
		r.finish(it, models.StatusNotReachable, errors.Detail(errors.ErrHostUnreachable(addr)))
		return
	}

	r.transition(it, models.StatusQuerying)
	var result inventory.Result
	if r.orch.collector != nil {
		result, err = r.orch.collector.Collect(r.ctx, addr, r.cfg.Capabilities)
	}
	switch {
	case r.ctx.Err() != nil || errors.IsCanceled(err):
		r.finish(it, models.StatusCancelled, cancelDetail)
		return
	case err != nil:
		r.logger.ErrorScan("remote query failed", addr, err)
		r.finish(it, models.StatusError, errors.Detail(err))
		return
	}

	if err := result.Apply(&it.record); err != nil {
		r.finish(it, models.StatusError, errors.Detail(err))
		return
	}
	switch {
	case result.Failed.Empty():
		r.finish(it, models.StatusComplete, "")
	case result.AllFailed(r.cfg.Capabilities):
		r.finish(it, models.StatusError, errors.Detail(result.FirstFailure()))
	default:
		r.finish(it, models.StatusComplete, inventory.PartialDetail(result.Failed))
	}
}

func (r *Run) publish(it *item) {
	r.orch.store.Upsert(it.key, it.record)
	r.events.push(it.record)
}

func (r *Run) transition(it *item, next models.Status) {
	if err := it.record.Transition(next); err != nil {
		panic(fmt.Sprintf("record %s: %v", it.target.Key(), err))
	}
	r.publish(it)
}

// finish is a no-op for records that are already terminal.
func (r *Run) finish(it *item, st models.Status, detail string) {
	if it.record.IsTerminal() {
		return
	}
	if err := it.record.Finish(st, detail); err != nil {
		r.logger.Error("failed to finish record", "target", it.target.Key(), "status", st, "error", err)
		return
	}
	r.publish(it)
	r.terminal(it)
}

func (r *Run) terminal(it *item) {
	r.done.Add(1)
	r.orch.recorder.TargetFinished(string(it.record.Status))
	r.logger.Debug("target finished",
		"target", it.target.Key(),
		"status", it.record.Status,
		"detail", it.record.Detail)

	if r.cfg.AutoPersist {
		r.persist(it.record)
	}
}

func (r *Run) persist(rec models.ScanRecord) {
	for _, s := range r.orch.sinks {
		if err := s.Write(context.WithoutCancel(r.ctx), rec); err != nil {
			r.persistFailures.Add(1)
			r.orch.recorder.PersistFailed(s.Name())
			r.logger.ErrorPersist("failed to persist record", rec.Address, err)
		}
	}
}

func (r *Run) complete() {
	cancelled := r.ctx.Err() != nil
	_ = r.rm.Close()
	r.cancel()

	finished := r.orch.now()
	counts := make(map[models.Status]int)
	for _, it := range r.items {
		counts[it.record.Status]++
	}
	r.summary = Summary{
		ID:              r.id,
		Total:           len(r.items),
		Counts:          counts,
		PersistFailures: int(r.persistFailures.Load()),
		Cancelled:       cancelled,
		Started:         r.started,
		Finished:        finished,
		Duration:        finished.Sub(r.started),
	}
	r.orch.recorder.ScanCompleted(r.summary.Duration, r.summary.Total)
	r.orch.recorder.SetInFlight(0)

	r.logger.Info("scan finished",
		"targets", r.summary.Total,
		"complete", counts[models.StatusComplete],
		"not_reachable", counts[models.StatusNotReachable],
		"errors", counts[models.StatusError],
		"cancelled", counts[models.StatusCancelled],
		"invalid", counts[models.StatusInvalid],
		"persist_failures", r.summary.PersistFailures,
		"duration", r.summary.Duration)

	r.events.close()
	close(r.finished)
}
