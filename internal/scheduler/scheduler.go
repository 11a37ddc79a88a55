// Package scheduler starts a recurring inventory scan from the server
// configuration. Each tick expands the configured input again, so list
// files edited between runs are picked up.
package scheduler

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/anstrom/inventorama/internal/config"
	"github.com/anstrom/inventorama/internal/logging"
	"github.com/anstrom/inventorama/internal/models"
	"github.com/anstrom/inventorama/internal/scanning"
	"github.com/anstrom/inventorama/internal/targets"
)

// Status describes the schedule and its most recent tick.
type Status struct {
	Enabled   bool      `json:"enabled"`
	Cron      string    `json:"cron"`
	Running   bool      `json:"running"`
	NextRun   time.Time `json:"next_run,omitempty"`
	LastRun   time.Time `json:"last_run,omitempty"`
	LastRunID string    `json:"last_run_id,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	Skipped   int       `json:"skipped"`
}

// Scheduler triggers scans on a cron schedule through a scan manager.
type Scheduler struct {
	cron     *cron.Cron
	schedule cron.Schedule
	manager  *scanning.Manager
	cfg      config.ScheduleConfig
	settings models.ScanConfig
	logger   *logging.Logger

	mu        sync.RWMutex
	running   bool
	entryID   cron.EntryID
	lastRun   time.Time
	lastRunID string
	lastErr   error
	skipped   int

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a scheduler for cfg. Runs use settings and are started on
// manager, so a scheduled scan never overlaps one started over the API.
func New(cfg config.ScheduleConfig, settings models.ScanConfig, manager *scanning.Manager, logger *logging.Logger) (*Scheduler, error) {
	if manager == nil {
		return nil, fmt.Errorf("scan manager is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	schedule, err := cron.ParseStandard(cfg.Cron)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:     cron.New(),
		schedule: schedule,
		manager:  manager,
		cfg:      cfg,
		settings: settings,
		logger:   logger.WithComponent("scheduler"),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start registers the scan job and starts the cron loop.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}
	if s.ctx.Err() != nil {
		return fmt.Errorf("scheduler has been stopped")
	}

	s.entryID = s.cron.Schedule(s.schedule, cron.FuncJob(s.tick))
	s.cron.Start()
	s.running = true

	s.logger.Info("Scheduler started", "cron", s.cfg.Cron, "input", s.cfg.Input, "kind", s.cfg.Kind)
	return nil
}

// Stop halts the cron loop, cancels a scheduled run still in progress and
// waits for a tick that is starting a run to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		s.cancel()
		return
	}
	s.running = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.cancel()
	s.logger.Info("Scheduler stopped")
}

// RunNow starts the scheduled scan immediately.
func (s *Scheduler) RunNow(ctx context.Context) (*scanning.Run, error) {
	in, err := targets.FromKind(s.cfg.Kind, s.cfg.Input, nil)
	if err != nil {
		return nil, err
	}
	return s.manager.StartScan(ctx, in, s.settings)
}

// Trigger starts the scheduled scan outside the cron loop. The run is
// cancelled by Stop like a scheduled one.
func (s *Scheduler) Trigger() (*scanning.Run, error) {
	return s.RunNow(s.ctx)
}

func (s *Scheduler) tick() {
	run, err := s.Trigger()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun = time.Now()

	switch {
	case stderrors.Is(err, scanning.ErrRunActive):
		s.skipped++
		s.logger.Info("Scheduled scan skipped, a scan is already running")
	case err != nil:
		s.lastErr = err
		s.logger.Error("Scheduled scan failed to start", "error", err)
	default:
		s.lastErr = nil
		s.lastRunID = run.ID()
		s.logger.Info("Scheduled scan started", "run_id", run.ID())
	}
}

// NextRun returns the next activation time after now.
func (s *Scheduler) NextRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.running {
		if next := s.cron.Entry(s.entryID).Next; !next.IsZero() {
			return next
		}
	}
	return s.schedule.Next(time.Now())
}

// Status returns a snapshot of the schedule state.
func (s *Scheduler) Status() Status {
	next := s.NextRun()

	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Status{
		Enabled:   s.cfg.Enabled,
		Cron:      s.cfg.Cron,
		Running:   s.running,
		NextRun:   next,
		LastRun:   s.lastRun,
		LastRunID: s.lastRunID,
		Skipped:   s.skipped,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}
