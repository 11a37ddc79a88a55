package scanning

import (
	"context"
	"sync"

	"github.com/anstrom/inventorama/internal/errors"
	"github.com/anstrom/inventorama/internal/logging"
	"github.com/anstrom/inventorama/internal/models"
	"github.com/anstrom/inventorama/internal/targets"
)

const subscriberBuffer = 256

// ErrRunActive is returned by StartScan while another run is in progress.
var ErrRunActive = errors.NewScanError(errors.CodeValidation, "a scan is already running")

// Manager owns at most one active run for long-lived processes and fans
// its events out to subscribers.
type Manager struct {
	orch   *Orchestrator
	logger *logging.Logger

	mu          sync.Mutex
	current     *Run
	subscribers map[int]chan models.ScanRecord
	nextSub     int
}

// NewManager creates a manager around orch.
func NewManager(orch *Orchestrator, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		orch:        orch,
		logger:      logger.WithComponent("scan-manager"),
		subscribers: make(map[int]chan models.ScanRecord),
	}
}

// Orchestrator returns the orchestrator runs are started on.
func (m *Manager) Orchestrator() *Orchestrator {
	return m.orch
}

// StartScan expands in and starts a run. It fails with ErrRunActive while
// another run is in progress.
func (m *Manager) StartScan(ctx context.Context, in targets.Input, cfg models.ScanConfig) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		select {
		case <-m.current.Done():
		default:
			return nil, ErrRunActive
		}
	}

	run, err := m.orch.Start(ctx, targets.Expand(in), cfg)
	if err != nil {
		return nil, err
	}
	m.current = run
	go m.pump(run)
	return run, nil
}

// Current returns the most recent run, which may already be finished.
func (m *Manager) Current() (*Run, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current, m.current != nil
}

// Cancel cancels the active run. It reports false when nothing is running.
func (m *Manager) Cancel() bool {
	m.mu.Lock()
	run := m.current
	m.mu.Unlock()

	if run == nil {
		return false
	}
	select {
	case <-run.Done():
		return false
	default:
		run.Cancel()
		return true
	}
}

// Subscribe returns a channel receiving every transition published after
// the call and a function that ends the subscription. Slow subscribers lose
// events rather than stall the run.
func (m *Manager) Subscribe() (<-chan models.ScanRecord, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextSub
	m.nextSub++
	ch := make(chan models.ScanRecord, subscriberBuffer)
	m.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if _, ok := m.subscribers[id]; ok {
				delete(m.subscribers, id)
				close(ch)
			}
		})
	}
}

func (m *Manager) pump(run *Run) {
	for rec := range run.Events() {
		m.mu.Lock()
		for id, ch := range m.subscribers {
			select {
			case ch <- rec:
			default:
				m.logger.Debug("subscriber lagging, event dropped", "subscriber", id, "target", rec.Address)
			}
		}
		m.mu.Unlock()
	}
}
