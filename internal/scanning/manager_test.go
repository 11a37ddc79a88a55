package scanning

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/inventorama/internal/errors"
	"github.com/anstrom/inventorama/internal/logging"
	"github.com/anstrom/inventorama/internal/models"
	"github.com/anstrom/inventorama/internal/probe"
	"github.com/anstrom/inventorama/internal/targets"
)

func blockingProber() probe.Prober {
	return probe.Func(func(ctx context.Context, _ string, _ time.Duration) (bool, error) {
		<-ctx.Done()
		return false, ctx.Err()
	})
}

func TestManager_SingleActiveRun(t *testing.T) {
	m := NewManager(NewOrchestrator(blockingProber(), nil, logging.NewNop()), nil)

	_, ok := m.Current()
	assert.False(t, ok)
	assert.False(t, m.Cancel())

	run, err := m.StartScan(context.Background(), targets.Single("10.0.0.1"), scanConfig(1, models.NoCapabilities))
	require.NoError(t, err)

	_, err = m.StartScan(context.Background(), targets.Single("10.0.0.2"), scanConfig(1, models.NoCapabilities))
	require.Error(t, err)
	assert.Equal(t, errors.CodeValidation, errors.GetCode(err))
	assert.ErrorIs(t, err, ErrRunActive)

	current, ok := m.Current()
	require.True(t, ok)
	assert.Equal(t, run.ID(), current.ID())

	assert.True(t, m.Cancel())
	summary := run.Wait()
	assert.Equal(t, 1, summary.Count(models.StatusCancelled))
	assert.False(t, m.Cancel())

	next, err := m.StartScan(context.Background(), targets.Single("10.0.0.2"), scanConfig(1, models.NoCapabilities))
	require.NoError(t, err)
	assert.NotEqual(t, run.ID(), next.ID())
	next.Cancel()
	next.Wait()
}

func TestManager_Subscribe(t *testing.T) {
	m := NewManager(NewOrchestrator(probe.Always(false), nil, logging.NewNop()), logging.NewNop())
	events, unsubscribe := m.Subscribe()
	defer unsubscribe()

	run, err := m.StartScan(context.Background(), targets.Single("10.0.0.1"), scanConfig(1, models.NoCapabilities))
	require.NoError(t, err)
	run.Wait()

	var statuses []models.Status
	timeout := time.After(2 * time.Second)
	for len(statuses) < 3 {
		select {
		case rec := <-events:
			statuses = append(statuses, rec.Status)
		case <-timeout:
			t.Fatalf("timed out waiting for events, got %v", statuses)
		}
	}
	assert.Equal(t, []models.Status{models.StatusPending, models.StatusProbing, models.StatusNotReachable}, statuses)
}

func TestManager_UnsubscribeClosesChannel(t *testing.T) {
	m := NewManager(NewOrchestrator(probe.Always(true), nil, nil), nil)
	events, unsubscribe := m.Subscribe()
	unsubscribe()
	unsubscribe()

	_, open := <-events
	assert.False(t, open)
}
