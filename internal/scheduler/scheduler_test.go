package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/inventorama/internal/config"
	"github.com/anstrom/inventorama/internal/logging"
	"github.com/anstrom/inventorama/internal/models"
	"github.com/anstrom/inventorama/internal/probe"
	"github.com/anstrom/inventorama/internal/scanning"
)

func settings() models.ScanConfig {
	return models.ScanConfig{
		MaxConcurrency: 4,
		ProbeTimeout:   100 * time.Millisecond,
		Capabilities:   models.NoCapabilities,
	}
}

func blockingProber() probe.Prober {
	return probe.Func(func(ctx context.Context, _ string, _ time.Duration) (bool, error) {
		<-ctx.Done()
		return false, ctx.Err()
	})
}

func newManager(prober probe.Prober) *scanning.Manager {
	return scanning.NewManager(scanning.NewOrchestrator(prober, nil, logging.NewNop()), logging.NewNop())
}

func TestNew(t *testing.T) {
	manager := newManager(probe.Always(false))

	tests := []struct {
		name     string
		cfg      config.ScheduleConfig
		settings models.ScanConfig
		manager  *scanning.Manager
		wantErr  bool
	}{
		{name: "standard expression", cfg: config.ScheduleConfig{Cron: "*/5 * * * *", Input: "10.0.0.1"}, settings: settings(), manager: manager},
		{name: "descriptor", cfg: config.ScheduleConfig{Cron: "@hourly", Input: "10.0.0.1"}, settings: settings(), manager: manager},
		{name: "invalid expression", cfg: config.ScheduleConfig{Cron: "every tuesday"}, settings: settings(), manager: manager, wantErr: true},
		{name: "seconds field rejected", cfg: config.ScheduleConfig{Cron: "0 */5 * * * *"}, settings: settings(), manager: manager, wantErr: true},
		{name: "invalid settings", cfg: config.ScheduleConfig{Cron: "@daily"}, settings: models.ScanConfig{}, manager: manager, wantErr: true},
		{name: "missing manager", cfg: config.ScheduleConfig{Cron: "@daily"}, settings: settings(), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(tt.cfg, tt.settings, tt.manager, nil)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, s)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, s)
		})
	}
}

func TestRunNow(t *testing.T) {
	manager := newManager(probe.Always(false))
	s, err := New(config.ScheduleConfig{Cron: "@daily", Input: "10.0.0", Kind: "segment"}, settings(), manager, logging.NewNop())
	require.NoError(t, err)
	defer s.Stop()

	run, err := s.RunNow(context.Background())
	require.NoError(t, err)
	summary := run.Wait()
	assert.Equal(t, 256, summary.Total)
	assert.Equal(t, 256, summary.Count(models.StatusNotReachable))
}

func TestRunNow_FileKindRereadsList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "targets.txt")
	require.NoError(t, os.WriteFile(path, []byte("10.0.0.1\n"), 0o600))

	manager := newManager(probe.Always(false))
	s, err := New(config.ScheduleConfig{Cron: "@daily", Input: path, Kind: "file"}, settings(), manager, nil)
	require.NoError(t, err)
	defer s.Stop()

	run, err := s.RunNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, run.Wait().Total)

	require.NoError(t, os.WriteFile(path, []byte("10.0.0.1\n10.0.0.2\n10.0.0.3\n"), 0o600))
	run, err = s.RunNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, run.Wait().Total)
}

func TestRunNow_MissingFile(t *testing.T) {
	s, err := New(config.ScheduleConfig{Cron: "@daily", Input: "/nonexistent/targets.txt", Kind: "file"},
		settings(), newManager(probe.Always(false)), nil)
	require.NoError(t, err)
	defer s.Stop()

	_, err = s.RunNow(context.Background())
	assert.Error(t, err)
}

func TestTick_SkipsWhileRunActive(t *testing.T) {
	manager := newManager(blockingProber())
	s, err := New(config.ScheduleConfig{Enabled: true, Cron: "@daily", Input: "10.0.0.1"}, settings(), manager, nil)
	require.NoError(t, err)
	defer s.Stop()

	s.tick()
	first := s.Status()
	require.NotEmpty(t, first.LastRunID)
	assert.Equal(t, 0, first.Skipped)

	s.tick()
	second := s.Status()
	assert.Equal(t, first.LastRunID, second.LastRunID)
	assert.Equal(t, 1, second.Skipped)
	assert.Empty(t, second.LastError)

	current, ok := manager.Current()
	require.True(t, ok)
	manager.Cancel()
	current.Wait()
}

func TestTick_RecordsStartError(t *testing.T) {
	s, err := New(config.ScheduleConfig{Cron: "@daily", Input: "/nonexistent/targets.txt", Kind: "file"},
		settings(), newManager(probe.Always(false)), nil)
	require.NoError(t, err)
	defer s.Stop()

	s.tick()
	st := s.Status()
	assert.NotEmpty(t, st.LastError)
	assert.Empty(t, st.LastRunID)
	assert.False(t, st.LastRun.IsZero())
}

func TestStop_CancelsScheduledRun(t *testing.T) {
	manager := newManager(blockingProber())
	s, err := New(config.ScheduleConfig{Cron: "@daily", Input: "10.0.0.1"}, settings(), manager, nil)
	require.NoError(t, err)
	require.NoError(t, s.Start())

	s.tick()
	run, ok := manager.Current()
	require.True(t, ok)

	s.Stop()
	select {
	case <-run.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("scheduled run was not cancelled by Stop")
	}
	assert.Equal(t, 1, run.Wait().Count(models.StatusCancelled))
}

func TestStartStop(t *testing.T) {
	s, err := New(config.ScheduleConfig{Enabled: true, Cron: "@every 1s", Input: "10.0.0.1"},
		settings(), newManager(probe.Always(false)), nil)
	require.NoError(t, err)

	before := s.NextRun()
	assert.False(t, before.IsZero())

	require.NoError(t, s.Start())
	assert.Error(t, s.Start())
	assert.True(t, s.Status().Running)

	require.Eventually(t, func() bool {
		return s.Status().LastRunID != ""
	}, 5*time.Second, 50*time.Millisecond)

	s.Stop()
	assert.False(t, s.Status().Running)
	assert.Error(t, s.Start())
}
