package status

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/inventorama/internal/models"
)

func record(addr string, st models.Status) models.ScanRecord {
	r := models.NewRecord(addr, time.Unix(0, 0))
	r.Status = st
	return r
}

func TestStore_UpsertKeepsPosition(t *testing.T) {
	s := NewStore()
	s.Upsert("10.0.0.1", record("10.0.0.1", models.StatusPending))
	s.Upsert("10.0.0.2", record("10.0.0.2", models.StatusPending))
	s.Upsert("10.0.0.1", record("10.0.0.1", models.StatusProbing))

	snap := s.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "10.0.0.1", snap[0].Address)
	assert.Equal(t, models.StatusProbing, snap[0].Status)
	assert.Equal(t, "10.0.0.2", snap[1].Address)
}

func TestStore_TerminalRecordIsFrozen(t *testing.T) {
	s := NewStore()
	s.Upsert("10.0.0.1", record("10.0.0.1", models.StatusComplete))
	s.Upsert("10.0.0.1", record("10.0.0.1", models.StatusCancelled))

	got, ok := s.Get("10.0.0.1")
	require.True(t, ok)
	assert.Equal(t, models.StatusComplete, got.Status)
}

func TestStore_GetMissing(t *testing.T) {
	_, ok := NewStore().Get("10.0.0.1")
	assert.False(t, ok)
}

func TestStore_SnapshotIsCopy(t *testing.T) {
	s := NewStore()
	s.Upsert("a", record("a", models.StatusPending))

	snap := s.Snapshot()
	snap[0].Status = models.StatusError

	got, _ := s.Get("a")
	assert.Equal(t, models.StatusPending, got.Status)
}

func TestStore_CountsAndReset(t *testing.T) {
	s := NewStore()
	s.Upsert("a", record("a", models.StatusComplete))
	s.Upsert("b", record("b", models.StatusComplete))
	s.Upsert("c", record("c", models.StatusInvalid))

	counts := s.Counts()
	assert.Equal(t, 2, counts[models.StatusComplete])
	assert.Equal(t, 1, counts[models.StatusInvalid])
	assert.Equal(t, 3, s.Len())

	s.Reset()
	assert.Zero(t, s.Len())
	assert.Empty(t, s.Snapshot())
}

func TestStore_ConcurrentUpserts(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Go(func() {
			key := fmt.Sprintf("10.0.0.%d", i)
			s.Upsert(key, record(key, models.StatusPending))
			s.Upsert(key, record(key, models.StatusComplete))
			_ = s.Snapshot()
		})
	}
	wg.Wait()

	assert.Equal(t, 50, s.Len())
	assert.Equal(t, 50, s.Counts()[models.StatusComplete])
}
