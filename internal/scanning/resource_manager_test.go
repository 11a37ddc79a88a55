package scanning

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestFixedResourceManager_Acquire(t *testing.T) {
	t.Run("successful acquisition", func(t *testing.T) {
		rm := NewFixedResourceManager(5)

		if err := rm.Acquire(context.Background(), "pipeline-1"); err != nil {
			t.Fatalf("Expected successful acquisition, got error: %v", err)
		}
		if rm.Active() != 1 {
			t.Errorf("Expected 1 active slot, got %d", rm.Active())
		}

		rm.Release("pipeline-1")
	})

	t.Run("resource exhaustion", func(t *testing.T) {
		rm := NewFixedResourceManager(2)
		ctx := context.Background()

		err1 := rm.Acquire(ctx, "p-1")
		err2 := rm.Acquire(ctx, "p-2")
		if err1 != nil || err2 != nil {
			t.Fatalf("Expected successful acquisition, got errors: %v, %v", err1, err2)
		}

		ctx3, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		defer cancel()
		if err := rm.Acquire(ctx3, "p-3"); err == nil {
			t.Error("Expected timeout error, got success")
		}

		rm.Release("p-1")
		rm.Release("p-2")
	})

	t.Run("context cancellation", func(t *testing.T) {
		rm := NewFixedResourceManager(1)
		if err := rm.Acquire(context.Background(), "blocking"); err != nil {
			t.Fatalf("Expected successful acquisition, got error: %v", err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := rm.Acquire(ctx, "cancelled"); err == nil {
			t.Error("Expected cancellation error, got success")
		}

		rm.Release("blocking")
	})

	t.Run("duplicate id rejected", func(t *testing.T) {
		rm := NewFixedResourceManager(2)
		ctx := context.Background()

		if err := rm.Acquire(ctx, "dup"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := rm.Acquire(ctx, "dup"); err == nil {
			t.Error("Expected duplicate id to be rejected")
		}
		if rm.Available() != 1 {
			t.Errorf("Expected 1 available slot, got %d", rm.Available())
		}
	})

	t.Run("closed manager", func(t *testing.T) {
		rm := NewFixedResourceManager(1)
		_ = rm.Close()
		if err := rm.Acquire(context.Background(), "late"); err == nil {
			t.Error("Expected error after close")
		}
	})
}

func TestFixedResourceManager_Release(t *testing.T) {
	t.Run("proper release", func(t *testing.T) {
		rm := NewFixedResourceManager(3)
		ctx := context.Background()

		ids := []string{"p-1", "p-2", "p-3"}
		for _, id := range ids {
			if err := rm.Acquire(ctx, id); err != nil {
				t.Fatalf("Failed to acquire resource for %s: %v", id, err)
			}
		}
		if rm.Active() != 3 {
			t.Errorf("Expected 3 active slots, got %d", rm.Active())
		}

		for _, id := range ids {
			rm.Release(id)
		}
		if rm.Active() != 0 {
			t.Errorf("Expected 0 active slots after release, got %d", rm.Active())
		}
		if rm.Available() != 3 {
			t.Errorf("Expected 3 available slots, got %d", rm.Available())
		}
	})

	t.Run("release unknown id", func(t *testing.T) {
		rm := NewFixedResourceManager(2)
		rm.Release("unknown")

		if rm.Active() != 0 {
			t.Errorf("Expected 0 active slots, got %d", rm.Active())
		}
	})
}

func TestFixedResourceManager_ConcurrentAccess(t *testing.T) {
	rm := NewFixedResourceManager(10)
	ctx := context.Background()

	const workers = 50
	const perWorker = 5

	var wg sync.WaitGroup
	errs := make(chan error, workers*perWorker)

	for i := range workers {
		wg.Go(func() {
			for j := range perWorker {
				id := fmt.Sprintf("worker-%d-%d", i, j)
				if err := rm.Acquire(ctx, id); err != nil {
					errs <- err
					return
				}
				time.Sleep(time.Millisecond)
				rm.Release(id)
			}
		})
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("Concurrent operation failed: %v", err)
	}
	if rm.Active() != 0 {
		t.Errorf("Expected 0 active slots after completion, got %d", rm.Active())
	}
	if peak := rm.Peak(); peak > 10 {
		t.Errorf("Expected peak <= 10, got %d", peak)
	}
}

func TestFixedResourceManager_Stats(t *testing.T) {
	rm := NewFixedResourceManager(4)
	ctx := context.Background()
	_ = rm.Acquire(ctx, "a")
	_ = rm.Acquire(ctx, "b")
	time.Sleep(5 * time.Millisecond)

	stats := rm.Stats()
	if stats.Capacity != 4 || stats.Active != 2 || stats.Available != 2 || stats.Peak != 2 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if stats.Oldest < 5*time.Millisecond {
		t.Errorf("Expected oldest >= 5ms, got %v", stats.Oldest)
	}

	_ = rm.Close()
	if !rm.Stats().Closed {
		t.Error("Expected closed stats")
	}
}

func TestNewFixedResourceManager_MinimumCapacity(t *testing.T) {
	if got := NewFixedResourceManager(0).Available(); got != 1 {
		t.Errorf("Expected capacity clamped to 1, got %d", got)
	}
}
