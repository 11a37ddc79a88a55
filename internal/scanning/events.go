package scanning

import (
	"sync"

	"github.com/anstrom/inventorama/internal/models"
)

// eventQueue decouples pipelines from the consumer of Events: pushes never
// block, and a forwarder delivers queued records in order. The queue is
// unbounded, so a consumer must either drain out or call discard.
type eventQueue struct {
	mu        sync.Mutex
	cond      *sync.Cond
	queue     []models.ScanRecord
	closed    bool
	discarded bool
	stop      chan struct{}
	out       chan models.ScanRecord
}

func newEventQueue(buffer int) *eventQueue {
	q := &eventQueue{
		out:  make(chan models.ScanRecord, buffer),
		stop: make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	go q.forward()
	return q
}

func (q *eventQueue) push(rec models.ScanRecord) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || q.discarded {
		return
	}
	q.queue = append(q.queue, rec)
	q.cond.Signal()
}

// close delivers what is queued, then closes the output channel.
func (q *eventQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Signal()
}

// discard drops queued and future records and ends the forwarder, which
// closes out.
func (q *eventQueue) discard() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.discarded {
		return
	}
	q.discarded = true
	q.queue = nil
	close(q.stop)
	q.cond.Signal()
}

func (q *eventQueue) forward() {
	defer close(q.out)
	for {
		q.mu.Lock()
		for len(q.queue) == 0 && !q.closed && !q.discarded {
			q.cond.Wait()
		}
		if q.discarded || len(q.queue) == 0 {
			q.mu.Unlock()
			return
		}
		batch := q.queue
		q.queue = nil
		q.mu.Unlock()

		for _, rec := range batch {
			select {
			case q.out <- rec:
			case <-q.stop:
				return
			}
		}
	}
}
