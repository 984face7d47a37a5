package metergate

import (
	"context"
	"sync"
	"time"
)

// pendingWrite is a usage increment that failed against the store and
// must not be dropped.
type pendingWrite struct {
	userID   string
	month    time.Time
	feature  Feature
	delta    int
	attempts int
}

// retryQueue re-drives failed usage writes in the background. Monthly
// counters are plain increments, so replays commute with live writes and
// ordering does not matter.
type retryQueue struct {
	tracker  *Tracker
	pending  chan pendingWrite
	maxTries int
	backoff  time.Duration

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

func newRetryQueue(tracker *Tracker, config TrackerConfig) *retryQueue {
	q := &retryQueue{
		tracker:  tracker,
		pending:  make(chan pendingWrite, config.RetryBuffer),
		maxTries: config.RetryAttempts,
		backoff:  config.RetryBackoff,
		done:     make(chan struct{}),
	}
	q.wg.Add(1)
	go q.run()
	return q
}

func (q *retryQueue) enqueue(w pendingWrite) {
	select {
	case q.pending <- w:
	default:
		// Queue full: dropping here loses an increment, which under-bills.
		// Log it loudly so operators can reconcile from request logs.
		q.tracker.logger.Error("usage retry queue full, dropping increment",
			Field{Key: "user_id", Value: w.userID},
			Field{Key: "feature", Value: string(w.feature)},
			Field{Key: "delta", Value: w.delta})
	}
}

func (q *retryQueue) run() {
	defer q.wg.Done()
	for {
		select {
		case w := <-q.pending:
			q.attempt(w)
		case <-q.done:
			q.flush()
			return
		}
	}
}

// flush makes one final pass over whatever is still queued at shutdown.
func (q *retryQueue) flush() {
	for {
		select {
		case w := <-q.pending:
			q.attempt(w)
		default:
			return
		}
	}
}

func (q *retryQueue) attempt(w pendingWrite) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	_, err := q.tracker.usage.IncrementUsage(ctx, w.userID, w.month, w.feature, w.delta)
	cancel()
	q.tracker.metrics.RecordUsageWrite(w.feature, err == nil)
	if err == nil {
		q.tracker.logger.Info("queued usage write applied",
			Field{Key: "user_id", Value: w.userID},
			Field{Key: "feature", Value: string(w.feature)})
		return
	}

	w.attempts++
	if w.attempts >= q.maxTries {
		q.tracker.logger.Error("usage write abandoned after retries",
			Field{Key: "user_id", Value: w.userID},
			Field{Key: "feature", Value: string(w.feature)},
			Field{Key: "delta", Value: w.delta},
			Field{Key: "attempts", Value: w.attempts},
			Field{Key: "error", Value: err.Error()})
		return
	}

	select {
	case <-time.After(q.backoff):
	case <-q.done:
		// Shutting down: requeue without waiting so flush gets one more try.
	}
	q.enqueue(w)
}

func (q *retryQueue) close() {
	q.closeOnce.Do(func() {
		close(q.done)
	})
	q.wg.Wait()
}
