package syncer

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/alexsiroli/sagra-orders/internal/orders"
	"github.com/alexsiroli/sagra-orders/internal/queue"
)

// DefaultInterval is how often the worker drains the queue.
const DefaultInterval = 10 * time.Second

// ErrCycleRunning is returned when a cycle is requested while the previous
// one has not finished; the tick is skipped, never run concurrently.
var ErrCycleRunning = errors.New("sync cycle already running")

// Committer is the slice of the transaction coordinator the worker needs.
type Committer interface {
	Commit(ctx context.Context, sub *orders.Submission) (*orders.CommitResult, error)
	Get(ctx context.Context, orderID string) (*orders.Order, error)
}

// Gauges publishes queue depth metrics. Optional and best-effort.
type Gauges interface {
	PublishQueueGauges(ctx context.Context, pending, failed int) error
}

// Result summarizes one sync cycle.
type Result struct {
	Synced  int
	Retried int
	Failed  int
	Errors  []string
}

// Worker periodically drains the local durable queue through the transaction
// coordinator. Entries are retried in FIFO order; each entry leaves the
// queue either by committing or by exhausting its retry budget.
type Worker struct {
	queue    *queue.Store
	coord    Committer
	gauges   Gauges
	log      *logrus.Logger
	interval time.Duration

	running atomic.Bool
	stop    chan struct{}
	done    chan struct{}
}

// New builds a Worker. gauges may be nil.
func New(q *queue.Store, coord Committer, gauges Gauges, log *logrus.Logger, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Worker{
		queue:    q,
		coord:    coord,
		gauges:   gauges,
		log:      log,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the timer loop. Call Stop to halt it.
func (w *Worker) Start(ctx context.Context) {
	go func() {
		defer close(w.done)
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				res, err := w.RunCycle(ctx)
				if errors.Is(err, ErrCycleRunning) {
					w.log.Debug("sync tick skipped, previous cycle still running")
					continue
				}
				if err != nil {
					w.log.WithError(err).Warn("sync cycle aborted")
					continue
				}
				if res.Synced > 0 || res.Failed > 0 {
					w.log.WithFields(logrus.Fields{
						"synced":  res.Synced,
						"retried": res.Retried,
						"failed":  res.Failed,
					}).Info("sync cycle finished")
				}
			case <-w.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the timer loop and waits for an in-flight cycle to finish.
func (w *Worker) Stop() {
	close(w.stop)
	<-w.done
}

// RunCycle drains the queue once. Safe to call manually (a "sync now"
// action); overlapping calls are rejected with ErrCycleRunning.
func (w *Worker) RunCycle(ctx context.Context) (*Result, error) {
	if !w.running.CompareAndSwap(false, true) {
		return nil, ErrCycleRunning
	}
	defer w.running.Store(false)

	entries, err := w.queue.List()
	if err != nil {
		return nil, err
	}

	res := &Result{}
	var lastSequence int64
	for i := range entries {
		entry := &entries[i]
		seq, outcome := w.processEntry(ctx, entry, res)
		if seq > lastSequence {
			lastSequence = seq
		}
		if outcome != nil {
			res.Errors = append(res.Errors, outcome.Error())
			if isUnreachable(outcome) {
				// Still offline: nothing later in the queue can commit
				// either, and an offline tick must not eat retry budget.
				w.log.WithError(outcome).Debug("store unreachable, cycle cut short")
				break
			}
		}
	}

	now := time.Now().UTC()
	if err := w.queue.UpdateStats(func(st *queue.Stats) {
		st.LastSyncAt = now
		if lastSequence > st.LastKnownSequence {
			st.LastKnownSequence = lastSequence
		}
	}); err != nil {
		w.log.WithError(err).Warn("failed to update local sync stats")
	}

	w.publishGauges(ctx)
	return res, nil
}

// processEntry runs one queued submission through duplicate detection and a
// fresh commit attempt. Returns the committed sequence, if any.
func (w *Worker) processEntry(ctx context.Context, entry *queue.QueuedSubmission, res *Result) (int64, error) {
	key := entry.Submission.Key
	log := w.log.WithFields(logrus.Fields{"entry": entry.ID, "idempotency_key": key})

	// A previous attempt may have committed without us learning about it
	// (confirmation lost). Committing again would double-charge stock, so
	// look the key up first.
	existing, err := w.coord.Get(ctx, key)
	if err != nil {
		// The store could not even answer the lookup; treat the whole
		// cycle as offline rather than charging this entry a retry.
		log.WithError(err).Debug("duplicate check unavailable")
		return 0, &orders.TransactionError{Unreachable: true, Err: err}
	}
	if existing != nil {
		log.WithField("sequence", existing.Sequence).Info("submission already committed, dropping queue entry")
		if err := w.queue.Remove(entry.ID); err != nil {
			return 0, err
		}
		res.Synced++
		return existing.Sequence, nil
	}

	result, err := w.coord.Commit(ctx, &entry.Submission)
	if errors.Is(err, orders.ErrDuplicate) {
		// Raced with ourselves between Get and Commit; the order exists.
		if err := w.queue.Remove(entry.ID); err != nil {
			return 0, err
		}
		res.Synced++
		return 0, nil
	}
	if err != nil {
		if isUnreachable(err) {
			return 0, err
		}
		return 0, w.recordFailure(entry, res, err)
	}

	for _, warn := range result.LowStock {
		log.WithFields(logrus.Fields{
			"component": warn.Name,
			"remaining": warn.Remaining,
			"threshold": warn.Threshold,
		}).Warn("component at or below minimum stock")
	}
	if err := w.queue.Remove(entry.ID); err != nil {
		return 0, err
	}
	res.Synced++
	log.WithField("sequence", result.Sequence).Info("queued submission committed")
	return result.Sequence, nil
}

// recordFailure bumps the retry counter or retires the entry to the failed
// bucket once the budget is spent.
func (w *Worker) recordFailure(entry *queue.QueuedSubmission, res *Result, cause error) error {
	retry := entry.RetryCount + 1
	if retry >= entry.MaxRetries {
		if err := w.queue.MoveToFailed(entry.ID, cause.Error()); err != nil {
			return err
		}
		res.Failed++
		w.log.WithFields(logrus.Fields{
			"entry":   entry.ID,
			"retries": retry,
		}).Error("submission retired after exhausting retries, kept for manual reconciliation")
		return cause
	}
	if err := w.queue.UpdateRetryCount(entry.ID, retry, cause.Error()); err != nil {
		return err
	}
	res.Retried++
	return cause
}

// isUnreachable reports whether err is a store-unreachable transaction
// failure, as opposed to an authoritative rejection.
func isUnreachable(err error) bool {
	var te *orders.TransactionError
	return errors.As(err, &te) && te.Unreachable
}

func (w *Worker) publishGauges(ctx context.Context) {
	if w.gauges == nil {
		return
	}
	st, err := w.queue.GetStats()
	if err != nil {
		return
	}
	if err := w.gauges.PublishQueueGauges(ctx, st.PendingCount, st.FailedCount); err != nil {
		w.log.WithError(err).Debug("queue gauges not published")
	}
}
