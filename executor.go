package relay

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// waiterSink is the narrow capability the executor needs to settle caller
// promises. The coordinator implements it over its waiter registry; keeping
// the surface this small avoids a shared-mutable back-reference.
type waiterSink interface {
	Resolve(id string, value any)
	Reject(id string, err error)
}

// executor drives the scheduler: it picks the next ready transaction,
// invokes its mutation function, and routes the outcome — removal plus
// waiter resolution on success, retry bookkeeping plus a wake timer on
// failure.
//
// Drains collapse: concurrent ExecuteAll calls share one in-flight pass via
// singleflight. At most one wake timer is armed at any time; each rearm
// cancels the previous one.
type executor struct {
	outbox      *outbox
	scheduler   *scheduler
	policy      *retryPolicy
	clock       Clock
	waiters     waiterSink
	mutationFns map[string]MutationFn
	beforeRetry BeforeRetryFilter
	onUnknownFn func(name string, tx *Transaction)
	logger      *zap.Logger
	metrics     *metrics

	drain singleflight.Group

	mu       sync.Mutex
	timer    Timer
	disposed bool
}

// Execute admits tx to the scheduler and kicks off a drain in the
// background. The live submission path: the caller observes the outcome
// through its waiter, not through this call.
func (e *executor) Execute(tx *Transaction) {
	e.scheduler.Schedule(tx)
	e.metrics.pending.Set(float64(e.scheduler.PendingCount()))
	go func() {
		if err := e.ExecuteAll(context.Background()); err != nil {
			e.logger.Warn("drain failed", zap.Error(err))
		}
	}()
}

// ExecuteAll drains the scheduler until nothing is ready. Concurrent calls
// collapse onto the single in-flight drain and return its result.
//
// A transaction can become ready while a drain is finishing — its Execute
// collapsed onto the tail of the old pass. The loop re-checks readiness
// after each shared pass so that work is never stranded until the timer.
func (e *executor) ExecuteAll(ctx context.Context) error {
	for {
		_, err, _ := e.drain.Do("drain", func() (any, error) {
			return nil, e.drainOnce(ctx)
		})
		if err != nil {
			return err
		}
		if e.isDisposed() || len(e.scheduler.GetNextBatch(1, e.clock.Now())) == 0 {
			return nil
		}
	}
}

// drainOnce runs one drain pass: execute ready transactions until none
// remain, then rearm the wake timer from the surviving pending set.
//
// Storage failures end the pass (logged by the caller); the armed timer
// will retry the remainder.
func (e *executor) drainOnce(ctx context.Context) error {
	defer e.scheduleNextRetry()
	for {
		if e.isDisposed() {
			return nil
		}
		batch := e.scheduler.GetNextBatch(1, e.clock.Now())
		if len(batch) == 0 {
			return nil
		}
		for _, tx := range batch {
			if err := e.runOne(ctx, tx); err != nil {
				return err
			}
		}
	}
}

// runOne executes a single transaction attempt and applies the outcome.
// The returned error is a storage failure only; mutation failures are
// consumed by the retry policy.
func (e *executor) runOne(ctx context.Context, tx *Transaction) error {
	e.scheduler.MarkStarted()

	var (
		result  any
		execErr error
	)
	fn, ok := e.mutationFns[tx.MutationFnName]
	if !ok {
		if e.onUnknownFn != nil {
			e.onUnknownFn(tx.MutationFnName, tx)
		}
		execErr = newUnknownMutationFnError(tx.MutationFnName, tx.ID)
	} else {
		result, execErr = fn(ctx, MutationRequest{
			Transaction: MutationTransaction{
				ID:        tx.ID,
				Mutations: tx.Mutations,
				Metadata:  tx.Metadata,
			},
			IdempotencyKey: tx.IdempotencyKey,
		})
	}

	if execErr == nil {
		e.scheduler.MarkCompleted(tx)
		if err := e.outbox.Remove(ctx, tx.ID); err != nil {
			e.logger.Warn("removing completed transaction failed",
				zap.String("tx", tx.ID), zap.Error(err))
			return err
		}
		e.metrics.executed.Inc()
		e.metrics.pending.Set(float64(e.scheduler.PendingCount()))
		e.waiters.Resolve(tx.ID, result)
		return nil
	}

	if !e.policy.ShouldRetry(execErr, tx.RetryCount) {
		e.scheduler.MarkCompleted(tx)
		if err := e.outbox.Remove(ctx, tx.ID); err != nil {
			e.logger.Warn("removing failed transaction failed",
				zap.String("tx", tx.ID), zap.Error(err))
			return err
		}
		terminal := execErr
		if !IsNonRetriable(execErr) {
			terminal = &Error{
				Code:          CodeRetriesExhausted,
				Message:       "retry budget exhausted",
				TransactionID: tx.ID,
				Err:           execErr,
			}
		}
		e.logger.Warn("transaction permanently failed",
			zap.String("tx", tx.ID),
			zap.Int("retryCount", tx.RetryCount),
			zap.Error(execErr))
		e.metrics.failed.Inc()
		e.metrics.pending.Set(float64(e.scheduler.PendingCount()))
		e.waiters.Reject(tx.ID, terminal)
		return nil
	}

	now := e.clock.Now()
	delay := e.policy.Delay(tx.RetryCount)
	updated := tx.clone()
	updated.RetryCount++
	updated.NextAttemptAt = now.Add(delay)
	updated.LastError = errorDetail(execErr)

	e.scheduler.MarkFailed()
	e.scheduler.UpdateTransaction(updated)
	if err := e.outbox.Put(ctx, updated); err != nil {
		e.logger.Warn("persisting retry state failed",
			zap.String("tx", tx.ID), zap.Error(err))
		return err
	}
	e.logger.Debug("transaction scheduled for retry",
		zap.String("tx", tx.ID),
		zap.Int("retryCount", updated.RetryCount),
		zap.Duration("delay", delay))
	e.metrics.retried.Inc()
	return nil
}

// LoadPendingTransactions replays the outbox into the scheduler. Called when
// leadership is acquired.
//
// The beforeRetry filter picks the subset to replay; the complement is
// deleted from storage. Every replayed transaction has its NextAttemptAt
// reset to now so backoff armed before the restart does not delay it again.
func (e *executor) LoadPendingTransactions(ctx context.Context) error {
	all, err := e.outbox.GetAll(ctx)
	if err != nil {
		return err
	}

	keep := all
	if e.beforeRetry != nil {
		keep = e.beforeRetry(all)
	}

	kept := make(map[string]struct{}, len(keep))
	for _, tx := range keep {
		kept[tx.ID] = struct{}{}
	}
	var dropped []string
	for _, tx := range all {
		if _, ok := kept[tx.ID]; !ok {
			dropped = append(dropped, tx.ID)
		}
	}
	if len(dropped) > 0 {
		e.logger.Info("discarding filtered transactions on replay",
			zap.Int("count", len(dropped)))
		if err := e.outbox.RemoveMany(ctx, dropped); err != nil {
			return err
		}
	}

	now := e.clock.Now()
	for _, tx := range keep {
		replayed := tx.clone()
		replayed.NextAttemptAt = now
		e.scheduler.Schedule(replayed)
	}
	e.metrics.pending.Set(float64(e.scheduler.PendingCount()))
	e.scheduleNextRetry()
	return nil
}

// ResetRetryDelays makes every pending transaction ready now. Applied on
// connectivity restoration so a long backoff does not outlive the outage.
func (e *executor) ResetRetryDelays() {
	now := e.clock.Now()
	pending := e.scheduler.AllPending()
	updated := make([]*Transaction, 0, len(pending))
	for _, tx := range pending {
		cp := tx.clone()
		cp.NextAttemptAt = now
		updated = append(updated, cp)
	}
	e.scheduler.UpdateTransactions(updated)
}

// Clear empties the scheduler and cancels any armed wake timer.
func (e *executor) Clear() {
	e.scheduler.Clear()
	e.metrics.pending.Set(0)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopTimerLocked()
}

// PendingCount returns the number of queued transactions.
func (e *executor) PendingCount() int { return e.scheduler.PendingCount() }

// RunningCount returns 0 or 1.
func (e *executor) RunningCount() int { return e.scheduler.RunningCount() }

// Dispose stops the wake timer and prevents further drains. An in-flight
// mutation call runs to completion; its result is settled through the sink,
// which the coordinator has already torn down.
func (e *executor) Dispose() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.disposed = true
	e.stopTimerLocked()
}

func (e *executor) isDisposed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.disposed
}

// scheduleNextRetry arms the single wake timer for the earliest
// NextAttemptAt among pending transactions. Any prior timer is cancelled
// first; when nothing is pending no timer is armed.
func (e *executor) scheduleNextRetry() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopTimerLocked()
	if e.disposed {
		return
	}
	next, ok := e.scheduler.NextAttempt()
	if !ok {
		return
	}
	delay := next.Sub(e.clock.Now())
	if delay < 0 {
		delay = 0
	}
	e.timer = e.clock.AfterFunc(delay, func() {
		if err := e.ExecuteAll(context.Background()); err != nil {
			e.logger.Warn("scheduled drain failed", zap.Error(err))
		}
	})
}

func (e *executor) stopTimerLocked() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}
