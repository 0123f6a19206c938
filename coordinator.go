package relay

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Coordinator owns the lifecycle of the outbox core: it elects leadership,
// replays the outbox when leadership is gained, reacts to connectivity
// restoration, and bridges caller waiters to the executor.
//
// Exactly one coordinator in a process group drives the outbox at a time.
// A non-leader persists nothing — its waiters resolve with nil immediately
// and the transaction is neither written to the shared storage nor executed
// by this instance.
type Coordinator struct {
	logger   *zap.Logger
	clock    Clock
	storage  StorageAdapter
	outbox   *outbox
	executor *executor
	election LeaderElection
	detector OnlineDetector
	waiters  *waiterRegistry

	onLeadershipChange func(isLeader bool)

	mu          sync.Mutex
	leader      bool
	disposed    bool
	unsubLeader func()
	unsubOnline func()
}

// New builds a Coordinator, wires its subscriptions, and attempts the
// initial leadership acquisition. On success the persisted outbox is
// replayed and a first drain pass runs before New returns; later retries
// run from the executor's wake timer.
func New(ctx context.Context, cfg Config) (*Coordinator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	cdc := newCodec(cfg.Collections)
	ob := newOutbox(cfg.Storage, cdc, cfg.Logger)
	waiters := newWaiterRegistry()

	exec := &executor{
		outbox:      ob,
		scheduler:   newScheduler(),
		policy:      newRetryPolicy(cfg.MaxRetries, !cfg.DisableJitter),
		clock:       cfg.Clock,
		waiters:     waiters,
		mutationFns: cfg.MutationFns,
		beforeRetry: cfg.BeforeRetry,
		onUnknownFn: cfg.OnUnknownMutationFn,
		logger:      cfg.Logger,
		metrics:     newMetrics(cfg.Metrics),
	}

	c := &Coordinator{
		logger:             cfg.Logger,
		clock:              cfg.Clock,
		storage:            cfg.Storage,
		outbox:             ob,
		executor:           exec,
		election:           cfg.LeaderElection,
		detector:           cfg.OnlineDetector,
		waiters:            waiters,
		onLeadershipChange: cfg.OnLeadershipChange,
	}

	c.unsubLeader = c.election.OnLeadershipChange(c.handleLeadershipChange)
	c.unsubOnline = c.detector.Subscribe(c.handleOnline)

	leader, err := c.election.RequestLeadership(ctx)
	if err != nil {
		c.logger.Warn("initial leadership request failed", zap.Error(err))
	} else if leader && !c.IsOfflineEnabled() {
		// Elections that notify synchronously already replayed through the
		// subscription; this branch covers the ones that only return a bool.
		c.setLeader(true)
		c.loadAndReplay(ctx)
	}

	return c, nil
}

// handleLeadershipChange reacts to election transitions: it updates the
// internal flag, notifies the caller, and replays the outbox when this
// instance takes over. Never panics out of the election's goroutine.
func (c *Coordinator) handleLeadershipChange(isLeader bool) {
	if c.isDisposed() {
		return
	}
	c.setLeader(isLeader)
	c.logger.Info("leadership changed", zap.Bool("isLeader", isLeader))
	if isLeader {
		c.loadAndReplay(context.Background())
		return
	}
	// Demoted: stop draining so the new leader owns the queue alone. The
	// persisted outbox stays put; an in-flight mutation runs to completion.
	c.executor.Clear()
}

// handleOnline reacts to connectivity restoration: the leader makes every
// pending transaction ready and drains. Errors are logged, never raised
// into the detector.
func (c *Coordinator) handleOnline() {
	if c.isDisposed() || !c.IsOfflineEnabled() {
		return
	}
	c.logger.Debug("connectivity restored, resetting retry delays")
	c.executor.ResetRetryDelays()
	if err := c.executor.ExecuteAll(context.Background()); err != nil {
		c.logger.Warn("drain after connectivity restore failed", zap.Error(err))
	}
}

// loadAndReplay pulls the persisted outbox into the scheduler and drains.
// Errors are logged: a failed replay leaves the outbox intact for the next
// leadership acquisition.
func (c *Coordinator) loadAndReplay(ctx context.Context) {
	if err := c.executor.LoadPendingTransactions(ctx); err != nil {
		c.logger.Warn("outbox replay failed", zap.Error(err))
		return
	}
	if err := c.executor.ExecuteAll(ctx); err != nil {
		c.logger.Warn("drain after replay failed", zap.Error(err))
	}
}

// persist routes a committed draft. The leader writes it to the outbox and
// triggers execution; a non-leader resolves the waiter with nil immediately
// and leaves the work to the authoritative instance.
func (c *Coordinator) persist(ctx context.Context, tx *Transaction) error {
	if !c.IsOfflineEnabled() {
		c.waiters.Resolve(tx.ID, nil)
		return nil
	}
	if err := c.outbox.Add(ctx, tx); err != nil {
		return err
	}
	c.executor.Execute(tx)
	return nil
}

// CreateDraft starts a draft bound to the named mutation function. Metadata
// is carried on the resulting transaction untouched; nil is allowed.
func (c *Coordinator) CreateDraft(mutationFnName string, metadata map[string]any) *Draft {
	return &Draft{
		coordinator:    c,
		mutationFnName: mutationFnName,
		metadata:       metadata,
	}
}

// PeekOutbox returns the persisted transactions in FIFO order.
func (c *Coordinator) PeekOutbox(ctx context.Context) ([]*Transaction, error) {
	return c.outbox.GetAll(ctx)
}

// PeekOutboxByKeys returns the persisted transactions touching any of keys.
func (c *Coordinator) PeekOutboxByKeys(ctx context.Context, keys []string) ([]*Transaction, error) {
	return c.outbox.GetByKeys(ctx, keys)
}

// RemoveFromOutbox deletes one persisted transaction by id.
func (c *Coordinator) RemoveFromOutbox(ctx context.Context, id string) error {
	return c.outbox.Remove(ctx, id)
}

// ClearOutbox removes all persisted state, empties the scheduler, and
// cancels the retry timer. In-flight mutations are not aborted.
func (c *Coordinator) ClearOutbox(ctx context.Context) error {
	if err := c.outbox.Clear(ctx); err != nil {
		return err
	}
	c.executor.Clear()
	return nil
}

// OutboxCount returns the number of persisted transactions.
func (c *Coordinator) OutboxCount(ctx context.Context) (int, error) {
	return c.outbox.Count(ctx)
}

// NotifyOnline tells the detector connectivity is back.
func (c *Coordinator) NotifyOnline() {
	c.detector.NotifyOnline()
}

// GetPendingCount returns the number of transactions queued for execution.
func (c *Coordinator) GetPendingCount() int { return c.executor.PendingCount() }

// GetRunningCount returns 0 or 1.
func (c *Coordinator) GetRunningCount() int { return c.executor.RunningCount() }

// IsOfflineEnabled reports whether this instance leads and therefore owns
// the durable queue.
func (c *Coordinator) IsOfflineEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.leader
}

// Dispose tears the coordinator down: listeners are removed, leadership is
// released, the detector and (when supported) the election are disposed,
// and registered waiters are dropped. An in-flight mutation runs to
// completion but its result is no longer observable here.
func (c *Coordinator) Dispose(ctx context.Context) error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return nil
	}
	c.disposed = true
	unsubLeader, unsubOnline := c.unsubLeader, c.unsubOnline
	c.mu.Unlock()

	if unsubLeader != nil {
		unsubLeader()
	}
	if unsubOnline != nil {
		unsubOnline()
	}
	c.executor.Dispose()
	c.waiters.Clear()

	if err := c.election.ReleaseLeadership(ctx); err != nil {
		c.logger.Warn("releasing leadership failed", zap.Error(err))
	}
	c.setLeader(false)
	c.detector.Dispose()
	if d, ok := c.election.(interface{ Dispose() }); ok {
		d.Dispose()
	}
	return nil
}

func (c *Coordinator) setLeader(leader bool) {
	c.mu.Lock()
	changed := c.leader != leader
	c.leader = leader
	c.mu.Unlock()
	if changed && c.onLeadershipChange != nil {
		c.invokeCallback("onLeadershipChange", func() { c.onLeadershipChange(leader) })
	}
}

func (c *Coordinator) isDisposed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disposed
}

// invokeCallback shields the core from a panicking caller callback.
func (c *Coordinator) invokeCallback(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("caller callback panicked",
				zap.String("callback", name), zap.Any("panic", r))
		}
	}()
	fn()
}
