package relay

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/offlinekit/relay/election/static"
	"github.com/offlinekit/relay/online"
	"github.com/offlinekit/relay/storage/memory"
)

// Config configures a Coordinator.
//
// Collections and MutationFns are required; everything else has a working
// default for single-instance, in-memory operation. Production deployments
// supply a durable StorageAdapter and a real LeaderElection.
type Config struct {
	// Collections maps collection ids to live collection objects. Required:
	// the codec resolves every persisted CollectionID against it on load.
	Collections CollectionRegistry

	// MutationFns maps mutation function names to implementations. Required.
	MutationFns map[string]MutationFn

	// Storage overrides the persistence backend. Defaults to the in-memory
	// adapter, which drops the outbox on process exit.
	Storage StorageAdapter

	// LeaderElection overrides cross-instance coordination. Defaults to the
	// static election: this instance always leads (single-instance mode).
	LeaderElection LeaderElection

	// OnlineDetector overrides connectivity observation. Defaults to a
	// manual notifier driven by Coordinator.NotifyOnline.
	OnlineDetector OnlineDetector

	// MaxConcurrency is reserved. Execution is sequential until per-key
	// serialization exists; any value is clamped to 1.
	MaxConcurrency int

	// MaxRetries bounds attempts per transaction. Defaults to
	// DefaultMaxRetries.
	MaxRetries int

	// DisableJitter turns off the uniform [0.5, 1.5) scaling of retry
	// delays. Jitter is on by default.
	DisableJitter bool

	// BeforeRetry filters the outbox snapshot at replay. Nil keeps
	// everything.
	BeforeRetry BeforeRetryFilter

	// OnUnknownMutationFn fires when a transaction names a function missing
	// from MutationFns. The transaction fails permanently either way.
	OnUnknownMutationFn func(name string, tx *Transaction)

	// OnLeadershipChange fires on every leadership transition.
	OnLeadershipChange func(isLeader bool)

	// Logger receives structured diagnostics. Defaults to a nop logger.
	Logger *zap.Logger

	// Clock overrides time for tests. Defaults to the system clock.
	Clock Clock

	// Metrics registers the executor's collectors when non-nil.
	Metrics prometheus.Registerer
}

func (c *Config) validate() error {
	if len(c.Collections) == 0 {
		return fmt.Errorf("config: at least one collection is required")
	}
	if len(c.MutationFns) == 0 {
		return fmt.Errorf("config: at least one mutation function is required")
	}
	return nil
}

// withDefaults fills unset fields. MaxConcurrency is clamped to 1.
func (c Config) withDefaults() Config {
	if c.Storage == nil {
		c.Storage = memory.New()
	}
	if c.LeaderElection == nil {
		c.LeaderElection = static.New()
	}
	if c.OnlineDetector == nil {
		c.OnlineDetector = online.NewNotifier()
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	c.MaxConcurrency = 1
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Clock == nil {
		c.Clock = SystemClock()
	}
	return c
}
