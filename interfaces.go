package relay

import "context"

// StorageAdapter is the durable key/value blob store the outbox persists
// into. Implementations must serialize their own operations and survive
// process restarts for persistence semantics to hold; a Get observed after a
// Delete reflects the later write.
//
// Get returns ("", false, nil) for a missing key.
type StorageAdapter interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
	Clear(ctx context.Context) error
}

// LeaderElection coordinates exclusive outbox ownership across sibling
// instances. It must deliver leadership to at most one instance at a time
// within the process group it coordinates.
type LeaderElection interface {
	// RequestLeadership attempts to acquire leadership, reporting whether
	// this instance now leads.
	RequestLeadership(ctx context.Context) (bool, error)
	// ReleaseLeadership gives leadership up so another instance can acquire.
	ReleaseLeadership(ctx context.Context) error
	// IsLeader reports current leadership without side effects.
	IsLeader() bool
	// OnLeadershipChange registers cb for leadership transitions and
	// returns an unsubscribe function.
	OnLeadershipChange(cb func(isLeader bool)) (unsubscribe func())
}

// OnlineDetector observes connectivity restoration. Subscribe callbacks fire
// when the detector sees the link come back; NotifyOnline lets the host
// signal it manually.
type OnlineDetector interface {
	Subscribe(cb func()) (unsubscribe func())
	NotifyOnline()
	Dispose()
}

// MutationRequest is what a mutation function receives on every attempt.
// IdempotencyKey is stable across retries of the same transaction.
type MutationRequest struct {
	Transaction    MutationTransaction
	IdempotencyKey string
}

// MutationTransaction is the slice of a transaction exposed to mutation
// functions: identity, payload, and caller metadata — not retry bookkeeping.
type MutationTransaction struct {
	ID        string
	Mutations []Mutation
	Metadata  map[string]any
}

// MutationFn performs one transaction against the server. Return a value to
// resolve the caller's waiter with; fail with a NonRetriable error when the
// server permanently rejects the payload, any other error is retried.
type MutationFn func(ctx context.Context, req MutationRequest) (any, error)

// BeforeRetryFilter is applied to the outbox snapshot when leadership is
// acquired. It returns the subset to replay; everything else is deleted from
// storage. Must be pure: no scheduling side effects.
type BeforeRetryFilter func(pending []*Transaction) []*Transaction
