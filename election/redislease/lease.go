// Package redislease provides leader election over a Redis lease key.
//
// Acquisition is SET key holder NX PX ttl. The holder renews at a third of
// the TTL; a renewal that finds another holder (or a vanished key) means the
// lease was lost and subscribers are told. Release deletes the key only if
// this instance still holds it, so a stale release cannot evict a newer
// leader.
package redislease

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultTTL is the lease lifetime when none is configured. Renewal runs at
// TTL/3, so a crashed leader's lease expires within one TTL. Another
// instance takes over only when it next calls RequestLeadership.
const DefaultTTL = 10 * time.Second

var renewScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Election coordinates leadership through one Redis key.
type Election struct {
	client *redis.Client
	key    string
	holder string
	ttl    time.Duration

	mu        sync.Mutex
	leader    bool
	stopRenew chan struct{}
	nextSubID int
	subs      map[int]func(bool)
	disposed  bool
}

// Option configures an Election.
type Option func(*Election)

// WithTTL overrides the lease lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(e *Election) { e.ttl = ttl }
}

// New creates an election over key. Each instance gets a unique holder id.
func New(client *redis.Client, key string, opts ...Option) *Election {
	e := &Election{
		client: client,
		key:    key,
		holder: uuid.NewString(),
		ttl:    DefaultTTL,
		subs:   make(map[int]func(bool)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RequestLeadership attempts to take the lease. Reports true when this
// instance now holds it, false when another holder does. Re-requesting
// while already leading is a no-op success.
func (e *Election) RequestLeadership(ctx context.Context) (bool, error) {
	e.mu.Lock()
	if e.leader {
		e.mu.Unlock()
		return true, nil
	}
	e.mu.Unlock()

	ok, err := e.client.SetNX(ctx, e.key, e.holder, e.ttl).Result()
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	e.becomeLeader()
	return true, nil
}

// ReleaseLeadership gives the lease up if still held.
func (e *Election) ReleaseLeadership(ctx context.Context) error {
	e.mu.Lock()
	wasLeader := e.leader
	e.mu.Unlock()
	if !wasLeader {
		return nil
	}
	e.loseLeadership()
	return releaseScript.Run(ctx, e.client, []string{e.key}, e.holder).Err()
}

// IsLeader reports current leadership without touching Redis.
func (e *Election) IsLeader() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.leader
}

// OnLeadershipChange registers cb for transitions.
func (e *Election) OnLeadershipChange(cb func(isLeader bool)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextSubID
	e.nextSubID++
	e.subs[id] = cb
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.subs, id)
	}
}

// Dispose stops the renewal loop. It does not release the lease; a
// disposed leader's lease simply expires.
func (e *Election) Dispose() {
	e.mu.Lock()
	e.disposed = true
	stop := e.stopRenew
	e.stopRenew = nil
	e.leader = false
	e.mu.Unlock()
	if stop != nil {
		close(stop)
	}
}

func (e *Election) becomeLeader() {
	e.mu.Lock()
	if e.disposed || e.leader {
		e.mu.Unlock()
		return
	}
	e.leader = true
	stop := make(chan struct{})
	e.stopRenew = stop
	subs := e.snapshotSubsLocked()
	e.mu.Unlock()

	go e.renewLoop(stop)
	for _, cb := range subs {
		cb(true)
	}
}

func (e *Election) loseLeadership() {
	e.mu.Lock()
	if !e.leader {
		e.mu.Unlock()
		return
	}
	e.leader = false
	stop := e.stopRenew
	e.stopRenew = nil
	subs := e.snapshotSubsLocked()
	e.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	for _, cb := range subs {
		cb(false)
	}
}

// renewLoop extends the lease at TTL/3 until stopped or the lease is lost.
func (e *Election) renewLoop(stop chan struct{}) {
	ticker := time.NewTicker(e.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), e.ttl/3)
			kept, err := renewScript.Run(ctx, e.client, []string{e.key}, e.holder, e.ttl.Milliseconds()).Int()
			cancel()
			if err != nil {
				// Transient Redis failures are survivable while the TTL
				// lasts; keep trying until the lease actually expires.
				continue
			}
			if kept == 0 {
				e.loseLeadership()
				return
			}
		}
	}
}

func (e *Election) snapshotSubsLocked() []func(bool) {
	subs := make([]func(bool), 0, len(e.subs))
	for _, cb := range e.subs {
		subs = append(subs, cb)
	}
	return subs
}
