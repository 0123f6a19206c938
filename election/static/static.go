// Package static provides the fallback leader election: this instance
// always leads. The coordinator degrades to single-instance mode when no
// real election primitive is available.
package static

import (
	"context"
	"sync"
)

// Election grants leadership unconditionally to its owner and never
// revokes it until released.
type Election struct {
	mu        sync.Mutex
	leader    bool
	nextSubID int
	subs      map[int]func(bool)
}

// New creates a static election. Leadership is granted on the first
// RequestLeadership call.
func New() *Election {
	return &Election{subs: make(map[int]func(bool))}
}

// RequestLeadership always succeeds.
func (e *Election) RequestLeadership(_ context.Context) (bool, error) {
	e.setLeader(true)
	return true, nil
}

// ReleaseLeadership gives leadership up.
func (e *Election) ReleaseLeadership(_ context.Context) error {
	e.setLeader(false)
	return nil
}

// IsLeader reports current leadership.
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

func (e *Election) setLeader(leader bool) {
	e.mu.Lock()
	changed := e.leader != leader
	e.leader = leader
	subs := make([]func(bool), 0, len(e.subs))
	for _, cb := range e.subs {
		subs = append(subs, cb)
	}
	e.mu.Unlock()

	if !changed {
		return
	}
	for _, cb := range subs {
		cb(leader)
	}
}
