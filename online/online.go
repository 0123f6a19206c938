// Package online provides connectivity detectors: a manual notifier driven
// by the host and an HTTP prober that watches a probe URL.
package online

import "sync"

// Notifier is the manual connectivity detector. The host calls NotifyOnline
// whenever it observes the link come back; subscribers fire on every call.
type Notifier struct {
	mu        sync.Mutex
	nextSubID int
	subs      map[int]func()
	disposed  bool
}

// NewNotifier creates a manual detector.
func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[int]func())}
}

// Subscribe registers cb for connectivity-restored events.
func (n *Notifier) Subscribe(cb func()) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.nextSubID
	n.nextSubID++
	n.subs[id] = cb
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.subs, id)
	}
}

// NotifyOnline fans the restoration signal out to subscribers.
func (n *Notifier) NotifyOnline() {
	n.mu.Lock()
	if n.disposed {
		n.mu.Unlock()
		return
	}
	subs := make([]func(), 0, len(n.subs))
	for _, cb := range n.subs {
		subs = append(subs, cb)
	}
	n.mu.Unlock()

	for _, cb := range subs {
		cb()
	}
}

// Dispose drops all subscribers and ignores further notifications.
func (n *Notifier) Dispose() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.disposed = true
	n.subs = make(map[int]func())
}
