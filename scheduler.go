package relay

import (
	"sort"
	"sync"
	"time"
)

// scheduler is the in-memory ready queue: pending transactions sorted
// ascending by CreatedAt (id tie-break), plus the single running slot.
//
// Execution is sequential. The outbox guarantees per-row causal order across
// the user's optimistic edits; running transactions in parallel would need
// per-key serialization, so GetNextBatch hands out at most one transaction
// regardless of the requested concurrency.
//
// Thread-safe: external callers enqueue while the executor drains.
type scheduler struct {
	mu      sync.Mutex
	pending []*Transaction
	running bool
}

func newScheduler() *scheduler {
	return &scheduler{}
}

// Schedule appends tx and restores FIFO order. An entry with the same id is
// replaced so replay and live submission cannot double-queue a transaction.
func (s *scheduler) Schedule(tx *Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, p := range s.pending {
		if p.ID == tx.ID {
			s.pending[i] = tx
			s.resortLocked()
			return
		}
	}
	s.pending = append(s.pending, tx)
	s.resortLocked()
}

// GetNextBatch returns the next transaction ready to run by wall clock.
//
// The concurrency argument is accepted for interface stability and ignored:
// the result is a singleton or empty. Empty when something is already
// running, when nothing is pending, or when no pending transaction's
// NextAttemptAt has been reached. Otherwise the first ready transaction in
// pending order is returned, even when an earlier one is still backing off.
func (s *scheduler) GetNextBatch(_ int, now time.Time) []*Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running || len(s.pending) == 0 {
		return nil
	}
	for _, tx := range s.pending {
		if !tx.NextAttemptAt.After(now) {
			return []*Transaction{tx}
		}
	}
	return nil
}

// MarkStarted claims the running slot.
func (s *scheduler) MarkStarted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = true
}

// MarkCompleted removes tx from pending and frees the running slot.
func (s *scheduler) MarkCompleted(tx *Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(tx.ID)
	s.running = false
}

// MarkFailed frees the running slot. The transaction stays pending with
// whatever retry fields UpdateTransaction installed.
func (s *scheduler) MarkFailed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
}

// UpdateTransaction replaces the pending entry with the same id.
func (s *scheduler) UpdateTransaction(tx *Transaction) {
	s.UpdateTransactions([]*Transaction{tx})
}

// UpdateTransactions replaces pending entries by id and restores order.
// Unmatched ids are ignored.
func (s *scheduler) UpdateTransactions(txs []*Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tx := range txs {
		for i, p := range s.pending {
			if p.ID == tx.ID {
				s.pending[i] = tx
				break
			}
		}
	}
	s.resortLocked()
}

// PendingCount returns the number of queued transactions.
func (s *scheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// RunningCount returns 0 or 1.
func (s *scheduler) RunningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return 1
	}
	return 0
}

// AllPending returns a snapshot copy of the pending queue in order.
func (s *scheduler) AllPending() []*Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Transaction, len(s.pending))
	copy(out, s.pending)
	return out
}

// NextAttempt returns the minimum NextAttemptAt over pending transactions,
// and false when nothing is pending.
func (s *scheduler) NextAttempt() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return time.Time{}, false
	}
	min := s.pending[0].NextAttemptAt
	for _, tx := range s.pending[1:] {
		if tx.NextAttemptAt.Before(min) {
			min = tx.NextAttemptAt
		}
	}
	return min, true
}

// Clear empties the queue and frees the running slot.
func (s *scheduler) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
	s.running = false
}

func (s *scheduler) removeLocked(id string) {
	for i, p := range s.pending {
		if p.ID == id {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return
		}
	}
}

func (s *scheduler) resortLocked() {
	sort.SliceStable(s.pending, func(i, j int) bool {
		return byCreatedAt(s.pending[i], s.pending[j])
	})
}
