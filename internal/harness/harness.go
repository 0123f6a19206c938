package harness

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	relay "github.com/offlinekit/relay"
	"github.com/offlinekit/relay/internal/testutil"
	"github.com/offlinekit/relay/storage/memory"
)

// quiesceTimeout bounds how long a step waits for the executor to go idle.
// Steps settle in microseconds; the margin covers loaded CI machines.
const quiesceTimeout = 5 * time.Second

// TraceEvent is one observable action in a scenario run. Transactions are
// identified by submission index, never by id, so traces are stable across
// runs and comparable against golden files.
type TraceEvent struct {
	Type      string `json:"type"` // submit | attempt | advance | restart | online | unknownFn | resolved | rejected | unsettled
	Tx        int    `json:"tx,omitempty"`
	Fn        string `json:"fn,omitempty"`
	Attempt   int    `json:"attempt,omitempty"`
	Outcome   string `json:"outcome,omitempty"`
	AdvanceMS int64  `json:"advanceMs,omitempty"`
}

// Harness executes scenarios against a live coordinator with a manual
// clock and in-memory storage shared across restarts.
type Harness struct {
	t        *testing.T
	scenario *Scenario

	clock   *testutil.ManualClock
	storage *memory.Store

	coordinator *relay.Coordinator
	waiters     []*relay.Waiter
	txIDs       []string

	mu       sync.Mutex
	trace    []TraceEvent
	scripts  map[string][]string // tx id → scripted outcomes
	attempts map[string]int     // tx id → attempts so far
	txIndex  map[string]int     // tx id → submission index
}

// Run executes the scenario, checks its assertions, and returns the trace.
func Run(t *testing.T, scenario *Scenario) []TraceEvent {
	t.Helper()

	h := &Harness{
		t:        t,
		scenario: scenario,
		clock:    testutil.NewManualClock(time.Unix(1700000000, 0)),
		storage:  memory.New(),
		scripts:  make(map[string][]string),
		attempts: make(map[string]int),
		txIndex:  make(map[string]int),
	}
	h.startCoordinator()
	defer h.dispose()

	for _, step := range scenario.Steps {
		switch {
		case step.Submit != nil:
			h.submit(step.Submit)
		case step.Advance != "":
			h.advance(step.Advance)
		case step.Restart:
			h.restart()
		case step.Online:
			h.online()
		}
		h.quiesce()
	}

	h.recordWaiterOutcomes()
	h.check()
	return h.snapshotTrace()
}

type namedCollection struct{ id string }

func (c namedCollection) ID() string { return c.id }

func (h *Harness) startCoordinator() {
	h.t.Helper()

	collections := make(relay.CollectionRegistry, len(h.scenario.Collections))
	for _, id := range h.scenario.Collections {
		collections[id] = namedCollection{id: id}
	}

	var beforeRetry relay.BeforeRetryFilter
	if h.scenario.BeforeRetry == "drop-all" {
		beforeRetry = func([]*relay.Transaction) []*relay.Transaction { return nil }
	}

	c, err := relay.New(context.Background(), relay.Config{
		Collections:   collections,
		MutationFns:   map[string]relay.MutationFn{"scripted": h.scriptedFn},
		Storage:       h.storage,
		MaxRetries:    h.scenario.MaxRetries,
		DisableJitter: true,
		BeforeRetry:   beforeRetry,
		OnUnknownMutationFn: func(name string, tx *relay.Transaction) {
			h.record(TraceEvent{Type: "unknownFn", Tx: h.indexOf(tx.ID), Fn: name})
		},
		Logger: zap.NewNop(),
		Clock:  h.clock,
	})
	require.NoError(h.t, err)
	h.coordinator = c
}

// scriptedFn plays back the per-transaction outcome script.
func (h *Harness) scriptedFn(_ context.Context, req relay.MutationRequest) (any, error) {
	h.mu.Lock()
	id := req.Transaction.ID
	attempt := h.attempts[id] + 1
	h.attempts[id] = attempt
	script := h.scripts[id]
	outcome := "ok"
	if attempt <= len(script) {
		outcome = script[attempt-1]
	}
	h.trace = append(h.trace, TraceEvent{
		Type: "attempt", Tx: h.txIndex[id], Attempt: attempt, Outcome: outcome,
	})
	h.mu.Unlock()

	switch outcome {
	case "fail":
		return nil, fmt.Errorf("scripted transient failure (attempt %d)", attempt)
	case "reject":
		return nil, relay.NonRetriablef("scripted permanent rejection (attempt %d)", attempt)
	default:
		return map[string]any{"ok": 1}, nil
	}
}

func (h *Harness) submit(step *SubmitStep) {
	h.t.Helper()

	fn := step.Fn
	if fn == "" {
		fn = "scripted"
	}
	draft := h.coordinator.CreateDraft(fn, step.Metadata)
	for _, m := range step.Mutations {
		coll := namedCollection{id: m.Collection}
		switch m.Type {
		case "insert":
			draft.Insert(coll, m.Key, m.Modified)
		case "update":
			draft.Update(coll, m.Key, m.Original, m.Modified)
		case "delete":
			draft.Delete(coll, m.Key, m.Original)
		default:
			h.t.Fatalf("unknown mutation type %q", m.Type)
		}
	}

	index := len(h.waiters)
	// The script must be bound before the first attempt reads it: the
	// executor can reach the mutation function before Commit returns.
	h.mu.Lock()
	h.trace = append(h.trace, TraceEvent{Type: "submit", Tx: index, Fn: fn})
	h.mu.Unlock()

	w, err := commitScripted(h, draft, step, index)
	require.NoError(h.t, err)
	h.waiters = append(h.waiters, w)
}

// commitScripted threads the script registration through the commit so the
// first attempt already sees it. Transaction ids are only known after
// Commit, so the harness mutex is held across Commit and the outbox peek
// that binds the new id to its script; the drain runs on the executor's own
// goroutine and reads the script under the same mutex, so it waits until the
// binding is in place.
func commitScripted(h *Harness, draft *relay.Draft, step *SubmitStep, index int) (*relay.Waiter, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	w, err := draft.Commit(context.Background())
	if err != nil {
		return nil, err
	}
	txs, peekErr := h.coordinator.PeekOutbox(context.Background())
	if peekErr == nil {
		for _, tx := range txs {
			if _, known := h.txIndex[tx.ID]; !known {
				h.txIndex[tx.ID] = index
				h.scripts[tx.ID] = step.Outcomes
				h.txIDs = append(h.txIDs, tx.ID)
			}
		}
	}
	return w, nil
}

func (h *Harness) advance(spec string) {
	h.t.Helper()
	d, err := time.ParseDuration(spec)
	require.NoError(h.t, err, "bad advance duration %q", spec)
	h.record(TraceEvent{Type: "advance", AdvanceMS: d.Milliseconds()})
	h.clock.Advance(d)
}

// restart abandons the live coordinator without disposing it, simulating a
// crash, and builds a fresh one over the same storage. Waiters from before
// the restart stay registered with the dead instance and never settle.
func (h *Harness) restart() {
	h.t.Helper()
	h.record(TraceEvent{Type: "restart"})
	h.coordinator = nil
	h.startCoordinator()
}

func (h *Harness) online() {
	h.record(TraceEvent{Type: "online"})
	h.coordinator.NotifyOnline()
}

// quiesce waits until the executor has no running transaction and nothing
// persisted is ready at the current manual time.
func (h *Harness) quiesce() {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		if h.coordinator.GetRunningCount() != 0 {
			return false
		}
		txs, err := h.coordinator.PeekOutbox(context.Background())
		if err != nil {
			return false
		}
		now := h.clock.Now()
		for _, tx := range txs {
			if !tx.NextAttemptAt.After(now) {
				return false
			}
		}
		return true
	}, quiesceTimeout, 2*time.Millisecond, "executor did not quiesce")
}

func (h *Harness) recordWaiterOutcomes() {
	for i, w := range h.waiters {
		select {
		case <-w.Done():
			if _, err := w.Await(context.Background()); err != nil {
				h.record(TraceEvent{Type: "rejected", Tx: i})
			} else {
				h.record(TraceEvent{Type: "resolved", Tx: i})
			}
		default:
			h.record(TraceEvent{Type: "unsettled", Tx: i})
		}
	}
}

func (h *Harness) check() {
	h.t.Helper()
	a := h.scenario.Assertions
	ctx := context.Background()

	if a.OutboxCount != nil {
		count, err := h.coordinator.OutboxCount(ctx)
		require.NoError(h.t, err)
		require.Equal(h.t, *a.OutboxCount, count, "outbox count")
	}
	if a.PendingCount != nil {
		require.Equal(h.t, *a.PendingCount, h.coordinator.GetPendingCount(), "pending count")
	}
	for index, expected := range a.Waiters {
		require.Less(h.t, index, len(h.waiters), "waiter index out of range")
		require.Equal(h.t, expected, h.waiterOutcome(index), "waiter %d", index)
	}
	if len(a.RetryCounts) > 0 {
		txs, err := h.coordinator.PeekOutbox(ctx)
		require.NoError(h.t, err)
		byIndex := make(map[int]*relay.Transaction)
		for _, tx := range txs {
			byIndex[h.indexOf(tx.ID)] = tx
		}
		for index, expected := range a.RetryCounts {
			tx, ok := byIndex[index]
			require.True(h.t, ok, "transaction %d not in outbox", index)
			require.Equal(h.t, expected, tx.RetryCount, "retry count of %d", index)
		}
	}
}

func (h *Harness) waiterOutcome(index int) string {
	w := h.waiters[index]
	select {
	case <-w.Done():
		if _, err := w.Await(context.Background()); err != nil {
			return "rejected"
		}
		return "resolved"
	default:
		return "unsettled"
	}
}

func (h *Harness) dispose() {
	if h.coordinator != nil {
		_ = h.coordinator.Dispose(context.Background())
	}
}

func (h *Harness) record(e TraceEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.trace = append(h.trace, e)
}

func (h *Harness) indexOf(id string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.txIndex[id]
}

func (h *Harness) snapshotTrace() []TraceEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]TraceEvent, len(h.trace))
	copy(out, h.trace)
	return out
}
