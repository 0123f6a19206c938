// Package harness executes YAML conformance scenarios against a live
// coordinator.
//
// A scenario scripts submissions (with per-attempt mutation outcomes),
// manual clock advances, crash-restarts, and connectivity events, then
// asserts on outbox state and waiter outcomes. Every run also produces a
// trace — submissions, attempts, and terminal waiter states keyed by
// submission index — that is compared byte-for-byte against a golden file.
//
// Jitter is always disabled and time only moves when a step advances the
// manual clock, so the backoff schedule in a scenario is exact: a
// transaction that failed once becomes ready precisely 1s later, twice 2s
// later, and so on.
package harness
