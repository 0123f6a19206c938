// Package relay is an offline-capable mutation executor: a durable outbox
// that sits between a client-side collection store and a remote mutation
// endpoint.
//
// A committed draft becomes a transaction that is (a) durably queued to
// local storage, (b) executed at-most-once per transaction against the
// server with a stable idempotency key, (c) retried with bounded
// exponential backoff across process restarts, and (d) coordinated so only
// one instance in a process group drains the queue at a time.
//
// ARCHITECTURE:
//
// Data flows caller → Draft → outbox (durable) → scheduler (in-memory ready
// queue) → executor (invokes the mutation function) → waiter registry
// (settles the caller's promise) → outbox (removal or retry update).
//
// Sequential Execution:
// The executor runs one transaction at a time, in CreatedAt order. The
// outbox guarantees per-row causal order across the user's optimistic
// edits; parallel execution would require per-key serialization, which is
// not implemented. The MaxConcurrency knob exists but is clamped to 1.
//
// Leadership:
// The leader-election primitive is the sole cross-instance authority. A
// non-leader persists nothing and resolves its waiters with nil so UI flows
// unblock; the leader owns the outbox and the drain. On handover the new
// leader reloads the outbox from durable storage and resumes — the shared
// storage is the channel, there is no message bus.
//
// Retry Wake-ups:
// A single resettable one-shot timer is armed after every drain pass from
// the minimum NextAttemptAt of the pending set. Connectivity restoration
// resets all pending delays and drains immediately.
//
// Collaborators — storage adapters, leader elections, and connectivity
// detectors — are interfaces; implementations live in the storage, election,
// and online sub-packages.
package relay
