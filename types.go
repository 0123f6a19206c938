package relay

import (
	"sort"
	"time"
)

// MutationType identifies the kind of row operation carried by a Mutation.
type MutationType string

const (
	// MutationInsert introduces a new row.
	MutationInsert MutationType = "insert"
	// MutationUpdate modifies an existing row.
	MutationUpdate MutationType = "update"
	// MutationDelete removes a row.
	MutationDelete MutationType = "delete"
)

// Valid reports whether t is one of the three known mutation types.
func (t MutationType) Valid() bool {
	switch t {
	case MutationInsert, MutationUpdate, MutationDelete:
		return true
	}
	return false
}

// Collection is the minimal contract a reactive collection must satisfy for
// the codec to re-attach live references on load. The coordinator never
// inspects a collection beyond its id.
type Collection interface {
	ID() string
}

// CollectionRegistry maps collection ids to live collection objects.
// Every CollectionID appearing in a persisted mutation must resolve here at
// load time; entries that reference an unknown collection are dropped.
type CollectionRegistry map[string]Collection

// Mutation is one row operation inside a transaction.
//
// Modified and Original are opaque JSON-compatible payloads owned by the
// caller. CollectionRef is a live reference attached at draft creation and
// re-attached by the codec on load; it is never serialized.
type Mutation struct {
	GlobalKey     string         `json:"globalKey"`
	Type          MutationType   `json:"type"`
	Modified      map[string]any `json:"modified,omitempty"`
	Original      map[string]any `json:"original,omitempty"`
	CollectionID  string         `json:"collectionId"`
	CollectionRef Collection     `json:"-"`
}

// ErrorDetail is the persisted shape of a mutation failure.
type ErrorDetail struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// Transaction is one durable unit of work: an ordered set of mutations bound
// to a named mutation function, executed at-most-once per idempotency key.
//
// Transactions are immutable by convention. The executor produces updated
// copies when a retry is recorded; nothing else mutates a transaction after
// draft commit.
type Transaction struct {
	// ID uniquely identifies the transaction. Assigned at draft creation
	// (UUIDv7, so ids sort by creation time) and round-trips through storage.
	ID string

	// MutationFnName selects the mutation function from the caller registry.
	MutationFnName string

	// Mutations is the ordered, non-empty sequence of row operations.
	Mutations []Mutation

	// Keys is the sorted, de-duplicated set of global keys touched by
	// Mutations. Derived, never stored independently of Mutations.
	Keys []string

	// IdempotencyKey is generated once at draft creation and handed to the
	// mutation function on every attempt so the server can deduplicate.
	IdempotencyKey string

	// CreatedAt is set once at creation and establishes FIFO order.
	CreatedAt time.Time

	// RetryCount is the number of failed attempts so far.
	RetryCount int

	// NextAttemptAt gates execution: the scheduler will not hand the
	// transaction out before this instant. Zero means ready immediately.
	NextAttemptAt time.Time

	// LastError records the most recent failure; nil until the first one.
	LastError *ErrorDetail

	// Metadata is an opaque caller-supplied mapping, passed through to the
	// mutation function untouched.
	Metadata map[string]any
}

// KeySet derives the sorted, de-duplicated global-key set from mutations.
func KeySet(mutations []Mutation) []string {
	seen := make(map[string]struct{}, len(mutations))
	keys := make([]string, 0, len(mutations))
	for _, m := range mutations {
		if _, ok := seen[m.GlobalKey]; ok {
			continue
		}
		seen[m.GlobalKey] = struct{}{}
		keys = append(keys, m.GlobalKey)
	}
	sort.Strings(keys)
	return keys
}

// TouchesAny reports whether the transaction's key set intersects keys.
func (tx *Transaction) TouchesAny(keys []string) bool {
	for _, k := range keys {
		i := sort.SearchStrings(tx.Keys, k)
		if i < len(tx.Keys) && tx.Keys[i] == k {
			return true
		}
	}
	return false
}

// clone returns a shallow copy with its own Mutations and Keys slices, so an
// updated copy can be produced without aliasing the scheduled one.
func (tx *Transaction) clone() *Transaction {
	cp := *tx
	cp.Mutations = append([]Mutation(nil), tx.Mutations...)
	cp.Keys = append([]string(nil), tx.Keys...)
	if tx.LastError != nil {
		le := *tx.LastError
		cp.LastError = &le
	}
	return &cp
}

// byCreatedAt orders transactions ascending by CreatedAt, breaking ties by
// id so FIFO stays deterministic when wall clocks collide.
func byCreatedAt(a, b *Transaction) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID < b.ID
	}
	return a.CreatedAt.Before(b.CreatedAt)
}
