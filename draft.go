package relay

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Draft accumulates mutations and, on commit, emits one transaction to the
// outbox. Drafts are single-use and not safe for concurrent mutation.
//
// The transaction id is a UUIDv7 so ids sort by creation time, and the
// idempotency key is generated once here — every retry of the transaction
// presents the same key to the server.
type Draft struct {
	coordinator    *Coordinator
	mutationFnName string
	metadata       map[string]any
	mutations      []Mutation
	committed      bool
}

// Insert stages a new row keyed by globalKey in coll.
func (d *Draft) Insert(coll Collection, globalKey string, modified map[string]any) *Draft {
	return d.stage(Mutation{
		GlobalKey:     globalKey,
		Type:          MutationInsert,
		Modified:      modified,
		CollectionID:  coll.ID(),
		CollectionRef: coll,
	})
}

// Update stages a change to an existing row. original carries the pre-image
// so the server can detect conflicts.
func (d *Draft) Update(coll Collection, globalKey string, original, modified map[string]any) *Draft {
	return d.stage(Mutation{
		GlobalKey:     globalKey,
		Type:          MutationUpdate,
		Modified:      modified,
		Original:      original,
		CollectionID:  coll.ID(),
		CollectionRef: coll,
	})
}

// Delete stages a row removal. original carries the deleted pre-image.
func (d *Draft) Delete(coll Collection, globalKey string, original map[string]any) *Draft {
	return d.stage(Mutation{
		GlobalKey:     globalKey,
		Type:          MutationDelete,
		Original:      original,
		CollectionID:  coll.ID(),
		CollectionRef: coll,
	})
}

func (d *Draft) stage(m Mutation) *Draft {
	d.mutations = append(d.mutations, m)
	return d
}

// Commit seals the draft into a transaction and hands it to the
// coordinator. The returned waiter settles when the mutation function
// succeeds or the transaction permanently fails; on a non-leader instance
// it resolves with nil right away.
//
// Persistence errors are returned here, to the caller that initiated the
// commit; no waiter is returned then, and the internally registered one is
// rejected with the same error and dropped.
func (d *Draft) Commit(ctx context.Context) (*Waiter, error) {
	if d.committed {
		return nil, fmt.Errorf("draft already committed")
	}
	if d.mutationFnName == "" {
		return nil, fmt.Errorf("draft has no mutation function name")
	}
	if len(d.mutations) == 0 {
		return nil, fmt.Errorf("draft has no mutations")
	}
	// An unknown mutation function is not rejected here: it fails at
	// execution time through the onUnknownMutationFn path. Unregistered
	// collections are, since their envelopes could never be loaded back.
	for _, m := range d.mutations {
		if _, ok := d.coordinator.outbox.codec.collections[m.CollectionID]; !ok {
			return nil, fmt.Errorf("collection %q is not registered", m.CollectionID)
		}
	}

	tx := &Transaction{
		ID:             uuid.Must(uuid.NewV7()).String(),
		MutationFnName: d.mutationFnName,
		Mutations:      d.mutations,
		Keys:           KeySet(d.mutations),
		IdempotencyKey: uuid.NewString(),
		CreatedAt:      d.coordinator.clock.Now(),
		Metadata:       d.metadata,
	}
	d.committed = true

	// Register the waiter before persisting so a fast executor cannot
	// settle into the void.
	w := d.coordinator.waiters.WaitFor(tx.ID)
	if err := d.coordinator.persist(ctx, tx); err != nil {
		d.coordinator.waiters.Reject(tx.ID, err)
		return nil, err
	}
	return w, nil
}
