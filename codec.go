package relay

import (
	"encoding/json"
	"fmt"
	"time"
)

// envelopeVersion is the on-disk envelope format version. Unknown versions
// are discarded with a warning on load.
const envelopeVersion = 1

// envelope is the storable shape of a transaction. Identical to Transaction
// except mutations carry no live collection references and instants are
// encoded as epoch milliseconds.
type envelope struct {
	Version        int                `json:"version"`
	ID             string             `json:"id"`
	MutationFnName string             `json:"mutationFnName"`
	Mutations      []envelopeMutation `json:"mutations"`
	Keys           []string           `json:"keys"`
	IdempotencyKey string             `json:"idempotencyKey"`
	CreatedAt      int64              `json:"createdAt"`
	RetryCount     int                `json:"retryCount"`
	NextAttemptAt  int64              `json:"nextAttemptAt"`
	LastError      *ErrorDetail       `json:"lastError,omitempty"`
	Metadata       map[string]any     `json:"metadata,omitempty"`
}

type envelopeMutation struct {
	GlobalKey    string         `json:"globalKey"`
	Type         MutationType   `json:"type"`
	Modified     map[string]any `json:"modified,omitempty"`
	Original     map[string]any `json:"original,omitempty"`
	CollectionID string         `json:"collectionId"`
}

// codec translates between in-memory transactions and storable envelope
// strings, re-attaching live collection references on load.
type codec struct {
	collections CollectionRegistry
}

func newCodec(collections CollectionRegistry) *codec {
	return &codec{collections: collections}
}

// encode serializes tx into an envelope JSON string.
func (c *codec) encode(tx *Transaction) (string, error) {
	env := envelope{
		Version:        envelopeVersion,
		ID:             tx.ID,
		MutationFnName: tx.MutationFnName,
		Mutations:      make([]envelopeMutation, len(tx.Mutations)),
		Keys:           tx.Keys,
		IdempotencyKey: tx.IdempotencyKey,
		CreatedAt:      tx.CreatedAt.UnixMilli(),
		RetryCount:     tx.RetryCount,
		LastError:      tx.LastError,
		Metadata:       tx.Metadata,
	}
	if !tx.NextAttemptAt.IsZero() {
		env.NextAttemptAt = tx.NextAttemptAt.UnixMilli()
	}
	for i, m := range tx.Mutations {
		env.Mutations[i] = envelopeMutation{
			GlobalKey:    m.GlobalKey,
			Type:         m.Type,
			Modified:     m.Modified,
			Original:     m.Original,
			CollectionID: m.CollectionID,
		}
	}
	data, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("encode envelope: %w", err)
	}
	return string(data), nil
}

// decode parses an envelope string back into a transaction.
//
// Validation failures (bad JSON, unknown version, empty mutations, unknown
// collection id) return a CodeDeserializeFailed error so callers can log,
// prune the entry, and continue loading the rest of the outbox.
func (c *codec) decode(key, blob string) (*Transaction, error) {
	var env envelope
	if err := json.Unmarshal([]byte(blob), &env); err != nil {
		return nil, newDeserializeError(key, err)
	}
	if env.Version != envelopeVersion {
		return nil, newDeserializeError(key, fmt.Errorf("unsupported envelope version %d", env.Version))
	}
	if env.ID == "" {
		return nil, newDeserializeError(key, fmt.Errorf("envelope has no transaction id"))
	}
	if len(env.Mutations) == 0 {
		return nil, newDeserializeError(key, fmt.Errorf("envelope has no mutations"))
	}

	tx := &Transaction{
		ID:             env.ID,
		MutationFnName: env.MutationFnName,
		Mutations:      make([]Mutation, len(env.Mutations)),
		IdempotencyKey: env.IdempotencyKey,
		CreatedAt:      time.UnixMilli(env.CreatedAt),
		RetryCount:     env.RetryCount,
		LastError:      env.LastError,
		Metadata:       env.Metadata,
	}
	if env.NextAttemptAt != 0 {
		tx.NextAttemptAt = time.UnixMilli(env.NextAttemptAt)
	}
	for i, m := range env.Mutations {
		if !m.Type.Valid() {
			return nil, newDeserializeError(key, fmt.Errorf("unknown mutation type %q", m.Type))
		}
		coll, ok := c.collections[m.CollectionID]
		if !ok {
			return nil, newDeserializeError(key, fmt.Errorf("unknown collection %q", m.CollectionID))
		}
		tx.Mutations[i] = Mutation{
			GlobalKey:     m.GlobalKey,
			Type:          m.Type,
			Modified:      m.Modified,
			Original:      m.Original,
			CollectionID:  m.CollectionID,
			CollectionRef: coll,
		}
	}
	// Keys are derived from mutations rather than trusted from the blob so
	// the sorted-set invariant survives hand-edited or older envelopes.
	tx.Keys = KeySet(tx.Mutations)
	return tx, nil
}
