package relay

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// txKeyPrefix namespaces outbox entries inside the storage adapter. No other
// keys are claimed under it.
const txKeyPrefix = "tx:"

func txKey(id string) string { return txKeyPrefix + id }

// outbox is the durable transaction queue: a storage-backed mapping from
// transaction id to serialized envelope.
//
// Ordering is established by CreatedAt (id tie-break), never by storage
// iteration order. Corrupt entries are pruned on enumeration so every stored
// entry either decodes or disappears.
type outbox struct {
	storage StorageAdapter
	codec   *codec
	logger  *zap.Logger
}

func newOutbox(storage StorageAdapter, codec *codec, logger *zap.Logger) *outbox {
	return &outbox{storage: storage, codec: codec, logger: logger}
}

// Add serializes tx and writes it by id. Overwrite semantics: used both for
// the initial insert and for in-place updates.
func (o *outbox) Add(ctx context.Context, tx *Transaction) error {
	blob, err := o.codec.encode(tx)
	if err != nil {
		return fmt.Errorf("outbox add %s: %w", tx.ID, err)
	}
	if err := o.storage.Set(ctx, txKey(tx.ID), blob); err != nil {
		return newStorageError(fmt.Sprintf("write transaction %s", tx.ID), err)
	}
	return nil
}

// Get reads one transaction. Returns (nil, nil) when the id is absent or the
// stored envelope fails to decode; decode failures are logged and pruned.
func (o *outbox) Get(ctx context.Context, id string) (*Transaction, error) {
	blob, ok, err := o.storage.Get(ctx, txKey(id))
	if err != nil {
		return nil, newStorageError(fmt.Sprintf("read transaction %s", id), err)
	}
	if !ok {
		return nil, nil
	}
	tx, err := o.codec.decode(txKey(id), blob)
	if err != nil {
		o.dropCorrupt(ctx, txKey(id), err)
		return nil, nil
	}
	return tx, nil
}

// GetAll enumerates every decodable transaction under the tx: prefix, sorted
// ascending by CreatedAt with id tie-break. Entries that fail to decode are
// logged, deleted, and skipped.
func (o *outbox) GetAll(ctx context.Context) ([]*Transaction, error) {
	keys, err := o.storage.Keys(ctx)
	if err != nil {
		return nil, newStorageError("enumerate storage keys", err)
	}

	var txs []*Transaction
	seen := make(map[string]struct{})
	for _, key := range keys {
		if !strings.HasPrefix(key, txKeyPrefix) {
			continue
		}
		blob, ok, err := o.storage.Get(ctx, key)
		if err != nil {
			return nil, newStorageError(fmt.Sprintf("read %s", key), err)
		}
		if !ok {
			continue
		}
		tx, err := o.codec.decode(key, blob)
		if err != nil {
			o.dropCorrupt(ctx, key, err)
			continue
		}
		if _, dup := seen[tx.ID]; dup {
			continue
		}
		seen[tx.ID] = struct{}{}
		txs = append(txs, tx)
	}

	sort.Slice(txs, func(i, j int) bool { return byCreatedAt(txs[i], txs[j]) })
	return txs, nil
}

// GetByKeys filters GetAll to transactions whose key set intersects keys.
func (o *outbox) GetByKeys(ctx context.Context, keys []string) ([]*Transaction, error) {
	all, err := o.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	var matched []*Transaction
	for _, tx := range all {
		if tx.TouchesAny(keys) {
			matched = append(matched, tx)
		}
	}
	return matched, nil
}

// Update applies patch to the stored transaction via read-modify-write.
// Fails with a not-found error when the id is absent.
func (o *outbox) Update(ctx context.Context, id string, patch func(tx *Transaction)) error {
	blob, ok, err := o.storage.Get(ctx, txKey(id))
	if err != nil {
		return newStorageError(fmt.Sprintf("read transaction %s", id), err)
	}
	if !ok {
		return newNotFoundError(id)
	}
	tx, err := o.codec.decode(txKey(id), blob)
	if err != nil {
		o.dropCorrupt(ctx, txKey(id), err)
		return newNotFoundError(id)
	}
	patch(tx)
	return o.Add(ctx, tx)
}

// Put overwrites the stored record with tx wholesale. Last-write-wins by id.
func (o *outbox) Put(ctx context.Context, tx *Transaction) error {
	return o.Add(ctx, tx)
}

// Remove deletes one entry. Removing an absent id is not an error.
func (o *outbox) Remove(ctx context.Context, id string) error {
	if err := o.storage.Delete(ctx, txKey(id)); err != nil {
		return newStorageError(fmt.Sprintf("delete transaction %s", id), err)
	}
	return nil
}

// RemoveMany deletes a batch of entries, stopping at the first failure.
func (o *outbox) RemoveMany(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if err := o.Remove(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// Clear deletes every entry under the tx: prefix, leaving foreign keys in
// the shared store untouched.
func (o *outbox) Clear(ctx context.Context) error {
	keys, err := o.storage.Keys(ctx)
	if err != nil {
		return newStorageError("enumerate storage keys", err)
	}
	for _, key := range keys {
		if !strings.HasPrefix(key, txKeyPrefix) {
			continue
		}
		if err := o.storage.Delete(ctx, key); err != nil {
			return newStorageError(fmt.Sprintf("delete %s", key), err)
		}
	}
	return nil
}

// Count returns the number of decodable entries.
func (o *outbox) Count(ctx context.Context) (int, error) {
	txs, err := o.GetAll(ctx)
	if err != nil {
		return 0, err
	}
	return len(txs), nil
}

// ReadOutbox returns the transactions persisted in storage in FIFO order
// without constructing a Coordinator. Inspection tooling uses this so a
// peek can never acquire leadership or trigger a drain. A nil logger is
// replaced with a nop one.
func ReadOutbox(ctx context.Context, storage StorageAdapter, collections CollectionRegistry, logger *zap.Logger) ([]*Transaction, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return newOutbox(storage, newCodec(collections), logger).GetAll(ctx)
}

// WipeOutbox deletes every persisted transaction from storage. Keys outside
// the outbox prefix are untouched.
func WipeOutbox(ctx context.Context, storage StorageAdapter) error {
	return newOutbox(storage, newCodec(nil), zap.NewNop()).Clear(ctx)
}

// dropCorrupt logs a decode failure and prunes the entry so the next
// enumeration no longer sees it. Prune failures are logged, not raised: the
// entry will be retried on the next pass.
func (o *outbox) dropCorrupt(ctx context.Context, key string, cause error) {
	o.logger.Warn("dropping undecodable outbox entry",
		zap.String("key", key),
		zap.Error(cause),
	)
	if err := o.storage.Delete(ctx, key); err != nil {
		o.logger.Warn("pruning undecodable outbox entry failed",
			zap.String("key", key),
			zap.Error(err),
		)
	}
}
