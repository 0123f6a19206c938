package relay

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/offlinekit/relay/storage/memory"
)

func newTestOutbox() (*outbox, *memory.Store) {
	store := memory.New()
	return newOutbox(store, newCodec(testRegistry("notes")), zap.NewNop()), store
}

func outboxTx(id string, createdAt time.Time, keys ...string) *Transaction {
	if len(keys) == 0 {
		keys = []string{"note/" + id}
	}
	mutations := make([]Mutation, len(keys))
	for i, k := range keys {
		mutations[i] = Mutation{
			GlobalKey:    k,
			Type:         MutationInsert,
			Modified:     map[string]any{"v": id},
			CollectionID: "notes",
		}
	}
	return &Transaction{
		ID:             id,
		MutationFnName: "save",
		Mutations:      mutations,
		Keys:           KeySet(mutations),
		IdempotencyKey: "idem-" + id,
		CreatedAt:      createdAt,
	}
}

func TestOutbox_AddGet(t *testing.T) {
	ob, _ := newTestOutbox()
	ctx := context.Background()
	tx := outboxTx("t1", time.UnixMilli(1000))

	require.NoError(t, ob.Add(ctx, tx))

	got, err := ob.Get(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "t1", got.ID)
	assert.Equal(t, "idem-t1", got.IdempotencyKey)
}

func TestOutbox_GetMissingReturnsNil(t *testing.T) {
	ob, _ := newTestOutbox()
	got, err := ob.Get(context.Background(), "absent")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestOutbox_AddOverwritesByID(t *testing.T) {
	ob, _ := newTestOutbox()
	ctx := context.Background()

	tx := outboxTx("t1", time.UnixMilli(1000))
	require.NoError(t, ob.Add(ctx, tx))

	updated := tx.clone()
	updated.RetryCount = 3
	require.NoError(t, ob.Add(ctx, updated))

	got, err := ob.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 3, got.RetryCount)

	count, err := ob.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestOutbox_GetAllSortsByCreatedAt(t *testing.T) {
	ob, _ := newTestOutbox()
	ctx := context.Background()

	require.NoError(t, ob.Add(ctx, outboxTx("c", time.UnixMilli(3000))))
	require.NoError(t, ob.Add(ctx, outboxTx("a", time.UnixMilli(1000))))
	require.NoError(t, ob.Add(ctx, outboxTx("b", time.UnixMilli(2000))))

	txs, err := ob.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, txs, 3)
	assert.Equal(t, "a", txs[0].ID)
	assert.Equal(t, "b", txs[1].ID)
	assert.Equal(t, "c", txs[2].ID)
}

func TestOutbox_GetAllTieBreaksByID(t *testing.T) {
	ob, _ := newTestOutbox()
	ctx := context.Background()
	at := time.UnixMilli(1000)

	require.NoError(t, ob.Add(ctx, outboxTx("b", at)))
	require.NoError(t, ob.Add(ctx, outboxTx("a", at)))

	txs, err := ob.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, "a", txs[0].ID)
	assert.Equal(t, "b", txs[1].ID)
}

func TestOutbox_GetAllPrunesCorruptEntries(t *testing.T) {
	ob, store := newTestOutbox()
	ctx := context.Background()

	require.NoError(t, ob.Add(ctx, outboxTx("good", time.UnixMilli(1000))))
	require.NoError(t, store.Set(ctx, "tx:corrupt", "{not an envelope"))

	txs, err := ob.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "good", txs[0].ID)

	_, ok, err := store.Get(ctx, "tx:corrupt")
	require.NoError(t, err)
	assert.False(t, ok, "corrupt entry must be pruned")
}

func TestOutbox_GetAllSkipsUnknownCollection(t *testing.T) {
	ob, store := newTestOutbox()
	ctx := context.Background()

	foreign := newOutbox(store, newCodec(testRegistry("notes", "other")), zap.NewNop())
	orphan := outboxTx("orphan", time.UnixMilli(500))
	orphan.Mutations[0].CollectionID = "other"
	orphan.Keys = KeySet(orphan.Mutations)
	require.NoError(t, foreign.Add(ctx, orphan))
	require.NoError(t, ob.Add(ctx, outboxTx("kept", time.UnixMilli(1000))))

	txs, err := ob.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "kept", txs[0].ID)
}

func TestOutbox_GetAllIgnoresForeignKeys(t *testing.T) {
	ob, store := newTestOutbox()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "session:abc", "unrelated"))
	require.NoError(t, ob.Add(ctx, outboxTx("t1", time.UnixMilli(1000))))

	txs, err := ob.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, txs, 1)

	require.NoError(t, ob.Clear(ctx))
	_, ok, err := store.Get(ctx, "session:abc")
	require.NoError(t, err)
	assert.True(t, ok, "clear must not touch keys outside the tx: prefix")
}

func TestOutbox_GetByKeys(t *testing.T) {
	ob, _ := newTestOutbox()
	ctx := context.Background()

	require.NoError(t, ob.Add(ctx, outboxTx("t1", time.UnixMilli(1000), "a", "b")))
	require.NoError(t, ob.Add(ctx, outboxTx("t2", time.UnixMilli(2000), "c")))
	require.NoError(t, ob.Add(ctx, outboxTx("t3", time.UnixMilli(3000), "b", "d")))

	matched, err := ob.GetByKeys(ctx, []string{"b"})
	require.NoError(t, err)
	require.Len(t, matched, 2)
	assert.Equal(t, "t1", matched[0].ID)
	assert.Equal(t, "t3", matched[1].ID)

	none, err := ob.GetByKeys(ctx, []string{"zzz"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestOutbox_Update(t *testing.T) {
	ob, _ := newTestOutbox()
	ctx := context.Background()

	require.NoError(t, ob.Add(ctx, outboxTx("t1", time.UnixMilli(1000))))
	require.NoError(t, ob.Update(ctx, "t1", func(tx *Transaction) {
		tx.RetryCount = 5
		tx.NextAttemptAt = time.UnixMilli(9000)
	}))

	got, err := ob.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 5, got.RetryCount)
	assert.True(t, got.NextAttemptAt.Equal(time.UnixMilli(9000)))
}

func TestOutbox_UpdateMissingFailsNotFound(t *testing.T) {
	ob, _ := newTestOutbox()
	err := ob.Update(context.Background(), "absent", func(*Transaction) {})
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestOutbox_RemoveAndRemoveMany(t *testing.T) {
	ob, _ := newTestOutbox()
	ctx := context.Background()

	for i, id := range []string{"t1", "t2", "t3"} {
		require.NoError(t, ob.Add(ctx, outboxTx(id, time.UnixMilli(int64(1000*(i+1))))))
	}

	require.NoError(t, ob.Remove(ctx, "t2"))
	require.NoError(t, ob.Remove(ctx, "absent"))
	require.NoError(t, ob.RemoveMany(ctx, []string{"t1", "t3"}))

	count, err := ob.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestOutbox_StorageFailureSurfaces(t *testing.T) {
	store := &failingStore{err: fmt.Errorf("disk gone")}
	ob := newOutbox(store, newCodec(testRegistry("notes")), zap.NewNop())

	err := ob.Add(context.Background(), outboxTx("t1", time.UnixMilli(1000)))
	require.Error(t, err)

	var re *Error
	require.ErrorAs(t, err, &re)
	assert.Equal(t, CodeStorageFailure, re.Code)
}

// failingStore fails every operation with a fixed error.
type failingStore struct {
	err error
}

func (s *failingStore) Get(context.Context, string) (string, bool, error) { return "", false, s.err }
func (s *failingStore) Set(context.Context, string, string) error        { return s.err }
func (s *failingStore) Delete(context.Context, string) error             { return s.err }
func (s *failingStore) Keys(context.Context) ([]string, error)           { return nil, s.err }
func (s *failingStore) Clear(context.Context) error                      { return s.err }
