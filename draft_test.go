package relay_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	relay "github.com/offlinekit/relay"
	"github.com/offlinekit/relay/internal/testutil"
)

func newDraftCoordinator(t *testing.T) *relay.Coordinator {
	t.Helper()
	c, err := relay.New(context.Background(), relay.Config{
		Collections: registry("notes"),
		MutationFns: map[string]relay.MutationFn{
			"save": func(context.Context, relay.MutationRequest) (any, error) {
				return nil, assert.AnError
			},
		},
		DisableJitter: true,
		Clock:         testutil.NewManualClock(time.Unix(1700000000, 0)),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Dispose(context.Background()) })
	return c
}

func TestDraft_CommitRequiresMutations(t *testing.T) {
	c := newDraftCoordinator(t)
	_, err := c.CreateDraft("save", nil).Commit(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no mutations")
}

func TestDraft_CommitRequiresFnName(t *testing.T) {
	c := newDraftCoordinator(t)
	_, err := c.CreateDraft("", nil).
		Insert(testCollection{id: "notes"}, "note/1", map[string]any{"v": 1}).
		Commit(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mutation function")
}

func TestDraft_CommitRejectsUnregisteredCollection(t *testing.T) {
	c := newDraftCoordinator(t)
	_, err := c.CreateDraft("save", nil).
		Insert(testCollection{id: "stranger"}, "x/1", map[string]any{"v": 1}).
		Commit(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not registered")
}

func TestDraft_CommitTwiceFails(t *testing.T) {
	c := newDraftCoordinator(t)
	draft := c.CreateDraft("save", nil).
		Insert(testCollection{id: "notes"}, "note/1", map[string]any{"v": 1})

	_, err := draft.Commit(context.Background())
	require.NoError(t, err)

	_, err = draft.Commit(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already committed")
}

func TestDraft_TransactionShape(t *testing.T) {
	ctx := context.Background()
	c := newDraftCoordinator(t)

	_, err := c.CreateDraft("save", map[string]any{"origin": "ui"}).
		Insert(testCollection{id: "notes"}, "note/2", map[string]any{"title": "b"}).
		Update(testCollection{id: "notes"}, "note/1",
			map[string]any{"title": "old"}, map[string]any{"title": "new"}).
		Delete(testCollection{id: "notes"}, "note/3", map[string]any{"title": "gone"}).
		Commit(ctx)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		txs, err := c.PeekOutbox(ctx)
		return err == nil && len(txs) == 1 && c.GetRunningCount() == 0
	}, 5*time.Second, 2*time.Millisecond)

	txs, err := c.PeekOutbox(ctx)
	require.NoError(t, err)
	tx := txs[0]

	assert.NotEmpty(t, tx.ID)
	assert.NotEmpty(t, tx.IdempotencyKey)
	assert.NotEqual(t, tx.ID, tx.IdempotencyKey)
	assert.Equal(t, "save", tx.MutationFnName)
	assert.Equal(t, map[string]any{"origin": "ui"}, tx.Metadata)
	assert.Equal(t, []string{"note/1", "note/2", "note/3"}, tx.Keys)

	require.Len(t, tx.Mutations, 3)
	assert.Equal(t, relay.MutationInsert, tx.Mutations[0].Type)
	assert.Equal(t, relay.MutationUpdate, tx.Mutations[1].Type)
	assert.Equal(t, relay.MutationDelete, tx.Mutations[2].Type)
	assert.Equal(t, map[string]any{"title": "old"}, tx.Mutations[1].Original)

	for _, m := range tx.Mutations {
		require.NotNil(t, m.CollectionRef, "loaded mutations carry live collection references")
		assert.Equal(t, "notes", m.CollectionRef.ID())
	}
}

func TestDraft_DistinctIdempotencyKeys(t *testing.T) {
	ctx := context.Background()
	c := newDraftCoordinator(t)

	for i := 0; i < 2; i++ {
		_, err := c.CreateDraft("save", nil).
			Insert(testCollection{id: "notes"}, "note/1", map[string]any{"v": i}).
			Commit(ctx)
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		txs, err := c.PeekOutbox(ctx)
		return err == nil && len(txs) == 2 && c.GetRunningCount() == 0
	}, 5*time.Second, 2*time.Millisecond)

	txs, err := c.PeekOutbox(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, txs[0].ID, txs[1].ID)
	assert.NotEqual(t, txs[0].IdempotencyKey, txs[1].IdempotencyKey)
	assert.True(t, txs[0].ID < txs[1].ID, "UUIDv7 ids sort by creation time")
}
