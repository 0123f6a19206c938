package relay

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaiterRegistry_WaitForIsIdempotent(t *testing.T) {
	r := newWaiterRegistry()

	w1 := r.WaitFor("t1")
	w2 := r.WaitFor("t1")
	assert.Same(t, w1, w2, "one deferred per id")

	other := r.WaitFor("t2")
	assert.NotSame(t, w1, other)
}

func TestWaiterRegistry_Resolve(t *testing.T) {
	r := newWaiterRegistry()
	w := r.WaitFor("t1")

	r.Resolve("t1", map[string]any{"ok": 1})

	value, err := w.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ok": 1}, value)
}

func TestWaiterRegistry_Reject(t *testing.T) {
	r := newWaiterRegistry()
	w := r.WaitFor("t1")

	cause := NonRetriablef("bad input")
	r.Reject("t1", cause)

	_, err := w.Await(context.Background())
	require.Error(t, err)
	assert.True(t, IsNonRetriable(err))
}

func TestWaiterRegistry_ResolveAfterResolveIsNoOp(t *testing.T) {
	r := newWaiterRegistry()
	w := r.WaitFor("t1")

	r.Resolve("t1", "first")
	r.Resolve("t1", "second")
	r.Reject("t1", fmt.Errorf("late"))

	value, err := w.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first", value)
}

func TestWaiterRegistry_SettleAbsentIDIsNoOp(t *testing.T) {
	r := newWaiterRegistry()
	r.Resolve("ghost", 1)
	r.Reject("ghost", fmt.Errorf("x"))
}

func TestWaiterRegistry_ResolveWithNil(t *testing.T) {
	r := newWaiterRegistry()
	w := r.WaitFor("t1")

	r.Resolve("t1", nil)

	value, err := w.Await(context.Background())
	require.NoError(t, err)
	assert.Nil(t, value)
}

func TestWaiter_AwaitHonoursContext(t *testing.T) {
	r := newWaiterRegistry()
	w := r.WaitFor("t1")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := w.Await(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The waiter itself is still unsettled and can settle later.
	r.Resolve("t1", "late")
	value, err := w.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "late", value)
}

func TestWaiterRegistry_ClearDropsWithoutSettling(t *testing.T) {
	r := newWaiterRegistry()
	w := r.WaitFor("t1")

	r.Clear()
	select {
	case <-w.Done():
		t.Fatal("cleared waiter must not settle")
	default:
	}

	// Settling after Clear is a no-op for the old id.
	r.Resolve("t1", 1)
	select {
	case <-w.Done():
		t.Fatal("resolve after clear must not reach the dropped waiter")
	default:
	}
}
