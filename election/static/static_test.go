package static

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestElection_AlwaysGrants(t *testing.T) {
	e := New()
	ctx := context.Background()

	assert.False(t, e.IsLeader())

	leader, err := e.RequestLeadership(ctx)
	require.NoError(t, err)
	assert.True(t, leader)
	assert.True(t, e.IsLeader())
}

func TestElection_NotifiesOnTransitions(t *testing.T) {
	e := New()
	ctx := context.Background()

	var transitions []bool
	unsubscribe := e.OnLeadershipChange(func(isLeader bool) {
		transitions = append(transitions, isLeader)
	})

	_, err := e.RequestLeadership(ctx)
	require.NoError(t, err)
	require.NoError(t, e.ReleaseLeadership(ctx))
	assert.Equal(t, []bool{true, false}, transitions)

	// Re-granting after release fires again; unsubscribing stops delivery.
	_, err = e.RequestLeadership(ctx)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false, true}, transitions)

	unsubscribe()
	require.NoError(t, e.ReleaseLeadership(ctx))
	assert.Equal(t, []bool{true, false, true}, transitions)
}

func TestElection_RepeatedRequestsDoNotRenotify(t *testing.T) {
	e := New()
	ctx := context.Background()

	count := 0
	e.OnLeadershipChange(func(bool) { count++ })

	for i := 0; i < 3; i++ {
		_, err := e.RequestLeadership(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, count)
}
