package memory_test

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "delego/pkg/platform/audit"
	"delego/pkg/platform/audit/store/memory"
)

func TestListByTask(t *testing.T) {
	store := memory.NewInMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, audit.Event{ID: "e1", TaskID: "task:t1", Kind: audit.EventDelegationCreated}))
	require.NoError(t, store.Append(ctx, audit.Event{ID: "e2", TaskID: "task:t2", Kind: audit.EventDelegationCreated}))
	require.NoError(t, store.Append(ctx, audit.Event{ID: "e3", TaskID: "task:t1", Kind: audit.EventTaskRevoked}))

	events, err := store.ListByTask(ctx, "task:t1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "e1", events[0].ID)
	assert.Equal(t, "e3", events[1].ID)

	events, err = store.ListByTask(ctx, "task:unknown")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestListByAgent(t *testing.T) {
	store := memory.NewInMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, audit.Event{ID: "e1", AgentID: "helper"}))
	require.NoError(t, store.Append(ctx, audit.Event{ID: "e2", AgentID: "other"}))
	// Events without an agent, like sweep summaries, are not indexed.
	require.NoError(t, store.Append(ctx, audit.Event{ID: "e3", Kind: audit.EventSweepCompleted}))

	events, err := store.ListByAgent(ctx, "helper")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "e1", events[0].ID)
}

func TestListRecent(t *testing.T) {
	store := memory.NewInMemoryStore()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Append(ctx, audit.Event{ID: "e" + strconv.Itoa(i)}))
	}

	t.Run("returns the newest N in append order", func(t *testing.T) {
		events, err := store.ListRecent(ctx, 3)
		require.NoError(t, err)
		require.Len(t, events, 3)
		assert.Equal(t, "e2", events[0].ID)
		assert.Equal(t, "e4", events[2].ID)
	})

	t.Run("limit beyond length returns everything", func(t *testing.T) {
		events, err := store.ListRecent(ctx, 100)
		require.NoError(t, err)
		assert.Len(t, events, 5)
	})

	t.Run("zero and negative limits return nothing", func(t *testing.T) {
		for _, limit := range []int{0, -1, -100} {
			events, err := store.ListRecent(ctx, limit)
			require.NoError(t, err, "limit %d", limit)
			assert.Empty(t, events, "limit %d", limit)
		}
	})
}

func TestClear(t *testing.T) {
	store := memory.NewInMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Append(ctx, audit.Event{ID: "e1", TaskID: "task:t1"}))

	store.Clear()

	events, err := store.ListByTask(ctx, "task:t1")
	require.NoError(t, err)
	assert.Empty(t, events)
	recent, err := store.ListRecent(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, recent)
}
