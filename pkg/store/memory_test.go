package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astromechza/geochat/pkg/anchor"
)

func TestMemory(t *testing.T) {
	ctx := context.Background()

	t.Run("create assigns an id and round trips", func(t *testing.T) {
		m := NewMemory()
		in := anchor.Anchor{
			Latitude:  53.3498,
			Longitude: -6.2603,
			Messages:  []anchor.Message{{Text: "hi", Timestamp: 1000}},
		}
		id, err := m.Create(ctx, in)
		require.NoError(t, err)
		require.NotEmpty(t, id)

		snapshot, err := m.All(ctx)
		require.NoError(t, err)
		require.Len(t, snapshot, 1)
		got := snapshot[id]
		assert.Equal(t, id, got.ID)
		assert.Equal(t, in.Latitude, got.Latitude)
		assert.Equal(t, in.Longitude, got.Longitude)
		assert.Equal(t, in.Messages, got.Messages)
	})

	t.Run("create requires a message", func(t *testing.T) {
		m := NewMemory()
		_, err := m.Create(ctx, anchor.Anchor{Latitude: 1, Longitude: 2})
		assert.Error(t, err)
	})

	t.Run("append keeps messages in order", func(t *testing.T) {
		m := NewMemory()
		id, err := m.Create(ctx, anchor.Anchor{Messages: []anchor.Message{{Text: "first", Timestamp: 1}}})
		require.NoError(t, err)
		require.NoError(t, m.Append(ctx, id, anchor.Message{Text: "second", Timestamp: 2}))
		require.NoError(t, m.Append(ctx, id, anchor.Message{Text: "third", Timestamp: 3}))

		snapshot, err := m.All(ctx)
		require.NoError(t, err)
		require.Len(t, snapshot[id].Messages, 3)
		assert.Equal(t, "first", snapshot[id].Messages[0].Text)
		assert.Equal(t, "second", snapshot[id].Messages[1].Text)
		assert.Equal(t, "third", snapshot[id].Messages[2].Text)
	})

	t.Run("append to a missing anchor", func(t *testing.T) {
		m := NewMemory()
		err := m.Append(ctx, "nope", anchor.Message{Text: "hi", Timestamp: 1})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("put creates the key if absent", func(t *testing.T) {
		m := NewMemory()
		require.NoError(t, m.Put(ctx, "fixed", anchor.Anchor{Latitude: 1, Longitude: 2, Messages: []anchor.Message{{Text: "hi", Timestamp: 1}}}))
		snapshot, err := m.All(ctx)
		require.NoError(t, err)
		require.Contains(t, snapshot, "fixed")
		assert.Equal(t, "fixed", snapshot["fixed"].ID)
	})

	t.Run("snapshots are copies", func(t *testing.T) {
		m := NewMemory()
		id, err := m.Create(ctx, anchor.Anchor{Messages: []anchor.Message{{Text: "hi", Timestamp: 1}}})
		require.NoError(t, err)

		snapshot, err := m.All(ctx)
		require.NoError(t, err)
		mutated := snapshot[id]
		mutated.Messages[0].Text = "changed"
		snapshot[id] = mutated

		fresh, err := m.All(ctx)
		require.NoError(t, err)
		assert.Equal(t, "hi", fresh[id].Messages[0].Text)
	})
}

func TestMemoryConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	id, err := m.Create(ctx, anchor.Anchor{Messages: []anchor.Message{{Text: "seed", Timestamp: 0}}})
	require.NoError(t, err)

	const writers = 4
	const perWriter = 50
	wg := new(sync.WaitGroup)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				assert.NoError(t, m.Append(ctx, id, anchor.Message{Text: "m", Timestamp: int64(w*perWriter + i)}))
			}
		}(w)
	}
	wg.Wait()

	snapshot, err := m.All(ctx)
	require.NoError(t, err)
	assert.Len(t, snapshot[id].Messages, 1+writers*perWriter)
}

func TestMemoryWatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := NewMemory()

	ch, err := m.Watch(ctx)
	require.NoError(t, err)

	select {
	case snapshot := <-ch:
		assert.Empty(t, snapshot)
	case <-time.After(time.Second):
		t.Fatal("no initial snapshot delivered")
	}

	id, err := m.Create(ctx, anchor.Anchor{Messages: []anchor.Message{{Text: "hi", Timestamp: 1}}})
	require.NoError(t, err)

	deadline := time.After(time.Second)
	for {
		select {
		case snapshot, ok := <-ch:
			require.True(t, ok)
			if _, found := snapshot[id]; found {
				return
			}
		case <-deadline:
			t.Fatal("change was never pushed")
		}
	}
}
