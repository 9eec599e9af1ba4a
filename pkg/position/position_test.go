package position

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chanSource struct {
	ch chan Fix
}

func (c *chanSource) Fixes() <-chan Fix {
	return c.ch
}

func TestTracker(t *testing.T) {
	t.Run("no fix until the first update", func(t *testing.T) {
		tr := NewTracker()
		_, ok := tr.Last()
		assert.False(t, ok)
	})

	t.Run("newest fix wins", func(t *testing.T) {
		tr := NewTracker()
		tr.Update(Fix{Latitude: 1, Longitude: 2, Timestamp: 100})
		tr.Update(Fix{Latitude: 3, Longitude: 4, Timestamp: 200})
		got, ok := tr.Last()
		require.True(t, ok)
		assert.Equal(t, Fix{Latitude: 3, Longitude: 4, Timestamp: 200}, got)
	})
}

func TestTrackerFollow(t *testing.T) {
	t.Run("consumes fixes from multiple sources", func(t *testing.T) {
		gps := &chanSource{ch: make(chan Fix)}
		network := &chanSource{ch: make(chan Fix)}
		tr := NewTracker()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		done := make(chan struct{})
		go func() {
			defer close(done)
			tr.Follow(ctx, gps, network)
		}()

		gps.ch <- Fix{Latitude: 1, Longitude: 1, Timestamp: 100}
		require.Eventually(t, func() bool {
			got, ok := tr.Last()
			return ok && got.Timestamp == 100
		}, time.Second, time.Millisecond)

		network.ch <- Fix{Latitude: 2, Longitude: 2, Timestamp: 200}
		require.Eventually(t, func() bool {
			got, ok := tr.Last()
			return ok && got.Timestamp == 200
		}, time.Second, time.Millisecond)

		cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("follow did not stop on cancel")
		}
	})

	t.Run("stops when sources close", func(t *testing.T) {
		src := &chanSource{ch: make(chan Fix)}
		tr := NewTracker()
		done := make(chan struct{})
		go func() {
			defer close(done)
			tr.Follow(context.Background(), src)
		}()
		close(src.ch)
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("follow did not stop when the source closed")
		}
	})
}
