package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/astromechza/geochat/pkg/anchor"
)

// Memory is an in-process Store. It backs tests and single-process setups and
// is the reference for the concurrency semantics remote implementations must
// provide: every mutation happens under one lock, so appends never race.
type Memory struct {
	mu       sync.RWMutex
	anchors  map[string]anchor.Anchor
	watchers map[chan map[string]anchor.Anchor]struct{}
}

func NewMemory() *Memory {
	return &Memory{
		anchors:  make(map[string]anchor.Anchor),
		watchers: make(map[chan map[string]anchor.Anchor]struct{}),
	}
}

func (m *Memory) All(_ context.Context) (map[string]anchor.Anchor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked(), nil
}

func (m *Memory) Watch(ctx context.Context) (<-chan map[string]anchor.Anchor, error) {
	ch := make(chan map[string]anchor.Anchor, 1)
	m.mu.Lock()
	m.watchers[ch] = struct{}{}
	ch <- m.snapshotLocked()
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.watchers, ch)
		close(ch)
		m.mu.Unlock()
	}()
	return ch, nil
}

func (m *Memory) Create(_ context.Context, a anchor.Anchor) (string, error) {
	if len(a.Messages) == 0 {
		return "", fmt.Errorf("anchor must be created with at least one message")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.NewString()
	a.ID = id
	m.anchors[id] = a.Clone()
	m.notifyLocked()
	return id, nil
}

func (m *Memory) Put(_ context.Context, id string, a anchor.Anchor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.ID = id
	m.anchors[id] = a.Clone()
	m.notifyLocked()
	return nil
}

func (m *Memory) Append(_ context.Context, id string, msg anchor.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.anchors[id]
	if !ok {
		return ErrNotFound
	}
	a = a.Clone()
	a.Messages = append(a.Messages, msg)
	m.anchors[id] = a
	m.notifyLocked()
	return nil
}

// snapshotLocked copies the mapping so callers can never reach the stored
// records. Callers must hold at least the read lock.
func (m *Memory) snapshotLocked() map[string]anchor.Anchor {
	out := make(map[string]anchor.Anchor, len(m.anchors))
	for id, a := range m.anchors {
		out[id] = a.Clone()
	}
	return out
}

func (m *Memory) notifyLocked() {
	if len(m.watchers) == 0 {
		return
	}
	snapshot := m.snapshotLocked()
	for ch := range m.watchers {
		offer(ch, snapshot)
	}
}
