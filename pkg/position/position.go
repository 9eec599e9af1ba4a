package position

import (
	"context"
	"sync"
)

// Fix is a single observation of the device coordinate reported by a provider.
type Fix struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timestamp int64   `json:"timestamp"`
}

// Source emits fixes at provider-determined intervals. A device may have more
// than one source active at a time (satellite, network-assisted, simulated).
type Source interface {
	Fixes() <-chan Fix
}

// Tracker keeps the single most recent fix regardless of which source produced
// it. There is no fusion or accuracy weighting: the newest observation wins.
type Tracker struct {
	mu   sync.RWMutex
	last Fix
	seen bool
}

func NewTracker() *Tracker {
	return &Tracker{}
}

// Update records a new fix, replacing whatever came before it.
func (t *Tracker) Update(f Fix) {
	t.mu.Lock()
	t.last = f
	t.seen = true
	t.mu.Unlock()
}

// Last returns the most recent fix. The second return is false until the
// first fix has been observed.
func (t *Tracker) Last() (Fix, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.last, t.seen
}

// Follow consumes fixes from every source until the context is cancelled or
// all sources have closed their channels.
func (t *Tracker) Follow(ctx context.Context, sources ...Source) {
	wg := new(sync.WaitGroup)
	for _, source := range sources {
		wg.Add(1)
		go func(source Source) {
			defer wg.Done()
			for {
				select {
				case f, ok := <-source.Fixes():
					if !ok {
						return
					}
					t.Update(f)
				case <-ctx.Done():
					return
				}
			}
		}(source)
	}
	wg.Wait()
}
