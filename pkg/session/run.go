package session

import (
	"context"
	"sync"
	"time"

	"github.com/astromechza/geochat/pkg/position"
)

// watchRedialDelay is how long the session waits before re-establishing a
// lost store subscription.
const watchRedialDelay = 5 * time.Second

// Run services the session's background inputs until the context is
// cancelled: position fixes feeding the tracker, store snapshots feeding the
// cache, and the refresh requests issued after successful writes. Submit can
// be called concurrently with a running Run.
func (s *Session) Run(ctx context.Context, sources ...position.Source) {
	wg := new(sync.WaitGroup)

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.tracker.Follow(ctx, sources...)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.watchStore(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.serviceRefreshes(ctx)
	}()

	wg.Wait()
}

// watchStore keeps a store subscription alive, replacing the cache on every
// pushed snapshot. A failed or dropped subscription is logged and redialled
// after a short delay; the cache keeps its last good snapshot in between.
func (s *Session) watchStore(ctx context.Context) {
	for {
		ch, err := s.store.Watch(ctx)
		if err != nil {
			s.log.Warn("failed to subscribe to store", "err", err)
			select {
			case <-time.After(watchRedialDelay):
				continue
			case <-ctx.Done():
				return
			}
		}
		for snapshot := range ch {
			s.cache.Replace(snapshot)
		}
		if ctx.Err() != nil {
			return
		}
		s.log.Warn("store subscription ended, redialling")
		select {
		case <-time.After(watchRedialDelay):
		case <-ctx.Done():
			return
		}
	}
}

func (s *Session) serviceRefreshes(ctx context.Context) {
	for {
		select {
		case <-s.refresh:
			if err := s.Refresh(ctx); err != nil {
				s.log.Warn("failed to refresh cache", "err", err)
			}
		case <-ctx.Done():
			return
		}
	}
}
