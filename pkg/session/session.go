package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/astromechza/geochat/pkg/anchor"
	"github.com/astromechza/geochat/pkg/cache"
	"github.com/astromechza/geochat/pkg/position"
	"github.com/astromechza/geochat/pkg/store"
)

// Rejection reasons reported before any store interaction happens.
var (
	ErrEmptyText = errors.New("message has no content")
	ErrNoFix     = errors.New("position unknown")
)

// Status is the terminal state of one submission.
type Status string

const (
	// StatusAccepted means the message is now in the store, attached to
	// either an existing or a newly created anchor.
	StatusAccepted Status = "accepted"
	// StatusRejected means validation failed and the store was never
	// contacted.
	StatusRejected Status = "rejected"
	// StatusFailed means the store write failed; the message is not
	// retried and must be resubmitted.
	StatusFailed Status = "failed"
)

// Outcome reports what happened to a submission.
type Outcome struct {
	Status   Status
	AnchorID string // set when accepted
	Merged   bool   // true when the message joined an existing anchor
	Reason   error  // set when rejected or failed
}

// Session owns everything one device needs to post messages: the current
// position slot, the local anchor cache, and the store connection. It
// replaces the hidden global state a naive client would keep.
type Session struct {
	store   store.Store
	tracker *position.Tracker
	cache   *cache.Cache
	log     *slog.Logger

	// submitMu serialises submissions: a Submit arriving while another is
	// in flight queues behind it instead of racing it.
	submitMu sync.Mutex

	// refresh carries fire-and-forget refresh requests issued after
	// successful writes. Buffer 1: pending requests coalesce.
	refresh chan struct{}

	now func() time.Time
}

func New(st store.Store, tracker *position.Tracker) *Session {
	return &Session{
		store:   st,
		tracker: tracker,
		cache:   cache.New(),
		log:     slog.Default(),
		refresh: make(chan struct{}, 1),
		now:     time.Now,
	}
}

// Cache exposes the session's anchor mirror.
func (s *Session) Cache() *cache.Cache {
	return s.cache
}

// Submit runs one message through validate, resolve, write, refresh. It
// returns once the write has completed; the refresh it triggers is
// asynchronous and best-effort, so the very next Submit may still act on a
// snapshot that predates this one.
func (s *Session) Submit(ctx context.Context, text string) Outcome {
	s.submitMu.Lock()
	defer s.submitMu.Unlock()

	if text == "" {
		return Outcome{Status: StatusRejected, Reason: ErrEmptyText}
	}
	fix, ok := s.tracker.Last()
	if !ok {
		return Outcome{Status: StatusRejected, Reason: ErrNoFix}
	}

	msg := anchor.Message{Text: text, Timestamp: s.now().UnixMilli()}
	matched, merge := anchor.Nearest(fix, s.cache.Snapshot())

	out := s.write(ctx, msg, matched, merge, fix)
	if out.Status == StatusAccepted {
		s.requestRefresh()
	}
	return out
}

// write is the cluster writer: append to the resolved anchor, or create a new
// one at the submission position. Appends are atomic at the store layer, so
// two devices merging into the same anchor at once both land their messages.
func (s *Session) write(ctx context.Context, msg anchor.Message, matched anchor.Anchor, merge bool, fix position.Fix) Outcome {
	if merge {
		err := s.store.Append(ctx, matched.ID, msg)
		if err == nil {
			return Outcome{Status: StatusAccepted, AnchorID: matched.ID, Merged: true}
		}
		if !errors.Is(err, store.ErrNotFound) {
			return Outcome{Status: StatusFailed, Reason: err}
		}
		// The resolved anchor was deleted remotely after our snapshot
		// was taken. Fall through and start a fresh anchor so the
		// message is not lost.
		s.log.Warn("resolved anchor vanished, creating a new one", "anchor", matched.ID)
	}

	id, err := s.store.Create(ctx, anchor.Anchor{
		Latitude:  fix.Latitude,
		Longitude: fix.Longitude,
		Messages:  []anchor.Message{msg},
	})
	if err != nil {
		return Outcome{Status: StatusFailed, Reason: err}
	}
	return Outcome{Status: StatusAccepted, AnchorID: id}
}

func (s *Session) requestRefresh() {
	select {
	case s.refresh <- struct{}{}:
	default:
	}
}

// Refresh fetches a full snapshot and installs it in the cache. On failure
// the cache keeps its last good snapshot.
func (s *Session) Refresh(ctx context.Context) error {
	snapshot, err := s.store.All(ctx)
	if err != nil {
		return err
	}
	s.cache.Replace(snapshot)
	return nil
}
