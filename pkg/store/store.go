package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/astromechza/geochat/pkg/anchor"
)

// ErrNotFound is returned when an operation names an anchor the store does
// not hold.
var ErrNotFound = errors.New("anchor not found")

// Code classifies a store failure for the caller.
type Code string

const (
	// CodeUnavailable covers connectivity and transport failures.
	CodeUnavailable Code = "unavailable"
	// CodePermission covers authorization failures.
	CodePermission Code = "permission"
)

// Error is a failed store operation together with its diagnostic code.
type Error struct {
	Op   string
	Code Code
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("store %s failed (%s): %v", e.Op, e.Code, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Store is a shared mapping from anchor ID to anchor record, mutated
// concurrently by any number of devices. Implementations must apply Append
// atomically so that concurrent merges into the same anchor lose nothing.
type Store interface {
	// All fetches a full point-in-time snapshot of every anchor.
	All(ctx context.Context) (map[string]anchor.Anchor, error)

	// Watch subscribes to snapshots: one is delivered immediately and
	// another after every subsequent change. The channel closes when the
	// context is cancelled or the subscription is lost; slow consumers
	// observe only the latest snapshot, not every intermediate one.
	Watch(ctx context.Context) (<-chan map[string]anchor.Anchor, error)

	// Create stores a new anchor and returns its assigned ID.
	Create(ctx context.Context, a anchor.Anchor) (string, error)

	// Put overwrites the full record under id, creating it if absent.
	Put(ctx context.Context, id string, a anchor.Anchor) error

	// Append atomically appends one message to an existing anchor.
	// Returns ErrNotFound if the anchor does not exist.
	Append(ctx context.Context, id string, m anchor.Message) error
}

// offer delivers a snapshot on a buffer-1 channel, replacing any undelivered
// previous snapshot so that a slow consumer always sees the newest state.
func offer(ch chan map[string]anchor.Anchor, snapshot map[string]anchor.Anchor) {
	for {
		select {
		case ch <- snapshot:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
