/*
Package lock provides advisory exclusive locks keyed by string.

PURPOSE:
  Stores without native row locks (SQLite, memory) serialize the
  read-check-write sequence for one facility by holding a keyed lock for
  the whole transaction. Different keys never block each other.

IMPLEMENTATIONS:
  Keyed: In-process, for a single server
  Redis: SET NX PX with a random token, for several servers sharing a
         database

WAIT SEMANTICS:
  Acquire waits at most `wait`. It returns ErrTimeout when the wait
  elapses and ctx.Err() when the context ends first.

SEE ALSO:
  - store/sqlite: Takes "facility:<id>" and "reservation:<id>" keys
*/
package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTimeout is returned when a lock could not be acquired within the wait.
var ErrTimeout = errors.New("lock wait timed out")

// Release gives a held lock back. It is safe to call once.
type Release func()

// Locker acquires exclusive locks by key.
type Locker interface {
	Acquire(ctx context.Context, key string, wait time.Duration) (Release, error)
}

// =============================================================================
// KEYED - In-process keyed mutex with bounded wait
// =============================================================================

type slot struct {
	ch   chan struct{}
	refs int
}

// Keyed is an in-process Locker. Slots are created on demand and dropped
// when no goroutine holds or waits for them.
type Keyed struct {
	mu    sync.Mutex
	slots map[string]*slot
}

func NewKeyed() *Keyed {
	return &Keyed{slots: make(map[string]*slot)}
}

// Acquire implements Locker.
func (k *Keyed) Acquire(ctx context.Context, key string, wait time.Duration) (Release, error) {
	s := k.ref(key)

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case s.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-s.ch
				k.unref(key)
			})
		}, nil
	case <-timer.C:
		k.unref(key)
		return nil, ErrTimeout
	case <-ctx.Done():
		k.unref(key)
		return nil, ctx.Err()
	}
}

func (k *Keyed) ref(key string) *slot {
	k.mu.Lock()
	defer k.mu.Unlock()
	s, ok := k.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		k.slots[key] = s
	}
	s.refs++
	return s
}

func (k *Keyed) unref(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	s := k.slots[key]
	s.refs--
	if s.refs == 0 {
		delete(k.slots, key)
	}
}

// Len returns the number of keys currently held or awaited.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.slots)
}
