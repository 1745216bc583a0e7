// Package resource provides a scoped handle for timers, tickers and listener
// removals. Everything a session or manager arms is registered here so one
// Dispose call is the single teardown path; nothing relies on finalization.
package resource

import (
	"sort"
	"sync"
	"time"
)

// Tracker collects cancellation handles for a single owner (a session, an
// app session, a manager). Dispose releases everything exactly once.
//
// Releases are keyed so short-lived entries (a fired timer, a cancelled
// interval) deregister themselves; an owner that arms timers for days does
// not accumulate dead handles.
//
// Timer callbacks armed through a Tracker must check Disposed before acting;
// AfterFunc wraps the callback with that guard automatically.
type Tracker struct {
	mu       sync.Mutex
	disposed bool
	nextID   uint64
	releases map[uint64]func()
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// registerLocked stores fn under a fresh id. Caller holds t.mu.
func (t *Tracker) registerLocked(fn func()) uint64 {
	id := t.nextID
	t.nextID++
	if t.releases == nil {
		t.releases = make(map[uint64]func())
	}
	t.releases[id] = fn
	return id
}

func (t *Tracker) remove(id uint64) {
	t.mu.Lock()
	delete(t.releases, id)
	t.mu.Unlock()
}

// OnDispose registers a release function to run on Dispose. If the tracker
// is already disposed the function runs immediately.
func (t *Tracker) OnDispose(fn func()) {
	t.mu.Lock()
	if t.disposed {
		t.mu.Unlock()
		fn()
		return
	}
	t.registerLocked(fn)
	t.mu.Unlock()
}

// Timer is a one-shot timer owned by a Tracker. Stopping it (or letting it
// fire) drops its release entry from the tracker.
type Timer struct {
	owner *Tracker
	id    uint64
	timer *time.Timer
}

// Stop deregisters the timer and prevents the callback from firing if it has
// not already. Reports whether the underlying timer was still pending.
func (tm *Timer) Stop() bool {
	tm.owner.remove(tm.id)
	return tm.timer.Stop()
}

// AfterFunc arms a one-shot timer whose callback is skipped if the tracker
// was disposed before it fired. The timer is stopped on Dispose, and its
// tracker entry is dropped once it fires or is stopped.
func (t *Tracker) AfterFunc(d time.Duration, fn func()) *Timer {
	tm := &Timer{owner: t}

	t.mu.Lock()
	id := t.nextID
	tm.id = id
	tm.timer = time.AfterFunc(d, func() {
		t.remove(id)
		if t.Disposed() {
			return
		}
		fn()
	})
	if t.disposed {
		t.mu.Unlock()
		tm.timer.Stop()
		return tm
	}
	t.registerLocked(func() { tm.timer.Stop() })
	t.mu.Unlock()
	return tm
}

// SetInterval runs fn every d until the returned cancel is called or the
// tracker is disposed. The first tick fires after d, not immediately.
func (t *Tracker) SetInterval(d time.Duration, fn func()) (cancel func()) {
	stop := make(chan struct{})
	var once sync.Once
	var id uint64
	cancel = func() {
		once.Do(func() { close(stop) })
		t.remove(id)
	}

	t.mu.Lock()
	if t.disposed {
		t.mu.Unlock()
		cancel()
		return cancel
	}
	id = t.registerLocked(func() { once.Do(func() { close(stop) }) })
	t.mu.Unlock()

	go func() {
		ticker := time.NewTicker(d)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if t.Disposed() {
					return
				}
				fn()
			case <-stop:
				return
			}
		}
	}()

	return cancel
}

// Disposed reports whether Dispose has run.
func (t *Tracker) Disposed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.disposed
}

// PendingReleases reports how many release entries are currently registered.
func (t *Tracker) PendingReleases() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.releases)
}

// Dispose releases all tracked resources. Idempotent; the second call is a
// no-op. Release functions run in reverse registration order.
func (t *Tracker) Dispose() {
	t.mu.Lock()
	if t.disposed {
		t.mu.Unlock()
		return
	}
	t.disposed = true
	releases := t.releases
	t.releases = nil
	t.mu.Unlock()

	ids := make([]uint64, 0, len(releases))
	for id := range releases {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
	for _, id := range ids {
		releases[id]()
	}
}
