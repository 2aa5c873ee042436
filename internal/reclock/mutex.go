// Package reclock implements the single recursive mutex the enclosing
// reader installs over its history cache: re-entrant so that KEEP_LAST
// eviction, which removes a change and then admits a new one, can
// relock from the same goroutine without deadlocking itself.
//
// The base exclusion is a deadlock-detecting mutex so that a genuine
// cross-goroutine lock-order violation surfaces as a diagnosable error
// instead of a silent hang; goroutine identity for the reentrancy check
// comes from goid, the same pairing the wider ecosystem reaches for
// when it needs a reentrant lock in Go.
package reclock

import (
	"sync"

	"github.com/petermattis/goid"
	deadlock "github.com/sasha-s/go-deadlock"
)

// Mutex is a recursive, deadlock-detecting mutex. The zero value is an
// unlocked mutex; New returns a pointer to one.
type Mutex struct {
	inner deadlock.Mutex
	guard sync.Mutex // protects owner/depth below
	owner int64
	depth int
}

// New returns a ready-to-use Mutex.
func New() *Mutex {
	return &Mutex{owner: 0}
}

// Lock acquires the mutex. If the calling goroutine already holds it,
// Lock increments the reentrancy depth and returns immediately instead
// of blocking on itself.
func (m *Mutex) Lock() {
	gid := goid.Get()

	m.guard.Lock()
	if m.depth > 0 && m.owner == gid {
		m.depth++
		m.guard.Unlock()
		return
	}
	m.guard.Unlock()

	m.inner.Lock()

	m.guard.Lock()
	m.owner = gid
	m.depth = 1
	m.guard.Unlock()
}

// Unlock releases one level of recursion. The underlying exclusion is
// only released once depth returns to zero. Unlock by a goroutine that
// does not hold the lock is a programmer error, as with sync.Mutex.
func (m *Mutex) Unlock() {
	gid := goid.Get()

	m.guard.Lock()
	if m.depth == 0 || m.owner != gid {
		m.guard.Unlock()
		panic("reclock: Unlock of mutex not held by calling goroutine")
	}
	m.depth--
	release := m.depth == 0
	m.guard.Unlock()

	if release {
		m.inner.Unlock()
	}
}

// HeldByCaller reports whether the calling goroutine currently holds
// the lock, for assertions at entry points that require attachment
// (see PreconditionUnmet in internal/herrors).
func (m *Mutex) HeldByCaller() bool {
	gid := goid.Get()
	m.guard.Lock()
	defer m.guard.Unlock()
	return m.depth > 0 && m.owner == gid
}
