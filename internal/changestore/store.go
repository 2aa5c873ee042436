// Package changestore implements the flat, ordered sequence of all
// currently held samples for a topic: the Change Store component of the
// history cache. It supports bounded append, removal by element
// reference or by predicate, and front-eviction for KEEP_LAST.
//
// The store performs no locking of its own. Every mutating and reading
// operation is expected to run under the single recursive mutex the
// enclosing reader installs (see internal/reclock); two goroutines
// calling into the same Store concurrently without that lock will race.
package changestore

import (
	"container/list"

	"github.com/dreamware/dcache/internal/rtps"
)

// Element is an opaque handle to one stored change, returned by Add and
// consumed by Remove/RemoveAt. It is the "arena-indexed handle" the
// design favors over raw pointer ownership: holding an Element confers
// no ownership of the underlying CacheChange, only a reference to it.
type Element struct {
	el     *list.Element
	change *rtps.CacheChange
}

// Change returns the CacheChange this element wraps.
func (e *Element) Change() *rtps.CacheChange { return e.change }

// Store is the bounded, ordered sequence of CacheChange pointers.
type Store struct {
	changes  *list.List
	capacity int
}

// New returns a Store bounded at capacity. Use qos.Unbounded for an
// effectively uncapped store.
func New(capacity int) *Store {
	return &Store{
		changes:  list.New(),
		capacity: capacity,
	}
}

// Size returns the number of changes currently held.
func (s *Store) Size() int { return s.changes.Len() }

// Capacity returns the configured maximum.
func (s *Store) Capacity() int { return s.capacity }

// IsFull reports whether Size has reached Capacity.
func (s *Store) IsFull() bool { return s.changes.Len() >= s.capacity }

// Add appends change to the tail of the store. It fails, returning a
// nil Element and false, if the store is already full; callers (the
// admission policy) are responsible for evicting first under KEEP_LAST.
func (s *Store) Add(change *rtps.CacheChange) (*Element, bool) {
	if s.IsFull() {
		return nil, false
	}
	le := s.changes.PushBack(change)
	return &Element{el: le, change: change}, true
}

// Remove removes e from the store. It returns false if e is nil or
// already removed.
func (s *Store) Remove(e *Element) bool {
	if e == nil || e.el == nil {
		return false
	}
	s.changes.Remove(e.el)
	e.el = nil
	return true
}

// RemoveAt removes e and returns an Element wrapping the next remaining
// change in sequence order, or nil if e was the last one. It mirrors
// remove_at(iter) -> next_iter for callers iterating while removing.
func (s *Store) RemoveAt(e *Element) *Element {
	if e == nil || e.el == nil {
		return nil
	}
	next := e.el.Next()
	s.changes.Remove(e.el)
	e.el = nil
	if next == nil {
		return nil
	}
	return &Element{el: next, change: next.Value.(*rtps.CacheChange)}
}

// Front returns the oldest stored change's Element, or nil if empty.
func (s *Store) Front() *Element {
	fe := s.changes.Front()
	if fe == nil {
		return nil
	}
	return &Element{el: fe, change: fe.Value.(*rtps.CacheChange)}
}

// PopFront removes and returns the oldest change, or ok=false if the
// store is empty. This is the eviction primitive KEEP_LAST admission
// uses.
func (s *Store) PopFront() (*rtps.CacheChange, bool) {
	fe := s.changes.Front()
	if fe == nil {
		return nil, false
	}
	s.changes.Remove(fe)
	return fe.Value.(*rtps.CacheChange), true
}

// Find scans the store for the first change matching match, returning
// its Element or nil. Used by remove_change_sub to locate a change by
// (sequence_number, writer_guid) identity.
func (s *Store) Find(match func(*rtps.CacheChange) bool) *Element {
	for el := s.changes.Front(); el != nil; el = el.Next() {
		c := el.Value.(*rtps.CacheChange)
		if match(c) {
			return &Element{el: el, change: c}
		}
	}
	return nil
}

// All returns every currently stored change, in reception order. The
// returned slice is a fresh copy of the pointer list; the CacheChange
// values themselves are not copied, since this store never owns them.
func (s *Store) All() []*rtps.CacheChange {
	out := make([]*rtps.CacheChange, 0, s.changes.Len())
	for el := s.changes.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*rtps.CacheChange))
	}
	return out
}
