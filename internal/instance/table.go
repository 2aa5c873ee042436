// Package instance implements the Instance Table and the lazy-reclaim
// half of the Key Resolver: the mapping from InstanceHandle to
// per-instance state, bounded by max_instances, with ordered exact and
// upper-bound lookup.
//
// Like changestore, Table performs no locking of its own; it runs under
// the caller's external recursive mutex.
package instance

import (
	"time"

	"github.com/google/btree"

	"github.com/dreamware/dcache/internal/changestore"
	"github.com/dreamware/dcache/internal/rtps"
)

// Entry is the per-instance state: its own bounded, ordered change
// sequence and its next expected deadline.
type Entry struct {
	Handle       rtps.InstanceHandle
	Changes      *changestore.Store
	NextDeadline time.Time
	hasDeadline  bool
}

// HasDeadline reports whether SetDeadline has ever been called for
// this entry.
func (e *Entry) HasDeadline() bool { return e.hasDeadline }

// item is the btree element: ordered by Handle, carrying the Entry.
type item struct {
	handle rtps.InstanceHandle
	entry  *Entry
}

func less(a, b item) bool {
	return a.handle.Compare(b.handle) < 0
}

// Table is the bounded, ordered InstanceHandle -> *Entry map.
type Table struct {
	bt             *btree.BTreeG[item]
	maxInstances   int
	perInstanceCap func() int
}

// New returns an empty Table capped at maxInstances. perInstanceCap is
// invoked once per newly created Entry to size its Changes store (so
// the cap can depend on policy: Depth for KEEP_LAST, MaxSamplesPerInstance
// for KEEP_ALL).
func New(maxInstances int, perInstanceCap func() int) *Table {
	return &Table{
		bt:             btree.NewG(32, less),
		maxInstances:   maxInstances,
		perInstanceCap: perInstanceCap,
	}
}

// Size returns the number of instances currently tracked.
func (t *Table) Size() int { return t.bt.Len() }

// Get returns the entry exactly matching handle.
func (t *Table) Get(handle rtps.InstanceHandle) (*Entry, bool) {
	found, ok := t.bt.Get(item{handle: handle})
	if !ok {
		return nil, false
	}
	return found.entry, true
}

// UpperBound returns the entry whose handle is the least one strictly
// greater than handle, implementing lookup_instance(handle, exact=false)
// for keyed topics.
func (t *Table) UpperBound(handle rtps.InstanceHandle) (*Entry, bool) {
	var result *Entry
	t.bt.AscendGreaterOrEqual(item{handle: handle}, func(it item) bool {
		if it.handle.Compare(handle) == 0 {
			return true // skip the exact match, keep scanning
		}
		result = it.entry
		return false
	})
	return result, result != nil
}

// FindOrCreate returns the entry for handle, creating it if absent. If
// the table is at maxInstances, it attempts to reclaim an empty entry
// (any entry whose Changes store is empty) before giving up. ok is
// false only when no slot could be found or reclaimed. reclaimed
// reports whether an existing entry was evicted to make room.
func (t *Table) FindOrCreate(handle rtps.InstanceHandle) (entry *Entry, created bool, reclaimed bool, ok bool) {
	if found, exists := t.Get(handle); exists {
		return found, false, false, true
	}

	if t.bt.Len() >= t.maxInstances {
		if !t.reclaimOne() {
			return nil, false, false, false
		}
		reclaimed = true
	}

	e := &Entry{
		Handle:  handle,
		Changes: changestore.New(t.perInstanceCap()),
	}
	t.bt.ReplaceOrInsert(item{handle: handle, entry: e})
	return e, true, reclaimed, true
}

// reclaimOne erases the first entry found with an empty change
// sequence, per the design's lazy-reclaim rule. Returns false if no
// such entry exists.
func (t *Table) reclaimOne() bool {
	var victim rtps.InstanceHandle
	found := false
	t.bt.Ascend(func(it item) bool {
		if it.entry.Changes.Size() == 0 {
			victim = it.handle
			found = true
			return false
		}
		return true
	})
	if !found {
		return false
	}
	t.bt.Delete(item{handle: victim})
	return true
}

// Delete removes handle's entry unconditionally. Used to roll back a
// FindOrCreate whose new or reclaimed slot turned out to hold no
// admitted sample.
func (t *Table) Delete(handle rtps.InstanceHandle) bool {
	_, ok := t.bt.Delete(item{handle: handle})
	return ok
}

// All returns every tracked handle in ascending order. Intended for
// tests and diagnostics, not the hot path.
func (t *Table) All() []rtps.InstanceHandle {
	out := make([]rtps.InstanceHandle, 0, t.bt.Len())
	t.bt.Ascend(func(it item) bool {
		out = append(out, it.handle)
		return true
	})
	return out
}

// MinDeadline returns the handle and timestamp of the entry with the
// globally minimum NextDeadline among entries that have one set, for
// get_next_deadline on keyed histories.
func (t *Table) MinDeadline() (rtps.InstanceHandle, time.Time, bool) {
	var (
		bestHandle rtps.InstanceHandle
		bestTime   time.Time
		found      bool
	)
	t.bt.Ascend(func(it item) bool {
		if !it.entry.hasDeadline {
			return true
		}
		if !found || it.entry.NextDeadline.Before(bestTime) {
			bestHandle = it.handle
			bestTime = it.entry.NextDeadline
			found = true
		}
		return true
	})
	return bestHandle, bestTime, found
}

// SetDeadline records when as e's next expected deadline.
func (e *Entry) SetDeadline(when time.Time) {
	e.NextDeadline = when
	e.hasDeadline = true
}
