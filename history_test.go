package history

import (
	"testing"
	"time"

	"github.com/dreamware/dcache/internal/herrors"
	"github.com/dreamware/dcache/internal/qos"
	"github.com/dreamware/dcache/internal/reclock"
	"github.com/dreamware/dcache/internal/rtps"
)

// unkeyedPlugin is the minimal TypePlugin for unkeyed topics used in
// these tests; it never extracts a key.
type unkeyedPlugin struct{}

func (unkeyedPlugin) HasKey() bool                    { return false }
func (unkeyedPlugin) PayloadSize() int                { return 16 }
func (unkeyedPlugin) CreateScratch() interface{}       { return nil }
func (unkeyedPlugin) DestroyScratch(interface{})       {}
func (unkeyedPlugin) Deserialize([]byte, interface{}) error {
	return nil
}
func (unkeyedPlugin) GetKey(interface{}, *rtps.InstanceHandle, bool) error {
	return nil
}

// keyedPlugin is a minimal reference plugin for keyed topics: the key
// is the single first byte of the serialized payload.
type keyedPlugin struct{}

func (keyedPlugin) HasKey() bool              { return true }
func (keyedPlugin) PayloadSize() int          { return 16 }
func (keyedPlugin) CreateScratch() interface{} {
	buf := make([]byte, 1)
	return &buf
}
func (keyedPlugin) DestroyScratch(interface{}) {}

func (keyedPlugin) Deserialize(payload []byte, scratch interface{}) error {
	buf := scratch.(*[]byte)
	if len(payload) == 0 {
		return errEmptyPayload
	}
	(*buf)[0] = payload[0]
	return nil
}

func (keyedPlugin) GetKey(scratch interface{}, handle *rtps.InstanceHandle, _ bool) error {
	buf := scratch.(*[]byte)
	var h rtps.InstanceHandle
	h[0] = (*buf)[0]
	*handle = h
	return nil
}

var errEmptyPayload = &emptyPayloadError{}

type emptyPayloadError struct{}

func (*emptyPayloadError) Error() string { return "empty payload" }

func newSeq(seq int64) *rtps.CacheChange {
	return &rtps.CacheChange{SequenceNumber: rtps.SequenceNumber(seq), Kind: rtps.Alive}
}

func keyedChange(seq int64, key byte) *rtps.CacheChange {
	return &rtps.CacheChange{
		SequenceNumber:    rtps.SequenceNumber(seq),
		Kind:              rtps.Alive,
		SerializedPayload: []byte{key},
	}
}

func attach(h *History) {
	h.Attach(fakeReader{}, reclock.New())
}

type fakeReader struct{}

func (fakeReader) GUID() rtps.GUID                                                  { return rtps.GUID{} }
func (fakeReader) NextUntakenCache() (*rtps.CacheChange, rtps.WriterProxy, bool)     { return nil, nil, false }
func (fakeReader) ChangeReadByUser(*rtps.CacheChange, rtps.WriterProxy, bool)        {}
func (fakeReader) SecurityAttributes() rtps.SecurityAttributes                      { return rtps.SecurityAttributes{} }

func handleOf(b byte) rtps.InstanceHandle {
	var h rtps.InstanceHandle
	h[0] = b
	return h
}

// An unkeyed KEEP_LAST=3 history keeps only the three most recent
// samples, evicting from the front as new ones arrive.
func TestKeepLastUnkeyedEvictsOldest(t *testing.T) {
	h := New(unkeyedPlugin{}, qos.Policy{Kind: qos.KeepLast, Depth: 3, TopicName: "t1"})
	attach(h)

	for i := int64(1); i <= 5; i++ {
		if err := h.ReceivedChange(newSeq(i), 0); err != nil {
			t.Fatalf("ReceivedChange(%d) error: %v", i, err)
		}
	}

	_, all, ok := h.LookupInstance(rtps.UndefinedHandle, false)
	if !ok {
		t.Fatalf("LookupInstance() ok = false")
	}
	if len(all) != 3 {
		t.Fatalf("store size = %d, want 3", len(all))
	}
	for i, want := range []int64{3, 4, 5} {
		if int64(all[i].SequenceNumber) != want {
			t.Errorf("store[%d] = %d, want %d", i, all[i].SequenceNumber, want)
		}
	}
	if h.IsFull() {
		t.Errorf("IsFull() = true, want false (capacity equals depth, no headroom is expected but not \"full\" semantically for keep_last)")
	}
}

// An unkeyed KEEP_ALL history with max_samples=2 rejects a third
// sample instead of evicting, and reports itself full.
func TestKeepAllUnkeyedRejectsPastCapacity(t *testing.T) {
	h := New(unkeyedPlugin{}, qos.Policy{Kind: qos.KeepAll, TopicName: "t2", Limits: qos.ResourceLimits{MaxSamples: 2}})
	attach(h)

	if err := h.ReceivedChange(newSeq(1), 0); err != nil {
		t.Fatalf("s1: %v", err)
	}
	if err := h.ReceivedChange(newSeq(2), 0); err != nil {
		t.Fatalf("s2: %v", err)
	}
	err := h.ReceivedChange(newSeq(3), 0)
	if err == nil {
		t.Fatalf("s3 should have been rejected")
	}
	if kind, ok := herrors.KindOf(err); !ok || kind != herrors.KindCapacityExceeded {
		t.Errorf("error kind = %v, want CapacityExceeded", kind)
	}
	if !h.IsFull() {
		t.Errorf("IsFull() = false, want true")
	}
	if h.Size() != 2 {
		t.Errorf("Size() = %d, want 2", h.Size())
	}
}

// A keyed KEEP_LAST=2 history evicts per instance independently: each
// of two instances keeps only its own two most recent samples, and the
// global store holds the union of both.
func TestKeepLastKeyedPerInstanceEviction(t *testing.T) {
	h := New(keyedPlugin{}, qos.Policy{Kind: qos.KeepLast, Depth: 2, TopicName: "t3", Limits: qos.ResourceLimits{MaxInstances: 4}})
	attach(h)

	deliver := func(seq int64, key byte) {
		if err := h.ReceivedChange(keyedChange(seq, key), 0); err != nil {
			t.Fatalf("deliver seq=%d key=%c: %v", seq, key, err)
		}
	}
	deliver(1, 'A')
	deliver(1, 'B')
	deliver(2, 'A')
	deliver(3, 'A')
	deliver(2, 'B')

	_, aChanges, ok := h.LookupInstance(handleOf('A'), true)
	if !ok {
		t.Fatalf("lookup A failed")
	}
	if len(aChanges) != 2 || aChanges[0].SequenceNumber != 2 || aChanges[1].SequenceNumber != 3 {
		t.Errorf("A changes = %+v, want [seq2, seq3]", aChanges)
	}

	_, bChanges, ok := h.LookupInstance(handleOf('B'), true)
	if !ok {
		t.Fatalf("lookup B failed")
	}
	if len(bChanges) != 2 || bChanges[0].SequenceNumber != 1 || bChanges[1].SequenceNumber != 2 {
		t.Errorf("B changes = %+v, want [seq1, seq2]", bChanges)
	}

	if h.Size() != 4 {
		t.Errorf("global size = %d, want 4", h.Size())
	}
}

// When the instance table is full, delivering a sample for a brand
// new key reclaims an existing instance whose changes have all been
// taken, rather than being refused outright.
func TestInstanceTableReclaimsEmptySlot(t *testing.T) {
	h := New(keyedPlugin{}, qos.Policy{Kind: qos.KeepAll, TopicName: "t4", Limits: qos.ResourceLimits{MaxInstances: 2, MaxSamplesPerInstance: 10}})
	attach(h)

	a1 := keyedChange(1, 'A')
	if err := h.ReceivedChange(a1, 0); err != nil {
		t.Fatalf("deliver A1: %v", err)
	}
	if err := h.ReceivedChange(keyedChange(2, 'B'), 0); err != nil {
		t.Fatalf("deliver B1: %v", err)
	}

	if err := h.RemoveChangeSub(a1); err != nil {
		t.Fatalf("take A1: %v", err)
	}

	if err := h.ReceivedChange(keyedChange(3, 'C'), 0); err != nil {
		t.Fatalf("deliver C1 should reclaim A's slot: %v", err)
	}

	if _, _, ok := h.LookupInstance(handleOf('A'), true); ok {
		t.Errorf("instance A should have been reclaimed")
	}
	if _, _, ok := h.LookupInstance(handleOf('B'), true); !ok {
		t.Errorf("instance B should still exist")
	}
	if _, _, ok := h.LookupInstance(handleOf('C'), true); !ok {
		t.Errorf("instance C should have been admitted")
	}
	if h.InstanceCount() != 2 {
		t.Errorf("InstanceCount() = %d, want 2", h.InstanceCount())
	}
}

// A sample arriving with an undefined instance handle has its key
// resolved from the deserialized payload before admission runs.
func TestKeyResolutionFromPayload(t *testing.T) {
	h := New(keyedPlugin{}, qos.Policy{Kind: qos.KeepAll, TopicName: "t5", Limits: qos.ResourceLimits{MaxInstances: 4, MaxSamplesPerInstance: 4}})
	attach(h)

	c := keyedChange(1, 'K')
	c.InstanceHandle = rtps.UndefinedHandle
	if err := h.ReceivedChange(c, 0); err != nil {
		t.Fatalf("ReceivedChange with resolvable key: %v", err)
	}
	if c.InstanceHandle != handleOf('K') {
		t.Errorf("resolved handle = %v, want handle('K')", c.InstanceHandle)
	}
	if _, changes, ok := h.LookupInstance(handleOf('K'), true); !ok || len(changes) != 1 {
		t.Errorf("instance K not stored correctly: ok=%v changes=%+v", ok, changes)
	}
}

// A keyed sample with an undefined handle and no usable key extractor
// is rejected rather than silently admitted under a zero handle.
func TestKeyedNoKeyRejected(t *testing.T) {
	h := New(noKeyPlugin{}, qos.Policy{Kind: qos.KeepAll, TopicName: "t5b", Limits: qos.ResourceLimits{MaxInstances: 4}})
	attach(h)

	err := h.ReceivedChange(&rtps.CacheChange{SequenceNumber: 1}, 0)
	if err == nil {
		t.Fatalf("expected rejection for undefined handle with no key extractor")
	}
	if kind, ok := herrors.KindOf(err); !ok || kind != herrors.KindKeyUnresolvable {
		t.Errorf("error kind = %v, want KeyUnresolvable", kind)
	}
	if h.Size() != 0 {
		t.Errorf("Size() = %d, want 0 (rejected sample must not be stored)", h.Size())
	}
}

// noKeyPlugin reports HasKey()==true (so the keyed code path runs) but
// never succeeds at extracting one, exercising resolveKey's failure arm
// distinctly from the unkeyedPlugin's !HasKey() arm.
type noKeyPlugin struct{ keyedPlugin }

func (noKeyPlugin) HasKey() bool { return true }
func (noKeyPlugin) GetKey(interface{}, *rtps.InstanceHandle, bool) error {
	return &emptyPayloadError{}
}
func (noKeyPlugin) Deserialize([]byte, interface{}) error { return nil }

// GetNextDeadline reports the earliest deadline across all instances
// of a keyed history, not just the most recently set one.
func TestPerInstanceDeadlineTracking(t *testing.T) {
	h := New(keyedPlugin{}, qos.Policy{Kind: qos.KeepAll, TopicName: "t6", Limits: qos.ResourceLimits{MaxInstances: 4, MaxSamplesPerInstance: 4}})
	attach(h)

	for _, key := range []byte{'A', 'B', 'C'} {
		if err := h.ReceivedChange(keyedChange(1, key), 0); err != nil {
			t.Fatalf("deliver %c: %v", key, err)
		}
	}

	base := time.Unix(0, 0)
	must := func(key byte, offset time.Duration) {
		if err := h.SetNextDeadline(handleOf(key), base.Add(offset)); err != nil {
			t.Fatalf("SetNextDeadline(%c): %v", key, err)
		}
	}
	must('A', 100*time.Second)
	must('B', 50*time.Second)
	must('C', 75*time.Second)

	handle, when, ok := h.GetNextDeadline()
	if !ok {
		t.Fatalf("GetNextDeadline() ok = false")
	}
	if handle != handleOf('B') {
		t.Errorf("GetNextDeadline() handle = %v, want handle('B')", handle)
	}
	if !when.Equal(base.Add(50 * time.Second)) {
		t.Errorf("GetNextDeadline() time = %v, want base+50s", when)
	}
}

// Adding a sample then removing it returns the store to its previous
// size, with no residue left behind.
func TestRoundTripAddRemove(t *testing.T) {
	h := New(unkeyedPlugin{}, qos.Policy{Kind: qos.KeepAll, TopicName: "t7", Limits: qos.ResourceLimits{MaxSamples: 5}})
	attach(h)

	before := h.Size()
	c := newSeq(1)
	if err := h.ReceivedChange(c, 0); err != nil {
		t.Fatalf("ReceivedChange: %v", err)
	}
	if h.IsFull() {
		t.Errorf("IsFull() = true, want false at 1/5")
	}
	if err := h.RemoveChangeSub(c); err != nil {
		t.Fatalf("RemoveChangeSub: %v", err)
	}
	if h.Size() != before {
		t.Errorf("Size() after round trip = %d, want %d", h.Size(), before)
	}
}

// On an unkeyed topic, an exact lookup on the undefined handle never
// matches, while a non-exact lookup returns the fictitious instance
// holding the whole store.
func TestUnkeyedLookupFictitiousInstance(t *testing.T) {
	h := New(unkeyedPlugin{}, qos.Policy{Kind: qos.KeepAll, TopicName: "t8", Limits: qos.ResourceLimits{MaxSamples: 4}})
	attach(h)
	h.ReceivedChange(newSeq(1), 0)

	if _, _, ok := h.LookupInstance(rtps.UndefinedHandle, true); ok {
		t.Errorf("exact lookup on unkeyed topic should never find anything")
	}
	handle, changes, ok := h.LookupInstance(rtps.UndefinedHandle, false)
	if !ok {
		t.Fatalf("non-exact lookup on unkeyed topic should return the fictitious instance")
	}
	if handle != rtps.FictitiousHandle {
		t.Errorf("handle = %v, want FictitiousHandle", handle)
	}
	if len(changes) != 1 {
		t.Errorf("changes = %d, want 1", len(changes))
	}
}

// Operations before Attach fail with PreconditionUnmet.
func TestOperationsBeforeAttachFail(t *testing.T) {
	h := New(unkeyedPlugin{}, qos.Policy{Kind: qos.KeepAll, TopicName: "t9", Limits: qos.ResourceLimits{MaxSamples: 4}})

	err := h.ReceivedChange(newSeq(1), 0)
	if err == nil {
		t.Fatalf("expected PreconditionUnmet before Attach")
	}
	if kind, ok := herrors.KindOf(err); !ok || kind != herrors.KindPreconditionUnmet {
		t.Errorf("error kind = %v, want PreconditionUnmet", kind)
	}
}

// A new instance's first sample can still be rejected by the global
// store even though its own instance has room, when max_samples is
// set smaller than max_instances*max_samples_per_instance. Rejection
// must leave no trace of the instance it would have occupied.
func TestKeyedGlobalCapacityRejectionLeavesNoOrphanInstance(t *testing.T) {
	h := New(keyedPlugin{}, qos.Policy{
		Kind:      qos.KeepAll,
		TopicName: "t10",
		Limits:    qos.ResourceLimits{MaxSamples: 1, MaxInstances: 4, MaxSamplesPerInstance: 4},
	})
	attach(h)

	if err := h.ReceivedChange(keyedChange(1, 'A'), 0); err != nil {
		t.Fatalf("deliver A1: %v", err)
	}

	err := h.ReceivedChange(keyedChange(2, 'B'), 0)
	if err == nil {
		t.Fatalf("deliver B1 should have been rejected by the global store")
	}
	if kind, ok := herrors.KindOf(err); !ok || kind != herrors.KindCapacityExceeded {
		t.Errorf("error kind = %v, want CapacityExceeded", kind)
	}

	if _, _, ok := h.LookupInstance(handleOf('B'), true); ok {
		t.Errorf("instance B should not have been left behind by the rejected sample")
	}
	if h.InstanceCount() != 1 {
		t.Errorf("InstanceCount() = %d, want 1 (only A)", h.InstanceCount())
	}
}
