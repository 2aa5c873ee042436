package history

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dreamware/dcache/internal/admission"
	"github.com/dreamware/dcache/internal/changestore"
	"github.com/dreamware/dcache/internal/herrors"
	"github.com/dreamware/dcache/internal/instance"
	"github.com/dreamware/dcache/internal/metrics"
	"github.com/dreamware/dcache/internal/qos"
	"github.com/dreamware/dcache/internal/reclock"
	"github.com/dreamware/dcache/internal/rtps"
)

// History is the reader-side sample history cache for a single topic.
// It composes a Change Store, an optional Instance Table, and a bound
// Admission Policy variant behind the operations the enclosing reader
// and application code use.
type History struct {
	policy  qos.Policy
	plugin  rtps.TypePlugin
	variant admission.Variant

	store     *changestore.Store
	instances *instance.Table // nil for unkeyed topics

	globalDeadline    time.Time
	hasGlobalDeadline bool

	scratch interface{} // non-nil only when policy.HasKeys

	mu       *reclock.Mutex
	reader   rtps.Reader
	attached bool
}

// New constructs a History for a topic and type: zero-valued QoS
// fields are rewritten to unbounded, and a scratch key object is
// allocated iff the type defines keys. The returned History is not yet
// usable until Attach installs the reader's mutex.
func New(plugin rtps.TypePlugin, policy qos.Policy) *History {
	resolved := policy.Resolve()
	resolved.HasKeys = plugin.HasKey()

	h := &History{
		policy:  resolved,
		plugin:  plugin,
		variant: admission.Select(resolved.HasKeys, resolved.Kind),
		store:   changestore.New(resolved.ChangeStoreCapacity()),
	}

	if resolved.HasKeys {
		perInstanceCap := resolved.Limits.MaxSamplesPerInstance
		if resolved.Kind == qos.KeepLast {
			perInstanceCap = resolved.Depth
		}
		h.instances = instance.New(resolved.Limits.MaxInstances, func() int { return perInstanceCap })
		h.scratch = plugin.CreateScratch()
	}

	return h
}

// Attach installs the reader's GUID-bearing back-pointer and recursive
// mutex. No other operation may be called beforehand.
func (h *History) Attach(reader rtps.Reader, mu *reclock.Mutex) {
	h.reader = reader
	h.mu = mu
	h.attached = true
	log.WithField("topic", h.policy.TopicName).Debug("history attached to reader")
}

// Detach releases the scratch key object and clears the reader
// back-pointer. The reader must detach before the History can be
// destroyed.
func (h *History) Detach() {
	if h.scratch != nil {
		h.plugin.DestroyScratch(h.scratch)
		h.scratch = nil
	}
	h.reader = nil
	h.mu = nil
	h.attached = false
	log.WithField("topic", h.policy.TopicName).Debug("history detached from reader")
}

func (h *History) checkAttached() error {
	if !h.attached || h.mu == nil {
		log.WithField("topic", h.policy.TopicName).Error("operation invoked before reader attached")
		return herrors.Wrap(herrors.PreconditionUnmet, "history for topic %s is not attached to a reader", h.policy.TopicName)
	}
	return nil
}

// Size returns the current number of changes held in the global store.
func (h *History) Size() int {
	if err := h.checkAttached(); err != nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.store.Size()
}

// IsFull reports whether the global store has reached its configured
// sample-count ceiling. This is deliberately distinct from the change
// store's own internal capacity: under KEEP_LAST that capacity is the
// smaller depth-derived payload-pool reservation (see
// qos.Policy.ChangeStoreCapacity), which is routinely reached through
// normal eviction without the ceiling itself being exhausted.
func (h *History) IsFull() bool {
	if err := h.checkAttached(); err != nil {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.store.Size() >= h.policy.Limits.MaxSamples
}

// InstanceCount returns the number of tracked instances, or 0 for an
// unkeyed topic.
func (h *History) InstanceCount() int {
	if h.instances == nil {
		return 0
	}
	if err := h.checkAttached(); err != nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.instances.Size()
}

// ReceivedChange runs admission control for an arriving sample and, if
// accepted, stores it. unknownMissingUpTo is only consulted by the
// unkeyed KEEP_ALL variant.
func (h *History) ReceivedChange(change *rtps.CacheChange, unknownMissingUpTo int) error {
	if err := h.checkAttached(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.policy.HasKeys {
		return h.receiveKeyed(change)
	}
	return h.receiveUnkeyed(change, unknownMissingUpTo)
}

func (h *History) receiveUnkeyed(change *rtps.CacheChange, unknownMissingUpTo int) error {
	o := admission.Occupancy{
		Topic:              h.policy.TopicName,
		GlobalSize:         h.store.Size(),
		MaxTotalSamples:    h.store.Capacity(),
		UnknownMissingUpTo: unknownMissingUpTo,
		Depth:              h.policy.Depth,
	}

	switch h.variant(o) {
	case admission.Reject:
		metrics.AdmissionTotal.WithLabelValues(h.policy.TopicName, string(metrics.Rejected)).Inc()
		return herrors.Wrap(herrors.CapacityExceeded, "unkeyed admission refused for topic %s", h.policy.TopicName)

	case admission.AcceptAfterEvict:
		evicted, ok := h.store.PopFront()
		if !ok {
			return herrors.Wrap(herrors.InvariantBreach, "keep_last eviction found no front element to evict")
		}
		log.WithFields(log.Fields{"topic": h.policy.TopicName, "seq": evicted.SequenceNumber}).Debug("evicted oldest sample")
		metrics.AdmissionTotal.WithLabelValues(h.policy.TopicName, string(metrics.Evicted)).Inc()

	default:
		metrics.AdmissionTotal.WithLabelValues(h.policy.TopicName, string(metrics.Accepted)).Inc()
	}

	if _, ok := h.store.Add(change); !ok {
		return herrors.Wrap(herrors.InvariantBreach, "store add failed immediately after admission accepted")
	}
	return nil
}

func (h *History) receiveKeyed(change *rtps.CacheChange) error {
	if change.InstanceHandle.IsUndefined() {
		if err := h.resolveKey(change); err != nil {
			log.WithFields(log.Fields{"topic": h.policy.TopicName, "seq": change.SequenceNumber}).Warnf("sample rejected: %v", err)
			metrics.AdmissionTotal.WithLabelValues(h.policy.TopicName, string(metrics.Rejected)).Inc()
			return err
		}
	}

	entry, created, reclaimed, ok := h.instances.FindOrCreate(change.InstanceHandle)
	if !ok {
		metrics.AdmissionTotal.WithLabelValues(h.policy.TopicName, string(metrics.Rejected)).Inc()
		return herrors.Wrap(herrors.CapacityExceeded, "instance table full for topic %s, no reclaim candidate", h.policy.TopicName)
	}
	if created {
		metrics.InstancesGauge.WithLabelValues(h.policy.TopicName).Set(float64(h.instances.Size()))
	}
	if reclaimed {
		metrics.ReclaimTotal.WithLabelValues(h.policy.TopicName).Inc()
	}

	o := admission.Occupancy{
		Topic:                 h.policy.TopicName,
		InstanceSize:          entry.Changes.Size(),
		Depth:                 h.policy.Depth,
		MaxSamplesPerInstance: h.policy.Limits.MaxSamplesPerInstance,
	}

	switch h.variant(o) {
	case admission.Reject:
		metrics.AdmissionTotal.WithLabelValues(h.policy.TopicName, string(metrics.Rejected)).Inc()
		return herrors.Wrap(herrors.CapacityExceeded, "keyed admission refused for instance in topic %s", h.policy.TopicName)

	case admission.AcceptAfterEvict:
		evicted, ok := entry.Changes.PopFront()
		if !ok {
			return herrors.Wrap(herrors.InvariantBreach, "keep_last eviction found no front element in instance entry")
		}
		if !h.removeFromGlobal(evicted) {
			log.WithFields(log.Fields{"topic": h.policy.TopicName, "seq": evicted.SequenceNumber}).Error("invariant breach: evicted instance sample missing from global store")
		}
		metrics.AdmissionTotal.WithLabelValues(h.policy.TopicName, string(metrics.Evicted)).Inc()

	default:
		metrics.AdmissionTotal.WithLabelValues(h.policy.TopicName, string(metrics.Accepted)).Inc()
	}

	if _, ok := h.store.Add(change); !ok {
		if created {
			h.instances.Delete(entry.Handle)
			metrics.InstancesGauge.WithLabelValues(h.policy.TopicName).Set(float64(h.instances.Size()))
		}
		return herrors.Wrap(herrors.CapacityExceeded, "global store at capacity for topic %s", h.policy.TopicName)
	}
	if _, ok := entry.Changes.Add(change); !ok {
		return herrors.Wrap(herrors.InvariantBreach, "instance store add failed immediately after admission accepted")
	}
	return nil
}

// resolveKey deserializes a sample's payload into the type's scratch
// key object and asks the type plugin to extract an instance handle
// from it.
func (h *History) resolveKey(change *rtps.CacheChange) error {
	if !h.plugin.HasKey() {
		return herrors.Wrap(herrors.KeyUnresolvable, "sample for topic %s has no key and no method to resolve one", h.policy.TopicName)
	}
	if err := h.plugin.Deserialize(change.SerializedPayload, h.scratch); err != nil {
		return herrors.Wrap(herrors.KeyUnresolvable, "deserialize into scratch failed: %v", err)
	}
	var handle rtps.InstanceHandle
	var isKeyProtected bool
	if h.reader != nil {
		isKeyProtected = h.reader.SecurityAttributes().IsKeyProtected
	}
	if err := h.plugin.GetKey(h.scratch, &handle, isKeyProtected); err != nil {
		return herrors.Wrap(herrors.KeyUnresolvable, "get_key failed: %v", err)
	}
	if handle.IsUndefined() {
		return herrors.Wrap(herrors.KeyUnresolvable, "get_key produced an undefined handle")
	}
	change.InstanceHandle = handle
	return nil
}

func (h *History) removeFromGlobal(change *rtps.CacheChange) bool {
	el := h.store.Find(func(c *rtps.CacheChange) bool { return c == change })
	if el == nil {
		return false
	}
	return h.store.Remove(el)
}

// RemoveChangeSub removes change by pointer identity. For keyed topics
// it first scrubs the owning instance entry; a missing instance-side
// reference is logged as an invariant breach but does not block
// removing the sample from the global store.
func (h *History) RemoveChangeSub(change *rtps.CacheChange) error {
	if err := h.checkAttached(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.removeChangeSubLocked(change)
}

func (h *History) removeChangeSubLocked(change *rtps.CacheChange) error {
	if h.policy.HasKeys && !change.InstanceHandle.IsUndefined() {
		if entry, ok := h.instances.Get(change.InstanceHandle); ok {
			el := entry.Changes.Find(func(c *rtps.CacheChange) bool {
				return c.SequenceNumber == change.SequenceNumber && c.WriterGUID == change.WriterGUID
			})
			if el == nil {
				log.WithFields(log.Fields{"topic": h.policy.TopicName, "seq": change.SequenceNumber}).Error("invariant breach: change missing from its instance entry")
			} else {
				entry.Changes.Remove(el)
			}
		}
	}

	gel := h.store.Find(func(c *rtps.CacheChange) bool { return c == change })
	if gel == nil {
		return herrors.Wrap(herrors.NotFound, "change not present in global store")
	}
	h.store.Remove(gel)
	return nil
}

// RemoveChangeNTS removes the change at elem, scrubbing any reference
// from its owning instance entry first, and returns the Element for
// the next remaining change (or nil). release documents whether the
// caller intends to return the payload to its pool; this core does not
// own that pool and does not act on it directly.
func (h *History) RemoveChangeNTS(elem *changestore.Element, release bool) (*changestore.Element, error) {
	if err := h.checkAttached(); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	change := elem.Change()
	if h.policy.HasKeys && !change.InstanceHandle.IsUndefined() {
		if entry, ok := h.instances.Get(change.InstanceHandle); ok {
			if el := entry.Changes.Find(func(c *rtps.CacheChange) bool { return c == change }); el != nil {
				entry.Changes.Remove(el)
			}
		}
	}
	return h.store.RemoveAt(elem), nil
}

// GetFirstUntakenInfo asks the attached reader for its next
// not-yet-read cache change, builds a SampleInfo for it, and marks it
// read without taking it.
func (h *History) GetFirstUntakenInfo() (rtps.SampleInfo, bool) {
	if err := h.checkAttached(); err != nil {
		return rtps.SampleInfo{}, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	change, proxy, ok := h.reader.NextUntakenCache()
	if !ok {
		return rtps.SampleInfo{}, false
	}
	info := rtps.BuildSampleInfo(change)
	h.reader.ChangeReadByUser(change, proxy, false)
	return info, true
}

// LookupInstance resolves handle to its changes: for unkeyed topics the
// only valid query is the undefined handle with exact=false, returning
// the fictitious handle and the whole global store; for keyed topics exact=true requires an
// existing instance while exact=false returns the next instance whose
// handle strictly follows the one given.
func (h *History) LookupInstance(handle rtps.InstanceHandle, exact bool) (rtps.InstanceHandle, []*rtps.CacheChange, bool) {
	if err := h.checkAttached(); err != nil {
		return rtps.InstanceHandle{}, nil, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.policy.HasKeys {
		if handle.IsUndefined() && !exact {
			return rtps.FictitiousHandle, h.store.All(), true
		}
		return rtps.InstanceHandle{}, nil, false
	}

	if exact {
		entry, ok := h.instances.Get(handle)
		if !ok {
			return rtps.InstanceHandle{}, nil, false
		}
		return handle, entry.Changes.All(), true
	}

	entry, ok := h.instances.UpperBound(handle)
	if !ok {
		return rtps.InstanceHandle{}, nil, false
	}
	return entry.Handle, entry.Changes.All(), true
}

// SetNextDeadline records when as the next expected-arrival deadline.
// For unkeyed topics handle is ignored and the single global deadline
// is overwritten; for keyed topics the specific instance entry is
// updated instead.
func (h *History) SetNextDeadline(handle rtps.InstanceHandle, when time.Time) error {
	if err := h.checkAttached(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.policy.HasKeys {
		h.globalDeadline = when
		h.hasGlobalDeadline = true
		metrics.NextDeadlineSeconds.WithLabelValues(h.policy.TopicName).Set(float64(when.Unix()))
		return nil
	}

	entry, ok := h.instances.Get(handle)
	if !ok {
		return herrors.Wrap(herrors.NotFound, "no such instance for topic %s", h.policy.TopicName)
	}
	entry.SetDeadline(when)
	if _, min, ok := h.instances.MinDeadline(); ok {
		metrics.NextDeadlineSeconds.WithLabelValues(h.policy.TopicName).Set(float64(min.Unix()))
	}
	return nil
}

// GetNextDeadline returns the handle/timestamp pair with the earliest
// deadline across all instances for keyed topics, or the single global
// deadline for unkeyed ones.
func (h *History) GetNextDeadline() (rtps.InstanceHandle, time.Time, bool) {
	if err := h.checkAttached(); err != nil {
		return rtps.InstanceHandle{}, time.Time{}, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.policy.HasKeys {
		if !h.hasGlobalDeadline {
			return rtps.InstanceHandle{}, time.Time{}, false
		}
		return rtps.InstanceHandle{}, h.globalDeadline, true
	}
	return h.instances.MinDeadline()
}
