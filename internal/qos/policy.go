// Package qos holds the resolved configuration snapshot a history cache
// is constructed with: which history kind applies, the per-instance
// depth, and the resource-limit ceilings. It owns the zero-means-
// unlimited rewriting so the rest of the module never special-cases
// zero.
package qos

import "math"

// HistoryKind selects one of the two DDS history policies.
type HistoryKind int

const (
	// KeepAll never evicts; admission is refused once capacity is hit.
	KeepAll HistoryKind = iota
	// KeepLast evicts the oldest sample to make room for a new one,
	// bounding retention at Depth.
	KeepLast
)

// Unbounded is the sentinel capacity used once a zero QoS value is
// rewritten to "effectively unlimited".
const Unbounded = math.MaxInt32

// ResourceLimits are the hard caps on total samples, instances, and
// samples per instance. A zero field means "unlimited" prior to
// Resolve; after Resolve every field holds a concrete ceiling.
type ResourceLimits struct {
	MaxSamples            int
	MaxInstances          int
	MaxSamplesPerInstance int
}

// Policy is the immutable configuration snapshot a history cache is
// constructed with.
type Policy struct {
	HasKeys   bool
	Kind      HistoryKind
	Depth     int
	Limits    ResourceLimits
	TopicName string
	TypeName  string
}

// Resolve returns a copy of p with every zero-valued capacity field
// rewritten to Unbounded, and Depth rewritten to Unbounded when Kind is
// KeepAll (depth is meaningless without eviction).
func (p Policy) Resolve() Policy {
	resolved := p
	if resolved.Limits.MaxSamples == 0 {
		resolved.Limits.MaxSamples = Unbounded
	}
	if resolved.Limits.MaxInstances == 0 {
		resolved.Limits.MaxInstances = Unbounded
	}
	if resolved.Limits.MaxSamplesPerInstance == 0 {
		resolved.Limits.MaxSamplesPerInstance = Unbounded
	}
	if resolved.Kind == KeepAll {
		resolved.Depth = Unbounded
	} else if resolved.Depth == 0 {
		resolved.Depth = Unbounded
	}
	return resolved
}

// ChangeStoreCapacity is the cap the change store itself enforces: for
// KeepAll it is the raw MaxSamples ceiling; for KeepLast it is Depth for
// an unkeyed topic, or Depth*MaxInstances for a keyed one, since each
// instance independently retains up to Depth samples.
func (p Policy) ChangeStoreCapacity() int {
	if p.Kind == KeepAll {
		return p.Limits.MaxSamples
	}
	if !p.HasKeys {
		return p.Depth
	}
	if p.Depth >= Unbounded || p.Limits.MaxInstances >= Unbounded {
		return Unbounded
	}
	cap64 := int64(p.Depth) * int64(p.Limits.MaxInstances)
	if cap64 > Unbounded {
		return Unbounded
	}
	return int(cap64)
}
