// Package admission implements the four admission-policy variants for
// an arriving sample, one per (has_keys, history_kind) combination.
// Each topic binds its variant once at construction and invokes the
// same function value on every arrival, trading a per-call type switch
// for a single call through the bound function value.
package admission

import (
	log "github.com/sirupsen/logrus"

	"github.com/dreamware/dcache/internal/qos"
)

// Decision is the outcome of evaluating a policy against an arriving
// sample.
type Decision int

const (
	// Reject refuses the sample; state is left unchanged.
	Reject Decision = iota
	// Accept admits the sample with no eviction.
	Accept
	// AcceptAfterEvict admits the sample once the caller has evicted
	// the oldest sample in the relevant scope (global store for
	// unkeyed topics, the owning instance for keyed ones).
	AcceptAfterEvict
)

func (d Decision) String() string {
	switch d {
	case Accept:
		return "accept"
	case AcceptAfterEvict:
		return "accept_after_evict"
	default:
		return "reject"
	}
}

// Occupancy is the capacity/size context a variant evaluates. Callers
// populate only the fields relevant to the bound variant; the rest are
// ignored.
type Occupancy struct {
	Topic string

	GlobalSize         int
	MaxTotalSamples    int
	UnknownMissingUpTo int

	InstanceSize          int
	Depth                 int
	MaxSamplesPerInstance int
}

// Variant is one bound admission policy.
type Variant func(o Occupancy) Decision

func unkeyedKeepAll(o Occupancy) Decision {
	if o.GlobalSize+o.UnknownMissingUpTo < o.MaxTotalSamples {
		return Accept
	}
	log.WithFields(log.Fields{
		"topic":     o.Topic,
		"policy":    "unkeyed_keep_all",
		"size":      o.GlobalSize,
		"max":       o.MaxTotalSamples,
		"in_flight": o.UnknownMissingUpTo,
	}).Warn("admission refused: global store at capacity")
	return Reject
}

func unkeyedKeepLast(o Occupancy) Decision {
	if o.GlobalSize < o.Depth {
		return Accept
	}
	return AcceptAfterEvict
}

func keyedKeepAll(o Occupancy) Decision {
	if o.InstanceSize < o.MaxSamplesPerInstance {
		return Accept
	}
	log.WithFields(log.Fields{
		"topic":  o.Topic,
		"policy": "keyed_keep_all",
		"size":   o.InstanceSize,
		"max":    o.MaxSamplesPerInstance,
	}).Warn("admission refused: instance at capacity")
	return Reject
}

func keyedKeepLast(o Occupancy) Decision {
	if o.InstanceSize < o.Depth {
		return Accept
	}
	return AcceptAfterEvict
}

// Select binds one of the four variants from (hasKeys, kind).
func Select(hasKeys bool, kind qos.HistoryKind) Variant {
	switch {
	case !hasKeys && kind == qos.KeepAll:
		return unkeyedKeepAll
	case !hasKeys && kind == qos.KeepLast:
		return unkeyedKeepLast
	case hasKeys && kind == qos.KeepAll:
		return keyedKeepAll
	default:
		return keyedKeepLast
	}
}
