// Package herrors defines the error kinds returned across the history
// cache's public operations. The core never panics and never returns a
// bare error string; every failure classifies as one of a small set of
// kinds so callers can branch with errors.Is.
package herrors

import "github.com/pkg/errors"

// Kind classifies why an operation failed.
type Kind int

const (
	// KindPreconditionUnmet means the operation ran before the reader
	// attached (no mutex, no reader back-pointer installed yet).
	KindPreconditionUnmet Kind = iota
	// KindCapacityExceeded means admission was refused by policy or the
	// instance table was full with no reclaim candidate.
	KindCapacityExceeded
	// KindKeyUnresolvable means a keyed sample's instance handle could
	// not be derived from its payload.
	KindKeyUnresolvable
	// KindInvariantBreach means the history's own bookkeeping was found
	// inconsistent, such as a store add failing right after admission
	// accepted the sample or an eviction finding nothing to evict.
	KindInvariantBreach
	// KindNotFound means a benign absence during lookup or removal.
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindPreconditionUnmet:
		return "precondition_unmet"
	case KindCapacityExceeded:
		return "capacity_exceeded"
	case KindKeyUnresolvable:
		return "key_unresolvable"
	case KindInvariantBreach:
		return "invariant_breach"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// kindError is a sentinel carrying a Kind, wrapped by errors.Wrapf at the
// call site so each occurrence keeps its own stack and message while
// still satisfying errors.Is against the package-level sentinels below.
type kindError struct {
	kind Kind
}

func (e *kindError) Error() string { return e.kind.String() }

// Is lets errors.Is(err, PreconditionUnmet) succeed for any wrapped
// kindError of the same kind, regardless of the specific message.
func (e *kindError) Is(target error) bool {
	other, ok := target.(*kindError)
	if !ok {
		return false
	}
	return other.kind == e.kind
}

var (
	// PreconditionUnmet is the sentinel for KindPreconditionUnmet.
	PreconditionUnmet error = &kindError{kind: KindPreconditionUnmet}
	// CapacityExceeded is the sentinel for KindCapacityExceeded.
	CapacityExceeded error = &kindError{kind: KindCapacityExceeded}
	// KeyUnresolvable is the sentinel for KindKeyUnresolvable.
	KeyUnresolvable error = &kindError{kind: KindKeyUnresolvable}
	// InvariantBreach is the sentinel for KindInvariantBreach.
	InvariantBreach error = &kindError{kind: KindInvariantBreach}
	// NotFound is the sentinel for KindNotFound.
	NotFound error = &kindError{kind: KindNotFound}
)

// Wrap attaches a message and stack trace to one of the sentinels above,
// preserving errors.Is compatibility with it.
func Wrap(sentinel error, format string, args ...interface{}) error {
	return errors.Wrapf(sentinel, format, args...)
}

// KindOf reports which Kind err classifies as, and whether it classifies
// at all.
func KindOf(err error) (Kind, bool) {
	for _, sentinel := range []error{PreconditionUnmet, CapacityExceeded, KeyUnresolvable, InvariantBreach, NotFound} {
		if errors.Is(err, sentinel) {
			return sentinel.(*kindError).kind, true
		}
	}
	return 0, false
}
