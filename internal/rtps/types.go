package rtps

import "time"

// SequenceNumber identifies a sample's position in a writer's stream.
type SequenceNumber int64

// GUID globally identifies an RTPS entity (writer or reader). It is
// opaque to this package beyond equality and ordering.
type GUID [16]byte

// ChangeKind classifies what a CacheChange represents.
type ChangeKind int

const (
	// Alive marks a normal data sample.
	Alive ChangeKind = iota
	// NotAliveDisposed marks an instance-disposal notification.
	NotAliveDisposed
	// NotAliveUnregistered marks an instance-unregistration notification.
	NotAliveUnregistered
)

// InstanceHandle identifies a keyed instance within a topic. It is a
// fixed-size, totally-ordered opaque value so it can serve as a map key
// and as the subject of an upper-bound query.
type InstanceHandle [16]byte

// UndefinedHandle is the zero value of InstanceHandle, meaning "no
// handle assigned yet".
var UndefinedHandle InstanceHandle

// FictitiousHandle is the single instance handle used for unkeyed
// topics: value [1, 0, 0, ...].
var FictitiousHandle = InstanceHandle{0: 1}

// IsUndefined reports whether h is the zero handle.
func (h InstanceHandle) IsUndefined() bool {
	return h == UndefinedHandle
}

// Compare returns -1, 0, or 1 as h is less than, equal to, or greater
// than other, under the total byte-lexicographic order InstanceHandle
// requires for upper-bound lookup.
func (h InstanceHandle) Compare(other InstanceHandle) int {
	for i := range h {
		if h[i] != other[i] {
			if h[i] < other[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// SampleIdentity uniquely identifies one sample as published by a
// specific writer.
type SampleIdentity struct {
	WriterGUID     GUID
	SequenceNumber SequenceNumber
}

// WriteParams carries the writer-supplied metadata accompanying a
// change, beyond what CacheChange itself stores directly.
type WriteParams struct {
	RelatedSampleIdentity SampleIdentity
}

// CacheChange is one received sample plus its metadata. It is owned by
// an external payload pool; this package's consumers hold only
// non-owning pointers to it and must never free it except through the
// change store's documented remove path.
type CacheChange struct {
	SequenceNumber     SequenceNumber
	WriterGUID         GUID
	InstanceHandle     InstanceHandle // may be UndefinedHandle on arrival
	SerializedPayload  []byte
	Kind               ChangeKind
	SourceTimestamp    time.Time
	ReceptionTimestamp time.Time
	WriteParams        WriteParams
}

// TypePlugin is the capability set a topic's type support exposes for
// key extraction. The history cache never interprets a payload itself;
// it always goes through this interface.
type TypePlugin interface {
	// HasKey reports whether the topic's type defines one or more key
	// fields. Unkeyed topics never consult GetKey.
	HasKey() bool
	// PayloadSize is the serialized size in bytes the payload pool
	// should reserve per sample (before alignment slack).
	PayloadSize() int
	// CreateScratch allocates the single reusable buffer key
	// extraction deserializes into.
	CreateScratch() interface{}
	// DestroyScratch releases a buffer created by CreateScratch.
	DestroyScratch(scratch interface{})
	// Deserialize decodes payload into scratch.
	Deserialize(payload []byte, scratch interface{}) error
	// GetKey extracts the instance handle from scratch into handle.
	// isKeyProtected indicates the reader's security attributes
	// require protected key computation.
	GetKey(scratch interface{}, handle *InstanceHandle, isKeyProtected bool) error
}

// WriterProxy is an opaque per-writer bookkeeping handle threaded
// through NextUntakenCache/ChangeReadByUser; the history cache never
// inspects it.
type WriterProxy interface{}

// SecurityAttributes exposes the one reader-security fact the history
// cache needs: whether key computation must go through a protected
// path.
type SecurityAttributes struct {
	IsKeyProtected bool
}

// Reader is the capability set the enclosing reader exposes to its
// history cache: identity, the next-untaken-sample query the
// application-facing read/take operations are built from, and the
// reader's security attributes.
type Reader interface {
	GUID() GUID
	// NextUntakenCache returns the next cache change not yet read by
	// the user, and the writer proxy it arrived on, or ok=false if
	// none remain.
	NextUntakenCache() (change *CacheChange, proxy WriterProxy, ok bool)
	// ChangeReadByUser marks change as read (and, if taken=true,
	// removed) by application code.
	ChangeReadByUser(change *CacheChange, proxy WriterProxy, taken bool)
	SecurityAttributes() SecurityAttributes
}

// SampleState, ViewState and InstanceState mirror the three DDS sample
// metadata enumerations SampleInfo carries.
type SampleState int

const (
	NotRead SampleState = iota
	Read
)

type ViewState int

const (
	NotNew ViewState = iota
	New
)

type InstanceState int

const (
	InstanceAlive InstanceState = iota
	InstanceDisposed
	InstanceNoWriters
)

// SampleInfo is the metadata record returned alongside a sample to the
// application. Generation and rank fields are stubbed at fixed values;
// this core does not track per-instance generation counters.
type SampleInfo struct {
	SampleState      SampleState
	ViewState        ViewState
	InstanceState    InstanceState
	ValidData        bool

	DisposedGenerationCount  int32
	NoWritersGenerationCount int32
	SampleRank               int32
	GenerationRank           int32
	AbsoluteGenerationRank   int32

	SourceTimestamp    time.Time
	ReceptionTimestamp time.Time

	InstanceHandle        InstanceHandle
	PublicationHandle     InstanceHandle
	SampleIdentity        SampleIdentity
	RelatedSampleIdentity SampleIdentity
}

// BuildSampleInfo constructs the SampleInfo for change, per the fixed
// field-mapping table this core implements: generation/rank fields are
// stubbed, instance_state only distinguishes Alive and Disposed today,
// and publication_handle is derived from the writer's GUID.
func BuildSampleInfo(change *CacheChange) SampleInfo {
	info := SampleInfo{
		SampleState:              NotRead,
		ViewState:                NotNew,
		DisposedGenerationCount:  0,
		NoWritersGenerationCount: 1,
		SampleRank:               0,
		GenerationRank:           0,
		AbsoluteGenerationRank:   0,
		SourceTimestamp:          change.SourceTimestamp,
		ReceptionTimestamp:       change.ReceptionTimestamp,
		InstanceHandle:           change.InstanceHandle,
		SampleIdentity: SampleIdentity{
			WriterGUID:     change.WriterGUID,
			SequenceNumber: change.SequenceNumber,
		},
		RelatedSampleIdentity: change.WriteParams.RelatedSampleIdentity,
		ValidData:             change.Kind == Alive,
	}
	copy(info.PublicationHandle[:], change.WriterGUID[:])

	switch change.Kind {
	case NotAliveDisposed:
		info.InstanceState = InstanceDisposed
	default:
		// All other kinds, including NotAliveUnregistered, map to
		// Alive pending future support (see design notes).
		info.InstanceState = InstanceAlive
	}
	return info
}
