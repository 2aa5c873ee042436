// Package history implements the reader-side sample history cache of a
// DDS subscription endpoint: the in-memory store a reader deposits
// received samples into, and from which application code reads, takes,
// and ages them out.
//
// # Architecture
//
//	          ReceivedChange(change)              RemoveChangeSub/NTS(change)
//	                  |                                      |
//	                  v                                      v
//	        +-------------------+                 +-------------------+
//	        |  admission.Select |                 |  instance.Table   |
//	        |  (bound variant)  |---resolve key--->|  (keyed only)     |
//	        +-------------------+                 +-------------------+
//	                  |                                      |
//	                  v                                      v
//	        +-----------------------------------------------------+
//	        |              changestore.Store (global)              |
//	        +-----------------------------------------------------+
//
// Five cooperating components, leaves first: the Change Store
// (internal/changestore) is the flat ordered sequence of every held
// sample; the Instance Table (internal/instance) maps InstanceHandle to
// per-instance state for keyed topics, including the lazy reclaim rule
// that lets a full table accept a new key by evicting an emptied one;
// the Admission Policy (internal/admission) binds one of four
// acceptance strategies at construction from (has_keys, history_kind);
// the Key Resolver (folded into History.resolveKey, since it only
// needs the type plugin and the instance table) extracts a handle from
// a sample's payload when the RTPS layer did not supply one; and the
// Query/Iteration Surface is the set of History methods applications
// and the reader's protocol layer call directly.
//
// # Concurrency
//
// History performs no internal locking in its component packages;
// every public method other than Attach and Detach acquires
// internal/reclock.Mutex, the single recursive mutex the enclosing
// reader installs via Attach. The mutex is reentrant because KEEP_LAST
// eviction removes a change and then immediately admits a new one on
// the same call stack. Calling any operation before Attach fails:
// methods that return an error return a PreconditionUnmet error, and
// the others return a zero or false result.
//
// # Error handling
//
// Every public method that returns an error classifies it into one of
// the five kinds in internal/herrors; the query methods report failure
// through a boolean ok result instead. None of them panics on a
// malformed but reachable input. Logging goes through logrus at the point the
// decision is made (admission, key resolution, invariant checks), not
// at the call boundary, so log fields carry the actual topic/sequence
// context.
//
// # Known fidelity gaps
//
// SampleInfo's generation and rank fields are stubbed at fixed values
// (see internal/rtps.BuildSampleInfo); this cache does not track
// per-instance disposed/no-writers generation counters. The KEEP_ALL
// keyed admission variant does not consult an "unknown missing up to"
// reservation the way the unkeyed variant does — this mirrors a gap
// flagged in the source design rather than an oversight here.
package history
