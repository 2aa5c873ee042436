// Package rtps defines the data types and collaborator contracts that
// the history cache consumes but does not own: the shape of a received
// sample (CacheChange), the identifier of a keyed instance
// (InstanceHandle), the type plugin a topic supplies for key
// extraction, and the capability set the enclosing reader exposes.
//
// Nothing in this package performs I/O, logging, or locking — it is the
// shared vocabulary other packages build on, the same role
// internal/types/types.go plays for the source, staging, and sink
// packages of a change-feed applier.
package rtps
