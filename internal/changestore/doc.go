// See store.go for Store and the design rationale for using
// container/list element handles instead of positional indices.
package changestore
