// See policy.go for the Policy type and its Resolve/ChangeStoreCapacity
// methods.
package qos
