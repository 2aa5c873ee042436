// See policy.go for Select and the four bound Variant functions.
package admission
