// See mutex.go for Mutex, the reentrant lock this module's history
// cache is built on.
package reclock
