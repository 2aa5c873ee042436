// See table.go for Table, Entry, and the lazy-reclaim rule that lets a
// full instance table accept a new key by evicting an emptied one.
package instance
