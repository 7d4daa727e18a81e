// Package storedmap provides a persistent key-value/document
// abstraction over pluggable storage backends.
//
// A Store is one backend connection plus a namespace prefix. It
// hands out Categories, named groups of documents with their own
// locale and collation configuration. A StoredMap is one document
// of a category: a mutable in-memory view identified by a string
// key, carrying structured content, tags, an optional secondary
// key and an optional collation-ordered sorter.
//
// Mutations return immediately: a write-behind engine coalesces
// bursts of mutations per key and persists the final state in the
// background through a bounded worker pool, preserving per-key
// write order. Two handles for the same key share one identity, so
// in-memory changes are visible across goroutines before they are
// durable. Failures of background writes surface on Store.Faults.
//
// Enumeration, counting and point lookup are synchronous, filtered
// by secondary key, sorter range, tags and backend-delegated free
// text. Advisory TTL-bounded locks per key support compound
// read-modify-write sequences across processes.
//
// Storage backends plug in through the backend package; built-in
// plugins live under backend/backends.
package storedmap
