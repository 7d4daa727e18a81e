package backend

import (
	"errors"
	"time"
)

var (
	// ErrClosed indicates that the connection was closed
	ErrClosed = errors.New("connection was closed")
	// ErrNoSuchIndex indicates that the index doesn't exist. Either it
	// hasn't been created or was deleted
	ErrNoSuchIndex = errors.New("index does not exist")
)

// Options is a bag of configuration values for a backend plugin.
// The core interprets none of these keys. Each plugin documents
// the keys it requires.
type Options map[string]interface{}

// Plugin represents a storage backend plugin
type Plugin interface {
	// Name returns the name of the backend plugin
	Name() string
	// Open opens a connection to the backend described by options
	Open(options Options) (Conn, error)
	// OpenTemp returns a connection to a throwaway instance of the
	// backend initialized with some sane defaults. It is meant for
	// tests that need a working connection without knowing how to
	// configure one.
	OpenTemp() (Conn, error)
}

// Limits describes the size limits the backend imposes on the
// artifacts it stores. The core validates identifiers, keys, tags
// and sorters against these limits before any call reaches the
// backend. A zero limit means unbounded.
type Limits struct {
	MaxIndexName int
	MaxKey       int
	MaxTag       int
	MaxSorter    int
}

// Record is the unit handed to Put. Payload is the serialized
// document. View is the same document in structured form for
// backends that index fields natively (full-text engines). Locales
// are BCP 47 tags, ordered. Sorter is an opaque byte key whose
// byte-lexicographic order is the sort order the backend must
// preserve in range enumeration. Tags is never empty: the core
// substitutes a reserved sentinel tag for an empty set.
type Record struct {
	Key          string
	Index        string
	Payload      []byte
	View         map[string]interface{}
	Locales      []string
	Sorter       []byte
	Tags         []string
	SecondaryKey string
}

// Query describes one enumeration or count. All filters compose
// independently; the zero value matches everything.
//
// Limit < 0 means no limit. Offset is applied after filtering.
type Query struct {
	// SecondaryKey filters to documents grouped under this
	// secondary key. Empty means no secondary key filter.
	SecondaryKey string
	// Text is a backend-specific free-text query. Empty means no
	// text filter. Backends without a full-text engine may
	// approximate it however they can.
	Text string
	// Sorter restricts results to documents whose sorter falls in
	// the half-open range [Min, Max)
	Sorter Range
	// AnyOfTags matches documents carrying at least one of these
	// tags
	AnyOfTags []string
	// Descending reverses the sorter order of results
	Descending bool

	Offset int
	Limit  int
}

// Iterator iterates over the keys produced by one enumeration.
// It is forward-only and must only be used by one goroutine at a
// time. A fresh iterator must call Next once to advance to the
// first key.
type Iterator interface {
	// Next advances the iterator to the next key. It returns false
	// if there is no next key or if it encounters an error.
	Next() bool
	// Key returns the current key
	Key() string
	// Error returns the error, if any
	Error() error
}

// Conn is an open connection to a storage backend. It is the sole
// integration surface between the core and any storage system.
//
// The Conn is shared between the core's worker pool and direct
// query calls. Implementations must be safe for concurrent use;
// the core takes no lock around backend calls.
//
// Enumeration and counting may be eventually consistent: the most
// recent writes can be absent from results. This is a contract
// relaxation, not a defect, and the core compensates where it can
// from its own caches.
type Conn interface {
	// Close closes the connection. Calls to any method after Close
	// returns must have no effect and return ErrClosed (methods
	// without an error return may ignore the call). Close must not
	// return until all in-flight calls have concluded.
	Close() error
	// Limits reports the size limits of this backend
	Limits() Limits
	// SanitizeIndexName maps an index name proposed by the core to
	// one that is legal for this backend. It must be deterministic
	// and injective enough that distinct categories do not collide
	// in practice.
	SanitizeIndexName(name string) string
	// Indices lists the names of all indices currently present in
	// the backend, sanitized form, in no particular order
	Indices() ([]string, error)
	// Get returns the payload stored under key in index, or nil if
	// there is none. Absence is not an error.
	Get(key, index string) ([]byte, error)
	// Keys enumerates the keys in index matching the query, in
	// sorter order (reversed when query.Descending)
	Keys(index string, query Query) (Iterator, error)
	// Count counts the keys in index matching the query. The same
	// filters and the same consistency relaxation as Keys apply.
	Count(index string, query Query) (int64, error)
	// Put stores the record durably. onPrimary must be invoked
	// exactly once when the primary payload is durable and
	// onSecondary exactly once when the secondary indexing state
	// (sorter, tags, full-text) is durable. The two callbacks are
	// independent: a backend with unified storage may invoke both
	// synchronously in sequence, one with separate stores may
	// invoke them asynchronously in either order. A failure is
	// reported through the callback's error argument, never
	// swallowed.
	Put(record Record, onPrimary, onSecondary func(error))
	// Remove deletes the primary payload stored under key. done is
	// invoked exactly once when the deletion is durable or failed.
	Remove(key, index string, done func(error))
	// ClearSecondary removes the tags, sorter and full-text state
	// for key, leaving the primary payload alone. done is invoked
	// exactly once when done or failed.
	ClearSecondary(key, index string, done func(error))
	// TryLock attempts to acquire the advisory lock for key. On
	// success it returns a non-empty opaque token. If the lock is
	// held by someone else and does not free up within ttl the
	// returned token is empty with a nil error: contention is a
	// distinct outcome from a connectivity failure. An acquired
	// lock expires on its own after ttl.
	TryLock(key, index string, ttl time.Duration) (token string, err error)
	// Unlock releases the advisory lock for key. Unlocking a key
	// that is not locked has no effect.
	Unlock(key, index string) error
}
