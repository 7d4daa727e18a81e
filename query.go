package storedmap

import (
	"github.com/vsetec/storedmap/backend"
	"github.com/vsetec/storedmap/codec"
)

// Query describes one enumeration or count over a category. The
// zero value of each filter means "unfiltered"; all filters
// compose independently.
//
// MinSorter and MaxSorter are arbitrary comparable values (number,
// time or string); they are encoded through the category's
// collator once per call and bound the half-open sorter range
// [MinSorter, MaxSorter). An empty AnyOfTags is the reserved
// "untagged" filter: it matches exactly the documents carrying no
// tags. Text is passed to the backend's full-text machinery
// untouched.
//
// Limit <= 0 means unlimited.
type Query struct {
	SecondaryKey string
	MinSorter    interface{}
	MaxSorter    interface{}
	AnyOfTags    []string
	Descending   bool
	Text         string
	Offset       int
	Limit        int
}

// secondaryKeyOnly reports whether the secondary key is the sole
// filter, which is the one case where the advisory secondary-key
// cache may be merged with backend results: any other filter
// requires durable index state the cache knows nothing about.
func (q Query) secondaryKeyOnly() bool {
	return q.SecondaryKey != "" &&
		q.MinSorter == nil && q.MaxSorter == nil &&
		len(q.AnyOfTags) == 0 && q.Text == "" &&
		!q.Descending && q.Offset == 0 && q.Limit <= 0
}

func (cat *Category) backendQuery(q Query) (backend.Query, error) {
	maxSorter := cat.store.conn.Limits().MaxSorter
	collator := cat.Collator()

	min, err := codec.Sorter(q.MinSorter, collator, maxSorter)

	if err != nil {
		return backend.Query{}, err
	}

	max, err := codec.Sorter(q.MaxSorter, collator, maxSorter)

	if err != nil {
		return backend.Query{}, err
	}

	limit := q.Limit

	if limit <= 0 {
		limit = -1
	}

	return backend.Query{
		SecondaryKey: q.SecondaryKey,
		Text:         q.Text,
		Sorter:       backend.All().Gte(min).Lt(max),
		AnyOfTags:    codec.DefaultTags(q.AnyOfTags),
		Descending:   q.Descending,
		Offset:       q.Offset,
		Limit:        limit,
	}, nil
}

// Keys enumerates the keys of documents matching the query, in
// sorter order, as a lazy forward-only sequence. Enumeration may
// miss the most recent writes that are still propagating to the
// backend's index, except that a query whose sole filter is the
// secondary key also sees pending documents through the
// secondary-key cache.
func (cat *Category) Keys(q Query) (*Keys, error) {
	bq, err := cat.backendQuery(q)

	if err != nil {
		return nil, err
	}

	iter, err := cat.store.conn.Keys(cat.indexName, bq)

	if err != nil {
		return nil, wrapError("could not enumerate keys", err)
	}

	keys := &Keys{iter: iter}

	if q.secondaryKeyOnly() {
		keys.extra = cat.secondaryKeyCache(q.SecondaryKey)
		keys.seen = map[string]struct{}{}
	}

	return keys, nil
}

// AllKeys enumerates every key in the category
func (cat *Category) AllKeys() (*Keys, error) {
	iter, err := cat.store.conn.Keys(cat.indexName, backend.Query{Limit: -1})

	if err != nil {
		return nil, wrapError("could not enumerate keys", err)
	}

	return &Keys{iter: iter}, nil
}

// Maps enumerates the documents matching the query as a lazy
// forward-only sequence. Every handle produced by the iterator
// must be released with Close.
func (cat *Category) Maps(q Query) (*Maps, error) {
	keys, err := cat.Keys(q)

	if err != nil {
		return nil, err
	}

	return &Maps{category: cat, keys: keys}, nil
}

// AllMaps enumerates every document in the category
func (cat *Category) AllMaps() (*Maps, error) {
	keys, err := cat.AllKeys()

	if err != nil {
		return nil, err
	}

	return &Maps{category: cat, keys: keys}, nil
}

// Count counts the documents matching the query. The count mirrors
// the query's filter composition and shares enumeration's
// consistency relaxation: very recent writes may be missing.
func (cat *Category) Count(q Query) (int64, error) {
	bq, err := cat.backendQuery(q)

	if err != nil {
		return 0, err
	}

	count, err := cat.store.conn.Count(cat.indexName, bq)

	if err != nil {
		return 0, wrapError("could not count", err)
	}

	return count, nil
}

// CountAll counts every document in the category
func (cat *Category) CountAll() (int64, error) {
	count, err := cat.store.conn.Count(cat.indexName, backend.Query{Limit: -1})

	if err != nil {
		return 0, wrapError("could not count", err)
	}

	return count, nil
}

// Keys is a lazy, forward-only sequence of keys. It is not
// restartable mid-iteration and must only be used by one goroutine
// at a time.
type Keys struct {
	iter backend.Iterator
	// extra holds cache-merged keys appended after the backend's
	// results, deduplicated against them through seen
	extra []string
	seen  map[string]struct{}
	cur   string
}

// Next advances to the next key. A fresh sequence needs one Next
// call to reach the first key.
func (keys *Keys) Next() bool {
	if keys.iter.Next() {
		keys.cur = keys.iter.Key()

		if keys.seen != nil {
			keys.seen[keys.cur] = struct{}{}
		}

		return true
	}

	// An enumeration that failed mid-way must stop here: serving
	// cache-merged keys past the failure would hide it until the
	// Error call.
	if keys.iter.Error() != nil {
		return false
	}

	for len(keys.extra) > 0 {
		key := keys.extra[0]
		keys.extra = keys.extra[1:]

		if _, ok := keys.seen[key]; ok {
			continue
		}

		keys.seen[key] = struct{}{}
		keys.cur = key

		return true
	}

	return false
}

// Key returns the current key
func (keys *Keys) Key() string {
	return keys.cur
}

// Error returns the error that stopped iteration, if any
func (keys *Keys) Error() error {
	return keys.iter.Error()
}

// Maps is a lazy, forward-only sequence of documents
type Maps struct {
	category *Category
	keys     *Keys
	cur      *StoredMap
	err      error
}

// Next advances to the next document
func (maps *Maps) Next() bool {
	if maps.err != nil {
		return false
	}

	if !maps.keys.Next() {
		return false
	}

	maps.cur, maps.err = maps.category.Map(maps.keys.Key())

	return maps.err == nil
}

// Map returns the current document. The handle must be released
// with Close by the caller.
func (maps *Maps) Map() *StoredMap {
	return maps.cur
}

// Error returns the error that stopped iteration, if any
func (maps *Maps) Error() error {
	if maps.err != nil {
		return maps.err
	}

	return maps.keys.Error()
}
