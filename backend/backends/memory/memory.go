// Package memory implements an in-memory storage backend. It is
// the reference implementation of the backend contract and the
// backend of choice for tests. Everything is process-local; both
// Put callbacks fire synchronously in sequence.
package memory

import (
	"strings"
	"sync"
	"time"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/emirpasic/gods/utils"
	"github.com/google/uuid"

	"github.com/vsetec/storedmap/backend"
)

const PluginName = "memory"

func Plugins() []backend.Plugin {
	return []backend.Plugin{
		&Plugin{},
	}
}

type Plugin struct{}

func (plugin *Plugin) Name() string {
	return PluginName
}

func (plugin *Plugin) Open(options backend.Options) (backend.Conn, error) {
	return New(), nil
}

func (plugin *Plugin) OpenTemp() (backend.Conn, error) {
	return New(), nil
}

var _ backend.Conn = (*Conn)(nil)

// New creates an empty in-memory backend connection
func New() *Conn {
	return &Conn{
		indices: map[string]*index{},
		locks:   map[string]lock{},
	}
}

// Conn is an in-memory implementation of backend.Conn
type Conn struct {
	mu      sync.RWMutex
	closed  bool
	indices map[string]*index
	locks   map[string]lock
}

type index struct {
	recs map[string]*record
	// order maps sorter+0x00+key onto the key so that range
	// enumeration walks records in sorter order
	order *treemap.Map
}

type record struct {
	payload      []byte
	view         map[string]interface{}
	sorter       []byte
	tags         []string
	secondaryKey string
}

type lock struct {
	token   string
	expires time.Time
}

func newIndex() *index {
	return &index{
		recs:  map[string]*record{},
		order: treemap.NewWith(utils.StringComparator),
	}
}

func orderKey(sorter []byte, key string) string {
	return string(sorter) + "\x00" + key
}

func (conn *Conn) Close() error {
	conn.mu.Lock()
	defer conn.mu.Unlock()

	conn.closed = true
	conn.indices = map[string]*index{}
	conn.locks = map[string]lock{}

	return nil
}

func (conn *Conn) Limits() backend.Limits {
	return backend.Limits{
		MaxIndexName: 200,
		MaxKey:       200,
		MaxTag:       64,
		MaxSorter:    64,
	}
}

func (conn *Conn) SanitizeIndexName(name string) string {
	return name
}

func (conn *Conn) Indices() ([]string, error) {
	conn.mu.RLock()
	defer conn.mu.RUnlock()

	if conn.closed {
		return nil, backend.ErrClosed
	}

	names := make([]string, 0, len(conn.indices))

	for name := range conn.indices {
		names = append(names, name)
	}

	return names, nil
}

func (conn *Conn) Get(key, indexName string) ([]byte, error) {
	conn.mu.RLock()
	defer conn.mu.RUnlock()

	if conn.closed {
		return nil, backend.ErrClosed
	}

	idx := conn.indices[indexName]

	if idx == nil {
		return nil, nil
	}

	rec := idx.recs[key]

	if rec == nil {
		return nil, nil
	}

	return rec.payload, nil
}

func (conn *Conn) Keys(indexName string, query backend.Query) (backend.Iterator, error) {
	keys, err := conn.matchingKeys(indexName, query)

	if err != nil {
		return nil, err
	}

	return &sliceIterator{keys: keys}, nil
}

func (conn *Conn) Count(indexName string, query backend.Query) (int64, error) {
	query.Offset = 0
	query.Limit = -1

	keys, err := conn.matchingKeys(indexName, query)

	if err != nil {
		return 0, err
	}

	return int64(len(keys)), nil
}

// matchingKeys walks the sorter-ordered index and applies every
// filter of the query, snapshotting the matching keys under the
// read lock
func (conn *Conn) matchingKeys(indexName string, query backend.Query) ([]string, error) {
	conn.mu.RLock()
	defer conn.mu.RUnlock()

	if conn.closed {
		return nil, backend.ErrClosed
	}

	idx := conn.indices[indexName]

	if idx == nil {
		return nil, nil
	}

	var keys []string

	skipped := 0

	iter := idx.order.Iterator()

	if query.Descending {
		iter.End()
	} else {
		iter.Begin()
	}

	advance := iter.Next

	if query.Descending {
		advance = iter.Prev
	}

	for advance() {
		key := iter.Value().(string)
		rec := idx.recs[key]

		if rec == nil || !matches(rec, query) {
			continue
		}

		if skipped < query.Offset {
			skipped++

			continue
		}

		keys = append(keys, key)

		if query.Limit >= 0 && len(keys) >= query.Limit {
			break
		}
	}

	return keys, nil
}

func matches(rec *record, query backend.Query) bool {
	if query.SecondaryKey != "" && rec.secondaryKey != query.SecondaryKey {
		return false
	}

	if !query.Sorter.Unbounded() && (rec.sorter == nil || !query.Sorter.Contains(rec.sorter)) {
		return false
	}

	if len(query.AnyOfTags) > 0 && !anyTagMatches(rec.tags, query.AnyOfTags) {
		return false
	}

	if query.Text != "" && !textMatches(rec.view, query.Text) {
		return false
	}

	return true
}

func anyTagMatches(tags, anyOf []string) bool {
	for _, tag := range tags {
		for _, want := range anyOf {
			if tag == want {
				return true
			}
		}
	}

	return false
}

// textMatches approximates a full-text query with a
// case-insensitive substring match over the string fields of the
// structured view
func textMatches(view map[string]interface{}, text string) bool {
	text = strings.ToLower(text)

	for _, value := range view {
		if s, ok := value.(string); ok && strings.Contains(strings.ToLower(s), text) {
			return true
		}
	}

	return false
}

func (conn *Conn) Put(rec backend.Record, onPrimary, onSecondary func(error)) {
	conn.mu.Lock()

	if conn.closed {
		conn.mu.Unlock()
		onPrimary(backend.ErrClosed)
		onSecondary(backend.ErrClosed)

		return
	}

	idx := conn.indices[rec.Index]

	if idx == nil {
		idx = newIndex()
		conn.indices[rec.Index] = idx
	}

	if old := idx.recs[rec.Key]; old != nil {
		idx.order.Remove(orderKey(old.sorter, rec.Key))
	}

	idx.recs[rec.Key] = &record{
		payload:      rec.Payload,
		view:         rec.View,
		sorter:       rec.Sorter,
		tags:         rec.Tags,
		secondaryKey: rec.SecondaryKey,
	}
	idx.order.Put(orderKey(rec.Sorter, rec.Key), rec.Key)

	conn.mu.Unlock()

	onPrimary(nil)
	onSecondary(nil)
}

func (conn *Conn) Remove(key, indexName string, done func(error)) {
	conn.mu.Lock()

	if conn.closed {
		conn.mu.Unlock()
		done(backend.ErrClosed)

		return
	}

	if idx := conn.indices[indexName]; idx != nil {
		if rec := idx.recs[key]; rec != nil {
			idx.order.Remove(orderKey(rec.sorter, key))
			delete(idx.recs, key)
		}
	}

	conn.mu.Unlock()

	done(nil)
}

func (conn *Conn) ClearSecondary(key, indexName string, done func(error)) {
	conn.mu.Lock()

	if conn.closed {
		conn.mu.Unlock()
		done(backend.ErrClosed)

		return
	}

	if idx := conn.indices[indexName]; idx != nil {
		if rec := idx.recs[key]; rec != nil {
			idx.order.Remove(orderKey(rec.sorter, key))
			rec.sorter = nil
			rec.tags = nil
			rec.secondaryKey = ""
			rec.view = nil
		}
	}

	conn.mu.Unlock()

	done(nil)
}

func (conn *Conn) TryLock(key, indexName string, ttl time.Duration) (string, error) {
	conn.mu.Lock()
	defer conn.mu.Unlock()

	if conn.closed {
		return "", backend.ErrClosed
	}

	lockKey := indexName + "\x00" + key
	now := time.Now()

	if held, ok := conn.locks[lockKey]; ok && now.Before(held.expires) {
		return "", nil
	}

	token := uuid.New().String()
	conn.locks[lockKey] = lock{token: token, expires: now.Add(ttl)}

	return token, nil
}

func (conn *Conn) Unlock(key, indexName string) error {
	conn.mu.Lock()
	defer conn.mu.Unlock()

	if conn.closed {
		return backend.ErrClosed
	}

	delete(conn.locks, indexName+"\x00"+key)

	return nil
}

var _ backend.Iterator = (*sliceIterator)(nil)

type sliceIterator struct {
	keys []string
	pos  int
}

func (iter *sliceIterator) Next() bool {
	if iter.pos >= len(iter.keys) {
		return false
	}

	iter.pos++

	return true
}

func (iter *sliceIterator) Key() string {
	return iter.keys[iter.pos-1]
}

func (iter *sliceIterator) Error() error {
	return nil
}
