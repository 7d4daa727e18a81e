// Package bbolt implements an embedded storage backend on top of
// bbolt. Each index lives in a top-level bucket with three nested
// buckets: "rec" holds primary payloads by key, "meta" holds the
// secondary state (sorter, tags, secondary key, structured view)
// by key and "order" maps sorter-prefixed keys onto keys so that
// enumeration walks records in sorter order.
//
// Primary and secondary state are written in two separate
// transactions with their completion callbacks invoked after each
// commit, so the two durability signals stay independent.
//
// Advisory locks are process-local: an embedded database has a
// single writing process, so cross-process coordination reduces to
// cross-goroutine coordination.
package bbolt

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/vsetec/storedmap/backend"
)

const PluginName = "bbolt"

var (
	bucketRec   = []byte("rec")
	bucketMeta  = []byte("meta")
	bucketOrder = []byte("order")
)

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
	path, ok := options["path"].(string)

	if !ok || path == "" {
		return nil, fmt.Errorf("\"path\" is required and must be a string")
	}

	return New(Config{Path: path})
}

func (plugin *Plugin) OpenTemp() (backend.Conn, error) {
	return plugin.Open(backend.Options{
		"path": fmt.Sprintf("%s/storedmap-bbolt-%s", os.TempDir(), uuid.New()),
	})
}

type Config struct {
	Path string
}

var _ backend.Conn = (*Conn)(nil)

// New opens a bbolt backend connection at config.Path
func New(config Config) (*Conn, error) {
	db, err := bolt.Open(config.Path, 0666, nil)

	if err != nil {
		return nil, fmt.Errorf("could not open bbolt store at %s: %s", config.Path, err.Error())
	}

	return &Conn{db: db, locks: map[string]lock{}}, nil
}

// Conn is a bbolt-backed implementation of backend.Conn
type Conn struct {
	db     *bolt.DB
	mu     sync.Mutex
	locks  map[string]lock
	closed bool
}

type lock struct {
	token   string
	expires time.Time
}

// meta is the persisted secondary state of one record
type meta struct {
	Sorter       []byte                 `json:"sorter,omitempty"`
	Tags         []string               `json:"tags,omitempty"`
	SecondaryKey string                 `json:"secondary,omitempty"`
	View         map[string]interface{} `json:"view,omitempty"`
}

func orderKey(sorter []byte, key string) []byte {
	k := make([]byte, 0, len(sorter)+1+len(key))
	k = append(k, sorter...)
	k = append(k, 0)
	k = append(k, key...)

	return k
}

func (conn *Conn) Close() error {
	conn.mu.Lock()
	conn.closed = true
	conn.locks = map[string]lock{}
	conn.mu.Unlock()

	return conn.db.Close()
}

func (conn *Conn) isClosed() bool {
	conn.mu.Lock()
	defer conn.mu.Unlock()

	return conn.closed
}

func (conn *Conn) Limits() backend.Limits {
	return backend.Limits{
		MaxIndexName: 255,
		MaxKey:       255,
		MaxTag:       100,
		MaxSorter:    100,
	}
}

func (conn *Conn) SanitizeIndexName(name string) string {
	return strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_' || r == '-' {
			return r
		}

		return '_'
	}, name)
}

func (conn *Conn) Indices() ([]string, error) {
	if conn.isClosed() {
		return nil, backend.ErrClosed
	}

	var names []string

	err := conn.db.View(func(txn *bolt.Tx) error {
		return txn.ForEach(func(name []byte, _ *bolt.Bucket) error {
			names = append(names, string(name))

			return nil
		})
	})

	if err != nil {
		return nil, fmt.Errorf("could not list indices: %s", err.Error())
	}

	return names, nil
}

func (conn *Conn) Get(key, indexName string) ([]byte, error) {
	if conn.isClosed() {
		return nil, backend.ErrClosed
	}

	var payload []byte

	err := conn.db.View(func(txn *bolt.Tx) error {
		idx := txn.Bucket([]byte(indexName))

		if idx == nil {
			return nil
		}

		if value := idx.Bucket(bucketRec).Get([]byte(key)); value != nil {
			payload = make([]byte, len(value))
			copy(payload, value)
		}

		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("could not get %q from %q: %s", key, indexName, err.Error())
	}

	return payload, nil
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

func (conn *Conn) matchingKeys(indexName string, query backend.Query) ([]string, error) {
	if conn.isClosed() {
		return nil, backend.ErrClosed
	}

	var keys []string

	err := conn.db.View(func(txn *bolt.Tx) error {
		idx := txn.Bucket([]byte(indexName))

		if idx == nil {
			return nil
		}

		order := idx.Bucket(bucketOrder)
		metas := idx.Bucket(bucketMeta)
		cursor := order.Cursor()

		skipped := 0

		first, advance := cursor.First, cursor.Next

		if query.Descending {
			first, advance = cursor.Last, cursor.Prev
		}

		for k, v := first(); k != nil; k, v = advance() {
			key := string(v)

			var m meta

			if raw := metas.Get(v); raw != nil {
				if err := gojson.Unmarshal(raw, &m); err != nil {
					return fmt.Errorf("could not decode meta for %q: %s", key, err.Error())
				}
			}

			if !matches(&m, query) {
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

		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("could not enumerate %q: %s", indexName, err.Error())
	}

	return keys, nil
}

func matches(m *meta, query backend.Query) bool {
	if query.SecondaryKey != "" && m.SecondaryKey != query.SecondaryKey {
		return false
	}

	if !query.Sorter.Unbounded() && (m.Sorter == nil || !query.Sorter.Contains(m.Sorter)) {
		return false
	}

	if len(query.AnyOfTags) > 0 && !anyTagMatches(m.Tags, query.AnyOfTags) {
		return false
	}

	if query.Text != "" && !textMatches(m.View, query.Text) {
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

func textMatches(view map[string]interface{}, text string) bool {
	text = strings.ToLower(text)

	for _, value := range view {
		if s, ok := value.(string); ok && strings.Contains(strings.ToLower(s), text) {
			return true
		}
	}

	return false
}

// ensureIndex creates the nested buckets for an index if they do
// not exist yet
func ensureIndex(txn *bolt.Tx, indexName string) (*bolt.Bucket, error) {
	idx, err := txn.CreateBucketIfNotExists([]byte(indexName))

	if err != nil {
		return nil, err
	}

	for _, name := range [][]byte{bucketRec, bucketMeta, bucketOrder} {
		if _, err := idx.CreateBucketIfNotExists(name); err != nil {
			return nil, err
		}
	}

	return idx, nil
}

func (conn *Conn) Put(rec backend.Record, onPrimary, onSecondary func(error)) {
	if conn.isClosed() {
		onPrimary(backend.ErrClosed)
		onSecondary(backend.ErrClosed)

		return
	}

	err := conn.db.Update(func(txn *bolt.Tx) error {
		idx, err := ensureIndex(txn, rec.Index)

		if err != nil {
			return err
		}

		return idx.Bucket(bucketRec).Put([]byte(rec.Key), rec.Payload)
	})

	onPrimary(err)

	if err != nil {
		// The record never became durable; reporting a secondary
		// failure as well keeps both callbacks firing exactly once.
		onSecondary(err)

		return
	}

	err = conn.db.Update(func(txn *bolt.Tx) error {
		idx, err := ensureIndex(txn, rec.Index)

		if err != nil {
			return err
		}

		if err := removeSecondary(idx, rec.Key); err != nil {
			return err
		}

		encoded, err := gojson.Marshal(meta{
			Sorter:       rec.Sorter,
			Tags:         rec.Tags,
			SecondaryKey: rec.SecondaryKey,
			View:         rec.View,
		})

		if err != nil {
			return err
		}

		if err := idx.Bucket(bucketMeta).Put([]byte(rec.Key), encoded); err != nil {
			return err
		}

		return idx.Bucket(bucketOrder).Put(orderKey(rec.Sorter, rec.Key), []byte(rec.Key))
	})

	onSecondary(err)
}

// removeSecondary drops the meta and order entries for key inside
// an index bucket
func removeSecondary(idx *bolt.Bucket, key string) error {
	metas := idx.Bucket(bucketMeta)
	raw := metas.Get([]byte(key))

	if raw == nil {
		return nil
	}

	var m meta

	if err := gojson.Unmarshal(raw, &m); err != nil {
		return err
	}

	if err := idx.Bucket(bucketOrder).Delete(orderKey(m.Sorter, key)); err != nil {
		return err
	}

	return metas.Delete([]byte(key))
}

func (conn *Conn) Remove(key, indexName string, done func(error)) {
	if conn.isClosed() {
		done(backend.ErrClosed)

		return
	}

	done(conn.db.Update(func(txn *bolt.Tx) error {
		idx := txn.Bucket([]byte(indexName))

		if idx == nil {
			return nil
		}

		return idx.Bucket(bucketRec).Delete([]byte(key))
	}))
}

func (conn *Conn) ClearSecondary(key, indexName string, done func(error)) {
	if conn.isClosed() {
		done(backend.ErrClosed)

		return
	}

	done(conn.db.Update(func(txn *bolt.Tx) error {
		idx := txn.Bucket([]byte(indexName))

		if idx == nil {
			return nil
		}

		return removeSecondary(idx, key)
	}))
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
