package storedmap

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/vsetec/storedmap/backend"
	"github.com/vsetec/storedmap/codec"
)

// Category is a named group of documents with its own locale and
// collation configuration. Categories are created lazily through
// Store.Category and cached for the store's lifetime, so two calls
// with the same name return the same instance.
type Category struct {
	store     *Store
	name      string
	indexName string
	logger    *zap.Logger

	localeMu sync.RWMutex
	locales  []language.Tag
	collator *collate.Collator

	// cacheMu guards cache and every holder's refs field. It is
	// scoped to lookup, insert and release steps only and is never
	// held across a backend call.
	cacheMu sync.Mutex
	cache   map[string]*holder

	secondaryMu sync.Mutex
	secondary   map[string]map[string]struct{}
}

func newCategory(store *Store, name string) (*Category, error) {
	indexName := store.conn.SanitizeIndexName(store.prefix + "_" + name)
	limits := store.conn.Limits()

	if limits.MaxIndexName > 0 && len(indexName) > limits.MaxIndexName {
		return nil, fmt.Errorf("category %q maps to index name %q which exceeds the backend's maximum of %d", name, indexName, limits.MaxIndexName)
	}

	cat := &Category{
		store:     store,
		name:      name,
		indexName: indexName,
		logger:    store.logger.With(zap.String("category", name)),
		cache:     map[string]*holder{},
		secondary: map[string]map[string]struct{}{},
	}

	// The ordered locale list lives in a reserved per-store index,
	// keyed by the category's index name, so the collator can be
	// rebuilt on reopen.
	payload, err := store.conn.Get(indexName, codec.LocalesIndexName(store.prefix))

	if err != nil {
		return nil, wrapError("could not load category locales", err)
	}

	var locales []language.Tag

	if payload != nil {
		locales, err = codec.DecodeLocales(payload)

		if err != nil {
			return nil, wrapError("could not decode category locales", err)
		}
	}

	cat.locales = locales
	cat.collator = codec.NewCollator(locales)

	return cat, nil
}

// Name returns this category's name
func (cat *Category) Name() string {
	return cat.name
}

// Store returns the store this category belongs to
func (cat *Category) Store() *Store {
	return cat.store
}

// IndexName returns the backend index identifier derived from the
// store's namespace prefix and this category's name
func (cat *Category) IndexName() string {
	return cat.indexName
}

// Locales returns the ordered locale list associated with this
// category
func (cat *Category) Locales() []language.Tag {
	cat.localeMu.RLock()
	defer cat.localeMu.RUnlock()

	return append([]language.Tag(nil), cat.locales...)
}

// Collator returns the collator derived from this category's
// locale list
func (cat *Category) Collator() *collate.Collator {
	cat.localeMu.RLock()
	defer cat.localeMu.RUnlock()

	return cat.collator
}

// SetLocales associates an ordered locale list with this category
// and persists it. The order matters: it drives the collation used
// for sorter encoding. Documents persisted before the change keep
// their old sorters until they are written again.
func (cat *Category) SetLocales(locales ...language.Tag) error {
	encoded := codec.EncodeLocales(locales)

	primary := make(chan error, 1)

	cat.store.conn.Put(backend.Record{
		Key:     cat.indexName,
		Index:   codec.LocalesIndexName(cat.store.prefix),
		Payload: encoded,
		Tags:    codec.DefaultTags(nil),
	}, func(err error) {
		primary <- err
	}, func(err error) {
		if err != nil {
			cat.logger.Warn("locale record secondary state failed", zap.Error(err))
		}
	})

	if err := <-primary; err != nil {
		return wrapError("could not persist category locales", err)
	}

	cat.localeMu.Lock()
	cat.locales = append([]language.Tag(nil), locales...)
	cat.collator = codec.NewCollator(locales)
	cat.localeMu.Unlock()

	return nil
}

// Map returns a handle on the document with this key, creating the
// in-memory representation on first access. The document may or
// may not exist in the backend; its content loads lazily. The
// returned handle must be released with Close.
func (cat *Category) Map(key string) (*StoredMap, error) {
	if err := cat.validKey(key); err != nil {
		return nil, err
	}

	return &StoredMap{category: cat, holder: cat.lookupOrCreate(key)}, nil
}

// Create returns a handle on a document known to be absent from
// the backend, skipping the backend read entirely. The document is
// visible to subsequent lookups immediately, before it is durable.
// The caller must supply a key that does not exist yet, such as a
// fresh UUID.
func (cat *Category) Create(key string) (*StoredMap, error) {
	sm, err := cat.Map(key)

	if err != nil {
		return nil, err
	}

	sm.holder.mu.Lock()

	if !sm.holder.loaded {
		sm.holder.loaded = true
		sm.holder.state = docState{content: map[string]interface{}{}}
	}

	sm.holder.mu.Unlock()

	return sm, nil
}

// TryLock attempts to acquire the advisory lock on key for
// compound read-modify-write sequences spanning processes. It
// returns a non-empty token on success and an empty token with a
// nil error when the lock is contended: a timeout is a
// distinguishable outcome, not an error. The lock expires on its
// own after ttl. The core never takes these locks implicitly.
func (cat *Category) TryLock(key string, ttl time.Duration) (string, error) {
	if err := cat.validKey(key); err != nil {
		return "", err
	}

	return cat.store.conn.TryLock(key, cat.indexName, ttl)
}

// Unlock releases the advisory lock on key
func (cat *Category) Unlock(key string) error {
	if err := cat.validKey(key); err != nil {
		return err
	}

	return cat.store.conn.Unlock(key, cat.indexName)
}

func (cat *Category) validKey(key string) error {
	if key == "" {
		return fmt.Errorf("key must not be empty")
	}

	if limits := cat.store.conn.Limits(); limits.MaxKey > 0 && len(key) > limits.MaxKey {
		return fmt.Errorf("key %q exceeds the backend's maximum key length of %d", key, limits.MaxKey)
	}

	return nil
}

// lookupOrCreate is the atomic per-key check-and-insert of the
// identity cache. The cache lock covers only this step.
func (cat *Category) lookupOrCreate(key string) *holder {
	cat.cacheMu.Lock()
	defer cat.cacheMu.Unlock()

	h := cat.cache[key]

	if h == nil {
		h = &holder{category: cat, key: key}
		cat.cache[key] = h
	}

	h.refs++

	return h
}

// retain takes an additional reference on a holder, for a pending
// persist job
func (cat *Category) retain(h *holder) {
	cat.cacheMu.Lock()
	h.refs++
	cat.cacheMu.Unlock()
}

// release drops one reference. At zero the holder leaves the
// cache; a later lookup rebuilds state from the backend.
func (cat *Category) release(h *holder) {
	cat.cacheMu.Lock()

	h.refs--

	if h.refs <= 0 && cat.cache[h.key] == h {
		delete(cat.cache, h.key)
	}

	cat.cacheMu.Unlock()
}

// cachedKeys snapshots the keys currently in the identity cache
func (cat *Category) cachedKeys() []string {
	cat.cacheMu.Lock()
	defer cat.cacheMu.Unlock()

	keys := make([]string, 0, len(cat.cache))

	for key := range cat.cache {
		keys = append(keys, key)
	}

	return keys
}

// cacheSecondaryKey records that key belongs to the group
// secondaryKey. The secondary-key cache is advisory: queries whose
// sole filter is the secondary key merge it with backend results
// so documents whose index state is still propagating stay
// reachable.
func (cat *Category) cacheSecondaryKey(key, secondaryKey string) {
	cat.secondaryMu.Lock()
	defer cat.secondaryMu.Unlock()

	group := cat.secondary[secondaryKey]

	if group == nil {
		group = map[string]struct{}{}
		cat.secondary[secondaryKey] = group
	}

	group[key] = struct{}{}
}

func (cat *Category) uncacheSecondaryKey(key, secondaryKey string) {
	cat.secondaryMu.Lock()
	defer cat.secondaryMu.Unlock()

	if group := cat.secondary[secondaryKey]; group != nil {
		delete(group, key)

		if len(group) == 0 {
			delete(cat.secondary, secondaryKey)
		}
	}
}

func (cat *Category) secondaryKeyCache(secondaryKey string) []string {
	cat.secondaryMu.Lock()
	defer cat.secondaryMu.Unlock()

	group := cat.secondary[secondaryKey]
	keys := make([]string, 0, len(group))

	for key := range group {
		keys = append(keys, key)
	}

	return keys
}
