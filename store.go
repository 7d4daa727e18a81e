package storedmap

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vsetec/storedmap/backend"
	"github.com/vsetec/storedmap/backend/backends"
	"github.com/vsetec/storedmap/codec"
)

// Config is the key/value bag a store is opened with. The core
// interprets a handful of keys and hands the whole bag to the
// backend plugin, which owns the rest.
//
//	backend           name of the backend plugin (required)
//	prefix            namespace prefix for all index names ("storedmap")
//	codec             payload codec name ("go-json")
//	logger            a *zap.Logger for diagnostics
//	persister.workers backend write concurrency (4)
//	persister.queue   write-behind queue capacity (256)
//	persister.block   block instead of rejecting when the queue is
//	                  full (true)
type Config map[string]interface{}

func (config Config) stringOption(key, fallback string) string {
	if value, ok := config[key].(string); ok && value != "" {
		return value
	}

	return fallback
}

func (config Config) intOption(key string, fallback int) int {
	switch value := config[key].(type) {
	case int:
		return value
	case int64:
		return int(value)
	case float64:
		return int(value)
	}

	return fallback
}

func (config Config) boolOption(key string, fallback bool) bool {
	if value, ok := config[key].(bool); ok {
		return value
	}

	return fallback
}

// Store represents one database: a backend connection plus the
// registry of categories living under a common namespace prefix
type Store struct {
	config    Config
	prefix    string
	plugin    backend.Plugin
	conn      backend.Conn
	codec     codec.Codec
	logger    *zap.Logger
	persister *persister

	// sessionID tags diagnostics and lock ownership for this
	// store instance
	sessionID string

	mu         sync.Mutex
	categories map[string]*Category
	closed     bool
	closeOnce  sync.Once
}

// Open connects to the backend named by the configuration and
// returns a ready store. A failure to resolve the backend or to
// connect is fatal: no half-open store is ever returned.
func Open(config Config) (*Store, error) {
	backendName := config.stringOption("backend", "")

	if backendName == "" {
		return nil, fmt.Errorf("configuration is missing the \"backend\" selector")
	}

	plugin := backends.Plugin(backendName)

	if plugin == nil {
		return nil, fmt.Errorf("could not resolve backend %q", backendName)
	}

	codecName := config.stringOption("codec", codec.Default.Name())
	payloadCodec, ok := codec.ByName(codecName)

	if !ok {
		return nil, fmt.Errorf("could not resolve payload codec %q", codecName)
	}

	logger, ok := config["logger"].(*zap.Logger)

	if !ok || logger == nil {
		logger = zap.L()
	}

	conn, err := plugin.Open(backend.Options(config))

	if err != nil {
		return nil, fmt.Errorf("could not connect to backend %q: %s", backendName, err.Error())
	}

	store := &Store{
		config:     config,
		prefix:     config.stringOption("prefix", "storedmap"),
		plugin:     plugin,
		conn:       conn,
		codec:      payloadCodec,
		sessionID:  uuid.New().String(),
		categories: map[string]*Category{},
	}
	store.logger = logger.With(zap.String("backend", backendName), zap.String("session", store.sessionID))
	store.persister = newPersister(store,
		config.intOption("persister.workers", 4),
		config.intOption("persister.queue", 256),
		config.boolOption("persister.block", true))

	store.logger.Info("store opened", zap.String("prefix", store.prefix))

	return store, nil
}

// Prefix returns the namespace prefix applied to every index name
// this store creates
func (store *Store) Prefix() string {
	return store.prefix
}

// Config returns the configuration the store was opened with
func (store *Store) Config() Config {
	return store.config
}

// SessionID returns the random identifier generated for this
// store instance at construction, used only for diagnostics
func (store *Store) SessionID() string {
	return store.sessionID
}

// Faults exposes the background persistence failures. The channel
// is closed when the store closes. A reader is optional: faults
// are always logged, and reports are dropped rather than stalling
// workers when the channel's buffer fills up.
func (store *Store) Faults() <-chan Fault {
	return store.persister.faults
}

// Category returns the named category, creating its in-memory
// representation on first access. Repeated calls with the same
// name return the same instance for the store's lifetime.
func (store *Store) Category(name string) (*Category, error) {
	store.mu.Lock()

	if store.closed {
		store.mu.Unlock()

		return nil, ErrClosed
	}

	if cat := store.categories[name]; cat != nil {
		store.mu.Unlock()

		return cat, nil
	}

	store.mu.Unlock()

	// Creation reads the category's locale record from the
	// backend, outside the registry lock.
	cat, err := newCategory(store, name)

	if err != nil {
		return nil, err
	}

	store.mu.Lock()
	defer store.mu.Unlock()

	if store.closed {
		return nil, ErrClosed
	}

	if raced := store.categories[name]; raced != nil {
		return raced, nil
	}

	store.categories[name] = cat

	return cat, nil
}

// Categories lists the categories present in the backend by
// reverse-mapping index names through the namespace prefix. Index
// names that did not originate from this prefix are skipped.
func (store *Store) Categories() ([]*Category, error) {
	indices, err := store.conn.Indices()

	if err != nil {
		return nil, wrapError("could not list indices", err)
	}

	prefix := store.conn.SanitizeIndexName(store.prefix + "_")
	reserved := codec.LocalesIndexName(store.prefix)

	var cats []*Category

	for _, indexName := range indices {
		if indexName == reserved || !strings.HasPrefix(indexName, prefix) {
			continue
		}

		cat, err := store.Category(indexName[len(prefix):])

		if err != nil {
			return nil, err
		}

		// Sanitization is not always invertible; keep only the
		// names that round-trip.
		if cat.indexName != indexName {
			continue
		}

		cats = append(cats, cat)
	}

	return cats, nil
}

// Close stops the write-behind engine, draining every accepted
// job, and releases the backend connection. No job executes after
// the connection is released. Close runs its work exactly once;
// repeated calls return nil.
func (store *Store) Close() error {
	var err error

	store.closeOnce.Do(func() {
		store.mu.Lock()
		store.closed = true
		store.mu.Unlock()

		store.persister.stop()

		err = store.conn.Close()

		store.logger.Info("store closed")
	})

	return err
}
