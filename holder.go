package storedmap

import (
	"sync"
)

// envelope is the persisted form of a document: the structured
// content plus the secondary state needed to rebuild a holder from
// the backend
type envelope struct {
	Content      map[string]interface{} `json:"content"`
	Tags         []string               `json:"tags,omitempty"`
	SecondaryKey string                 `json:"secondary,omitempty"`
	Sorter       []byte                 `json:"sorter,omitempty"`
}

// docState is the in-memory state of a document. It is guarded by
// the owning holder's mutex.
type docState struct {
	content      map[string]interface{}
	tags         []string
	secondaryKey string
	sorter       []byte
	dirty        bool
	removed      bool
}

// holder is the shared identity anchor for one key within a
// category. Every live StoredMap handle for the key and every
// pending persist job reference the same holder, so in-memory
// mutations are mutually visible before they become durable.
//
// Holders are reference counted: the count covers external handles
// and pending jobs. The category's cache drops the holder at zero
// references; a later lookup rebuilds state from the backend.
type holder struct {
	category *Category
	key      string

	// refs is guarded by the category's cache lock, not mu
	refs int

	mu     sync.Mutex
	loaded bool
	state  docState
}

// load populates the holder from the backend if it has not been
// loaded yet. The holder lock is not held across the backend call:
// concurrent loaders may both fetch, the first to finish installs.
func (h *holder) load() error {
	h.mu.Lock()

	if h.loaded {
		h.mu.Unlock()

		return nil
	}

	h.mu.Unlock()

	conn := h.category.store.conn
	payload, err := conn.Get(h.key, h.category.indexName)

	if err != nil {
		return wrapError("could not load document", err)
	}

	var state docState

	if payload != nil {
		var env envelope

		if err := h.category.store.codec.Unmarshal(payload, &env); err != nil {
			return wrapError("could not decode document", err)
		}

		state = docState{
			content:      env.Content,
			tags:         env.Tags,
			secondaryKey: env.SecondaryKey,
			sorter:       env.Sorter,
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.loaded {
		return nil
	}

	h.loaded = true
	h.state = state

	if state.secondaryKey != "" {
		h.category.cacheSecondaryKey(h.key, state.secondaryKey)
	}

	return nil
}

// snapshot returns a copy of the current state for a persist job
func (h *holder) snapshot() docState {
	h.mu.Lock()
	defer h.mu.Unlock()

	state := h.state
	state.content = copyContent(h.state.content)
	state.tags = append([]string(nil), h.state.tags...)

	return state
}

// markClean clears the dirty flag after a durable write
func (h *holder) markClean() {
	h.mu.Lock()
	h.state.dirty = false
	h.mu.Unlock()
}

func copyContent(content map[string]interface{}) map[string]interface{} {
	if content == nil {
		return nil
	}

	c := make(map[string]interface{}, len(content))

	for k, v := range content {
		c[k] = v
	}

	return c
}
