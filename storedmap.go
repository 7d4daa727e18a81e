package storedmap

import (
	"fmt"

	"github.com/vsetec/storedmap/codec"
)

// StoredMap is a handle on one document of a category: a mutable
// view with dirty-state tracking. All handles for the same key
// share one holder, so a mutation made through one handle is
// immediately visible through every other, before it becomes
// durable.
//
// Mutators return as soon as the change is recorded in memory and
// scheduled with the write-behind engine; durability follows in
// the background. Failed background writes surface on
// Store.Faults.
//
// A handle must be released with Close when no longer needed so
// that the identity cache can reclaim the document.
type StoredMap struct {
	category *Category
	holder   *holder
	closed   bool
}

// Key returns the document's identifier
func (sm *StoredMap) Key() string {
	return sm.holder.key
}

// Category returns the category this document belongs to
func (sm *StoredMap) Category() *Category {
	return sm.category
}

// Close releases this handle's reference on the document. Using
// the handle after Close is a programming error.
func (sm *StoredMap) Close() {
	if sm.closed {
		return
	}

	sm.closed = true
	sm.category.release(sm.holder)
}

// Exists reports whether the document has any content, in memory
// or in the backend
func (sm *StoredMap) Exists() (bool, error) {
	if err := sm.holder.load(); err != nil {
		return false, err
	}

	sm.holder.mu.Lock()
	defer sm.holder.mu.Unlock()

	return sm.holder.state.content != nil && !sm.holder.state.removed, nil
}

// Content returns a copy of the document's structured content.
// Mutate through Set, Delete or SetContent, not through the
// returned map.
func (sm *StoredMap) Content() (map[string]interface{}, error) {
	if err := sm.holder.load(); err != nil {
		return nil, err
	}

	sm.holder.mu.Lock()
	defer sm.holder.mu.Unlock()

	return copyContent(sm.holder.state.content), nil
}

// Get returns the value of one field of the document's content
func (sm *StoredMap) Get(field string) (interface{}, error) {
	if err := sm.holder.load(); err != nil {
		return nil, err
	}

	sm.holder.mu.Lock()
	defer sm.holder.mu.Unlock()

	return sm.holder.state.content[field], nil
}

// Set sets one field of the document's content and schedules the
// document for persistence
func (sm *StoredMap) Set(field string, value interface{}) error {
	if err := sm.holder.load(); err != nil {
		return err
	}

	sm.holder.mu.Lock()

	if sm.holder.state.content == nil {
		sm.holder.state.content = map[string]interface{}{}
	}

	sm.holder.state.content[field] = value
	sm.holder.state.removed = false
	sm.holder.state.dirty = true
	sm.holder.mu.Unlock()

	return sm.schedule()
}

// Delete removes one field of the document's content and schedules
// the document for persistence
func (sm *StoredMap) Delete(field string) error {
	if err := sm.holder.load(); err != nil {
		return err
	}

	sm.holder.mu.Lock()
	delete(sm.holder.state.content, field)
	sm.holder.state.dirty = true
	sm.holder.mu.Unlock()

	return sm.schedule()
}

// SetContent replaces the document's structured content and
// schedules the document for persistence
func (sm *StoredMap) SetContent(content map[string]interface{}) error {
	if err := sm.holder.load(); err != nil {
		return err
	}

	sm.holder.mu.Lock()
	sm.holder.state.content = copyContent(content)
	sm.holder.state.removed = false
	sm.holder.state.dirty = true
	sm.holder.mu.Unlock()

	return sm.schedule()
}

// Tags returns the document's tags
func (sm *StoredMap) Tags() ([]string, error) {
	if err := sm.holder.load(); err != nil {
		return nil, err
	}

	sm.holder.mu.Lock()
	defer sm.holder.mu.Unlock()

	return append([]string(nil), sm.holder.state.tags...), nil
}

// SetTags replaces the document's tags and schedules the document
// for persistence. Tag lengths are validated against the backend's
// limits before anything is scheduled.
func (sm *StoredMap) SetTags(tags ...string) error {
	limits := sm.category.store.conn.Limits()

	for _, tag := range tags {
		if limits.MaxTag > 0 && len(tag) > limits.MaxTag {
			return fmt.Errorf("tag %q exceeds the backend's maximum tag length of %d", tag, limits.MaxTag)
		}

		if tag == codec.NoTags {
			return fmt.Errorf("tag %q is reserved", tag)
		}
	}

	if err := sm.holder.load(); err != nil {
		return err
	}

	sm.holder.mu.Lock()
	sm.holder.state.tags = append([]string(nil), tags...)
	sm.holder.state.dirty = true
	sm.holder.mu.Unlock()

	return sm.schedule()
}

// SecondaryKey returns the document's secondary key, if any
func (sm *StoredMap) SecondaryKey() (string, error) {
	if err := sm.holder.load(); err != nil {
		return "", err
	}

	sm.holder.mu.Lock()
	defer sm.holder.mu.Unlock()

	return sm.holder.state.secondaryKey, nil
}

// SetSecondaryKey sets the document's secondary key and schedules
// the document for persistence. The secondary-key cache is updated
// immediately so the document is reachable through its group
// before it is durable.
func (sm *StoredMap) SetSecondaryKey(secondaryKey string) error {
	limits := sm.category.store.conn.Limits()

	if limits.MaxKey > 0 && len(secondaryKey) > limits.MaxKey {
		return fmt.Errorf("secondary key %q exceeds the backend's maximum key length of %d", secondaryKey, limits.MaxKey)
	}

	if err := sm.holder.load(); err != nil {
		return err
	}

	sm.holder.mu.Lock()
	previous := sm.holder.state.secondaryKey
	sm.holder.state.secondaryKey = secondaryKey
	sm.holder.state.dirty = true
	sm.holder.mu.Unlock()

	if previous != secondaryKey {
		if previous != "" {
			sm.category.uncacheSecondaryKey(sm.holder.key, previous)
		}

		if secondaryKey != "" {
			sm.category.cacheSecondaryKey(sm.holder.key, secondaryKey)
		}
	}

	return sm.schedule()
}

// SetSorter derives the document's sorter from an arbitrary
// comparable value (a number, a time or a string collated under
// the category's locales) and schedules the document for
// persistence
func (sm *StoredMap) SetSorter(value interface{}) error {
	sorter, err := codec.Sorter(value, sm.category.Collator(), sm.category.store.conn.Limits().MaxSorter)

	if err != nil {
		return err
	}

	if err := sm.holder.load(); err != nil {
		return err
	}

	sm.holder.mu.Lock()
	sm.holder.state.sorter = sorter
	sm.holder.state.dirty = true
	sm.holder.mu.Unlock()

	return sm.schedule()
}

// Remove erases the document and schedules the removal. The
// document disappears from lookups immediately; the backend state
// follows in the background.
func (sm *StoredMap) Remove() error {
	if err := sm.holder.load(); err != nil {
		return err
	}

	sm.holder.mu.Lock()
	previous := sm.holder.state.secondaryKey
	sm.holder.state = docState{removed: true, dirty: true}
	sm.holder.mu.Unlock()

	if previous != "" {
		sm.category.uncacheSecondaryKey(sm.holder.key, previous)
	}

	return sm.schedule()
}

// Dirty reports whether the document has in-memory state not yet
// known durable
func (sm *StoredMap) Dirty() bool {
	sm.holder.mu.Lock()
	defer sm.holder.mu.Unlock()

	return sm.holder.state.dirty
}

func (sm *StoredMap) schedule() error {
	return sm.category.store.persister.enqueue(sm.holder)
}
