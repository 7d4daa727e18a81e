package storedmap_test

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"golang.org/x/text/language"

	"github.com/vsetec/storedmap"
)

func seedDocument(t *testing.T, cat *storedmap.Category, key string, content map[string]interface{}) {
	t.Helper()

	sm, err := cat.Create(key)

	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	defer sm.Close()

	if err := sm.SetContent(content); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	waitDurable(t, sm)
}

func collectKeys(t *testing.T, keys *storedmap.Keys) []string {
	t.Helper()

	var collected []string

	for keys.Next() {
		collected = append(collected, keys.Key())
	}

	if err := keys.Error(); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	return collected
}

func TestSharedIdentity(t *testing.T) {
	store := openStore(t)

	cat, err := store.Category("people")

	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	first, err := cat.Create("alice")

	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	defer first.Close()

	second, err := cat.Map("alice")

	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	defer second.Close()

	// A mutation through one handle is visible through the other
	// immediately, durability notwithstanding.
	if err := first.Set("city", "Riga"); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	city, err := second.Get("city")

	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	if city != "Riga" {
		t.Errorf("expected the mutation to be visible through the second handle, got %v", city)
	}
}

func TestLifecycle(t *testing.T) {
	store := openStore(t)

	cat, err := store.Category("people")

	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	unknown, err := cat.Map("nobody")

	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	if exists, err := unknown.Exists(); err != nil || exists {
		t.Errorf("an unknown key should not exist, got %v, %v", exists, err)
	}

	unknown.Close()

	sm, err := cat.Create("alice")

	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	if exists, err := sm.Exists(); err != nil || !exists {
		t.Errorf("a created document should exist before it is durable, got %v, %v", exists, err)
	}

	content := map[string]interface{}{"name": "Alice", "age": float64(34)}

	if err := sm.SetContent(content); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	waitDurable(t, sm)
	sm.Close()

	// The holder is gone from the identity cache now; a fresh
	// handle must rebuild state from the backend.
	reloaded, err := cat.Map("alice")

	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	defer reloaded.Close()

	got, err := reloaded.Content()

	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	if diff := cmp.Diff(content, got); diff != "" {
		t.Errorf("reloaded content differs (-want +got):\n%s", diff)
	}

	if err := reloaded.Delete("age"); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	if got, err := reloaded.Get("age"); err != nil || got != nil {
		t.Errorf("a deleted field should read as nil, got %v, %v", got, err)
	}

	if err := reloaded.Remove(); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	if exists, err := reloaded.Exists(); err != nil || exists {
		t.Errorf("a removed document should not exist, got %v, %v", exists, err)
	}

	waitDurable(t, reloaded)
}

func TestTagQueries(t *testing.T) {
	store := openStore(t)

	cat, err := store.Category("people")

	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	for key, tags := range map[string][]string{
		"alice": {"admin"},
		"bob":   {"admin", "ops"},
		"carol": nil,
	} {
		sm, err := cat.Create(key)

		if err != nil {
			t.Fatalf("unexpected error: %s", err)
		}

		if err := sm.Set("name", key); err != nil {
			t.Fatalf("unexpected error: %s", err)
		}

		if len(tags) > 0 {
			if err := sm.SetTags(tags...); err != nil {
				t.Fatalf("unexpected error: %s", err)
			}
		}

		waitDurable(t, sm)
		sm.Close()
	}

	keys, err := cat.Keys(storedmap.Query{AnyOfTags: []string{"ops"}})

	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	if got := collectKeys(t, keys); len(got) != 1 || got[0] != "bob" {
		t.Errorf("expected only bob for tag ops, got %v", got)
	}

	// An empty tag filter is the reserved "untagged" query: it
	// matches exactly the documents carrying no tags.
	keys, err = cat.Keys(storedmap.Query{AnyOfTags: []string{}})

	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	if got := collectKeys(t, keys); len(got) != 1 || got[0] != "carol" {
		t.Errorf("expected only carol for the untagged query, got %v", got)
	}

	keys, err = cat.AllKeys()

	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	if got := collectKeys(t, keys); len(got) != 3 {
		t.Errorf("expected every document unfiltered, got %v", got)
	}

	count, err := cat.Count(storedmap.Query{AnyOfTags: []string{"admin"}})

	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	if count != 2 {
		t.Errorf("expected 2 admins, got %d", count)
	}

	total, err := cat.CountAll()

	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	if total != 3 {
		t.Errorf("expected 3 documents in total, got %d", total)
	}
}

func TestSorterQueries(t *testing.T) {
	store := openStore(t)

	cat, err := store.Category("events")

	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	if err := cat.SetLocales(language.English); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	for key, sorter := range map[string]interface{}{
		"first":  1,
		"second": 2,
		"third":  3,
	} {
		sm, err := cat.Create(key)

		if err != nil {
			t.Fatalf("unexpected error: %s", err)
		}

		if err := sm.Set("name", key); err != nil {
			t.Fatalf("unexpected error: %s", err)
		}

		if err := sm.SetSorter(sorter); err != nil {
			t.Fatalf("unexpected error: %s", err)
		}

		waitDurable(t, sm)
		sm.Close()
	}

	keys, err := cat.AllKeys()

	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	if got := collectKeys(t, keys); !cmp.Equal(got, []string{"first", "second", "third"}) {
		t.Errorf("expected sorter order, got %v", got)
	}

	// The range is half-open: the upper bound stays out.
	keys, err = cat.Keys(storedmap.Query{MinSorter: 1, MaxSorter: 3})

	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	if got := collectKeys(t, keys); !cmp.Equal(got, []string{"first", "second"}) {
		t.Errorf("expected [1, 3) ascending, got %v", got)
	}

	keys, err = cat.Keys(storedmap.Query{MinSorter: 1, MaxSorter: 3, Descending: true})

	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	if got := collectKeys(t, keys); !cmp.Equal(got, []string{"second", "first"}) {
		t.Errorf("expected [1, 3) descending, got %v", got)
	}

	keys, err = cat.Keys(storedmap.Query{Offset: 1, Limit: 1})

	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	if got := collectKeys(t, keys); !cmp.Equal(got, []string{"second"}) {
		t.Errorf("expected the middle page, got %v", got)
	}
}

func TestSecondaryKeyQueries(t *testing.T) {
	store := openStore(t)

	cat, err := store.Category("invoices")

	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	for key, customer := range map[string]string{
		"inv-1": "acme",
		"inv-2": "acme",
		"inv-3": "initech",
	} {
		sm, err := cat.Create(key)

		if err != nil {
			t.Fatalf("unexpected error: %s", err)
		}

		if err := sm.Set("customer", customer); err != nil {
			t.Fatalf("unexpected error: %s", err)
		}

		if err := sm.SetSecondaryKey(customer); err != nil {
			t.Fatalf("unexpected error: %s", err)
		}

		waitDurable(t, sm)
		sm.Close()
	}

	maps, err := cat.Maps(storedmap.Query{SecondaryKey: "acme"})

	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	got := map[string]bool{}

	for maps.Next() {
		sm := maps.Map()
		got[sm.Key()] = true
		sm.Close()
	}

	if err := maps.Error(); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	if len(got) != 2 || !got["inv-1"] || !got["inv-2"] {
		t.Errorf("expected acme's invoices, got %v", got)
	}

	// Moving a document to another group removes it from the old
	// one.
	sm, err := cat.Map("inv-3")

	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	if err := sm.SetSecondaryKey("acme"); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	waitDurable(t, sm)
	sm.Close()

	count, err := cat.Count(storedmap.Query{SecondaryKey: "initech"})

	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	if count != 0 {
		t.Errorf("expected initech's group to be empty after the move, got %d", count)
	}
}

func TestAdvisoryLocks(t *testing.T) {
	store := openStore(t)

	cat, err := store.Category("people")

	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	token, err := cat.TryLock("alice", time.Minute)

	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	if token == "" {
		t.Fatalf("expected to acquire the uncontended lock")
	}

	// Contention is a distinguishable outcome, not an error.
	contended, err := cat.TryLock("alice", time.Minute)

	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	if contended != "" {
		t.Errorf("expected the contended attempt to come back empty")
	}

	if err := cat.Unlock("alice"); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	token, err = cat.TryLock("alice", time.Minute)

	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	if token == "" {
		t.Errorf("expected to reacquire after unlock")
	}
}

func TestLocalesSurviveReopen(t *testing.T) {
	path := t.TempDir() + "/store.db"

	store, err := storedmap.Open(storedmap.Config{"backend": "bbolt", "path": path})

	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	cat, err := store.Category("people")

	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	if err := cat.SetLocales(language.German, language.English); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	seedDocument(t, cat, "alice", map[string]interface{}{"name": "Alice"})

	if err := store.Close(); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	store, err = storedmap.Open(storedmap.Config{"backend": "bbolt", "path": path})

	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	defer store.Close()

	cat, err = store.Category("people")

	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	want := []language.Tag{language.German, language.English}

	if diff := cmp.Diff(want, cat.Locales(), cmpopts.EquateComparable(language.Tag{})); diff != "" {
		t.Errorf("reopened locales differ (-want +got):\n%s", diff)
	}

	sm, err := cat.Map("alice")

	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	defer sm.Close()

	if exists, err := sm.Exists(); err != nil || !exists {
		t.Errorf("the seeded document should survive reopening, got %v, %v", exists, err)
	}
}
