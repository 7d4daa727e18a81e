package storedmap_test

import (
	"testing"
	"time"

	"golang.org/x/text/language"

	"github.com/vsetec/storedmap"
)

func openStore(t *testing.T) *storedmap.Store {
	t.Helper()

	store, err := storedmap.Open(storedmap.Config{"backend": "memory"})

	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	t.Cleanup(func() { store.Close() })

	return store
}

func waitDurable(t *testing.T, sm *storedmap.StoredMap) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)

	for sm.Dirty() {
		if time.Now().After(deadline) {
			t.Fatalf("document never became durable")
		}

		time.Sleep(time.Millisecond)
	}
}

func TestOpen(t *testing.T) {
	testCases := map[string]struct {
		config storedmap.Config
	}{
		"MissingBackendSelector": {
			config: storedmap.Config{},
		},
		"UnknownBackend": {
			config: storedmap.Config{"backend": "no-such-backend"},
		},
		"UnknownCodec": {
			config: storedmap.Config{"backend": "memory", "codec": "no-such-codec"},
		},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			store, err := storedmap.Open(testCase.config)

			if err == nil {
				store.Close()
				t.Fatalf("expected open to fail")
			}
		})
	}

	t.Run("Defaults", func(t *testing.T) {
		store := openStore(t)

		if store.Prefix() != "storedmap" {
			t.Errorf("expected the default prefix, got %q", store.Prefix())
		}

		if store.SessionID() == "" {
			t.Errorf("expected a generated session identifier")
		}
	})
}

func TestCategoryIdentity(t *testing.T) {
	store := openStore(t)

	a, err := store.Category("people")

	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	b, err := store.Category("people")

	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	if a != b {
		t.Errorf("repeated lookups of one category should return the same instance")
	}

	if a.Name() != "people" {
		t.Errorf("unexpected category name %q", a.Name())
	}

	if a.IndexName() != "storedmap_people" {
		t.Errorf("unexpected index name %q", a.IndexName())
	}
}

func TestCategories(t *testing.T) {
	store := openStore(t)

	for _, name := range []string{"people", "invoices"} {
		cat, err := store.Category(name)

		if err != nil {
			t.Fatalf("unexpected error: %s", err)
		}

		sm, err := cat.Create(name + "-1")

		if err != nil {
			t.Fatalf("unexpected error: %s", err)
		}

		if err := sm.Set("seeded", true); err != nil {
			t.Fatalf("unexpected error: %s", err)
		}

		waitDurable(t, sm)
		sm.Close()
	}

	// A persisted locale list lives in the reserved index; it must
	// never surface as a category.
	cat, err := store.Category("people")

	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	if err := cat.SetLocales(language.English); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	cats, err := store.Categories()

	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	names := map[string]bool{}

	for _, cat := range cats {
		names[cat.Name()] = true
	}

	if len(names) != 2 || !names["people"] || !names["invoices"] {
		t.Errorf("expected exactly the seeded categories, got %v", names)
	}
}

func TestClose(t *testing.T) {
	store, err := storedmap.Open(storedmap.Config{"backend": "memory"})

	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	if err := store.Close(); err != nil {
		t.Errorf("repeated close should be a no-op, got %s", err)
	}

	if _, err := store.Category("people"); err != storedmap.ErrClosed {
		t.Errorf("expected ErrClosed, got %v", err)
	}

	if _, ok := <-store.Faults(); ok {
		t.Errorf("the fault channel should be closed after the store closes")
	}
}
