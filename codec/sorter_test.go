package codec_test

import (
	"bytes"
	"testing"
	"time"

	"golang.org/x/text/language"

	"github.com/vsetec/storedmap/codec"
)

func TestSorterOrder(t *testing.T) {
	collator := codec.NewCollator(nil)

	// Values listed in ascending expected order. Their encoded
	// sorters must be in strictly ascending byte-lexicographic
	// order, including across type classes.
	values := []interface{}{
		-1000.5,
		-3,
		0,
		3,
		3.5,
		uint(1000),
		time.Date(1969, 7, 20, 20, 17, 0, 0, time.UTC),
		time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC),
		"apple",
		"banana",
		"cherry",
	}

	sorters := make([][]byte, len(values))

	for i, value := range values {
		sorter, err := codec.Sorter(value, collator, 0)

		if err != nil {
			t.Fatalf("could not encode %v: %s", value, err)
		}

		sorters[i] = sorter
	}

	for i := 1; i < len(sorters); i++ {
		if bytes.Compare(sorters[i-1], sorters[i]) >= 0 {
			t.Errorf("sorter for %v should order before sorter for %v", values[i-1], values[i])
		}
	}
}

func TestSorterNil(t *testing.T) {
	sorter, err := codec.Sorter(nil, codec.NewCollator(nil), 0)

	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	if sorter != nil {
		t.Errorf("nil value should encode to a nil sorter, got %v", sorter)
	}
}

func TestSorterTruncation(t *testing.T) {
	collator := codec.NewCollator([]language.Tag{language.English})

	sorter, err := codec.Sorter("a very long string that will certainly not fit", collator, 8)

	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	if len(sorter) > 8 {
		t.Errorf("sorter should be truncated to 8 bytes, got %d", len(sorter))
	}
}

func TestSorterUnsupportedType(t *testing.T) {
	if _, err := codec.Sorter(struct{}{}, codec.NewCollator(nil), 0); err == nil {
		t.Errorf("expected an error for an unsupported sorter type")
	}
}

func TestSorterCollation(t *testing.T) {
	collator := codec.NewCollator([]language.Tag{language.English})

	lower, err := codec.Sorter("apple", collator, 0)

	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	upper, err := codec.Sorter("Banana", collator, 0)

	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	// Case must not override alphabetical order the way a plain
	// byte comparison of the strings would.
	if bytes.Compare(lower, upper) >= 0 {
		t.Errorf("\"apple\" should collate before \"Banana\"")
	}
}
