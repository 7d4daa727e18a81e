package codec

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Type prefixes keep sorters of different kinds in disjoint byte
// ranges: every number sorts before every time which sorts before
// every string.
const (
	sorterNumber byte = 0x20
	sorterTime   byte = 0x40
	sorterString byte = 0x60
)

// NewCollator builds the collator for an ordered locale list. The
// first locale drives collation; an empty list falls back to the
// root collation.
func NewCollator(locales []language.Tag) *collate.Collator {
	if len(locales) == 0 {
		return collate.New(language.Und)
	}

	return collate.New(locales[0])
}

// Sorter translates an arbitrary comparable value into sorter
// bytes whose byte-lexicographic order matches the natural order
// of the values: numeric order for numbers, chronological order
// for times and the collator's order for strings. The result is
// truncated to max bytes when max > 0. A nil value yields nil,
// meaning no sorter.
func Sorter(value interface{}, collator *collate.Collator, max int) ([]byte, error) {
	if value == nil {
		return nil, nil
	}

	var sorter []byte

	switch v := value.(type) {
	case string:
		var buf collate.Buffer

		key := collator.KeyFromString(&buf, v)
		sorter = make([]byte, 0, len(key)+1)
		sorter = append(sorter, sorterString)
		sorter = append(sorter, key...)
	case time.Time:
		sorter = make([]byte, 9)
		sorter[0] = sorterTime
		binary.BigEndian.PutUint64(sorter[1:], uint64(v.UnixNano())^(1<<63))
	case float32:
		sorter = numberSorter(float64(v))
	case float64:
		sorter = numberSorter(v)
	case int:
		sorter = numberSorter(float64(v))
	case int8:
		sorter = numberSorter(float64(v))
	case int16:
		sorter = numberSorter(float64(v))
	case int32:
		sorter = numberSorter(float64(v))
	case int64:
		sorter = numberSorter(float64(v))
	case uint:
		sorter = numberSorter(float64(v))
	case uint8:
		sorter = numberSorter(float64(v))
	case uint16:
		sorter = numberSorter(float64(v))
	case uint32:
		sorter = numberSorter(float64(v))
	case uint64:
		sorter = numberSorter(float64(v))
	default:
		return nil, fmt.Errorf("cannot use %T as a sorter: not a number, time or string", value)
	}

	if max > 0 && len(sorter) > max {
		sorter = sorter[:max]
	}

	return sorter, nil
}

// numberSorter maps a float64 onto 8 bytes whose unsigned
// big-endian order matches numeric order: the sign bit is flipped
// for non-negative values and all bits are flipped for negative
// ones.
func numberSorter(f float64) []byte {
	bits := math.Float64bits(f)

	if f < 0 || (f == 0 && math.Signbit(f)) {
		bits = ^bits
	} else {
		bits ^= 1 << 63
	}

	sorter := make([]byte, 9)
	sorter[0] = sorterNumber
	binary.BigEndian.PutUint64(sorter[1:], bits)

	return sorter
}
