package codec

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
)

// localesV1 is the header of version 1 of the locale-list record:
// a line with the version marker followed by a line of
// comma-separated BCP 47 tags in order. The format is explicit and
// versioned so that no language-specific serializer is involved.
const localesV1 = "storedmap-locales/1"

// EncodeLocales encodes an ordered locale list
func EncodeLocales(locales []language.Tag) []byte {
	tags := make([]string, len(locales))

	for i, locale := range locales {
		tags[i] = locale.String()
	}

	return []byte(localesV1 + "\n" + strings.Join(tags, ","))
}

// DecodeLocales decodes an ordered locale list encoded by
// EncodeLocales
func DecodeLocales(data []byte) ([]language.Tag, error) {
	lines := strings.SplitN(string(data), "\n", 2)

	if lines[0] != localesV1 {
		return nil, fmt.Errorf("unknown locale record version %q", lines[0])
	}

	if len(lines) < 2 || lines[1] == "" {
		return nil, nil
	}

	tags := strings.Split(lines[1], ",")
	locales := make([]language.Tag, len(tags))

	for i, tag := range tags {
		locale, err := language.Parse(tag)

		if err != nil {
			return nil, fmt.Errorf("could not parse locale %q: %s", tag, err.Error())
		}

		locales[i] = locale
	}

	return locales, nil
}

// LocaleNames renders locales as BCP 47 strings for transmission
// to a backend
func LocaleNames(locales []language.Tag) []string {
	names := make([]string, len(locales))

	for i, locale := range locales {
		names[i] = locale.String()
	}

	return names
}
