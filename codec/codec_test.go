package codec_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/text/language"

	"github.com/vsetec/storedmap/codec"
)

func TestLocalesRoundTrip(t *testing.T) {
	testCases := map[string]struct {
		locales []language.Tag
	}{
		"empty": {
			locales: nil,
		},
		"single": {
			locales: []language.Tag{language.Russian},
		},
		"ordered": {
			locales: []language.Tag{language.Russian, language.AmericanEnglish, language.SimplifiedChinese},
		},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			decoded, err := codec.DecodeLocales(codec.EncodeLocales(testCase.locales))

			if err != nil {
				t.Fatalf("unexpected error: %s", err)
			}

			var want, got []string

			for _, locale := range testCase.locales {
				want = append(want, locale.String())
			}

			for _, locale := range decoded {
				got = append(got, locale.String())
			}

			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("locales did not round trip (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLocalesUnknownVersion(t *testing.T) {
	if _, err := codec.DecodeLocales([]byte("storedmap-locales/9\nru")); err == nil {
		t.Errorf("expected an error for an unknown record version")
	}
}

func TestDefaultTags(t *testing.T) {
	if diff := cmp.Diff([]string{codec.NoTags}, codec.DefaultTags(nil)); diff != "" {
		t.Errorf("empty tag set should become the sentinel (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff([]string{"a", "b"}, codec.DefaultTags([]string{"a", "b"})); diff != "" {
		t.Errorf("non-empty tag set should pass through (-want +got):\n%s", diff)
	}
}

func TestLatin(t *testing.T) {
	testCases := map[string]struct {
		in   string
		want string
	}{
		"plain":    {in: "storedmap", want: "storedmap"},
		"mixed":    {in: "My App 2", want: "myapp2"},
		"cyrillic": {in: "приложение_app", want: "_app"},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			if got := codec.Latin(testCase.in); got != testCase.want {
				t.Errorf("Latin(%q) = %q, want %q", testCase.in, got, testCase.want)
			}
		})
	}
}

func TestPayloadCodecs(t *testing.T) {
	for _, name := range []string{"json", "go-json"} {
		t.Run(name, func(t *testing.T) {
			c, ok := codec.ByName(name)

			if !ok {
				t.Fatalf("codec %q should be registered", name)
			}

			encoded, err := c.Marshal(map[string]interface{}{"a": "b"})

			if err != nil {
				t.Fatalf("unexpected error: %s", err)
			}

			var decoded map[string]interface{}

			if err := c.Unmarshal(encoded, &decoded); err != nil {
				t.Fatalf("unexpected error: %s", err)
			}

			if decoded["a"] != "b" {
				t.Errorf("payload did not round trip: %v", decoded)
			}
		})
	}
}
