// Package codec centralizes the encodings the core relies on: the
// document payload codec, the order-preserving sorter byte
// encoding, tag defaulting, identifier sanitization and the
// persisted locale-list format.
package codec

import (
	"encoding/json"

	gojson "github.com/goccy/go-json"
)

// Codec encodes and decodes document payloads. Implementations
// must be safe for concurrent use.
type Codec interface {
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
	Name() string
}

// Default is the codec used when the configuration names none
var Default Codec = GoJSON{}

// ByName returns a built-in codec by its stable name
func ByName(name string) (Codec, bool) {
	switch name {
	case "json":
		return JSON{}, true
	case "go-json":
		return GoJSON{}, true
	}

	return nil, false
}

// JSON is a payload codec backed by encoding/json
type JSON struct{}

func (JSON) Marshal(v interface{}) ([]byte, error) { return json.Marshal(v) }

func (JSON) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }

func (JSON) Name() string { return "json" }

// GoJSON is a payload codec backed by github.com/goccy/go-json
type GoJSON struct{}

func (GoJSON) Marshal(v interface{}) ([]byte, error) { return gojson.Marshal(v) }

func (GoJSON) Unmarshal(data []byte, v interface{}) error { return gojson.Unmarshal(data, v) }

func (GoJSON) Name() string { return "go-json" }
