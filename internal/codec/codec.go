// Package codec picks an encoding for a trust-store file by its extension.
package codec

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type Decoder interface {
	Decode(data []byte, v any) error
}

type Encoder interface {
	Encode(v any) ([]byte, error)
}

type Codec interface {
	Decoder
	Encoder
}

type jsonCodec struct{}

func (jsonCodec) Decode(data []byte, v any) error { return json.Unmarshal(data, v) }

func (jsonCodec) Encode(v any) ([]byte, error) { return json.MarshalIndent(v, "", "  ") }

type yamlCodec struct{}

func (yamlCodec) Decode(data []byte, v any) error { return yaml.Unmarshal(data, v) }

func (yamlCodec) Encode(v any) ([]byte, error) { return yaml.Marshal(v) }

// Infer picks a Codec by the file extension of path: ".json" selects JSON,
// ".yaml"/".yml" selects YAML. Any other extension is an error, unlike
// implementations that silently fall back to JSON on an unrecognized
// extension; a trust store saved with the wrong extension should fail
// loudly rather than be misread.
func Infer(path string) (Codec, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return jsonCodec{}, nil
	case ".yaml", ".yml":
		return yamlCodec{}, nil
	default:
		return nil, fmt.Errorf("codec: unrecognized extension %q for %q", filepath.Ext(path), path)
	}
}
