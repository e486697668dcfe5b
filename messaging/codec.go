package messaging

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Codec encodes message bodies
type Codec interface {
	Name() string
	ContentType() string
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
}

// JSONCodec encodes bodies as JSON
type JSONCodec struct{}

func (JSONCodec) Name() string                    { return "json" }
func (JSONCodec) ContentType() string             { return "application/json" }
func (JSONCodec) Encode(v any) ([]byte, error)    { return json.Marshal(v) }
func (JSONCodec) Decode(data []byte, v any) error { return json.Unmarshal(data, v) }

// CBORCodec encodes bodies as CBOR
type CBORCodec struct{}

func (CBORCodec) Name() string                    { return "cbor" }
func (CBORCodec) ContentType() string             { return "application/cbor" }
func (CBORCodec) Encode(v any) ([]byte, error)    { return cbor.Marshal(v) }
func (CBORCodec) Decode(data []byte, v any) error { return cbor.Unmarshal(data, v) }

// CodecByName returns the codec registered under name
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSONCodec{}, nil
	case "cbor":
		return CBORCodec{}, nil
	}
	return nil, fmt.Errorf("unknown codec %q", name)
}
