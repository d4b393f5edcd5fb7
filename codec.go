package sourcez

import (
	"context"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Codec defines the serialization contract used by Transcode.
// Implement this interface to use alternative formats like TOML, HCL, or custom binary formats.
type Codec interface {
	// Marshal serializes a value into bytes.
	Marshal(v any) ([]byte, error)

	// Unmarshal deserializes bytes into a value.
	Unmarshal(data []byte, v any) error

	// ContentType returns the MIME type for observability and debugging.
	ContentType() string
}

// JSONCodec implements Codec using encoding/json.
type JSONCodec struct{}

// Marshal serializes v as JSON indented by two spaces.
func (JSONCodec) Marshal(v any) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

// Unmarshal deserializes JSON bytes into v.
func (JSONCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// ContentType returns the JSON MIME type.
func (JSONCodec) ContentType() string {
	return "application/json"
}

// Ensure JSONCodec implements Codec.
var _ Codec = JSONCodec{}

// YAMLCodec implements Codec using gopkg.in/yaml.v3.
type YAMLCodec struct{}

// Marshal serializes v as YAML.
func (YAMLCodec) Marshal(v any) ([]byte, error) {
	return yaml.Marshal(v)
}

// Unmarshal deserializes YAML bytes into v.
func (YAMLCodec) Unmarshal(data []byte, v any) error {
	return yaml.Unmarshal(data, v)
}

// ContentType returns the YAML MIME type.
func (YAMLCodec) ContentType() string {
	return "application/x-yaml"
}

// Ensure YAMLCodec implements Codec.
var _ Codec = YAMLCodec{}

// Transcode returns a Handler that serializes written values with codec,
// re-enters the pipeline with the same address, and deserializes what comes
// back: every OBSERVE value and the GET result. Other results pass through.
// Mount it under a route so the remaining address reaches a byte store.
func Transcode(codec Codec) Handler {
	decode := func(v any) (any, error) {
		var raw []byte
		switch b := v.(type) {
		case nil:
			return nil, nil
		case []byte:
			raw = b
		case string:
			raw = []byte(b)
		default:
			return nil, fmt.Errorf("%s: cannot decode %T", codec.ContentType(), v)
		}
		var out any
		if err := codec.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("%s: %w", codec.ContentType(), err)
		}
		return out, nil
	}

	return func(ctx context.Context, req Request) (any, error) {
		next := req.WithAddress(req.Address)
		if req.HasValue {
			data, err := codec.Marshal(req.Value)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", codec.ContentType(), err)
			}
			next = next.WithValue(data)
		}

		result, err := req.Recurse(ctx, next)
		if err != nil {
			return nil, err
		}

		switch req.Method {
		case Observe:
			if s, ok := result.(Subscribable); ok {
				return Map(s, decode), nil
			}
		case Get:
			if a, ok := result.(Awaitable); ok {
				return AsFuture(a).Then(decode), nil
			}
		}
		return result, nil
	}
}

// ValueBytes returns the write payload of req as raw bytes. Byte-oriented
// backends accept []byte and string values; anything else is malformed and
// should be encoded first, for example with Transcode.
func ValueBytes(req Request) ([]byte, error) {
	switch v := req.Value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	case nil:
		return nil, nil
	default:
		return nil, &RequestError{
			Kind:    ErrMalformedRequest,
			Method:  req.Method,
			Address: req.Address,
			Field:   "value",
			Detail:  fmt.Sprintf("expected []byte or string, got %T", req.Value),
		}
	}
}
