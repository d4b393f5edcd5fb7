package sourcez

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/zoobzio/capitan"
)

// validate is the shared validator instance.
var validate = validator.New()

// Decode converts v into T and validates the result using
// go-playground/validator struct tags.
//
// A v that already is a T is only validated. Bytes and strings are
// unmarshaled with codec; any other value (typically the map delivered by
// Transcode or Memory) is marshaled with codec first. Types other than
// structs are not validated.
//
//	type Config struct {
//	    Port int    `yaml:"port" validate:"min=1,max=65535"`
//	    Host string `yaml:"host" validate:"required"`
//	}
//
//	cfg, err := sourcez.Decode[Config](sourcez.YAMLCodec{}, v)
func Decode[T any](codec Codec, v any) (T, error) {
	var result T
	switch x := v.(type) {
	case T:
		result = x
	case []byte:
		if err := codec.Unmarshal(x, &result); err != nil {
			return result, fmt.Errorf("unmarshal failed: %w", err)
		}
	case string:
		if err := codec.Unmarshal([]byte(x), &result); err != nil {
			return result, fmt.Errorf("unmarshal failed: %w", err)
		}
	default:
		data, err := codec.Marshal(v)
		if err != nil {
			return result, fmt.Errorf("marshal failed: %w", err)
		}
		if err := codec.Unmarshal(data, &result); err != nil {
			return result, fmt.Errorf("unmarshal failed: %w", err)
		}
	}

	if err := validate.Struct(result); err != nil {
		var invalid *validator.InvalidValidationError
		if errors.As(err, &invalid) {
			return result, nil
		}
		return result, fmt.Errorf("validation failed: %w", err)
	}
	return result, nil
}

// Validated adapts a typed callback for Bind. Every delivered value goes
// through Decode before fn sees it, so a value that fails to decode or
// validate is rejected like a failing callback and the previous value stays
// current. prev is the zero T until a value has been applied.
func Validated[T any](codec Codec, fn func(ctx context.Context, prev, curr T) error) func(context.Context, any, any) error {
	return func(ctx context.Context, prev, curr any) error {
		next, err := Decode[T](codec, curr)
		if err != nil {
			capitan.Emit(ctx, ValueRejected, KeyError.Field(err.Error()))
			return err
		}
		var old T
		if prev != nil {
			// prev passed this same decode when it was applied.
			old, _ = Decode[T](codec, prev)
		}
		if fn == nil {
			return nil
		}
		return fn(ctx, old, next)
	}
}
