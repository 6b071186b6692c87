package pagination

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"
)

// FormatVersion is written into every cursor. Decoding accepts any version
// satisfying cursorVersions.
const FormatVersion = "1.0.0"

var cursorVersions = mustConstraint("^1")

// ErrInvalidCursor is wrapped by every decode failure.
var ErrInvalidCursor = errors.New("invalid cursor")

// Direction is the paging direction relative to the presentation order.
type Direction string

const (
	Forward  Direction = "f"
	Backward Direction = "b"
)

// Cursor is a decoded resume position: the sort key of the boundary item.
type Cursor struct {
	Values    []any
	Direction Direction
	Signature string
}

type envelope struct {
	Version   string            `json:"v"`
	Signature string            `json:"sig"`
	Direction Direction         `json:"dir"`
	Keys      []json.RawMessage `json:"k"`
}

// Encode serializes the sort key values of the boundary item. The values
// must match order in number and kind.
func Encode(order Order, dir Direction, values []any) (string, error) {
	if len(values) != len(order) {
		return "", fmt.Errorf("cursor has %d values for %d sort fields", len(values), len(order))
	}
	env := envelope{
		Version:   FormatVersion,
		Signature: order.Signature(),
		Direction: dir,
		Keys:      make([]json.RawMessage, len(values)),
	}
	for i, v := range values {
		if t, ok := v.(time.Time); ok {
			v = t.UTC().Format(time.RFC3339Nano)
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("encode cursor value %s: %w", order[i].Name, err)
		}
		env.Keys[i] = raw
	}

	data, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("encode cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// Decode parses token and checks it against order. Every failure wraps
// ErrInvalidCursor.
func Decode(token string, order Order) (Cursor, error) {
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: not base64url: %v", ErrInvalidCursor, err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Cursor{}, fmt.Errorf("%w: malformed payload: %v", ErrInvalidCursor, err)
	}

	version, err := semver.NewVersion(env.Version)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: bad format version %q", ErrInvalidCursor, env.Version)
	}
	if !cursorVersions.Check(version) {
		return Cursor{}, fmt.Errorf("%w: unsupported format version %s", ErrInvalidCursor, version)
	}

	if env.Signature != order.Signature() {
		return Cursor{}, fmt.Errorf("%w: issued for sort %q", ErrInvalidCursor, env.Signature)
	}
	if env.Direction != Forward && env.Direction != Backward {
		return Cursor{}, fmt.Errorf("%w: unknown direction %q", ErrInvalidCursor, env.Direction)
	}
	if len(env.Keys) != len(order) {
		return Cursor{}, fmt.Errorf("%w: %d values for %d sort fields", ErrInvalidCursor, len(env.Keys), len(order))
	}

	values := make([]any, len(order))
	for i, f := range order {
		v, err := coerce(env.Keys[i], f.Kind)
		if err != nil {
			return Cursor{}, fmt.Errorf("%w: field %s: %v", ErrInvalidCursor, f.Name, err)
		}
		values[i] = v
	}

	return Cursor{Values: values, Direction: env.Direction, Signature: env.Signature}, nil
}

// coerce converts a raw JSON value to the Go type used for kind: string,
// int64, float64 or time.Time.
func coerce(raw json.RawMessage, kind Kind) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}

	switch kind {
	case KindString:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", v)
		}
		return s, nil
	case KindInt:
		n, ok := v.(json.Number)
		if !ok {
			return nil, fmt.Errorf("expected integer, got %T", v)
		}
		return n.Int64()
	case KindFloat:
		n, ok := v.(json.Number)
		if !ok {
			return nil, fmt.Errorf("expected number, got %T", v)
		}
		return n.Float64()
	case KindTime:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected timestamp, got %T", v)
		}
		return time.Parse(time.RFC3339Nano, s)
	default:
		return nil, fmt.Errorf("unsupported kind %q", kind)
	}
}

func mustConstraint(c string) *semver.Constraints {
	constraint, err := semver.NewConstraint(c)
	if err != nil {
		panic(err)
	}
	return constraint
}
