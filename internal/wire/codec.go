// Package wire implements the versioned binary encoding used for every queue message and blob
// bundle. Messages use the protobuf wire format with fixed field numbers; field 1 always
// carries the schema version so readers can reject payloads they do not understand.
package wire

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// SchemaVersion is the only schema version this package writes and accepts.
const SchemaVersion = 1

const fieldVersion protowire.Number = 1

var (
	// ErrMalformed is returned for truncated or structurally invalid payloads.
	ErrMalformed = errors.New("malformed payload")
	// ErrUnsupportedVersion is returned when the payload declares an unknown schema version.
	ErrUnsupportedVersion = errors.New("unsupported schema version")
)

// fieldFunc handles one decoded field. Unknown fields return handled=false and are skipped.
type fieldFunc func(num protowire.Number, typ protowire.Type, b []byte) (n int, handled bool, err error)

// walk iterates over the fields in b, dispatching each to fn.
func walk(b []byte, fn fieldFunc) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %w", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		used, handled, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if !handled {
			used = protowire.ConsumeFieldValue(num, typ, b)
		}
		if used < 0 {
			return fmt.Errorf("%w: field %d: %w", ErrMalformed, num, protowire.ParseError(used))
		}
		b = b[used:]
	}
	return nil
}

func appendVersion(b []byte) []byte {
	b = protowire.AppendTag(b, fieldVersion, protowire.VarintType)
	return protowire.AppendVarint(b, SchemaVersion)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func consumeString(typ protowire.Type, b []byte, dst *string) (int, error) {
	if typ != protowire.BytesType {
		return 0, fmt.Errorf("%w: want bytes, got wire type %d", ErrMalformed, typ)
	}
	v, n := protowire.ConsumeString(b)
	if n < 0 {
		return 0, fmt.Errorf("%w: %w", ErrMalformed, protowire.ParseError(n))
	}
	*dst = v
	return n, nil
}

func consumeBytes(typ protowire.Type, b []byte) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, fmt.Errorf("%w: want bytes, got wire type %d", ErrMalformed, typ)
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, fmt.Errorf("%w: %w", ErrMalformed, protowire.ParseError(n))
	}
	return v, n, nil
}

func consumeVarint(typ protowire.Type, b []byte) (uint64, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, fmt.Errorf("%w: want varint, got wire type %d", ErrMalformed, typ)
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, fmt.Errorf("%w: %w", ErrMalformed, protowire.ParseError(n))
	}
	return v, n, nil
}

// versionCheck tracks whether a top-level message declared the supported version.
type versionCheck struct {
	seen bool
}

func (v *versionCheck) consume(typ protowire.Type, b []byte) (int, error) {
	ver, n, err := consumeVarint(typ, b)
	if err != nil {
		return 0, err
	}
	if ver != SchemaVersion {
		return 0, fmt.Errorf("%w: %d", ErrUnsupportedVersion, ver)
	}
	v.seen = true
	return n, nil
}

func (v *versionCheck) err() error {
	if !v.seen {
		return fmt.Errorf("%w: missing schema version", ErrMalformed)
	}
	return nil
}
