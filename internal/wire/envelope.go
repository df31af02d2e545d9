package wire

import (
	"fmt"
	"math"

	"github.com/target/fbdispatch/internal/domain/model"
	"google.golang.org/protobuf/encoding/protowire"
)

// Envelope field numbers. Never renumber; add new fields with new numbers.
const (
	envKind     protowire.Number = 2
	envDocID    protowire.Number = 3
	envSubJobID protowire.Number = 4
	envCacheKey protowire.Number = 5
	envOrder    protowire.Number = 6
	envAttempt  protowire.Number = 7

	checkSection protowire.Number = 1
	checkID      protowire.Number = 2
	checkIterArg protowire.Number = 3

	iterArgName  protowire.Number = 1
	iterArgIndex protowire.Number = 2
)

// MarshalEnvelope encodes a job envelope.
func MarshalEnvelope(env model.JobEnvelope) ([]byte, error) {
	if !env.Kind.Valid() {
		return nil, fmt.Errorf("marshal envelope: invalid kind %s", env.Kind)
	}
	if env.Attempt < 0 {
		return nil, fmt.Errorf("marshal envelope: negative attempt %d", env.Attempt)
	}

	b := appendVersion(nil)
	b = appendVarint(b, envKind, uint64(env.Kind))
	b = appendString(b, envDocID, env.DocID)
	b = appendString(b, envSubJobID, env.SubJobID)
	b = appendString(b, envCacheKey, env.CacheKey)
	for _, c := range env.Order {
		b = appendMessage(b, envOrder, marshalCheckIdentity(c))
	}
	b = appendVarint(b, envAttempt, uint64(env.Attempt))
	return b, nil
}

func marshalCheckIdentity(c model.CheckIdentity) []byte {
	var b []byte
	b = appendString(b, checkSection, c.Section)
	b = appendString(b, checkID, c.CheckID)
	for _, a := range c.IterArgs {
		var ab []byte
		ab = appendString(ab, iterArgName, a.Name)
		// Index 0 is meaningful, so it is always written.
		ab = protowire.AppendTag(ab, iterArgIndex, protowire.VarintType)
		ab = protowire.AppendVarint(ab, protowire.EncodeZigZag(int64(a.Index)))
		b = appendMessage(b, checkIterArg, ab)
	}
	return b
}

// UnmarshalEnvelope decodes a job envelope and validates it.
func UnmarshalEnvelope(data []byte) (model.JobEnvelope, error) {
	var (
		env model.JobEnvelope
		ver versionCheck
	)
	err := walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, bool, error) {
		switch num {
		case fieldVersion:
			n, err := ver.consume(typ, b)
			return n, true, err
		case envKind:
			v, n, err := consumeVarint(typ, b)
			if err != nil {
				return 0, true, err
			}
			if v > math.MaxInt32 {
				return 0, true, fmt.Errorf("%w: kind %d out of range", ErrMalformed, v)
			}
			env.Kind = model.JobKind(v)
			return n, true, nil
		case envDocID:
			n, err := consumeString(typ, b, &env.DocID)
			return n, true, err
		case envSubJobID:
			n, err := consumeString(typ, b, &env.SubJobID)
			return n, true, err
		case envCacheKey:
			n, err := consumeString(typ, b, &env.CacheKey)
			return n, true, err
		case envOrder:
			raw, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, true, err
			}
			c, err := unmarshalCheckIdentity(raw)
			if err != nil {
				return 0, true, err
			}
			env.Order = append(env.Order, c)
			return n, true, nil
		case envAttempt:
			v, n, err := consumeVarint(typ, b)
			if err != nil {
				return 0, true, err
			}
			if v > math.MaxInt32 {
				return 0, true, fmt.Errorf("%w: attempt %d out of range", ErrMalformed, v)
			}
			env.Attempt = int(v)
			return n, true, nil
		}
		return 0, false, nil
	})
	if err != nil {
		return model.JobEnvelope{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if err := ver.err(); err != nil {
		return model.JobEnvelope{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if err := env.Validate(); err != nil {
		return model.JobEnvelope{}, fmt.Errorf("unmarshal envelope: %w: %w", ErrMalformed, err)
	}
	return env, nil
}

func unmarshalCheckIdentity(data []byte) (model.CheckIdentity, error) {
	var c model.CheckIdentity
	err := walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, bool, error) {
		switch num {
		case checkSection:
			n, err := consumeString(typ, b, &c.Section)
			return n, true, err
		case checkID:
			n, err := consumeString(typ, b, &c.CheckID)
			return n, true, err
		case checkIterArg:
			raw, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, true, err
			}
			a, err := unmarshalIterArg(raw)
			if err != nil {
				return 0, true, err
			}
			c.IterArgs = append(c.IterArgs, a)
			return n, true, nil
		}
		return 0, false, nil
	})
	return c, err
}

func unmarshalIterArg(data []byte) (model.IterArg, error) {
	var a model.IterArg
	err := walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, bool, error) {
		switch num {
		case iterArgName:
			n, err := consumeString(typ, b, &a.Name)
			return n, true, err
		case iterArgIndex:
			v, n, err := consumeVarint(typ, b)
			if err != nil {
				return 0, true, err
			}
			a.Index = int(protowire.DecodeZigZag(v))
			return n, true, nil
		}
		return 0, false, nil
	})
	return a, err
}
