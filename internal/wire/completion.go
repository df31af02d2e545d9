package wire

import (
	"errors"
	"fmt"
	"sort"

	"github.com/target/fbdispatch/internal/domain/model"
	"google.golang.org/protobuf/encoding/protowire"
)

const (
	compRole     protowire.Number = 2
	compDocID    protowire.Number = 3
	compSubJobID protowire.Number = 4
	compSummary  protowire.Number = 5
	compFailure  protowire.Number = 6

	sumChecks   protowire.Number = 1
	sumResult   protowire.Number = 2
	sumArtifact protowire.Number = 3
	sumSubJobs  protowire.Number = 4
	countName   protowire.Number = 1
	countValue  protowire.Number = 2
	bundleFile  protowire.Number = 2
	blobName    protowire.Number = 1
	blobData    protowire.Number = 2
)

// MarshalCompletion encodes a completion message.
func MarshalCompletion(msg model.CompletionMessage) ([]byte, error) {
	if !msg.Role.Valid() {
		return nil, fmt.Errorf("marshal completion: invalid role %q", msg.Role)
	}
	if msg.DocID == "" {
		return nil, errors.New("marshal completion: doc_id is required")
	}
	b := appendVersion(nil)
	b = appendString(b, compRole, string(msg.Role))
	b = appendString(b, compDocID, msg.DocID)
	b = appendString(b, compSubJobID, msg.SubJobID)
	if msg.Summary != nil {
		b = appendMessage(b, compSummary, marshalSummary(*msg.Summary))
	}
	b = appendString(b, compFailure, msg.Failure)
	return b, nil
}

func marshalSummary(s model.RunSummary) []byte {
	var b []byte
	b = appendVarint(b, sumChecks, uint64(max(s.Checks, 0)))
	cats := make([]string, 0, len(s.Results))
	for c := range s.Results {
		cats = append(cats, string(c))
	}
	sort.Strings(cats)
	for _, c := range cats {
		var cb []byte
		cb = appendString(cb, countName, c)
		cb = appendVarint(cb, countValue, uint64(max(s.Results[model.CheckResultCategory(c)], 0)))
		b = appendMessage(b, sumResult, cb)
	}
	for _, a := range s.Artifacts {
		b = protowire.AppendTag(b, sumArtifact, protowire.BytesType)
		b = protowire.AppendString(b, a)
	}
	b = appendVarint(b, sumSubJobs, uint64(max(s.SubJobs, 0)))
	return b
}

// UnmarshalCompletion decodes a completion message.
func UnmarshalCompletion(data []byte) (model.CompletionMessage, error) {
	var (
		msg  model.CompletionMessage
		ver  versionCheck
		role string
	)
	err := walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, bool, error) {
		switch num {
		case fieldVersion:
			n, err := ver.consume(typ, b)
			return n, true, err
		case compRole:
			n, err := consumeString(typ, b, &role)
			return n, true, err
		case compDocID:
			n, err := consumeString(typ, b, &msg.DocID)
			return n, true, err
		case compSubJobID:
			n, err := consumeString(typ, b, &msg.SubJobID)
			return n, true, err
		case compSummary:
			raw, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, true, err
			}
			s, err := unmarshalSummary(raw)
			if err != nil {
				return 0, true, err
			}
			msg.Summary = &s
			return n, true, nil
		case compFailure:
			n, err := consumeString(typ, b, &msg.Failure)
			return n, true, err
		}
		return 0, false, nil
	})
	if err == nil {
		err = ver.err()
	}
	if err != nil {
		return model.CompletionMessage{}, fmt.Errorf("unmarshal completion: %w", err)
	}
	msg.Role = model.WorkerRole(role)
	if !msg.Role.Valid() || msg.DocID == "" {
		return model.CompletionMessage{}, fmt.Errorf("unmarshal completion: %w: role %q doc %q", ErrMalformed, role, msg.DocID)
	}
	return msg, nil
}

func unmarshalSummary(data []byte) (model.RunSummary, error) {
	s := model.RunSummary{Results: map[model.CheckResultCategory]int{}}
	err := walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, bool, error) {
		switch num {
		case sumChecks:
			v, n, err := consumeVarint(typ, b)
			s.Checks = int(v)
			return n, true, err
		case sumSubJobs:
			v, n, err := consumeVarint(typ, b)
			s.SubJobs = int(v)
			return n, true, err
		case sumArtifact:
			var a string
			n, err := consumeString(typ, b, &a)
			s.Artifacts = append(s.Artifacts, a)
			return n, true, err
		case sumResult:
			raw, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, true, err
			}
			name, count, err := unmarshalCount(raw)
			if err != nil {
				return 0, true, err
			}
			s.Results[model.CheckResultCategory(name)] = count
			return n, true, nil
		}
		return 0, false, nil
	})
	return s, err
}

func unmarshalCount(data []byte) (string, int, error) {
	var (
		name  string
		count int
	)
	err := walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, bool, error) {
		switch num {
		case countName:
			n, err := consumeString(typ, b, &name)
			return n, true, err
		case countValue:
			v, n, err := consumeVarint(typ, b)
			count = int(v)
			return n, true, err
		}
		return 0, false, nil
	})
	return name, count, err
}

// MarshalBundle encodes an ordered set of named blobs.
func MarshalBundle(bundle model.Bundle) []byte {
	b := appendVersion(nil)
	for _, f := range bundle {
		var fb []byte
		fb = appendString(fb, blobName, f.Name)
		fb = appendBytes(fb, blobData, f.Data)
		b = appendMessage(b, bundleFile, fb)
	}
	return b
}

// UnmarshalBundle decodes a bundle, preserving file order.
func UnmarshalBundle(data []byte) (model.Bundle, error) {
	var (
		bundle model.Bundle
		ver    versionCheck
	)
	err := walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, bool, error) {
		switch num {
		case fieldVersion:
			n, err := ver.consume(typ, b)
			return n, true, err
		case bundleFile:
			raw, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, true, err
			}
			f, err := unmarshalBlob(raw)
			if err != nil {
				return 0, true, err
			}
			bundle = append(bundle, f)
			return n, true, nil
		}
		return 0, false, nil
	})
	if err == nil {
		err = ver.err()
	}
	if err != nil {
		return nil, fmt.Errorf("unmarshal bundle: %w", err)
	}
	return bundle, nil
}

func unmarshalBlob(data []byte) (model.NamedBlob, error) {
	var f model.NamedBlob
	err := walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, bool, error) {
		switch num {
		case blobName:
			n, err := consumeString(typ, b, &f.Name)
			return n, true, err
		case blobData:
			raw, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, true, err
			}
			f.Data = append([]byte(nil), raw...)
			return n, true, nil
		}
		return 0, false, nil
	})
	return f, err
}
