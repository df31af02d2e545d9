package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/fbdispatch/internal/domain/model"
	"google.golang.org/protobuf/encoding/protowire"
)

func sampleEnvelope() model.JobEnvelope {
	return model.JobEnvelope{
		Kind:     model.JobKindDistributed,
		DocID:    "doc-1",
		SubJobID: "2",
		CacheKey: "sha256:abc",
		Order: []model.CheckIdentity{
			{Section: "Universal", CheckID: "com.google.fonts/check/name", IterArgs: []model.IterArg{{Name: "font", Index: 0}}},
			{Section: "Family", CheckID: "com.google.fonts/check/family/vertical_metrics"},
		},
		Attempt: 3,
	}
}

func TestEnvelope_EncodeDecode(t *testing.T) {
	env := sampleEnvelope()

	data, err := MarshalEnvelope(env)
	require.NoError(t, err)

	got, err := UnmarshalEnvelope(data)
	require.NoError(t, err)
	assert.Equal(t, env, got)
}

func TestUnmarshalEnvelope_Rejects(t *testing.T) {
	valid, err := MarshalEnvelope(sampleEnvelope())
	require.NoError(t, err)

	t.Run("truncated", func(t *testing.T) {
		_, err := UnmarshalEnvelope(valid[:len(valid)-3])
		require.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("missing version", func(t *testing.T) {
		_, err := UnmarshalEnvelope(valid[2:])
		require.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("future version", func(t *testing.T) {
		b := protowire.AppendTag(nil, fieldVersion, protowire.VarintType)
		b = protowire.AppendVarint(b, SchemaVersion+1)
		b = append(b, valid[2:]...)
		_, err := UnmarshalEnvelope(b)
		require.ErrorIs(t, err, ErrUnsupportedVersion)
	})

	t.Run("missing doc id", func(t *testing.T) {
		env := sampleEnvelope()
		env.DocID = ""
		data, err := MarshalEnvelope(env)
		require.NoError(t, err)
		_, err = UnmarshalEnvelope(data)
		require.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := UnmarshalEnvelope([]byte("not an envelope"))
		require.Error(t, err)
	})
}

func TestUnmarshalEnvelope_SkipsUnknownFields(t *testing.T) {
	data, err := MarshalEnvelope(sampleEnvelope())
	require.NoError(t, err)

	data = protowire.AppendTag(data, 99, protowire.BytesType)
	data = protowire.AppendString(data, "from a newer writer")

	got, err := UnmarshalEnvelope(data)
	require.NoError(t, err)
	assert.Equal(t, "doc-1", got.DocID)
}

func TestMarshalEnvelope_InvalidKind(t *testing.T) {
	env := sampleEnvelope()
	env.Kind = 0
	_, err := MarshalEnvelope(env)
	require.Error(t, err)
}

func TestCompletion_EncodeDecode(t *testing.T) {
	t.Run("summary", func(t *testing.T) {
		msg := model.CompletionMessage{
			Role:     model.RoleChecker,
			DocID:    "doc-1",
			SubJobID: "0",
			Summary: &model.RunSummary{
				Checks:  4,
				Results: map[model.CheckResultCategory]int{model.ResultPass: 3, model.ResultFail: 1},
			},
		}
		data, err := MarshalCompletion(msg)
		require.NoError(t, err)

		got, err := UnmarshalCompletion(data)
		require.NoError(t, err)
		assert.Equal(t, msg, got)
		assert.False(t, got.Failed())
	})

	t.Run("failure", func(t *testing.T) {
		msg := model.CompletionMessage{
			Role:    model.RoleDistributor,
			DocID:   "doc-1",
			Failure: "no font files",
		}
		data, err := MarshalCompletion(msg)
		require.NoError(t, err)

		got, err := UnmarshalCompletion(data)
		require.NoError(t, err)
		assert.Equal(t, msg, got)
		assert.True(t, got.Failed())
	})

	t.Run("unknown role", func(t *testing.T) {
		_, err := MarshalCompletion(model.CompletionMessage{Role: "janitor", DocID: "d"})
		require.Error(t, err)
	})
}

func TestBundle_PreservesOrder(t *testing.T) {
	bundle := model.Bundle{
		{Name: "B-Regular.ttf", Data: []byte{1, 2, 3}},
		{Name: "A-Regular.ttf", Data: []byte{}},
		{Name: "A-Regular.ttf", Data: []byte{9}},
	}

	got, err := UnmarshalBundle(MarshalBundle(bundle))
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i := range bundle {
		assert.Equal(t, bundle[i].Name, got[i].Name)
		assert.Equal(t, len(bundle[i].Data), len(got[i].Data))
	}
}
