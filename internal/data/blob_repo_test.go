package data

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/fbdispatch/internal/domain/model"
	apperrors "github.com/target/fbdispatch/internal/errors"
	"github.com/target/fbdispatch/internal/testutil"
	"github.com/target/fbdispatch/internal/wire"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestBlobRepo_PutGetPurge(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	client := testutil.SetupTestRedis(t)

	repo := NewBlobRepo(client, BlobRepoConfig{TTL: 5 * time.Minute})
	ctx := context.Background()

	t.Run("round trip preserves file order", func(t *testing.T) {
		bundle := testutil.FontBundle("B-Regular.ttf", "A-Regular.ttf")
		keys, err := repo.Put(ctx, []model.Bundle{bundle})
		require.NoError(t, err)
		require.Len(t, keys, 1)
		assert.Equal(t, CacheKeyFor(wire.MarshalBundle(bundle)), keys[0])

		got, err := repo.Get(ctx, keys[0])
		require.NoError(t, err)
		assert.Equal(t, bundle, got)

		ttl := client.TTL(ctx, defaultBlobPrefix+keys[0]).Val()
		assert.True(t, ttl > 0 && ttl <= 5*time.Minute)
	})

	t.Run("identical bundles share a key", func(t *testing.T) {
		keys, err := repo.Put(ctx, []model.Bundle{testutil.FontBundle("x.ttf"), testutil.FontBundle("x.ttf")})
		require.NoError(t, err)
		assert.Equal(t, keys[0], keys[1])
	})

	t.Run("missing key", func(t *testing.T) {
		_, err := repo.Get(ctx, "sha256:missing")
		assert.ErrorIs(t, err, ErrBlobNotFound)
	})

	t.Run("corrupt payload is a preparation error", func(t *testing.T) {
		require.NoError(t, client.Set(ctx, defaultBlobPrefix+"sha256:corrupt", []byte{0xff, 0xff}, time.Minute).Err())
		_, err := repo.Get(ctx, "sha256:corrupt")
		require.Error(t, err)
		assert.True(t, apperrors.IsPreparation(err))
	})

	t.Run("purge", func(t *testing.T) {
		keys, err := repo.Put(ctx, []model.Bundle{testutil.FontBundle("purge.ttf")})
		require.NoError(t, err)

		removed, err := repo.Purge(ctx, keys[0])
		require.NoError(t, err)
		assert.True(t, removed)

		removed, err = repo.Purge(ctx, keys[0])
		require.NoError(t, err)
		assert.False(t, removed)
	})

	t.Run("health", func(t *testing.T) {
		assert.NoError(t, repo.Health(ctx))
	})
}

func TestBlobRepo_EmptyKeyRejected(t *testing.T) {
	repo := NewBlobRepo(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), BlobRepoConfig{})

	_, err := repo.Get(context.Background(), " ")
	assert.True(t, apperrors.IsValidation(err))
	_, err = repo.Purge(context.Background(), "")
	assert.True(t, apperrors.IsValidation(err))
}

func TestToStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want codes.Code
	}{
		{"closed", redis.ErrClosed, codes.Unavailable},
		{"pool timeout", redis.ErrPoolTimeout, codes.Unavailable},
		{"loading", errors.New("LOADING Redis is loading the dataset in memory"), codes.Unavailable},
		{"oom", errors.New("OOM command not allowed"), codes.ResourceExhausted},
		{"other", errors.New("WRONGTYPE"), codes.Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, status.Code(toStatus(tt.err)))
		})
	}
	assert.NoError(t, toStatus(nil))
}
