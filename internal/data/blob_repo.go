package data

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/target/fbdispatch/internal/domain/model"
	apperrors "github.com/target/fbdispatch/internal/errors"
	"github.com/target/fbdispatch/internal/retry"
	"github.com/target/fbdispatch/internal/wire"
	"google.golang.org/grpc/codes"
)

const (
	defaultBlobPrefix = "fbdispatch:blob:"
	defaultBlobTTL    = 7 * 24 * time.Hour
	cacheKeyScheme    = "sha256:"
)

// BlobRepoConfig configures a BlobRepo.
type BlobRepoConfig struct {
	KeyPrefix string
	TTL       time.Duration
	Retry     retry.Policy
	Logger    *slog.Logger
}

// BlobRepo stores content-addressed file bundles in Redis.
type BlobRepo struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	policy retry.Policy
	logger *slog.Logger
}

// NewBlobRepo creates a new BlobRepo with the given Redis client.
func NewBlobRepo(client redis.UniversalClient, cfg BlobRepoConfig) *BlobRepo {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = defaultBlobPrefix
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultBlobTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	policy := cfg.Retry
	if policy.MaxTries == nil {
		policy = retry.DefaultPolicy()
	}
	policy.Logger = logger
	return &BlobRepo{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		policy: policy,
		logger: logger.With("component", "blob_repo"),
	}
}

// CacheKeyFor returns the content address of an encoded bundle.
func CacheKeyFor(encoded []byte) string {
	sum := sha256.Sum256(encoded)
	return cacheKeyScheme + hex.EncodeToString(sum[:])
}

// Put stores each bundle and returns their cache keys in the same order.
// Storing a bundle that already exists refreshes its TTL.
func (r *BlobRepo) Put(ctx context.Context, bundles []model.Bundle) ([]string, error) {
	keys := make([]string, len(bundles))
	encoded := make([][]byte, len(bundles))
	for i, b := range bundles {
		encoded[i] = wire.MarshalBundle(b)
		keys[i] = CacheKeyFor(encoded[i])
	}
	if len(bundles) == 0 {
		return keys, nil
	}

	err := retry.Do(ctx, r.policy, "blob.put", func(ctx context.Context) error {
		_, err := r.client.Pipelined(ctx, func(p redis.Pipeliner) error {
			for i := range encoded {
				p.Set(ctx, r.prefix+keys[i], encoded[i], r.ttl)
			}
			return nil
		})
		return toStatus(err)
	})
	if err != nil {
		return nil, fmt.Errorf("put bundles: %w", err)
	}
	return keys, nil
}

// Get returns the bundle stored under cacheKey with file order preserved.
func (r *BlobRepo) Get(ctx context.Context, cacheKey string) (model.Bundle, error) {
	if err := validateCacheKey(cacheKey); err != nil {
		return nil, err
	}

	var raw []byte
	err := retry.Do(ctx, r.policy, "blob.get", func(ctx context.Context) error {
		b, err := r.client.Get(ctx, r.prefix+cacheKey).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return toStatus(err)
		}
		raw = b
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get bundle %s: %w", cacheKey, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, cacheKey)
	}

	bundle, err := wire.UnmarshalBundle(raw)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ErrCodePreparation, "decode bundle %s", cacheKey)
	}
	return bundle, nil
}

// Purge deletes the bundle stored under cacheKey. It reports whether a bundle was removed.
func (r *BlobRepo) Purge(ctx context.Context, cacheKey string) (bool, error) {
	if err := validateCacheKey(cacheKey); err != nil {
		return false, err
	}
	var removed int64
	err := retry.Do(ctx, r.policy, "blob.purge", func(ctx context.Context) error {
		n, err := r.client.Del(ctx, r.prefix+cacheKey).Result()
		if err != nil {
			return toStatus(err)
		}
		removed = n
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("purge bundle %s: %w", cacheKey, err)
	}
	return removed > 0, nil
}

// Health checks the health of the Redis connection.
func (r *BlobRepo) Health(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func validateCacheKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return apperrors.Validationf("cache key cannot be empty")
	}
	return nil
}

// toStatus maps go-redis failures onto the status codes the retry policy understands.
func toStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.ErrClosed), errors.Is(err, redis.ErrPoolTimeout):
		return retry.Errorf(codes.Unavailable, "redis: %v", err)
	case strings.HasPrefix(err.Error(), "LOADING"), strings.HasPrefix(err.Error(), "TRYAGAIN"),
		strings.HasPrefix(err.Error(), "CLUSTERDOWN"):
		return retry.Errorf(codes.Unavailable, "redis: %v", err)
	case strings.HasPrefix(err.Error(), "OOM"):
		return retry.Errorf(codes.ResourceExhausted, "redis: %v", err)
	}
	return err
}
