package cachestore

import (
	"context"
	"errors"
	"time"

	"github.com/accountabilityatlas/warden/models"

	"github.com/go-redis/cache/v9"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Snapshot cache shared by all replicas, with a small in-process TinyLFU in front.
type RedisCacheStore struct {
	Data *cache.Cache
	TTL  time.Duration
}

var _ SnapshotCache = (*RedisCacheStore)(nil)

func NewRedisCacheStore(rdb *redis.Client, ttl time.Duration) *RedisCacheStore {
	data := cache.New(&cache.Options{
		Redis:      rdb,
		LocalCache: cache.NewTinyLFU(10_000, ttl),
	})
	return &RedisCacheStore{
		Data: data,
		TTL:  ttl,
	}
}

func redisCacheKey(userID uuid.UUID) string {
	return "warden/user/" + userID.String()
}

func (s *RedisCacheStore) Get(ctx context.Context, userID uuid.UUID) (*models.TrustTierSnapshot, error) {
	var snap models.TrustTierSnapshot
	err := s.Data.Get(ctx, redisCacheKey(userID), &snap)
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *RedisCacheStore) Set(ctx context.Context, snap *models.TrustTierSnapshot) error {
	return s.Data.Set(&cache.Item{
		Ctx:   ctx,
		Key:   redisCacheKey(snap.UserID),
		Value: snap,
		TTL:   s.TTL,
	})
}

func (s *RedisCacheStore) Purge(ctx context.Context, userID uuid.UUID) error {
	err := s.Data.Delete(ctx, redisCacheKey(userID))
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil
	}
	return err
}
