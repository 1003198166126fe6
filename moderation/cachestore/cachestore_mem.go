package cachestore

import (
	"context"
	"time"

	"github.com/accountabilityatlas/warden/models"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

type MemCacheStore struct {
	Data *expirable.LRU[uuid.UUID, models.TrustTierSnapshot]
}

var _ SnapshotCache = (*MemCacheStore)(nil)

func NewMemCacheStore(capacity int, ttl time.Duration) *MemCacheStore {
	return &MemCacheStore{
		Data: expirable.NewLRU[uuid.UUID, models.TrustTierSnapshot](capacity, nil, ttl),
	}
}

func (s *MemCacheStore) Get(ctx context.Context, userID uuid.UUID) (*models.TrustTierSnapshot, error) {
	snap, ok := s.Data.Get(userID)
	if !ok {
		return nil, nil
	}
	return &snap, nil
}

// Stores a copy, so later changes to snap are not visible to readers.
func (s *MemCacheStore) Set(ctx context.Context, snap *models.TrustTierSnapshot) error {
	cp := *snap
	if snap.Stats != nil {
		stats := *snap.Stats
		cp.Stats = &stats
	}
	s.Data.Add(snap.UserID, cp)
	return nil
}

func (s *MemCacheStore) Purge(ctx context.Context, userID uuid.UUID) error {
	s.Data.Remove(userID)
	return nil
}
