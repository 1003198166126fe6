package cachestore

import (
	"context"

	"github.com/accountabilityatlas/warden/models"

	"github.com/google/uuid"
)

type SnapshotCache interface {
	// returns nil (and no error) on a cache miss
	Get(ctx context.Context, userID uuid.UUID) (*models.TrustTierSnapshot, error)
	Set(ctx context.Context, snap *models.TrustTierSnapshot) error
	Purge(ctx context.Context, userID uuid.UUID) error
}
