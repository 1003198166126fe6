package upstream

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/accountabilityatlas/warden/models"
	"github.com/accountabilityatlas/warden/moderation"
	"github.com/accountabilityatlas/warden/moderation/cachestore"
	"github.com/accountabilityatlas/warden/pkg/robusthttp"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

type UserClientConfig struct {
	BaseURL      string
	ServiceToken string
	UserAgent    string

	// requests per second to the user service; unlimited if zero
	RateLimit float64

	// optional; GetUser is served from it. Snapshots are purged whenever a tier
	// is changed through this client or InvalidateUser is called.
	Cache cachestore.SnapshotCache

	// defaults to robusthttp.NewClient()
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client for the user service, implementing moderation.UserDirectory.
type UserClient struct {
	api    apiClient
	cache  cachestore.SnapshotCache
	logger *slog.Logger
}

var _ moderation.CachedUserDirectory = (*UserClient)(nil)

func NewUserClient(config UserClientConfig) *UserClient {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("subsystem", "user-client")

	client := config.HTTPClient
	if client == nil {
		opts := []robusthttp.Option{robusthttp.WithLogger(logger)}
		if config.RateLimit > 0 {
			opts = append(opts, robusthttp.WithRateLimiter(rate.NewLimiter(rate.Limit(config.RateLimit), 1)))
		}
		client = robusthttp.NewClient(opts...)
	}

	return &UserClient{
		api: apiClient{
			service:      "user-service",
			baseURL:      config.BaseURL,
			client:       client,
			serviceToken: config.ServiceToken,
			userAgent:    config.UserAgent,
		},
		cache:  config.Cache,
		logger: logger,
	}
}

// Serves from the snapshot cache when one is configured.
func (uc *UserClient) GetUser(ctx context.Context, userID uuid.UUID) (*models.TrustTierSnapshot, error) {
	if uc.cache != nil {
		snap, err := uc.cache.Get(ctx, userID)
		if err != nil {
			uc.logger.Warn("user snapshot cache read failed", "user", userID, "err", err)
		} else if snap != nil {
			return snap, nil
		}
	}
	return uc.RefreshUser(ctx, userID)
}

func (uc *UserClient) RefreshUser(ctx context.Context, userID uuid.UUID) (*models.TrustTierSnapshot, error) {
	var snap models.TrustTierSnapshot
	status, err := uc.api.do(ctx, http.MethodGet, "/users/"+userID.String(), nil, &snap)
	if status == http.StatusNotFound {
		if err := uc.InvalidateUser(ctx, userID); err != nil {
			uc.logger.Warn("user snapshot cache purge failed", "user", userID, "err", err)
		}
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if snap.UserID == uuid.Nil {
		snap.UserID = userID
	}

	if uc.cache != nil {
		if err := uc.cache.Set(ctx, &snap); err != nil {
			uc.logger.Warn("user snapshot cache write failed", "user", userID, "err", err)
		}
	}
	return &snap, nil
}

func (uc *UserClient) InvalidateUser(ctx context.Context, userID uuid.UUID) error {
	if uc.cache == nil {
		return nil
	}
	return uc.cache.Purge(ctx, userID)
}

type trustTierUpdate struct {
	TrustTier models.TrustTier `json:"trustTier"`
	Reason    string           `json:"reason"`
}

func (uc *UserClient) UpdateTrustTier(ctx context.Context, userID uuid.UUID, tier models.TrustTier, reason string) error {
	path := fmt.Sprintf("/users/%s/trust-tier", userID)
	if _, err := uc.api.do(ctx, http.MethodPut, path, trustTierUpdate{TrustTier: tier, Reason: reason}, nil); err != nil {
		return err
	}
	if err := uc.InvalidateUser(ctx, userID); err != nil {
		uc.logger.Warn("user snapshot cache purge failed", "user", userID, "err", err)
	}
	uc.logger.Info("updated trust tier", "user", userID, "tier", tier, "reason", reason)
	return nil
}
