package upstream

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/accountabilityatlas/warden/moderation"
	"github.com/accountabilityatlas/warden/pkg/robusthttp"

	"github.com/google/uuid"
)

type ContentClientConfig struct {
	BaseURL      string
	ServiceToken string
	UserAgent    string

	// defaults to robusthttp.NewClient()
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client for the internal API of the content (video) service, implementing
// moderation.ContentService.
type ContentClient struct {
	api    apiClient
	logger *slog.Logger
}

var _ moderation.ContentService = (*ContentClient)(nil)

func NewContentClient(config ContentClientConfig) *ContentClient {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("subsystem", "content-client")

	client := config.HTTPClient
	if client == nil {
		client = robusthttp.NewClient(robusthttp.WithLogger(logger))
	}
	return &ContentClient{
		api: apiClient{
			service:      "content-service",
			baseURL:      config.BaseURL,
			client:       client,
			serviceToken: config.ServiceToken,
			userAgent:    config.UserAgent,
		},
		logger: logger,
	}
}

func videoPath(contentID uuid.UUID) string {
	return "/internal/videos/" + contentID.String()
}

func (cc *ContentClient) UpdateStatus(ctx context.Context, contentID uuid.UUID, status string) error {
	body := map[string]string{"status": status}
	if _, err := cc.api.do(ctx, http.MethodPut, videoPath(contentID)+"/status", body, nil); err != nil {
		return err
	}
	cc.logger.Debug("pushed content status", "content", contentID, "status", status)
	return nil
}

func (cc *ContentClient) UpdateMetadata(ctx context.Context, contentID uuid.UUID, meta moderation.ContentMetadata) error {
	_, err := cc.api.do(ctx, http.MethodPut, videoPath(contentID), meta, nil)
	return err
}

type locationLink struct {
	LocationID uuid.UUID `json:"locationId"`
	IsPrimary  bool      `json:"isPrimary"`
}

func (cc *ContentClient) AddLocation(ctx context.Context, contentID, locationID uuid.UUID, isPrimary bool) error {
	body := locationLink{LocationID: locationID, IsPrimary: isPrimary}
	_, err := cc.api.do(ctx, http.MethodPost, videoPath(contentID)+"/locations", body, nil)
	return err
}

func (cc *ContentClient) RemoveLocation(ctx context.Context, contentID, locationID uuid.UUID) error {
	path := fmt.Sprintf("%s/locations/%s", videoPath(contentID), locationID)
	status, err := cc.api.do(ctx, http.MethodDelete, path, nil, nil)
	if status == http.StatusNotFound {
		return nil
	}
	return err
}
