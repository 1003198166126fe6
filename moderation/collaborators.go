package moderation

import (
	"context"
	"fmt"
	"time"

	"github.com/accountabilityatlas/warden/models"

	"github.com/google/uuid"
)

// Status change applied to a PENDING item. Implementations must apply it
// conditionally on the item still being PENDING, in a single transaction.
type Transition struct {
	To              models.ModerationStatus
	ReviewerID      uuid.UUID
	ReviewedAt      time.Time
	RejectionReason *string
}

type PageRequest struct {
	Page int
	Size int
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

func (p PageRequest) Offset() int {
	return p.Page * p.Size
}

// Fills in the default size and clamps to MaxPageSize. Negative page numbers are rejected.
func (p PageRequest) normalize() (PageRequest, error) {
	if p.Page < 0 {
		return p, fmt.Errorf("%w: page must not be negative", ErrValidation)
	}
	if p.Size <= 0 {
		p.Size = DefaultPageSize
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	return p, nil
}

type Page[T any] struct {
	Items         []T   `json:"content"`
	Page          int   `json:"page"`
	Size          int   `json:"size"`
	TotalElements int64 `json:"totalElements"`
}

func (p *Page[T]) TotalPages() int {
	if p.Size <= 0 {
		return 0
	}
	return int((p.TotalElements + int64(p.Size) - 1) / int64(p.Size))
}

// Counters consulted by the trust engines.
type TrustSignals interface {
	// number of items submitted by the user which were REJECTED at or after 'since'
	CountRejectionsSince(ctx context.Context, submitterID uuid.UUID, since time.Time) (int, error)
	// number of OPEN abuse reports against any content the user has submitted
	CountActiveReportsAgainst(ctx context.Context, userID uuid.UUID) (int, error)
}

type ItemStore interface {
	TrustSignals

	CreateItem(ctx context.Context, item *models.ModerationItem) error
	GetItem(ctx context.Context, id uuid.UUID) (*models.ModerationItem, error)
	FindItemByContentID(ctx context.Context, contentID uuid.UUID, status models.ModerationStatus) (*models.ModerationItem, error)
	ListItems(ctx context.Context, status models.ModerationStatus, contentType *models.ContentType, page PageRequest) (*Page[models.ModerationItem], error)
	ListItemsBySubmitter(ctx context.Context, submitterID uuid.UUID, status models.ModerationStatus) ([]models.ModerationItem, error)
	// fails with ErrItemNotFound or ErrAlreadyReviewed; returns the item as committed
	TransitionItem(ctx context.Context, id uuid.UUID, tr Transition) (*models.ModerationItem, error)

	CountItemsByStatus(ctx context.Context, status models.ModerationStatus) (int64, error)
	CountReviewedSince(ctx context.Context, status models.ModerationStatus, since time.Time) (int64, error)
	// nil if no item has been reviewed yet
	AverageReviewMinutes(ctx context.Context) (*float64, error)
}

type ReportStore interface {
	CreateReport(ctx context.Context, report *models.AbuseReport) error
	GetReport(ctx context.Context, id uuid.UUID) (*models.AbuseReport, error)
	SaveReport(ctx context.Context, report *models.AbuseReport) error
	ListReports(ctx context.Context, status models.ReportStatus, page PageRequest) (*Page[models.AbuseReport], error)
}

type Store interface {
	ItemStore
	ReportStore
}

type AuditLog interface {
	AppendAudit(ctx context.Context, entry *models.AuditLogEntry) error
}

type UserDirectory interface {
	// returns nil (and no error) if the user does not exist
	GetUser(ctx context.Context, userID uuid.UUID) (*models.TrustTierSnapshot, error)
	UpdateTrustTier(ctx context.Context, userID uuid.UUID, tier models.TrustTier, reason string) error
}

type SnapshotInvalidator interface {
	// drops any cached snapshot of the user
	InvalidateUser(ctx context.Context, userID uuid.UUID) error
}

// Implemented by a UserDirectory which may serve GetUser from a cache. The trust
// engines re-read through RefreshUser before changing a tier.
type CachedUserDirectory interface {
	UserDirectory
	SnapshotInvalidator
	// reads the user from the user service, replacing any cached snapshot
	RefreshUser(ctx context.Context, userID uuid.UUID) (*models.TrustTierSnapshot, error)
}

type ContentMetadata struct {
	Amendments   []string `json:"amendments,omitempty"`
	Participants []string `json:"participants,omitempty"`
	// calendar date, formatted YYYY-MM-DD
	VideoDate *string `json:"videoDate,omitempty"`
}

type ContentService interface {
	UpdateStatus(ctx context.Context, contentID uuid.UUID, status string) error
	UpdateMetadata(ctx context.Context, contentID uuid.UUID, meta ContentMetadata) error
	AddLocation(ctx context.Context, contentID, locationID uuid.UUID, isPrimary bool) error
	// a location which is already absent is not an error
	RemoveLocation(ctx context.Context, contentID, locationID uuid.UUID) error
}

type EventPublisher interface {
	PublishApproved(ctx context.Context, evt ApprovedEvent) error
	PublishRejected(ctx context.Context, evt RejectedEvent) error
}

type Promoter interface {
	CheckAndPromote(ctx context.Context, userID uuid.UUID) (bool, error)
}

type Demoter interface {
	CheckAndDemote(ctx context.Context, userID uuid.UUID) (bool, error)
}
