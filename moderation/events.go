package moderation

import (
	"time"

	"github.com/accountabilityatlas/warden/models"

	"github.com/google/uuid"
)

const (
	EventTypeVideoSubmitted       = "VIDEO_SUBMITTED"
	EventTypeUserTrustTierChanged = "USER_TRUST_TIER_CHANGED"
)

// Outbound: published after an item (or a bypassed submission) is approved.
type ApprovedEvent struct {
	ContentType models.ContentType `json:"contentType"`
	ContentID   uuid.UUID          `json:"contentId"`
	ReviewerID  uuid.UUID          `json:"reviewerId"`
	Timestamp   time.Time          `json:"timestamp"`
}

func (evt *ApprovedEvent) EventType() string {
	return eventTypeFor(evt.ContentType, "APPROVED")
}

// Outbound: published after an item is rejected.
type RejectedEvent struct {
	ContentType models.ContentType `json:"contentType"`
	ContentID   uuid.UUID          `json:"contentId"`
	ReviewerID  uuid.UUID          `json:"reviewerId"`
	Reason      string             `json:"reason"`
	Timestamp   time.Time          `json:"timestamp"`
}

func (evt *RejectedEvent) EventType() string {
	return eventTypeFor(evt.ContentType, "REJECTED")
}

// eg, "VIDEO_APPROVED", "LOCATION_REJECTED"
func eventTypeFor(ct models.ContentType, disposition string) string {
	if ct == "" {
		ct = models.ContentTypeVideo
	}
	return string(ct) + "_" + disposition
}

// Inbound: content was submitted by a user.
type SubmittedEvent struct {
	ContentType models.ContentType `json:"contentType,omitempty"`
	ContentID   uuid.UUID          `json:"contentId"`
	SubmitterID uuid.UUID          `json:"submitterId"`
	// tier of the submitter at submission time; may be empty or an unrecognized value
	SubmitterTrustTier models.TrustTier `json:"submitterTrustTier"`
	Title              string           `json:"title,omitempty"`
	Amendments         []string         `json:"amendments,omitempty"`
	LocationIDs        []uuid.UUID      `json:"locationIds,omitempty"`
	Timestamp          time.Time        `json:"timestamp"`
}

// Inbound: the user directory changed an account's trust tier.
type TrustTierChangedEvent struct {
	UserID    uuid.UUID        `json:"userId"`
	OldTier   models.TrustTier `json:"oldTier"`
	NewTier   models.TrustTier `json:"newTier"`
	Reason    string           `json:"reason,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// True when an account moved from NEW to any tier which bypasses review.
func (evt *TrustTierChangedEvent) IsPromotionToTrusted() bool {
	return evt.OldTier == models.TrustTierNew && evt.NewTier.Trusted()
}
