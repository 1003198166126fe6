package models

import (
	"time"

	"github.com/google/uuid"
)

// Trust tier of a submitting account, as reported by the user directory. Values
// other than the ones declared here are possible on the wire and are treated as
// unknown.
type TrustTier string

var (
	TrustTierNew       = TrustTier("NEW")
	TrustTierTrusted   = TrustTier("TRUSTED")
	TrustTierModerator = TrustTier("MODERATOR")
	TrustTierAdmin     = TrustTier("ADMIN")
)

// True only for the tiers whose submissions skip the review queue.
func (t TrustTier) Trusted() bool {
	return t == TrustTierTrusted || t == TrustTierModerator || t == TrustTierAdmin
}

type UserStats struct {
	SubmissionCount int `json:"submissionCount"`
	ApprovedCount   int `json:"approvedCount"`
}

// Point-in-time view of an account in the user directory. Not owned or persisted by this service.
type TrustTierSnapshot struct {
	UserID      uuid.UUID  `json:"id"`
	DisplayName string     `json:"displayName,omitempty"`
	AvatarURL   string     `json:"avatarUrl,omitempty"`
	TrustTier   TrustTier  `json:"trustTier"`
	Stats       *UserStats `json:"stats,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

func (s *TrustTierSnapshot) ApprovedCount() int {
	if s.Stats == nil {
		return 0
	}
	return s.Stats.ApprovedCount
}
