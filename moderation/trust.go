package moderation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/accountabilityatlas/warden/models"

	"github.com/google/uuid"
)

const (
	MinAccountAgeDays      = 30
	MinApprovedSubmissions = 10
	RejectionLookbackDays  = 30

	DemotionRejectionThreshold = 3
	DemotionReportThreshold    = 3

	AutoPromotionReason = "AUTO_PROMOTION"
	AutoDemotionReason  = "AUTO_DEMOTION"
)

func rejectionWindowStart(now time.Time) time.Time {
	return now.Add(-RejectionLookbackDays * 24 * time.Hour)
}

// Decides automatic promotion of accounts from NEW to TRUSTED.
//
// All of the following must hold: tier is exactly NEW; account is at least 30 days
// old; at least 10 approved submissions; no rejections in the last 30 days; no OPEN
// abuse reports against the account's content.
type PromotionEngine struct {
	Users   UserDirectory
	Signals TrustSignals
	Logger  *slog.Logger
	Clock   func() time.Time
}

var _ Promoter = (*PromotionEngine)(nil)

func (pe *PromotionEngine) CheckAndPromote(ctx context.Context, userID uuid.UUID) (bool, error) {
	ctx, span := tracer.Start(ctx, "CheckAndPromote")
	defer span.End()

	logger := loggerOrDefault(pe.Logger).With("user", userID)
	now := clockOrDefault(pe.Clock)()

	user, err := pe.Users.GetUser(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("fetching user for promotion check: %w", err)
	}
	if !promotable(logger, user, now) {
		return false, nil
	}

	rejections, err := pe.Signals.CountRejectionsSince(ctx, userID, rejectionWindowStart(now))
	if err != nil {
		return false, fmt.Errorf("counting recent rejections: %w", err)
	}
	if rejections > 0 {
		logger.Debug("recent rejections block promotion", "rejections", rejections)
		return false, nil
	}

	reports, err := pe.Signals.CountActiveReportsAgainst(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("counting active abuse reports: %w", err)
	}
	if reports > 0 {
		logger.Debug("active abuse reports block promotion", "reports", reports)
		return false, nil
	}

	// the first read may have come from a cache
	user, err = refreshUser(ctx, pe.Users, userID)
	if err != nil {
		return false, fmt.Errorf("re-reading user before promotion: %w", err)
	}
	if !promotable(logger, user, now) {
		return false, nil
	}

	logger.Info("promoting user from NEW to TRUSTED", "approved", user.ApprovedCount())
	if err := pe.Users.UpdateTrustTier(ctx, userID, models.TrustTierTrusted, AutoPromotionReason); err != nil {
		return false, fmt.Errorf("promoting user: %w", err)
	}
	trustChanges.WithLabelValues("promotion").Inc()
	return true, nil
}

// Checks the promotion criteria carried on the user snapshot itself.
func promotable(logger *slog.Logger, user *models.TrustTierSnapshot, now time.Time) bool {
	if user == nil {
		logger.Debug("user not found, skipping promotion check")
		return false
	}
	if user.TrustTier != models.TrustTierNew {
		logger.Debug("not eligible for promotion", "tier", user.TrustTier)
		return false
	}
	ageDays := int(now.Sub(user.CreatedAt) / (24 * time.Hour))
	if ageDays < MinAccountAgeDays {
		logger.Debug("account too new for promotion", "ageDays", ageDays)
		return false
	}
	if approved := user.ApprovedCount(); approved < MinApprovedSubmissions {
		logger.Debug("not enough approved submissions for promotion", "approved", approved)
		return false
	}
	return true
}

// Reads the user bypassing any snapshot cache in front of the directory.
func refreshUser(ctx context.Context, users UserDirectory, userID uuid.UUID) (*models.TrustTierSnapshot, error) {
	if cd, ok := users.(CachedUserDirectory); ok {
		return cd.RefreshUser(ctx, userID)
	}
	return users.GetUser(ctx, userID)
}

// Decides automatic demotion of accounts from TRUSTED to NEW. MODERATOR and ADMIN
// accounts are never demoted automatically.
type DemotionEngine struct {
	Users   UserDirectory
	Signals TrustSignals
	Logger  *slog.Logger
	Clock   func() time.Time
}

var _ Demoter = (*DemotionEngine)(nil)

// Explanation of why demotion thresholds were met. Empty string if they were not.
func DemotionReason(rejections, reports int) string {
	overRejections := rejections >= DemotionRejectionThreshold
	overReports := reports >= DemotionReportThreshold
	switch {
	case overRejections && overReports:
		return fmt.Sprintf("both %d rejections in last %d days and %d active abuse reports", rejections, RejectionLookbackDays, reports)
	case overRejections:
		return fmt.Sprintf("%d rejections in last %d days (threshold: %d)", rejections, RejectionLookbackDays, DemotionRejectionThreshold)
	case overReports:
		return fmt.Sprintf("%d active abuse reports (threshold: %d)", reports, DemotionReportThreshold)
	}
	return ""
}

func (de *DemotionEngine) CheckAndDemote(ctx context.Context, userID uuid.UUID) (bool, error) {
	ctx, span := tracer.Start(ctx, "CheckAndDemote")
	defer span.End()

	logger := loggerOrDefault(de.Logger).With("user", userID)
	now := clockOrDefault(de.Clock)()

	user, err := de.Users.GetUser(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("fetching user for demotion check: %w", err)
	}
	if user == nil {
		logger.Debug("user not found, skipping demotion check")
		return false, nil
	}

	if user.TrustTier != models.TrustTierTrusted {
		logger.Debug("not eligible for automatic demotion", "tier", user.TrustTier)
		return false, nil
	}

	rejections, err := de.Signals.CountRejectionsSince(ctx, userID, rejectionWindowStart(now))
	if err != nil {
		return false, fmt.Errorf("counting recent rejections: %w", err)
	}
	reports, err := de.Signals.CountActiveReportsAgainst(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("counting active abuse reports: %w", err)
	}

	reason := DemotionReason(rejections, reports)
	if reason == "" {
		logger.Debug("below demotion thresholds", "rejections", rejections, "reports", reports)
		return false, nil
	}

	user, err = refreshUser(ctx, de.Users, userID)
	if err != nil {
		return false, fmt.Errorf("re-reading user before demotion: %w", err)
	}
	if user == nil || user.TrustTier != models.TrustTierTrusted {
		logger.Info("trust tier changed since cached read, skipping demotion")
		return false, nil
	}

	logger.Info("demoting user from TRUSTED to NEW", "why", reason)
	if err := de.Users.UpdateTrustTier(ctx, userID, models.TrustTierNew, AutoDemotionReason); err != nil {
		return false, fmt.Errorf("demoting user: %w", err)
	}
	trustChanges.WithLabelValues("demotion").Inc()
	return true, nil
}
