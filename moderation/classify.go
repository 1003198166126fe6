package moderation

import (
	"context"
	"errors"
	"fmt"

	"github.com/accountabilityatlas/warden/models"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// Handlers for inbound events. Implemented by Workflow.
type Dispatcher interface {
	HandleSubmitted(ctx context.Context, evt SubmittedEvent) (*models.ModerationItem, error)
	HandleTrustTierChanged(ctx context.Context, evt TrustTierChangedEvent) (int, error)
}

var _ Dispatcher = (*Workflow)(nil)

// Whether a submission from an account with the given tier must be queued for
// review. Only TRUSTED, MODERATOR and ADMIN bypass the queue; empty and unknown
// tiers are treated like NEW.
func RequiresModeration(tier models.TrustTier) bool {
	return !tier.Trusted()
}

// Routes a submission either into the review queue, or directly to APPROVED when
// the submitter's tier allows it. Returns the queued item, or nil if the submission
// bypassed review.
//
// Queueing is idempotent: if content already has a PENDING item (eg, the event was
// redelivered), that item is returned and nothing new is created.
func (w *Workflow) HandleSubmitted(ctx context.Context, evt SubmittedEvent) (*models.ModerationItem, error) {
	ctx, span := tracer.Start(ctx, "HandleSubmitted")
	defer span.End()
	span.SetAttributes(
		attribute.String("content", evt.ContentID.String()),
		attribute.String("tier", string(evt.SubmitterTrustTier)),
	)

	contentType := evt.ContentType
	if contentType == "" {
		contentType = models.ContentTypeVideo
	}
	if !contentType.Valid() {
		return nil, fmt.Errorf("%w: unknown content type %q", ErrValidation, contentType)
	}
	if evt.ContentID == uuid.Nil || evt.SubmitterID == uuid.Nil {
		return nil, fmt.Errorf("%w: submission is missing content or submitter id", ErrValidation)
	}

	logger := w.logger().With("content", evt.ContentID, "submitter", evt.SubmitterID, "tier", evt.SubmitterTrustTier)

	if RequiresModeration(evt.SubmitterTrustTier) {
		existing, err := w.Store.FindItemByContentID(ctx, evt.ContentID, models.ModerationStatusPending)
		if err == nil {
			logger.Info("content already queued for moderation", "item", existing.ID)
			return existing, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("checking for queued item: %w", err)
		}
		return w.CreateItem(ctx, contentType, evt.ContentID, evt.SubmitterID)
	}

	logger.Info("submitter trust tier bypasses moderation, approving content")
	if err := w.Content.UpdateStatus(ctx, evt.ContentID, string(models.ModerationStatusApproved)); err != nil {
		return nil, fmt.Errorf("approving bypassed submission: %w", err)
	}
	if err := w.Events.PublishApproved(ctx, ApprovedEvent{
		ContentType: contentType,
		ContentID:   evt.ContentID,
		ReviewerID:  evt.SubmitterID,
		Timestamp:   w.now(),
	}); err != nil {
		return nil, fmt.Errorf("publishing bypassed approval: %w", err)
	}
	submissionsBypassed.WithLabelValues(string(evt.SubmitterTrustTier)).Inc()
	return nil, nil
}

// Drops any cached snapshot of the user, then auto-approves the pending items of
// an account which was just promoted out of NEW. Returns the number of items
// approved.
func (w *Workflow) HandleTrustTierChanged(ctx context.Context, evt TrustTierChangedEvent) (int, error) {
	if w.Snapshots != nil && evt.UserID != uuid.Nil {
		if err := w.Snapshots.InvalidateUser(ctx, evt.UserID); err != nil {
			w.logger().Warn("failed to invalidate cached user snapshot", "user", evt.UserID, "err", err)
			bestEffortFailures.WithLabelValues("snapshot_invalidate").Inc()
		}
	}
	if !evt.IsPromotionToTrusted() {
		w.logger().Debug("trust tier change does not trigger auto-approval", "user", evt.UserID, "old", evt.OldTier, "new", evt.NewTier)
		return 0, nil
	}
	w.logger().Info("user promoted out of NEW, auto-approving pending items", "user", evt.UserID, "old", evt.OldTier, "new", evt.NewTier)
	return w.ApprovePendingForUser(ctx, evt.UserID, SystemUserID)
}
