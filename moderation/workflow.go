package moderation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/accountabilityatlas/warden/models"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	TargetModerationItem = "MODERATION_ITEM"
	TargetAbuseReport    = "ABUSE_REPORT"

	ActionApprove     = "APPROVE"
	ActionReject      = "REJECT"
	ActionAutoApprove = "AUTO_APPROVE"
	ActionResolve     = "RESOLVE"
	ActionDismiss     = "DISMISS"

	// audit details recorded for items approved by the trust-tier cascade
	AutoApproveDetails = "trust_tier_upgrade"

	RoleModerator = "MODERATOR"
	RoleAdmin     = "ADMIN"
)

// Actor recorded for automatic (non-human) actions, such as the cascade
// approval of pending items after a trust tier upgrade.
var SystemUserID = uuid.UUID{}

// Authenticated caller of an operation which is gated on roles.
type Actor struct {
	ID    uuid.UUID
	Roles []string
}

func (a Actor) HasRole(role string) bool {
	return slices.Contains(a.Roles, role)
}

type QueueStats struct {
	Pending              int64    `json:"pending"`
	ApprovedToday        int64    `json:"approvedToday"`
	RejectedToday        int64    `json:"rejectedToday"`
	AvgReviewTimeMinutes *float64 `json:"avgReviewTimeMinutes"`
}

// State machine for moderation items: creation, review decisions, bulk
// auto-approval, and reads.
//
// A decision is committed to the store first. Downstream notifications (audit
// entry, content status push, event publish, trust tier check) are then attempted
// independently, and a failure in any of them is logged and counted, never
// returned: the stored decision is the source of truth.
type Workflow struct {
	Store     ItemStore
	Audit     AuditLog
	Content   ContentService
	Events    EventPublisher
	Promotion Promoter
	Demotion  Demoter
	// optional; purged of the user on every trust tier change event
	Snapshots SnapshotInvalidator
	Logger    *slog.Logger
	Clock     func() time.Time
}

// Wires a workflow, and the trust engines it invokes, around a single store.
func NewWorkflow(store Store, audit AuditLog, content ContentService, events EventPublisher, users UserDirectory, logger *slog.Logger) *Workflow {
	logger = loggerOrDefault(logger)
	w := &Workflow{
		Store:   store,
		Audit:   audit,
		Content: content,
		Events:  events,
		Promotion: &PromotionEngine{
			Users:   users,
			Signals: store,
			Logger:  logger.With("subsystem", "promotion"),
		},
		Demotion: &DemotionEngine{
			Users:   users,
			Signals: store,
			Logger:  logger.With("subsystem", "demotion"),
		},
		Logger: logger.With("subsystem", "workflow"),
	}
	if inv, ok := users.(SnapshotInvalidator); ok {
		w.Snapshots = inv
	}
	return w
}

func (w *Workflow) logger() *slog.Logger {
	return loggerOrDefault(w.Logger)
}

func (w *Workflow) now() time.Time {
	return clockOrDefault(w.Clock)().UTC()
}

func (w *Workflow) CreateItem(ctx context.Context, contentType models.ContentType, contentID, submitterID uuid.UUID) (*models.ModerationItem, error) {
	if !contentType.Valid() {
		return nil, fmt.Errorf("%w: unknown content type %q", ErrValidation, contentType)
	}
	item := models.NewModerationItem(contentType, contentID, submitterID, w.now())
	if err := w.Store.CreateItem(ctx, item); err != nil {
		return nil, fmt.Errorf("creating moderation item: %w", err)
	}
	itemsCreated.WithLabelValues(string(contentType)).Inc()
	w.logger().Info("queued content for moderation", "item", item.ID, "content", contentID, "submitter", submitterID, "contentType", contentType)
	return item, nil
}

func (w *Workflow) GetItem(ctx context.Context, id uuid.UUID) (*models.ModerationItem, error) {
	return w.Store.GetItem(ctx, id)
}

func (w *Workflow) FindByContentID(ctx context.Context, contentID uuid.UUID, status models.ModerationStatus) (*models.ModerationItem, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown moderation status %q", ErrValidation, status)
	}
	return w.Store.FindItemByContentID(ctx, contentID, status)
}

// Lists items with the given status, optionally filtered by content type, oldest first.
func (w *Workflow) GetQueue(ctx context.Context, status models.ModerationStatus, contentType *models.ContentType, page PageRequest) (*Page[models.ModerationItem], error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown moderation status %q", ErrValidation, status)
	}
	if contentType != nil && !contentType.Valid() {
		return nil, fmt.Errorf("%w: unknown content type %q", ErrValidation, *contentType)
	}
	page, err := page.normalize()
	if err != nil {
		return nil, err
	}
	return w.Store.ListItems(ctx, status, contentType, page)
}

func (w *Workflow) Approve(ctx context.Context, id, reviewerID uuid.UUID) (*models.ModerationItem, error) {
	ctx, span := tracer.Start(ctx, "Approve")
	defer span.End()
	span.SetAttributes(attribute.String("item", id.String()))

	item, err := w.decide(ctx, id, Transition{
		To:         models.ModerationStatusApproved,
		ReviewerID: reviewerID,
		ReviewedAt: w.now(),
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	itemDecisions.WithLabelValues(string(models.ModerationStatusApproved), "manual").Inc()

	logger := w.logger().With("item", item.ID, "content", item.ContentID, "submitter", item.SubmitterID)
	logger.Info("moderation item approved", "reviewer", reviewerID)

	w.bestEffort(ctx, logger, "audit", func(ctx context.Context) error {
		return w.appendAudit(ctx, reviewerID, ActionApprove, item.ID, nil)
	})
	w.bestEffort(ctx, logger, "content_status", func(ctx context.Context) error {
		return w.Content.UpdateStatus(ctx, item.ContentID, string(models.ModerationStatusApproved))
	})
	w.bestEffort(ctx, logger, "publish", func(ctx context.Context) error {
		return w.Events.PublishApproved(ctx, ApprovedEvent{
			ContentType: item.ContentType,
			ContentID:   item.ContentID,
			ReviewerID:  reviewerID,
			Timestamp:   w.now(),
		})
	})
	if w.Promotion != nil {
		w.bestEffort(ctx, logger, "trust_promotion", func(ctx context.Context) error {
			promoted, err := w.Promotion.CheckAndPromote(ctx, item.SubmitterID)
			if err != nil {
				return err
			}
			if promoted {
				logger.Info("submitter promoted after approval")
			}
			return nil
		})
	}
	return item, nil
}

func (w *Workflow) Reject(ctx context.Context, id, reviewerID uuid.UUID, reason string) (*models.ModerationItem, error) {
	ctx, span := tracer.Start(ctx, "Reject")
	defer span.End()
	span.SetAttributes(attribute.String("item", id.String()))

	if reason == "" {
		return nil, fmt.Errorf("%w: rejection reason is required", ErrValidation)
	}
	item, err := w.decide(ctx, id, Transition{
		To:              models.ModerationStatusRejected,
		ReviewerID:      reviewerID,
		ReviewedAt:      w.now(),
		RejectionReason: &reason,
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	itemDecisions.WithLabelValues(string(models.ModerationStatusRejected), "manual").Inc()

	logger := w.logger().With("item", item.ID, "content", item.ContentID, "submitter", item.SubmitterID)
	logger.Info("moderation item rejected", "reviewer", reviewerID, "reason", reason)

	w.bestEffort(ctx, logger, "audit", func(ctx context.Context) error {
		return w.appendAudit(ctx, reviewerID, ActionReject, item.ID, &reason)
	})
	w.bestEffort(ctx, logger, "content_status", func(ctx context.Context) error {
		return w.Content.UpdateStatus(ctx, item.ContentID, string(models.ModerationStatusRejected))
	})
	w.bestEffort(ctx, logger, "publish", func(ctx context.Context) error {
		return w.Events.PublishRejected(ctx, RejectedEvent{
			ContentType: item.ContentType,
			ContentID:   item.ContentID,
			ReviewerID:  reviewerID,
			Reason:      reason,
			Timestamp:   w.now(),
		})
	})
	if w.Demotion != nil {
		w.bestEffort(ctx, logger, "trust_demotion", func(ctx context.Context) error {
			demoted, err := w.Demotion.CheckAndDemote(ctx, item.SubmitterID)
			if err != nil {
				return err
			}
			if demoted {
				logger.Info("submitter demoted after rejection")
			}
			return nil
		})
	}
	return item, nil
}

// Checks the item is still PENDING, then commits the transition. The store
// applies the transition conditionally, so of two racing decisions only one
// commits and the other gets ErrAlreadyReviewed.
func (w *Workflow) decide(ctx context.Context, id uuid.UUID, tr Transition) (*models.ModerationItem, error) {
	item, err := w.Store.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.Status != models.ModerationStatusPending {
		itemDecisionConflicts.Inc()
		return nil, fmt.Errorf("%w: %s (status %s)", ErrAlreadyReviewed, id, item.Status)
	}
	updated, err := w.Store.TransitionItem(ctx, id, tr)
	if err != nil {
		if errors.Is(err, ErrAlreadyReviewed) {
			itemDecisionConflicts.Inc()
		}
		return nil, err
	}
	return updated, nil
}

// Approves every PENDING item of a submitter, on behalf of systemReviewerID.
//
// Each item is committed independently. An item which fails to commit (store
// error, or reviewed concurrently) is logged and skipped. The returned count is
// the number of committed approvals; failed downstream notifications do not
// reduce it. If ctx is cancelled, processing stops between items and the count so
// far is returned along with the context error; calling again resumes with the
// items which are still PENDING.
func (w *Workflow) ApprovePendingForUser(ctx context.Context, submitterID, systemReviewerID uuid.UUID) (int, error) {
	ctx, span := tracer.Start(ctx, "ApprovePendingForUser")
	defer span.End()
	span.SetAttributes(attribute.String("submitter", submitterID.String()))

	start := time.Now()
	defer func() {
		cascadeDuration.Observe(time.Since(start).Seconds())
	}()

	logger := w.logger().With("submitter", submitterID)

	pending, err := w.Store.ListItemsBySubmitter(ctx, submitterID, models.ModerationStatusPending)
	if err != nil {
		return 0, fmt.Errorf("listing pending items: %w", err)
	}
	if len(pending) == 0 {
		logger.Debug("no pending items to auto-approve")
		return 0, nil
	}
	logger.Info("auto-approving pending items after trust tier upgrade", "count", len(pending))

	approved := 0
	for i, p := range pending {
		if err := ctx.Err(); err != nil {
			logger.Warn("auto-approval interrupted", "approved", approved, "remaining", len(pending)-i, "err", err)
			return approved, err
		}

		item, err := w.Store.TransitionItem(ctx, p.ID, Transition{
			To:         models.ModerationStatusApproved,
			ReviewerID: systemReviewerID,
			ReviewedAt: w.now(),
		})
		if err != nil {
			logger.Error("failed to auto-approve item", "item", p.ID, "content", p.ContentID, "err", err)
			continue
		}
		approved++
		itemDecisions.WithLabelValues(string(models.ModerationStatusApproved), "cascade").Inc()

		ilog := logger.With("item", item.ID, "content", item.ContentID)
		w.bestEffort(ctx, ilog, "content_status", func(ctx context.Context) error {
			return w.Content.UpdateStatus(ctx, item.ContentID, string(models.ModerationStatusApproved))
		})
		w.bestEffort(ctx, ilog, "publish", func(ctx context.Context) error {
			return w.Events.PublishApproved(ctx, ApprovedEvent{
				ContentType: item.ContentType,
				ContentID:   item.ContentID,
				ReviewerID:  systemReviewerID,
				Timestamp:   w.now(),
			})
		})
		w.bestEffort(ctx, ilog, "audit", func(ctx context.Context) error {
			return w.appendAudit(ctx, systemReviewerID, ActionAutoApprove, item.ID, strPtr(AutoApproveDetails))
		})
	}

	logger.Info("auto-approved pending items", "approved", approved, "total", len(pending))
	return approved, nil
}

func StartOfDayUTC(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (w *Workflow) GetQueueStats(ctx context.Context) (*QueueStats, error) {
	midnight := StartOfDayUTC(w.now())

	pending, err := w.Store.CountItemsByStatus(ctx, models.ModerationStatusPending)
	if err != nil {
		return nil, err
	}
	approved, err := w.Store.CountReviewedSince(ctx, models.ModerationStatusApproved, midnight)
	if err != nil {
		return nil, err
	}
	rejected, err := w.Store.CountReviewedSince(ctx, models.ModerationStatusRejected, midnight)
	if err != nil {
		return nil, err
	}
	avg, err := w.Store.AverageReviewMinutes(ctx)
	if err != nil {
		return nil, err
	}
	return &QueueStats{
		Pending:              pending,
		ApprovedToday:        approved,
		RejectedToday:        rejected,
		AvgReviewTimeMinutes: avg,
	}, nil
}

// Runs a downstream notification whose failure must not affect the decision
// which was already committed.
func (w *Workflow) bestEffort(ctx context.Context, logger *slog.Logger, step string, fn func(ctx context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			bestEffortFailures.WithLabelValues(step).Inc()
			logger.Error("best-effort step panicked", "step", step, "err", r)
		}
	}()
	if err := fn(ctx); err != nil {
		bestEffortFailures.WithLabelValues(step).Inc()
		logger.Error("best-effort step failed", "step", step, "err", err)
	}
}

func (w *Workflow) appendAudit(ctx context.Context, actorID uuid.UUID, action string, targetID uuid.UUID, details *string) error {
	if w.Audit == nil {
		return nil
	}
	return w.Audit.AppendAudit(ctx, models.NewAuditLogEntry(actorID, action, TargetModerationItem, targetID, details, w.now()))
}
