package moderation

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/accountabilityatlas/warden/models"

	"github.com/google/uuid"
)

const (
	MaxReportDescriptionLength = 2000
	MaxReportResolutionLength  = 1000
)

// Abuse report lifecycle: OPEN on submission, then RESOLVED or DISMISSED by a
// moderator. OPEN reports count against the submitter of the reported content in
// the trust engines.
//
// Dispositions are not guarded: resolving or dismissing a report which was already
// closed overwrites the earlier disposition.
type ReportWorkflow struct {
	Store  ReportStore
	Audit  AuditLog
	Logger *slog.Logger
	Clock  func() time.Time
}

func NewReportWorkflow(store ReportStore, audit AuditLog, logger *slog.Logger) *ReportWorkflow {
	return &ReportWorkflow{
		Store:  store,
		Audit:  audit,
		Logger: loggerOrDefault(logger).With("subsystem", "reports"),
	}
}

func (rw *ReportWorkflow) logger() *slog.Logger {
	return loggerOrDefault(rw.Logger)
}

func (rw *ReportWorkflow) now() time.Time {
	return clockOrDefault(rw.Clock)().UTC()
}

func checkLength(field string, s *string, max int) error {
	if s != nil && utf8.RuneCountInString(*s) > max {
		return fmt.Errorf("%w: %s must be at most %d characters", ErrValidation, field, max)
	}
	return nil
}

func (rw *ReportWorkflow) SubmitReport(ctx context.Context, contentType models.ContentType, contentID, reporterID uuid.UUID, reason models.AbuseReason, description *string) (*models.AbuseReport, error) {
	if !contentType.Valid() {
		return nil, fmt.Errorf("%w: unknown content type %q", ErrValidation, contentType)
	}
	if !reason.Valid() {
		return nil, fmt.Errorf("%w: unknown abuse reason %q", ErrValidation, reason)
	}
	if contentID == uuid.Nil {
		return nil, fmt.Errorf("%w: contentId is required", ErrValidation)
	}
	if err := checkLength("description", description, MaxReportDescriptionLength); err != nil {
		return nil, err
	}

	report := models.NewAbuseReport(contentType, contentID, reporterID, reason, description, rw.now())
	if err := rw.Store.CreateReport(ctx, report); err != nil {
		return nil, fmt.Errorf("creating abuse report: %w", err)
	}
	reportActions.WithLabelValues("submit").Inc()
	rw.logger().Info("abuse report submitted", "report", report.ID, "content", contentID, "reporter", reporterID, "reason", reason)
	return report, nil
}

func (rw *ReportWorkflow) GetReport(ctx context.Context, id uuid.UUID) (*models.AbuseReport, error) {
	return rw.Store.GetReport(ctx, id)
}

func (rw *ReportWorkflow) ListReports(ctx context.Context, status models.ReportStatus, page PageRequest) (*Page[models.AbuseReport], error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown report status %q", ErrValidation, status)
	}
	page, err := page.normalize()
	if err != nil {
		return nil, err
	}
	return rw.Store.ListReports(ctx, status, page)
}

func (rw *ReportWorkflow) Resolve(ctx context.Context, id, moderatorID uuid.UUID, resolution string) (*models.AbuseReport, error) {
	if resolution == "" {
		return nil, fmt.Errorf("%w: resolution is required", ErrValidation)
	}
	return rw.close(ctx, id, moderatorID, models.ReportStatusResolved, ActionResolve, &resolution)
}

func (rw *ReportWorkflow) Dismiss(ctx context.Context, id, moderatorID uuid.UUID, reason *string) (*models.AbuseReport, error) {
	return rw.close(ctx, id, moderatorID, models.ReportStatusDismissed, ActionDismiss, reason)
}

func (rw *ReportWorkflow) close(ctx context.Context, id, moderatorID uuid.UUID, status models.ReportStatus, action string, resolution *string) (*models.AbuseReport, error) {
	ctx, span := tracer.Start(ctx, "CloseReport")
	defer span.End()

	if err := checkLength("resolution", resolution, MaxReportResolutionLength); err != nil {
		return nil, err
	}
	report, err := rw.Store.GetReport(ctx, id)
	if err != nil {
		return nil, err
	}

	logger := rw.logger().With("report", report.ID, "content", report.ContentID, "moderator", moderatorID)
	if report.Status != models.ReportStatusOpen {
		logger.Warn("overwriting earlier report disposition", "previous", report.Status, "new", status)
	}

	report.Status = status
	report.ResolvedBy = &moderatorID
	report.Resolution = resolution
	if err := rw.Store.SaveReport(ctx, report); err != nil {
		return nil, fmt.Errorf("saving abuse report: %w", err)
	}
	reportActions.WithLabelValues(string(status)).Inc()
	logger.Info("abuse report closed", "status", status)

	if rw.Audit != nil {
		entry := models.NewAuditLogEntry(moderatorID, action, TargetAbuseReport, report.ID, resolution, rw.now())
		if err := rw.Audit.AppendAudit(ctx, entry); err != nil {
			bestEffortFailures.WithLabelValues("audit").Inc()
			logger.Error("failed to record report audit entry", "err", err)
		}
	}
	return report, nil
}
