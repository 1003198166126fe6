package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/accountabilityatlas/warden/models"
	"github.com/accountabilityatlas/warden/moderation"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Relational implementation of moderation.Store and moderation.AuditLog. Works
// against both postgres and sqlite.
type GormStore struct {
	db     *gorm.DB
	logger *slog.Logger
}

var (
	_ moderation.Store    = (*GormStore)(nil)
	_ moderation.AuditLog = (*GormStore)(nil)
)

func New(db *gorm.DB, logger *slog.Logger) *GormStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &GormStore{
		db:     db,
		logger: logger.With("subsystem", "store"),
	}
}

// Creates or updates tables and indexes.
func (s *GormStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(
		&models.ModerationItem{},
		&models.AbuseReport{},
		&models.AuditLogEntry{},
	)
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqldb, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqldb.PingContext(ctx)
}

func (s *GormStore) Close() error {
	sqldb, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqldb.Close()
}

func (s *GormStore) CreateItem(ctx context.Context, item *models.ModerationItem) error {
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *GormStore) GetItem(ctx context.Context, id uuid.UUID) (*models.ModerationItem, error) {
	var item models.ModerationItem
	if err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", moderation.ErrItemNotFound, id)
		}
		return nil, err
	}
	return &item, nil
}

func (s *GormStore) FindItemByContentID(ctx context.Context, contentID uuid.UUID, status models.ModerationStatus) (*models.ModerationItem, error) {
	var item models.ModerationItem
	err := s.db.WithContext(ctx).
		Where("content_id = ? AND status = ?", contentID, status).
		Order("created_at ASC").
		First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: no %s item for content %s", moderation.ErrItemNotFound, status, contentID)
		}
		return nil, err
	}
	return &item, nil
}

func (s *GormStore) ListItems(ctx context.Context, status models.ModerationStatus, contentType *models.ContentType, page moderation.PageRequest) (*moderation.Page[models.ModerationItem], error) {
	filter := func() *gorm.DB {
		q := s.db.WithContext(ctx).Model(&models.ModerationItem{}).Where("status = ?", status)
		if contentType != nil {
			q = q.Where("content_type = ?", *contentType)
		}
		return q
	}

	var total int64
	if err := filter().Count(&total).Error; err != nil {
		return nil, err
	}

	items := []models.ModerationItem{}
	if err := filter().Order("created_at ASC, id ASC").Limit(page.Size).Offset(page.Offset()).Find(&items).Error; err != nil {
		return nil, err
	}
	return &moderation.Page[models.ModerationItem]{
		Items:         items,
		Page:          page.Page,
		Size:          page.Size,
		TotalElements: total,
	}, nil
}

func (s *GormStore) ListItemsBySubmitter(ctx context.Context, submitterID uuid.UUID, status models.ModerationStatus) ([]models.ModerationItem, error) {
	var items []models.ModerationItem
	err := s.db.WithContext(ctx).
		Where("submitter_id = ? AND status = ?", submitterID, status).
		Order("created_at ASC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// Applies the transition with a single UPDATE conditioned on the item still being
// PENDING. When no row matches, the item is either missing or was reviewed by a
// concurrent call.
func (s *GormStore) TransitionItem(ctx context.Context, id uuid.UUID, tr moderation.Transition) (*models.ModerationItem, error) {
	if !tr.To.Terminal() {
		return nil, fmt.Errorf("%w: cannot transition item to %q", moderation.ErrValidation, tr.To)
	}

	updates := map[string]any{
		"status":      tr.To,
		"reviewer_id": tr.ReviewerID,
		"reviewed_at": tr.ReviewedAt.UTC(),
	}
	if tr.RejectionReason != nil {
		updates["rejection_reason"] = *tr.RejectionReason
	}

	var item models.ModerationItem
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.ModerationItem{}).
			Where("id = ? AND status = ?", id, models.ModerationStatusPending).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&models.ModerationItem{}).Where("id = ?", id).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return fmt.Errorf("%w: %s", moderation.ErrItemNotFound, id)
			}
			return fmt.Errorf("%w: %s", moderation.ErrAlreadyReviewed, id)
		}
		return tx.First(&item, "id = ?", id).Error
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *GormStore) CountRejectionsSince(ctx context.Context, submitterID uuid.UUID, since time.Time) (int, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.ModerationItem{}).
		Where("submitter_id = ? AND status = ? AND reviewed_at >= ?", submitterID, models.ModerationStatusRejected, since.UTC()).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

// Counts OPEN reports against any content the user has submitted for moderation.
func (s *GormStore) CountActiveReportsAgainst(ctx context.Context, userID uuid.UUID) (int, error) {
	submitted := s.db.WithContext(ctx).Model(&models.ModerationItem{}).Select("content_id").Where("submitter_id = ?", userID)

	var count int64
	err := s.db.WithContext(ctx).Model(&models.AbuseReport{}).
		Where("status = ? AND content_id IN (?)", models.ReportStatusOpen, submitted).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

func (s *GormStore) CountItemsByStatus(ctx context.Context, status models.ModerationStatus) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.ModerationItem{}).Where("status = ?", status).Count(&count).Error
	return count, err
}

func (s *GormStore) CountReviewedSince(ctx context.Context, status models.ModerationStatus, since time.Time) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.ModerationItem{}).
		Where("status = ? AND reviewed_at >= ?", status, since.UTC()).
		Count(&count).Error
	return count, err
}

// Mean minutes between creation and review, over reviewed items. Postgres
// computes it in SQL; other dialects (sqlite stores timestamps as text) are
// averaged here in batches.
func (s *GormStore) AverageReviewMinutes(ctx context.Context) (*float64, error) {
	if s.db.Dialector.Name() == "postgres" {
		var avg sql.NullFloat64
		err := s.db.WithContext(ctx).Model(&models.ModerationItem{}).
			Select("AVG(EXTRACT(EPOCH FROM (reviewed_at - created_at)) / 60.0)").
			Where("reviewed_at IS NOT NULL").
			Row().Scan(&avg)
		if err != nil {
			return nil, err
		}
		if !avg.Valid {
			return nil, nil
		}
		return &avg.Float64, nil
	}

	var (
		batch []models.ModerationItem
		sum   float64
		n     int
	)
	res := s.db.WithContext(ctx).Model(&models.ModerationItem{}).
		Select("id", "created_at", "reviewed_at").
		Where("reviewed_at IS NOT NULL").
		FindInBatches(&batch, 1000, func(tx *gorm.DB, _ int) error {
			for _, item := range batch {
				sum += item.ReviewedAt.Sub(item.CreatedAt).Minutes()
				n++
			}
			return nil
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if n == 0 {
		return nil, nil
	}
	avg := sum / float64(n)
	return &avg, nil
}

func (s *GormStore) CreateReport(ctx context.Context, report *models.AbuseReport) error {
	return s.db.WithContext(ctx).Create(report).Error
}

func (s *GormStore) GetReport(ctx context.Context, id uuid.UUID) (*models.AbuseReport, error) {
	var report models.AbuseReport
	if err := s.db.WithContext(ctx).First(&report, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", moderation.ErrReportNotFound, id)
		}
		return nil, err
	}
	return &report, nil
}

func (s *GormStore) SaveReport(ctx context.Context, report *models.AbuseReport) error {
	return s.db.WithContext(ctx).Save(report).Error
}

func (s *GormStore) ListReports(ctx context.Context, status models.ReportStatus, page moderation.PageRequest) (*moderation.Page[models.AbuseReport], error) {
	var total int64
	if err := s.db.WithContext(ctx).Model(&models.AbuseReport{}).Where("status = ?", status).Count(&total).Error; err != nil {
		return nil, err
	}

	reports := []models.AbuseReport{}
	err := s.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC, id ASC").
		Limit(page.Size).
		Offset(page.Offset()).
		Find(&reports).Error
	if err != nil {
		return nil, err
	}
	return &moderation.Page[models.AbuseReport]{
		Items:         reports,
		Page:          page.Page,
		Size:          page.Size,
		TotalElements: total,
	}, nil
}

func (s *GormStore) AppendAudit(ctx context.Context, entry *models.AuditLogEntry) error {
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("appending audit entry: %w", err)
	}
	s.logger.Debug("audit entry recorded", "action", entry.Action, "target", entry.TargetID, "actor", entry.ActorID)
	return nil
}

// Audit entries for a target, oldest first.
func (s *GormStore) AuditTrail(ctx context.Context, targetType string, targetID uuid.UUID) ([]models.AuditLogEntry, error) {
	var entries []models.AuditLogEntry
	err := s.db.WithContext(ctx).
		Where("target_type = ? AND target_id = ?", targetType, targetID).
		Order("created_at ASC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}
