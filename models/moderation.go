package models

import (
	"time"

	"github.com/google/uuid"
)

type ContentType string

var (
	ContentTypeVideo    = ContentType("VIDEO")
	ContentTypeLocation = ContentType("LOCATION")
)

func (ct ContentType) Valid() bool {
	return ct == ContentTypeVideo || ct == ContentTypeLocation
}

type ModerationStatus string

var (
	ModerationStatusPending  = ModerationStatus("PENDING")
	ModerationStatusApproved = ModerationStatus("APPROVED")
	ModerationStatusRejected = ModerationStatus("REJECTED")
)

func (s ModerationStatus) Valid() bool {
	return s == ModerationStatusPending || s == ModerationStatusApproved || s == ModerationStatusRejected
}

// APPROVED and REJECTED are final; an item never returns to PENDING.
func (s ModerationStatus) Terminal() bool {
	return s == ModerationStatusApproved || s == ModerationStatusRejected
}

type ReportStatus string

var (
	ReportStatusOpen      = ReportStatus("OPEN")
	ReportStatusResolved  = ReportStatus("RESOLVED")
	ReportStatusDismissed = ReportStatus("DISMISSED")
)

func (s ReportStatus) Valid() bool {
	return s == ReportStatusOpen || s == ReportStatusResolved || s == ReportStatusDismissed
}

type AbuseReason string

var (
	AbuseReasonSpam           = AbuseReason("SPAM")
	AbuseReasonInappropriate  = AbuseReason("INAPPROPRIATE")
	AbuseReasonCopyright      = AbuseReason("COPYRIGHT")
	AbuseReasonMisinformation = AbuseReason("MISINFORMATION")
	AbuseReasonOther          = AbuseReason("OTHER")
)

func (r AbuseReason) Valid() bool {
	switch r {
	case AbuseReasonSpam, AbuseReasonInappropriate, AbuseReasonCopyright, AbuseReasonMisinformation, AbuseReasonOther:
		return true
	}
	return false
}

// One row per submitted content unit which is awaiting, or has received, a human review decision.
type ModerationItem struct {
	ID              uuid.UUID        `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	ContentType     ContentType      `gorm:"column:content_type;not null;index:idx_item_status_type,priority:2" json:"contentType"`
	ContentID       uuid.UUID        `gorm:"column:content_id;type:uuid;not null;index" json:"contentId"`
	SubmitterID     uuid.UUID        `gorm:"column:submitter_id;type:uuid;not null;index:idx_item_submitter_status,priority:1" json:"submitterId"`
	Status          ModerationStatus `gorm:"column:status;not null;index:idx_item_status_type,priority:1;index:idx_item_submitter_status,priority:2" json:"status"`
	Priority        int              `gorm:"column:priority;not null;default:0" json:"priority"`
	ReviewerID      *uuid.UUID       `gorm:"column:reviewer_id;type:uuid" json:"reviewerId,omitempty"`
	ReviewedAt      *time.Time       `gorm:"column:reviewed_at;index" json:"reviewedAt,omitempty"`
	RejectionReason *string          `gorm:"column:rejection_reason;size:1000" json:"rejectionReason,omitempty"`
	CreatedAt       time.Time        `gorm:"column:created_at;not null;autoCreateTime:false" json:"createdAt"`
}

func (ModerationItem) TableName() string {
	return "moderation_items"
}

// Returns a new PENDING item, with identifier and creation timestamp already assigned.
func NewModerationItem(contentType ContentType, contentID, submitterID uuid.UUID, now time.Time) *ModerationItem {
	return &ModerationItem{
		ID:          uuid.New(),
		ContentType: contentType,
		ContentID:   contentID,
		SubmitterID: submitterID,
		Status:      ModerationStatusPending,
		Priority:    0,
		CreatedAt:   now.UTC(),
	}
}

type AbuseReport struct {
	ID          uuid.UUID    `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	ContentType ContentType  `gorm:"column:content_type;not null" json:"contentType"`
	ContentID   uuid.UUID    `gorm:"column:content_id;type:uuid;not null;index" json:"contentId"`
	ReporterID  uuid.UUID    `gorm:"column:reporter_id;type:uuid;not null" json:"reporterId"`
	Reason      AbuseReason  `gorm:"column:reason;not null" json:"reason"`
	Description *string      `gorm:"column:description;size:2000" json:"description,omitempty"`
	Status      ReportStatus `gorm:"column:status;not null;index" json:"status"`
	ResolvedBy  *uuid.UUID   `gorm:"column:resolved_by;type:uuid" json:"resolvedBy,omitempty"`
	Resolution  *string      `gorm:"column:resolution;size:1000" json:"resolution,omitempty"`
	CreatedAt   time.Time    `gorm:"column:created_at;not null;autoCreateTime:false" json:"createdAt"`
}

func (AbuseReport) TableName() string {
	return "abuse_reports"
}

func NewAbuseReport(contentType ContentType, contentID, reporterID uuid.UUID, reason AbuseReason, description *string, now time.Time) *AbuseReport {
	return &AbuseReport{
		ID:          uuid.New(),
		ContentType: contentType,
		ContentID:   contentID,
		ReporterID:  reporterID,
		Reason:      reason,
		Description: description,
		Status:      ReportStatusOpen,
		CreatedAt:   now.UTC(),
	}
}

// Append-only record of a moderation action. Rows are never updated or deleted.
type AuditLogEntry struct {
	ID         uuid.UUID `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	ActorID    uuid.UUID `gorm:"column:actor_id;type:uuid;not null;index" json:"actorId"`
	Action     string    `gorm:"column:action;not null" json:"action"`
	TargetType string    `gorm:"column:target_type;not null;index:idx_audit_target,priority:1" json:"targetType"`
	TargetID   uuid.UUID `gorm:"column:target_id;type:uuid;not null;index:idx_audit_target,priority:2" json:"targetId"`
	Details    *string   `gorm:"column:details" json:"details,omitempty"`
	CreatedAt  time.Time `gorm:"column:created_at;not null;autoCreateTime:false" json:"createdAt"`
}

func (AuditLogEntry) TableName() string {
	return "audit_log"
}

func NewAuditLogEntry(actorID uuid.UUID, action, targetType string, targetID uuid.UUID, details *string, now time.Time) *AuditLogEntry {
	return &AuditLogEntry{
		ID:         uuid.New(),
		ActorID:    actorID,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Details:    details,
		CreatedAt:  now.UTC(),
	}
}
