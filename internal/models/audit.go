package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Audit actions and statuses
const (
	AuditActionAnonymize = "anonymize"
	AuditActionSend      = "send"

	AuditSuccess = "success"
	AuditPartial = "partial"
	AuditFailure = "failure"
)

// AuditLog records one anonymize or send run over a study
type AuditLog struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	RunID        string    `gorm:"type:varchar(64);index" json:"run_id"`
	Action       string    `gorm:"type:varchar(100);not null;index" json:"action"`
	ResourceUID  string    `gorm:"type:varchar(255);index" json:"resource_uid"`
	Status       string    `gorm:"type:varchar(20);index" json:"status"` // success, partial, failure
	Attempted    int       `json:"attempted"`
	Succeeded    int       `json:"succeeded"`
	ErrorMessage string    `gorm:"type:text" json:"error_message,omitempty"`
	Duration     int64     `json:"duration_ms"`
	CreatedAt    time.Time `gorm:"index" json:"timestamp"`
}

// TableName overrides the table name
func (AuditLog) TableName() string {
	return "audit_logs"
}

// BeforeCreate hook
func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

// MetadataEntry is one key of the metadata tier stored in Postgres
type MetadataEntry struct {
	Key       string    `gorm:"type:varchar(255);primaryKey" json:"key"`
	Value     string    `gorm:"type:text;not null" json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName overrides the table name
func (MetadataEntry) TableName() string {
	return "metadata_entries"
}

// AuditStatusFor classifies a run from its tally
func AuditStatusFor(attempted, succeeded int) string {
	switch {
	case succeeded == attempted:
		return AuditSuccess
	case succeeded == 0:
		return AuditFailure
	default:
		return AuditPartial
	}
}
