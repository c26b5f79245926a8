package repository

import (
	"context"
	"fmt"

	"github.com/otcheredev/ris-dicom-relay/internal/models"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// AuditRepository handles audit log database operations
type AuditRepository struct {
	db *gorm.DB
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Record creates a new audit log entry
func (r *AuditRepository) Record(ctx context.Context, entry *models.AuditLog) error {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	return nil
}

// List retrieves the most recent audit logs
func (r *AuditRepository) List(ctx context.Context, limit, offset int) ([]models.AuditLog, error) {
	var logs []models.AuditLog
	query := r.db.WithContext(ctx).Order("created_at DESC")

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	if err := query.Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("failed to get audit logs: %w", err)
	}

	return logs, nil
}

// GetByResourceUID retrieves audit logs for a specific study
func (r *AuditRepository) GetByResourceUID(ctx context.Context, resourceUID string) ([]models.AuditLog, error) {
	var logs []models.AuditLog
	if err := r.db.WithContext(ctx).
		Where("resource_uid = ?", resourceUID).
		Order("created_at DESC").
		Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("failed to get audit logs: %w", err)
	}
	return logs, nil
}

// LogAuditor writes audit entries to the application log when no database
// is configured
type LogAuditor struct{}

// Record logs the entry
func (LogAuditor) Record(ctx context.Context, entry *models.AuditLog) error {
	event := log.Info()
	if entry.Status != models.AuditSuccess {
		event = log.Warn()
	}
	event.
		Str("component", "audit").
		Str("run_id", entry.RunID).
		Str("action", entry.Action).
		Str("study_uid", entry.ResourceUID).
		Str("status", entry.Status).
		Int("attempted", entry.Attempted).
		Int("succeeded", entry.Succeeded).
		Int64("duration_ms", entry.Duration).
		Str("error", entry.ErrorMessage).
		Msg("Run recorded")
	return nil
}
