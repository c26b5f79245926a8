package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/otcheredev/ris-dicom-relay/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SessionRepository stores metadata-tier documents in Postgres.
// It satisfies storage.MetadataStore.
type SessionRepository struct {
	db *gorm.DB
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Load returns the document under key, or nil when absent
func (r *SessionRepository) Load(ctx context.Context, key string) ([]byte, error) {
	var entry models.MetadataEntry
	err := r.db.WithContext(ctx).Where("key = ?", key).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", key, err)
	}
	return []byte(entry.Value), nil
}

// Save upserts the document under key
func (r *SessionRepository) Save(ctx context.Context, key string, value []byte) error {
	entry := models.MetadataEntry{
		Key:       key,
		Value:     string(value),
		UpdatedAt: time.Now().UTC(),
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&entry).Error
	if err != nil {
		return fmt.Errorf("failed to save %s: %w", key, err)
	}
	return nil
}

// Clear deletes the document under key
func (r *SessionRepository) Clear(ctx context.Context, key string) error {
	if err := r.db.WithContext(ctx).Where("key = ?", key).Delete(&models.MetadataEntry{}).Error; err != nil {
		return fmt.Errorf("failed to clear %s: %w", key, err)
	}
	return nil
}
