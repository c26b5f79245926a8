package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/otcheredev/ris-dicom-relay/internal/models"
	"github.com/otcheredev/ris-dicom-relay/internal/storage"
)

// ServerConfig returns the saved DICOMweb destination, or nil when none
// has been saved
func (c *Coordinator) ServerConfig(ctx context.Context) (*models.ServerConfig, error) {
	var cfg models.ServerConfig
	found, err := c.loadJSON(ctx, storage.KeyServerConfig, &cfg)
	if err != nil || !found {
		return nil, err
	}
	return &cfg, nil
}

// SaveServerConfig validates and stores the DICOMweb destination
func (c *Coordinator) SaveServerConfig(ctx context.Context, cfg models.ServerConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return c.saveJSON(ctx, storage.KeyServerConfig, cfg)
}

// Policy returns the saved anonymization policy, or the default one
func (c *Coordinator) Policy(ctx context.Context) (models.AnonymizationPolicy, error) {
	var policy models.AnonymizationPolicy
	found, err := c.loadJSON(ctx, storage.KeyPolicy, &policy)
	if err != nil {
		return models.AnonymizationPolicy{}, err
	}
	if !found {
		return models.DefaultPolicy(), nil
	}
	return policy, nil
}

// SavePolicy validates and stores the anonymization policy
func (c *Coordinator) SavePolicy(ctx context.Context, policy models.AnonymizationPolicy) error {
	if err := policy.Validate(); err != nil {
		return err
	}
	return c.saveJSON(ctx, storage.KeyPolicy, policy)
}

func (c *Coordinator) loadJSON(ctx context.Context, key string, v any) (bool, error) {
	raw, err := c.meta.Load(ctx, key)
	if err != nil {
		return false, models.NewError(models.KindStorage, "", fmt.Errorf("failed to load %s: %w", key, err))
	}
	if raw == nil {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, models.NewError(models.KindStorage, "", fmt.Errorf("failed to decode %s: %w", key, err))
	}
	return true, nil
}

func (c *Coordinator) saveJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	if err := c.meta.Save(ctx, key, data); err != nil {
		return models.NewError(models.KindStorage, "", fmt.Errorf("failed to save %s: %w", key, err))
	}
	return nil
}
