package adapters

import (
	"context"

	"github.com/otcheredev/ris-dicom-relay/internal/models"
)

// Instance is one Part 10 payload to store
type Instance struct {
	Name string
	Data []byte
}

// StoreResult summarizes a STOW-RS response
type StoreResult struct {
	StatusCode int                   `json:"status_code"`
	Stored     []string              `json:"stored,omitempty"`
	Failed     []models.StoreFailure `json:"failed,omitempty"`
}

// Adapter defines the DICOMweb operations the relay needs
type Adapter interface {
	// STOW-RS
	StoreInstances(ctx context.Context, studyUID string, instances ...Instance) (*StoreResult, error)

	// QIDO-RS
	FindStudies(ctx context.Context, params models.QueryParams) ([]models.DicomJSON, error)

	// Connection management
	TestConnection(ctx context.Context) (*models.ConnectionStatus, error)
	Close() error

	Capabilities() []string
}
