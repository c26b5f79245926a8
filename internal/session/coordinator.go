// Package session owns the in-memory file and study collection and drives
// grouping, anonymization, transmission and persistence over it.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/otcheredev/ris-dicom-relay/internal/anonymizer"
	"github.com/otcheredev/ris-dicom-relay/internal/grouping"
	"github.com/otcheredev/ris-dicom-relay/internal/models"
	"github.com/otcheredev/ris-dicom-relay/internal/storage"
	"github.com/otcheredev/ris-dicom-relay/internal/transmitter"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// ErrUnknownStudy is returned for a study UID not in the session
	ErrUnknownStudy = errors.New("session: unknown study")
	// ErrUnknownFile is returned for a file id not in the session
	ErrUnknownFile = errors.New("session: unknown file")
)

// Auditor records one run per study
type Auditor interface {
	Record(ctx context.Context, entry *models.AuditLog) error
}

// Config holds the coordinator's tunables
type Config struct {
	AnonymizeConcurrency int
	SendConcurrency      int
	// Mode applies to both anonymize and send runs. Defaults to
	// CollectAndContinue.
	Mode    models.FailureMode
	Auditor Auditor
	// OnEvent receives progress, skip and state-change notifications
	OnEvent func(Event)
}

// Coordinator is the top-level orchestrator of one session
type Coordinator struct {
	binary      storage.BinaryStore
	meta        storage.MetadataStore
	anonymizer  *anonymizer.Anonymizer
	transmitter *transmitter.Transmitter
	cfg         Config
	logger      zerolog.Logger

	mu       sync.RWMutex
	files    []models.FileRecord
	studies  []models.StudyNode
	assigned map[string]models.StudySummary

	persistMu sync.Mutex

	sendMu sync.Mutex
	sends  map[string]*sendHandle
}

// sendHandle identifies one running send so a superseded run cannot
// unregister its successor
type sendHandle struct {
	cancel context.CancelFunc
}

// New creates a new coordinator
func New(binary storage.BinaryStore, meta storage.MetadataStore, anon *anonymizer.Anonymizer, tr *transmitter.Transmitter, cfg Config) *Coordinator {
	if cfg.Mode == "" {
		cfg.Mode = models.CollectAndContinue
	}
	return &Coordinator{
		binary:      binary,
		meta:        meta,
		anonymizer:  anon,
		transmitter: tr,
		cfg:         cfg,
		logger:      log.With().Str("component", "session").Logger(),
		assigned:    make(map[string]models.StudySummary),
		sends:       make(map[string]*sendHandle),
	}
}

// Files returns a copy of the flat file list in ingestion order
func (c *Coordinator) Files() []models.FileRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]models.FileRecord(nil), c.files...)
}

// Studies returns the current study tree
func (c *Coordinator) Studies() []models.StudyNode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]models.StudyNode(nil), c.studies...)
}

// Study returns one study of the tree
func (c *Coordinator) Study(uid string) (models.StudyNode, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return grouping.Find(c.studies, uid)
}

// File returns one file record
func (c *Coordinator) File(id string) (models.FileRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, f := range c.files {
		if f.ID == id {
			return f, true
		}
	}
	return models.FileRecord{}, false
}

// LoadBytes faults a file's current payload in from the BinaryStore
func (c *Coordinator) LoadBytes(ctx context.Context, id string) ([]byte, models.FileRecord, error) {
	f, ok := c.File(id)
	if !ok {
		return nil, models.FileRecord{}, ErrUnknownFile
	}
	ref := f.BinaryRef
	if ref == "" {
		ref = f.ID
	}
	data, err := c.binary.Load(ctx, ref)
	if err != nil {
		return nil, f, models.NewError(models.KindStorage, f.FileName, err)
	}
	return data, f, nil
}

// AssignStudy attaches a target patient id and custom fields to a study.
// Both survive anonymization and reloads.
func (c *Coordinator) AssignStudy(ctx context.Context, uid, assignedPatientID string, customFields map[string]string) error {
	c.mu.Lock()
	if _, ok := grouping.Find(c.studies, uid); !ok {
		c.mu.Unlock()
		return ErrUnknownStudy
	}
	summary := models.StudySummary{
		StudyInstanceUID:  uid,
		AssignedPatientID: assignedPatientID,
		CustomFields:      copyFields(customFields),
	}
	if summary.AssignedPatientID == "" && len(summary.CustomFields) == 0 {
		delete(c.assigned, uid)
	} else {
		c.assigned[uid] = summary
	}
	c.regroupLocked()
	c.mu.Unlock()

	c.persist(ctx)
	c.emit(Event{Type: EventStudiesChanged, StudyUID: uid})
	return nil
}

// ClearAll empties the session and both stores. Storage errors are logged
// and never stop the clear.
func (c *Coordinator) ClearAll(ctx context.Context) {
	c.sendMu.Lock()
	for uid, handle := range c.sends {
		handle.cancel()
		delete(c.sends, uid)
	}
	c.sendMu.Unlock()

	c.mu.Lock()
	c.files = nil
	c.studies = nil
	c.assigned = make(map[string]models.StudySummary)
	c.mu.Unlock()

	c.persistMu.Lock()
	if err := c.meta.Clear(ctx, storage.KeySession); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to clear session metadata")
	}
	c.persistMu.Unlock()

	if err := c.binary.ClearAll(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to clear binary store")
	}

	c.logger.Info().Msg("Session cleared")
	c.emit(Event{Type: EventStudiesChanged})
}

// regroupLocked rebuilds the study tree and reapplies assigned fields.
// Assignments for studies that no longer exist are dropped.
func (c *Coordinator) regroupLocked() {
	c.studies = grouping.Group(c.files)
	live := make(map[string]bool, len(c.studies))
	for i := range c.studies {
		uid := c.studies[i].StudyInstanceUID
		live[uid] = true
		if summary, ok := c.assigned[uid]; ok {
			c.studies[i].AssignedPatientID = summary.AssignedPatientID
			c.studies[i].CustomFields = copyFields(summary.CustomFields)
		}
	}
	for uid := range c.assigned {
		if !live[uid] {
			delete(c.assigned, uid)
		}
	}
}

// replaceFilesLocked swaps records by id
func (c *Coordinator) replaceFilesLocked(updated []models.FileRecord) {
	byID := make(map[string]models.FileRecord, len(updated))
	for _, f := range updated {
		byID[f.ID] = f
	}
	for i, f := range c.files {
		if u, ok := byID[f.ID]; ok {
			c.files[i] = u
		}
	}
}

func (c *Coordinator) emit(e Event) {
	if c.cfg.OnEvent != nil {
		c.cfg.OnEvent(e)
	}
}

func (c *Coordinator) audit(ctx context.Context, entry *models.AuditLog) {
	if c.cfg.Auditor == nil {
		return
	}
	if err := c.cfg.Auditor.Record(ctx, entry); err != nil {
		c.logger.Warn().Err(err).Str("study_uid", entry.ResourceUID).Msg("Failed to record audit entry")
	}
}

func copyFields(fields map[string]string) map[string]string {
	if len(fields) == 0 {
		return nil
	}
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
