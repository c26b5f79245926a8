package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/otcheredev/ris-dicom-relay/internal/models"
	"github.com/otcheredev/ris-dicom-relay/internal/storage"
)

// persist writes the metadata-only projection of the current state. Errors
// are logged and swallowed.
func (c *Coordinator) persist(ctx context.Context) {
	c.persistMu.Lock()
	defer c.persistMu.Unlock()

	c.mu.RLock()
	snapshot := models.PersistedSession{
		Files:   append([]models.FileRecord(nil), c.files...),
		Studies: make([]models.StudySummary, 0, len(c.assigned)),
	}
	for _, study := range c.studies {
		if summary, ok := c.assigned[study.StudyInstanceUID]; ok {
			snapshot.Studies = append(snapshot.Studies, summary)
		}
	}
	c.mu.RUnlock()

	data, err := json.Marshal(snapshot)
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to encode session")
		return
	}
	if err := c.meta.Save(ctx, storage.KeySession, data); err != nil {
		c.logger.Warn().Err(err).Int("files", len(snapshot.Files)).Msg("Failed to persist session")
		return
	}
	c.logger.Debug().Int("files", len(snapshot.Files)).Msg("Session persisted")
}

// Restore rebuilds the session from the MetadataStore. Files whose bytes
// are missing from the BinaryStore are skipped. Bytes are not loaded.
// onProgress receives the share of records examined so far.
func (c *Coordinator) Restore(ctx context.Context, onProgress func(models.Progress)) error {
	raw, err := c.meta.Load(ctx, storage.KeySession)
	if err != nil {
		return models.NewError(models.KindStorage, "", fmt.Errorf("failed to load session: %w", err))
	}

	var saved models.PersistedSession
	if raw != nil {
		if err := json.Unmarshal(raw, &saved); err != nil {
			return models.NewError(models.KindStorage, "", fmt.Errorf("failed to decode session: %w", err))
		}
	}
	if saved.Empty() {
		c.logger.Info().Msg("No session to restore")
		return nil
	}

	total := len(saved.Files)
	files := make([]models.FileRecord, 0, total)
	skipped := 0
	for i, f := range saved.Files {
		if ctx.Err() != nil {
			return &models.Error{Kind: models.KindCancelled, Message: "restore cancelled", Err: ctx.Err()}
		}
		ref := f.BinaryRef
		if ref == "" {
			ref = f.ID
		}
		exists, err := c.binary.Exists(ctx, ref)
		switch {
		case err != nil:
			c.logger.Warn().Err(err).Str("file", f.FileName).Msg("Skipping file, binary store check failed")
			skipped++
		case !exists:
			c.logger.Warn().Str("file", f.FileName).Msg("Skipping file, bytes missing")
			skipped++
		default:
			f.BinaryRef = ref
			files = append(files, f)
		}

		if onProgress != nil {
			onProgress(models.Progress{
				Total:       total,
				Completed:   i + 1,
				Percentage:  models.Percent(i+1, total),
				CurrentFile: f.FileName,
			})
		}
	}

	c.mu.Lock()
	c.files = files
	c.assigned = make(map[string]models.StudySummary, len(saved.Studies))
	for _, summary := range saved.Studies {
		c.assigned[summary.StudyInstanceUID] = summary
	}
	c.regroupLocked()
	studies := len(c.studies)
	c.mu.Unlock()

	if skipped > 0 {
		c.persist(ctx)
	}

	c.logger.Info().Int("files", len(files)).Int("skipped", skipped).Int("studies", studies).Msg("Session restored")
	c.emit(Event{Type: EventRestore, Message: fmt.Sprintf("restored %d files", len(files))})
	return nil
}
