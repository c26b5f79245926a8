package session

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zip"
	"github.com/otcheredev/ris-dicom-relay/internal/dicomio"
	"github.com/otcheredev/ris-dicom-relay/internal/models"
)

// maxEntrySize bounds a single archive member
const maxEntrySize = 1 << 30

var zipMagic = []byte("PK\x03\x04")

// Upload is one raw file handed to Ingest
type Upload struct {
	Name string
	Data []byte
}

// Ingest stores new files and adds them to the session. ZIP archives are
// expanded; their non-DICOM members are ignored. Plain files that do not
// parse are kept without metadata and stay out of the study tree.
func (c *Coordinator) Ingest(ctx context.Context, uploads []Upload) ([]models.FileRecord, error) {
	var (
		added    []models.FileRecord
		failures []error
		attempts int
	)

	for _, up := range uploads {
		entries, err := expand(up)
		if err != nil {
			attempts++
			failures = append(failures, models.NewError(models.KindMetadataMissing, up.Name, err))
			continue
		}
		for _, entry := range entries {
			attempts++
			record, err := c.ingestOne(ctx, entry)
			if err != nil {
				failures = append(failures, err)
				continue
			}
			added = append(added, record)
		}
	}

	if len(added) > 0 {
		c.mu.Lock()
		c.files = append(c.files, added...)
		c.regroupLocked()
		c.mu.Unlock()

		c.persist(ctx)
		c.emit(Event{Type: EventStudiesChanged})
	}

	c.logger.Info().Int("uploads", len(uploads)).Int("added", len(added)).Int("failed", len(failures)).Msg("Files ingested")

	if len(failures) > 0 {
		return added, &models.BatchError{
			Operation: "ingest",
			Attempted: attempts,
			Succeeded: len(added),
			Failures:  failures,
		}
	}
	return added, nil
}

func (c *Coordinator) ingestOne(ctx context.Context, up Upload) (models.FileRecord, error) {
	record := models.FileRecord{
		ID:            uuid.NewString(),
		FileName:      up.Name,
		FileSizeBytes: int64(len(up.Data)),
	}
	record.BinaryRef = record.ID

	meta, err := dicomio.ParseMetadata(up.Data)
	if err != nil {
		c.logger.Warn().Err(err).Str("file", up.Name).Msg("File kept without metadata")
	} else {
		record.Metadata = meta
	}

	exists, err := c.binary.Exists(ctx, record.BinaryRef)
	if err != nil {
		return record, models.NewError(models.KindStorage, up.Name, err)
	}
	if !exists {
		if err := c.binary.Save(ctx, record.BinaryRef, up.Data); err != nil {
			return record, models.NewError(models.KindStorage, up.Name, err)
		}
	}
	return record, nil
}

// expand returns the upload itself, or the DICOM members of a ZIP archive
func expand(up Upload) ([]Upload, error) {
	if !bytes.HasPrefix(up.Data, zipMagic) {
		if strings.EqualFold(path.Ext(up.Name), ".zip") {
			return nil, fmt.Errorf("not a valid zip archive")
		}
		return []Upload{up}, nil
	}

	zr, err := zip.NewReader(bytes.NewReader(up.Data), int64(len(up.Data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}

	var entries []Upload
	for _, zf := range zr.File {
		if zf.FileInfo().IsDir() || skipMember(zf.Name) {
			continue
		}
		if zf.UncompressedSize64 > maxEntrySize {
			return nil, fmt.Errorf("archive member %s too large", zf.Name)
		}
		rc, err := zf.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", zf.Name, err)
		}
		data, err := io.ReadAll(io.LimitReader(rc, maxEntrySize))
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", zf.Name, err)
		}
		if _, err := dicomio.ParseMetadata(data); err != nil {
			continue
		}
		entries = append(entries, Upload{Name: path.Base(zf.Name), Data: data})
	}
	return entries, nil
}

// skipMember filters archive bookkeeping entries
func skipMember(name string) bool {
	base := path.Base(name)
	return strings.HasPrefix(name, "__MACOSX/") || strings.HasPrefix(base, ".")
}
