// Package anonymizer runs bounded-concurrency deidentification of a study's
// files with identifiers kept consistent across the whole run.
package anonymizer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/otcheredev/ris-dicom-relay/internal/dicomio"
	"github.com/otcheredev/ris-dicom-relay/internal/metrics"
	"github.com/otcheredev/ris-dicom-relay/internal/models"
	"github.com/otcheredev/ris-dicom-relay/internal/storage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency is used when Options.Concurrency is not positive
const DefaultConcurrency = 3

// Options controls one AnonymizeStudy call
type Options struct {
	Concurrency int
	Mode        models.FailureMode
	// OnProgress is called before and after every file. Calls are
	// serialized and Completed never decreases.
	OnProgress func(models.Progress)
	// PatientIDMap pins original patient IDs to explicit replacements
	PatientIDMap map[string]string
	// PinnedPatientID replaces every original patient id in the batch,
	// after PatientIDMap is applied
	PinnedPatientID string
	// Cache lets callers share identifier mappings across calls
	Cache *IdentifierCache
}

// Result reports the files that were anonymized, in input order
type Result struct {
	Files     []models.FileRecord
	Total     int
	Completed int
	Token     string
}

// Anonymizer deidentifies files held in a BinaryStore
type Anonymizer struct {
	store  storage.BinaryStore
	deid   dicomio.Deidentifier
	now    func() time.Time
	jitter func(maxDays int) int
	logger zerolog.Logger
}

// New creates a new anonymizer
func New(store storage.BinaryStore, deid dicomio.Deidentifier) *Anonymizer {
	return &Anonymizer{
		store:  store,
		deid:   deid,
		now:    time.Now,
		jitter: randomOffset,
		logger: log.With().Str("component", "anonymizer").Logger(),
	}
}

// AnonymizeStudy deidentifies every file. Policy problems are reported before
// any file is touched. In FailFast mode the first failure stops dispatch and
// is returned as is; otherwise failures are collected into a BatchError.
func (a *Anonymizer) AnonymizeStudy(ctx context.Context, runID string, files []models.FileRecord, policy models.AnonymizationPolicy, opts Options) (*Result, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	cache := opts.Cache
	if cache == nil {
		cache = NewIdentifierCache(runID)
	}
	if err := cache.Seed(models.FieldPatientID, opts.PatientIDMap); err != nil {
		return nil, err
	}
	if opts.PinnedPatientID != "" {
		var originals []string
		for _, f := range files {
			if f.Metadata != nil && f.Metadata.PatientID != "" {
				if _, mapped := opts.PatientIDMap[f.Metadata.PatientID]; !mapped {
					originals = append(originals, f.Metadata.PatientID)
				}
			}
		}
		if err := cache.Pin(models.FieldPatientID, opts.PinnedPatientID, originals...); err != nil {
			return nil, err
		}
	}

	token := newRunToken(a.now())
	r, err := newRun(policy, cache, token, a.jitter)
	if err != nil {
		return nil, err
	}

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	started := time.Now()
	total := len(files)
	logger := a.logger.With().Str("run_id", runID).Int("files", total).Logger()
	logger.Info().Str("profile", string(policy.Profile)).Int("concurrency", concurrency).Msg("Anonymization started")

	var (
		mu        sync.Mutex
		completed int
		failures  []error
		done      = make([]bool, total)
		out       = make([]models.FileRecord, total)
	)
	emit := func(current string) {
		if opts.OnProgress != nil {
			opts.OnProgress(models.Progress{
				Total:       total,
				Completed:   completed,
				Percentage:  models.Percent(completed, total),
				CurrentFile: current,
			})
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i := range files {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			f := files[i]

			mu.Lock()
			emit(f.FileName)
			mu.Unlock()

			updated, err := a.anonymizeFile(gctx, r, f)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				metrics.FilesAnonymized.WithLabelValues(metrics.OutcomeFailure).Inc()
				logger.Warn().Err(err).Str("file", f.FileName).Msg("File anonymization failed")
				failures = append(failures, err)
				emit(f.FileName)
				if opts.Mode == models.FailFast {
					return err
				}
				return nil
			}

			metrics.FilesAnonymized.WithLabelValues(metrics.OutcomeSuccess).Inc()
			out[i] = updated
			done[i] = true
			completed++
			emit(f.FileName)
			return nil
		})
	}
	waitErr := g.Wait()

	result := &Result{Total: total, Completed: completed, Token: token.token}
	for i := range out {
		if done[i] {
			result.Files = append(result.Files, out[i])
		}
	}

	metrics.RunDuration.WithLabelValues(models.AuditActionAnonymize).Observe(time.Since(started).Seconds())
	logger.Info().
		Int("completed", completed).
		Int("failed", len(failures)).
		Dur("duration", time.Since(started)).
		Msg("Anonymization finished")

	if waitErr != nil {
		return result, waitErr
	}
	if ctx.Err() != nil {
		return result, &models.Error{Kind: models.KindCancelled, Message: "anonymization cancelled", Err: ctx.Err()}
	}
	if len(failures) > 0 {
		return result, &models.BatchError{
			Operation: "anonymize",
			Attempted: total,
			Succeeded: completed,
			Failures:  failures,
		}
	}
	return result, nil
}

// anonymizeFile runs read, deidentify, write and re-parse for one file
func (a *Anonymizer) anonymizeFile(ctx context.Context, r *run, f models.FileRecord) (models.FileRecord, error) {
	if f.Metadata == nil {
		return f, &models.Error{Kind: models.KindMetadataMissing, FileName: f.FileName, Message: "file has not been parsed"}
	}

	ref := f.BinaryRef
	if ref == "" {
		ref = f.ID
	}

	data, err := a.store.Load(ctx, ref)
	if err != nil {
		return f, models.NewError(models.KindStorage, f.FileName, fmt.Errorf("failed to load bytes: %w", err))
	}

	anonymized, err := a.deid.Deidentify(data, r.profile(f.Metadata))
	if err != nil {
		return f, models.NewError(models.KindAnonymization, f.FileName, err)
	}

	meta, err := dicomio.ParseMetadata(anonymized)
	if err != nil {
		return f, models.NewError(models.KindAnonymization, f.FileName, fmt.Errorf("output not re-parseable: %w", err))
	}

	if err := a.store.Save(ctx, ref, anonymized); err != nil {
		return f, models.NewError(models.KindStorage, f.FileName, fmt.Errorf("failed to save bytes: %w", err))
	}

	f.BinaryRef = ref
	f.Metadata = meta
	f.FileSizeBytes = int64(len(anonymized))
	f.Anonymized = true
	return f, nil
}
