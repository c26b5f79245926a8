// Package transmitter sends a study's files to a DICOMweb server over a
// bounded worker pool and tracks per-study transmission state.
package transmitter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/otcheredev/ris-dicom-relay/internal/adapters"
	"github.com/otcheredev/ris-dicom-relay/internal/grouping"
	"github.com/otcheredev/ris-dicom-relay/internal/metrics"
	"github.com/otcheredev/ris-dicom-relay/internal/models"
	"github.com/otcheredev/ris-dicom-relay/internal/storage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency is used when SendOptions.Concurrency is not positive
const DefaultConcurrency = 2

// AdapterProvider hands out adapters for a server configuration
type AdapterProvider interface {
	GetAdapter(config models.ServerConfig) (adapters.Adapter, error)
}

// SendOptions controls one SendStudy call
type SendOptions struct {
	Concurrency int
	Mode        models.FailureMode
	// OnProgress is called on every per-file change until the run ends or
	// is cancelled. Calls are serialized.
	OnProgress func(models.Progress)
	// OnSkip receives files excluded before sending, with a ValidationFailure
	OnSkip func(file models.FileRecord, reason error)
}

// Transmitter sends files held in a BinaryStore
type Transmitter struct {
	store    storage.BinaryStore
	adapters AdapterProvider
	logger   zerolog.Logger

	mu     sync.RWMutex
	states map[string]*models.TransmissionState
}

// New creates a new transmitter
func New(store storage.BinaryStore, provider AdapterProvider) *Transmitter {
	return &Transmitter{
		store:    store,
		adapters: provider,
		logger:   log.With().Str("component", "transmitter").Logger(),
		states:   make(map[string]*models.TransmissionState),
	}
}

// SendStudy stores every file of the study on the server and returns the
// files that were sent, in tree order, with Sent set. Invalid files are
// reported through OnSkip and never sent. Per-file send failures are
// collected into a BatchError unless Mode is FailFast.
func (t *Transmitter) SendStudy(ctx context.Context, study models.StudyNode, server models.ServerConfig, opts SendOptions) ([]models.FileRecord, error) {
	files := grouping.StudyFiles(study)
	if len(files) == 0 {
		return nil, nil
	}

	adapter, err := t.adapters.GetAdapter(server)
	if err != nil {
		return nil, err
	}
	storeURL := server.BaseURL() + "/studies"

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	studyUID := study.StudyInstanceUID
	total := len(files)
	state := &models.TransmissionState{
		StudyUID: studyUID,
		Total:    total,
		Status:   models.TransmissionSending,
	}
	t.mu.Lock()
	t.states[studyUID] = state
	t.mu.Unlock()

	metrics.SendsInFlight.Inc()
	defer metrics.SendsInFlight.Dec()

	started := time.Now()
	logger := t.logger.With().Str("study_uid", studyUID).Int("files", total).Logger()
	logger.Info().Str("url", storeURL).Int("concurrency", concurrency).Msg("Transmission started")

	var (
		runMu    sync.Mutex
		failures []error
		done     = make([]bool, total)
		out      = make([]models.FileRecord, total)
	)

	// update mutates the shared state and emits progress unless the caller
	// has cancelled the run. Callbacks run under runMu only, so they may
	// query State.
	update := func(fn func(s *models.TransmissionState), after func()) {
		runMu.Lock()
		defer runMu.Unlock()

		t.mu.Lock()
		fn(state)
		// skipped files never count against completion
		state.Percentage = models.Percent(state.Completed, state.Total-state.Skipped)
		snapshot := *state
		t.mu.Unlock()

		if after != nil {
			after()
		}
		if opts.OnProgress != nil && ctx.Err() == nil {
			opts.OnProgress(models.Progress{
				StudyUID:    studyUID,
				Total:       snapshot.Total,
				Completed:   snapshot.Completed,
				Percentage:  snapshot.Percentage,
				CurrentFile: snapshot.CurrentFile,
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
			update(func(s *models.TransmissionState) { s.CurrentFile = f.FileName }, nil)

			data, reason := t.prepare(gctx, f)
			if reason != nil {
				if !models.IsKind(reason, models.KindValidation) {
					return t.fail(&failures, update, opts.Mode, reason, logger)
				}
				metrics.FilesSent.WithLabelValues(metrics.OutcomeSkipped).Inc()
				logger.Warn().Err(reason).Str("file", f.FileName).Msg("File skipped")
				update(func(s *models.TransmissionState) { s.Skipped++ }, func() {
					if opts.OnSkip != nil {
						opts.OnSkip(f, reason)
					}
				})
				return nil
			}

			_, err := adapter.StoreInstances(gctx, studyUID, adapters.Instance{Name: f.FileName, Data: data})
			if err != nil {
				netErr := &models.Error{Kind: models.KindNetwork, FileName: f.FileName, URL: storeURL, Err: err}
				return t.fail(&failures, update, opts.Mode, netErr, logger)
			}

			metrics.FilesSent.WithLabelValues(metrics.OutcomeSuccess).Inc()
			f.Sent = true
			update(func(s *models.TransmissionState) {
				out[i] = f
				done[i] = true
				s.Completed++
			}, nil)
			return nil
		})
	}
	waitErr := g.Wait()

	var sent []models.FileRecord
	for i := range out {
		if done[i] {
			sent = append(sent, out[i])
		}
	}

	t.mu.Lock()
	var result error
	switch {
	case ctx.Err() != nil:
		state.Status = models.TransmissionCancelled
		state.LastError = "transmission cancelled"
		result = &models.Error{Kind: models.KindCancelled, URL: storeURL, Message: "transmission cancelled", Err: ctx.Err()}
	case waitErr != nil:
		state.Status = models.TransmissionFailed
		state.LastError = waitErr.Error()
		result = waitErr
	case len(failures) > 0:
		state.Status = models.TransmissionFailed
		state.LastError = failures[len(failures)-1].Error()
		result = &models.BatchError{
			Operation: "send",
			Attempted: total - state.Skipped,
			Succeeded: state.Completed,
			Failures:  failures,
		}
	default:
		state.Status = models.TransmissionCompleted
	}
	state.CurrentFile = ""
	snapshot := *state
	t.mu.Unlock()

	metrics.RunDuration.WithLabelValues(models.AuditActionSend).Observe(time.Since(started).Seconds())
	logger.Info().
		Str("status", string(snapshot.Status)).
		Int("completed", snapshot.Completed).
		Int("failed", snapshot.Failed).
		Int("skipped", snapshot.Skipped).
		Dur("duration", time.Since(started)).
		Msg("Transmission finished")

	return sent, result
}

// prepare loads and validates one file. Validation problems come back as
// ValidationFailure errors; storage problems as StorageFailure.
func (t *Transmitter) prepare(ctx context.Context, f models.FileRecord) ([]byte, error) {
	if f.Metadata == nil || f.Metadata.SOPInstanceUID == "" {
		return nil, &models.Error{Kind: models.KindValidation, FileName: f.FileName, Message: "missing SOP instance UID"}
	}

	ref := f.BinaryRef
	if ref == "" {
		ref = f.ID
	}
	data, err := t.store.Load(ctx, ref)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, &models.Error{Kind: models.KindValidation, FileName: f.FileName, Message: "no bytes stored"}
	}
	if err != nil {
		return nil, models.NewError(models.KindStorage, f.FileName, fmt.Errorf("failed to load bytes: %w", err))
	}
	if len(data) == 0 {
		return nil, &models.Error{Kind: models.KindValidation, FileName: f.FileName, Message: "empty payload"}
	}
	return data, nil
}

func (t *Transmitter) fail(failures *[]error, update func(func(*models.TransmissionState), func()), mode models.FailureMode, err error, logger zerolog.Logger) error {
	metrics.FilesSent.WithLabelValues(metrics.OutcomeFailure).Inc()
	logger.Warn().Err(err).Msg("File transmission failed")
	update(func(s *models.TransmissionState) {
		*failures = append(*failures, err)
		s.Failed++
		s.LastError = err.Error()
	}, nil)
	if mode == models.FailFast {
		return err
	}
	return nil
}

// State returns a copy of the study's transmission state
func (t *Transmitter) State(studyUID string) (models.TransmissionState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	state, ok := t.states[studyUID]
	if !ok {
		return models.TransmissionState{StudyUID: studyUID, Status: models.TransmissionIdle}, false
	}
	return *state, true
}

// States returns copies of every tracked transmission state
func (t *Transmitter) States() []models.TransmissionState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	states := make([]models.TransmissionState, 0, len(t.states))
	for _, s := range t.states {
		states = append(states, *s)
	}
	return states
}

// ClearState forgets the study's transmission state
func (t *Transmitter) ClearState(studyUID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.states, studyUID)
}

// TestConnection reports whether the server answers a one-result study
// query. Failures are logged, never returned.
func (t *Transmitter) TestConnection(ctx context.Context, server models.ServerConfig) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error().Interface("panic", r).Msg("Connection test panicked")
			ok = false
		}
	}()

	adapter, err := t.adapters.GetAdapter(server)
	if err != nil {
		t.logger.Warn().Err(err).Msg("Connection test rejected configuration")
		return false
	}

	status, err := adapter.TestConnection(ctx)
	if err != nil {
		t.logger.Warn().Err(err).Str("url", server.BaseURL()).Msg("Connection test failed")
		return false
	}
	t.logger.Debug().Int64("response_time_ms", status.ResponseTime).Msg("Connection test succeeded")
	return status.IsConnected
}
