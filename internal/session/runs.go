package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/otcheredev/ris-dicom-relay/internal/anonymizer"
	"github.com/otcheredev/ris-dicom-relay/internal/grouping"
	"github.com/otcheredev/ris-dicom-relay/internal/models"
	"github.com/otcheredev/ris-dicom-relay/internal/transmitter"
)

// AnonymizeSelected anonymizes each selected study in turn. A study's
// assigned patient id pins the pseudonym of every original patient id in
// it. Per-study errors are joined; an invalid policy fails before any
// study is touched.
func (c *Coordinator) AnonymizeSelected(ctx context.Context, studyUIDs []string, policy models.AnonymizationPolicy) ([]RunReport, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	var (
		reports []RunReport
		errs    []error
	)
	for _, uid := range studyUIDs {
		if ctx.Err() != nil {
			errs = append(errs, &models.Error{Kind: models.KindCancelled, Message: "anonymization cancelled", Err: ctx.Err()})
			break
		}
		report, err := c.anonymizeStudy(ctx, uid, policy)
		reports = append(reports, report)
		if err != nil {
			errs = append(errs, fmt.Errorf("study %s: %w", uid, err))
		}
	}
	return reports, errors.Join(errs...)
}

func (c *Coordinator) anonymizeStudy(ctx context.Context, uid string, policy models.AnonymizationPolicy) (RunReport, error) {
	report := RunReport{StudyUID: uid}

	c.mu.RLock()
	study, ok := grouping.Find(c.studies, uid)
	c.mu.RUnlock()
	if !ok {
		report.Status = models.AuditFailure
		report.Error = ErrUnknownStudy.Error()
		return report, ErrUnknownStudy
	}

	files := grouping.StudyFiles(study)

	runID := uuid.NewString()
	started := time.Now()
	result, err := c.anonymizer.AnonymizeStudy(ctx, runID, files, policy, anonymizer.Options{
		Concurrency:     c.cfg.AnonymizeConcurrency,
		Mode:            c.cfg.Mode,
		PinnedPatientID: study.AssignedPatientID,
		OnProgress: func(p models.Progress) {
			p.StudyUID = uid
			c.emit(Event{Type: EventProgress, Action: models.AuditActionAnonymize, StudyUID: uid, Progress: &p})
		},
	})

	report.Attempted = len(files)
	if result != nil {
		report.Succeeded = result.Completed
		c.mu.Lock()
		c.replaceFilesLocked(result.Files)
		if len(result.Files) > 0 && result.Files[0].Metadata != nil {
			report.NewStudyUID = result.Files[0].Metadata.StudyInstanceUID
			if summary, ok := c.assigned[uid]; ok && report.NewStudyUID != uid {
				summary.StudyInstanceUID = report.NewStudyUID
				c.assigned[report.NewStudyUID] = summary
			}
		}
		c.regroupLocked()
		c.mu.Unlock()
		c.persist(ctx)
	}

	report.Status = models.AuditStatusFor(report.Attempted, report.Succeeded)
	if err != nil {
		report.Error = err.Error()
	}

	c.audit(ctx, &models.AuditLog{
		RunID:        runID,
		Action:       models.AuditActionAnonymize,
		ResourceUID:  uid,
		Status:       report.Status,
		Attempted:    report.Attempted,
		Succeeded:    report.Succeeded,
		ErrorMessage: report.Error,
		Duration:     time.Since(started).Milliseconds(),
	})
	c.emit(Event{Type: EventRunFinished, Action: models.AuditActionAnonymize, StudyUID: uid, Status: report.Status, Message: report.Error})
	c.emit(Event{Type: EventStudiesChanged, StudyUID: report.NewStudyUID})

	return report, err
}

// SendSelected sends each selected study in turn and flips Sent on every
// file the server accepted. A study whose send completes cleanly has its
// transmission state cleared; failed or cancelled states stay queryable.
func (c *Coordinator) SendSelected(ctx context.Context, studyUIDs []string, server models.ServerConfig) ([]RunReport, error) {
	if err := server.Validate(); err != nil {
		return nil, err
	}

	var (
		reports []RunReport
		errs    []error
	)
	for _, uid := range studyUIDs {
		if ctx.Err() != nil {
			errs = append(errs, &models.Error{Kind: models.KindCancelled, Message: "transmission cancelled", Err: ctx.Err()})
			break
		}
		report, err := c.sendStudy(ctx, uid, server)
		reports = append(reports, report)
		if err != nil {
			errs = append(errs, fmt.Errorf("study %s: %w", uid, err))
		}
	}
	return reports, errors.Join(errs...)
}

func (c *Coordinator) sendStudy(ctx context.Context, uid string, server models.ServerConfig) (RunReport, error) {
	report := RunReport{StudyUID: uid}

	study, ok := c.Study(uid)
	if !ok {
		report.Status = models.AuditFailure
		report.Error = ErrUnknownStudy.Error()
		return report, ErrUnknownStudy
	}

	sctx, cancel := context.WithCancel(ctx)
	handle := &sendHandle{cancel: cancel}
	c.sendMu.Lock()
	if previous, running := c.sends[uid]; running {
		previous.cancel()
	}
	c.sends[uid] = handle
	c.sendMu.Unlock()
	defer func() {
		c.sendMu.Lock()
		if c.sends[uid] == handle {
			delete(c.sends, uid)
		}
		c.sendMu.Unlock()
		cancel()
	}()

	runID := uuid.NewString()
	started := time.Now()
	sent, err := c.transmitter.SendStudy(sctx, study, server, transmitter.SendOptions{
		Concurrency: c.cfg.SendConcurrency,
		Mode:        c.cfg.Mode,
		OnProgress: func(p models.Progress) {
			c.emit(Event{Type: EventProgress, Action: models.AuditActionSend, StudyUID: uid, Progress: &p})
		},
		OnSkip: func(f models.FileRecord, reason error) {
			report.Skipped++
			c.emit(Event{Type: EventSkip, Action: models.AuditActionSend, StudyUID: uid, FileName: f.FileName, Message: reason.Error()})
		},
	})

	if len(sent) > 0 {
		c.mu.Lock()
		c.replaceFilesLocked(sent)
		c.regroupLocked()
		c.mu.Unlock()
		c.persist(ctx)
	}

	report.Attempted = study.FileCount()
	report.Succeeded = len(sent)
	report.Status = models.AuditStatusFor(report.Attempted, report.Succeeded)
	if err != nil {
		report.Error = err.Error()
	}

	state, _ := c.transmitter.State(uid)
	c.audit(ctx, &models.AuditLog{
		RunID:        runID,
		Action:       models.AuditActionSend,
		ResourceUID:  uid,
		Status:       report.Status,
		Attempted:    report.Attempted,
		Succeeded:    report.Succeeded,
		ErrorMessage: report.Error,
		Duration:     time.Since(started).Milliseconds(),
	})
	c.emit(Event{Type: EventRunFinished, Action: models.AuditActionSend, StudyUID: uid, Status: string(state.Status), Message: report.Error})

	if err == nil {
		c.transmitter.ClearState(uid)
	}
	return report, err
}

// CancelSend cancels an in-flight send of the study. It reports whether a
// send was running.
func (c *Coordinator) CancelSend(uid string) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	handle, ok := c.sends[uid]
	if ok {
		handle.cancel()
		delete(c.sends, uid)
		c.logger.Info().Str("study_uid", uid).Msg("Send cancelled")
	}
	return ok
}

// TransmissionState returns the study's last transmission state
func (c *Coordinator) TransmissionState(uid string) (models.TransmissionState, bool) {
	return c.transmitter.State(uid)
}
