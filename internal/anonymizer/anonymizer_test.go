package anonymizer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/otcheredev/ris-dicom-relay/internal/dicomio"
	"github.com/otcheredev/ris-dicom-relay/internal/dicomio/fixture"
	"github.com/otcheredev/ris-dicom-relay/internal/models"
	"github.com/otcheredev/ris-dicom-relay/internal/storage"
	"github.com/suyashkumar/dicom/pkg/tag"
)

func seedFiles(t *testing.T, store storage.BinaryStore, instances []fixture.Instance) []models.FileRecord {
	t.Helper()
	var records []models.FileRecord
	for i, in := range instances {
		data := fixture.MustBuild(in)
		id := fmt.Sprintf("file-%02d", i)
		if err := store.Save(context.Background(), id, data); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
		meta, err := dicomio.ParseMetadata(data)
		if err != nil {
			t.Fatalf("ParseMetadata() error = %v", err)
		}
		records = append(records, models.FileRecord{
			ID:            id,
			FileName:      id + ".dcm",
			FileSizeBytes: int64(len(data)),
			Metadata:      meta,
			BinaryRef:     id,
		})
	}
	return records
}

func newTestAnonymizer(store storage.BinaryStore) *Anonymizer {
	a := New(store, dicomio.NewDeidentifier())
	a.jitter = func(int) int { return 3 }
	return a
}

func TestAnonymizeStudyScenario(t *testing.T) {
	store := storage.NewMemoryBinaryStore(0)
	files := seedFiles(t, store, fixture.Study("PID-1", "1.2.3.4", 3, 2))
	a := newTestAnonymizer(store)

	result, err := a.AnonymizeStudy(context.Background(), "run", files, models.DefaultPolicy(), Options{})
	if err != nil {
		t.Fatalf("AnonymizeStudy() error = %v", err)
	}
	if result.Total != 6 || result.Completed != 6 || len(result.Files) != 6 {
		t.Fatalf("result = total %d completed %d files %d, want 6", result.Total, result.Completed, len(result.Files))
	}

	patientID := result.Files[0].Metadata.PatientID
	studyUID := result.Files[0].Metadata.StudyInstanceUID
	if patientID == "" || patientID == "PID-1" {
		t.Errorf("PatientID = %q, want new pseudonym", patientID)
	}
	if studyUID == "1.2.3.4" {
		t.Error("StudyInstanceUID was not remapped")
	}

	series := make(map[string]bool)
	sops := make(map[string]bool)
	for i, f := range result.Files {
		if !f.Anonymized {
			t.Errorf("file %s not flagged anonymized", f.ID)
		}
		if f.ID != files[i].ID || f.BinaryRef != files[i].BinaryRef {
			t.Errorf("file %d identity changed: %s/%s", i, f.ID, f.BinaryRef)
		}
		if f.Metadata.PatientID != patientID {
			t.Errorf("file %s PatientID = %q, want shared %q", f.ID, f.Metadata.PatientID, patientID)
		}
		if f.Metadata.StudyInstanceUID != studyUID {
			t.Errorf("file %s StudyInstanceUID = %q, want shared %q", f.ID, f.Metadata.StudyInstanceUID, studyUID)
		}
		if f.Metadata.PatientName != models.DefaultAnonymizedName {
			t.Errorf("file %s PatientName = %q", f.ID, f.Metadata.PatientName)
		}
		series[f.Metadata.SeriesInstanceUID] = true
		sops[f.Metadata.SOPInstanceUID] = true

		stored, err := store.Load(context.Background(), f.BinaryRef)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if int64(len(stored)) != f.FileSizeBytes {
			t.Errorf("file %s size = %d, stored %d", f.ID, f.FileSizeBytes, len(stored))
		}
		ds, err := dicomio.ParseDataset(stored)
		if err != nil {
			t.Fatalf("stored bytes not re-parseable: %v", err)
		}
		if _, err := ds.FindElementByTag(tag.PatientAddress); err == nil {
			t.Errorf("file %s still carries PatientAddress", f.ID)
		}
	}
	if len(series) != 3 {
		t.Errorf("distinct series UIDs = %d, want 3", len(series))
	}
	if len(sops) != 6 {
		t.Errorf("distinct SOP UIDs = %d, want 6", len(sops))
	}
}

func TestAnonymizeStudyPatientIDMap(t *testing.T) {
	store := storage.NewMemoryBinaryStore(0)
	instances := append(fixture.Study("PID-A", "1.1", 1, 2), fixture.Study("PID-B", "1.2", 1, 1)...)
	files := seedFiles(t, store, instances)

	result, err := newTestAnonymizer(store).AnonymizeStudy(context.Background(), "run", files, models.DefaultPolicy(), Options{
		PatientIDMap: map[string]string{"PID-A": "RESEARCH-7"},
	})
	if err != nil {
		t.Fatalf("AnonymizeStudy() error = %v", err)
	}

	for _, f := range result.Files[:2] {
		if f.Metadata.PatientID != "RESEARCH-7" {
			t.Errorf("mapped PatientID = %q, want RESEARCH-7", f.Metadata.PatientID)
		}
	}
	if got := result.Files[2].Metadata.PatientID; got == "RESEARCH-7" || got == "PID-B" {
		t.Errorf("unmapped PatientID = %q, want fresh pseudonym", got)
	}
}

func TestAnonymizeStudySharedToken(t *testing.T) {
	store := storage.NewMemoryBinaryStore(0)
	files := seedFiles(t, store, fixture.Study("PID-1", "1.9", 1, 2))

	policy := models.DefaultPolicy()
	policy.Replacements[models.FieldAccessionNumber] = "ACA{token}"

	result, err := newTestAnonymizer(store).AnonymizeStudy(context.Background(), "run", files, policy, Options{Concurrency: 2})
	if err != nil {
		t.Fatalf("AnonymizeStudy() error = %v", err)
	}

	a, b := result.Files[0].Metadata.AccessionNumber, result.Files[1].Metadata.AccessionNumber
	if a != b {
		t.Errorf("accession numbers differ: %q vs %q", a, b)
	}
	if a != "ACA"+result.Token {
		t.Errorf("accession = %q, want ACA%s", a, result.Token)
	}
}

func TestAnonymizeStudyDateJitter(t *testing.T) {
	store := storage.NewMemoryBinaryStore(0)
	files := seedFiles(t, store, fixture.Study("PID-1", "1.5", 1, 1))

	result, err := newTestAnonymizer(store).AnonymizeStudy(context.Background(), "run", files, models.DefaultPolicy(), Options{})
	if err != nil {
		t.Fatalf("AnonymizeStudy() error = %v", err)
	}
	if got := result.Files[0].Metadata.StudyDate; got != "20240318" {
		t.Errorf("StudyDate = %q, want 20240318 (+3 days)", got)
	}

	policy := models.DefaultPolicy()
	policy.UseCustomHandlers = false
	files = seedFiles(t, store, fixture.Study("PID-1", "1.5", 1, 1))
	result, err = newTestAnonymizer(store).AnonymizeStudy(context.Background(), "run", files, policy, Options{})
	if err != nil {
		t.Fatalf("AnonymizeStudy() error = %v", err)
	}
	if got := result.Files[0].Metadata.StudyDate; got != "20240315" {
		t.Errorf("StudyDate without custom handlers = %q, want untouched", got)
	}
}

func TestAnonymizeStudyRemovalPatterns(t *testing.T) {
	store := storage.NewMemoryBinaryStore(0)
	policy := models.DefaultPolicy()
	policy.TagsToRemove = append(policy.TagsToRemove, "Modality", "contains:UID")

	files := seedFiles(t, store, fixture.Study("PID-1", "1.6", 1, 1))
	result, err := newTestAnonymizer(store).AnonymizeStudy(context.Background(), "run", files, policy, Options{})
	if err != nil {
		t.Fatalf("AnonymizeStudy() error = %v", err)
	}
	meta := result.Files[0].Metadata
	if meta.Modality != "" {
		t.Errorf("Modality = %q, want removed", meta.Modality)
	}
	if meta.SOPInstanceUID == "" || meta.StudyInstanceUID == "" {
		t.Error("instance UIDs must survive removal patterns")
	}
}

func TestAnonymizeStudyProgressMonotonic(t *testing.T) {
	for _, concurrency := range []int{1, 2, 3, 6} {
		t.Run(fmt.Sprintf("c=%d", concurrency), func(t *testing.T) {
			store := storage.NewMemoryBinaryStore(0)
			files := seedFiles(t, store, fixture.Study("PID-1", "1.2", 3, 2))

			var mu sync.Mutex
			var events []models.Progress
			_, err := newTestAnonymizer(store).AnonymizeStudy(context.Background(), "run", files, models.DefaultPolicy(), Options{
				Concurrency: concurrency,
				OnProgress: func(p models.Progress) {
					mu.Lock()
					events = append(events, p)
					mu.Unlock()
				},
			})
			if err != nil {
				t.Fatalf("AnonymizeStudy() error = %v", err)
			}

			if len(events) != 12 {
				t.Errorf("got %d progress events, want 12 (before and after each file)", len(events))
			}
			last := -1
			for _, e := range events {
				if e.Completed < last {
					t.Fatalf("completed went from %d to %d", last, e.Completed)
				}
				if e.Total != 6 || e.Percentage != models.Percent(e.Completed, 6) {
					t.Errorf("bad event %+v", e)
				}
				last = e.Completed
			}
			if last != 6 {
				t.Errorf("final completed = %d, want 6", last)
			}
		})
	}
}

func TestAnonymizeStudyCollectAndContinue(t *testing.T) {
	store := storage.NewMemoryBinaryStore(0)
	files := seedFiles(t, store, fixture.Study("PID-1", "1.3", 1, 3))
	if err := store.Delete(context.Background(), files[1].BinaryRef); err != nil {
		t.Fatal(err)
	}

	result, err := newTestAnonymizer(store).AnonymizeStudy(context.Background(), "run", files, models.DefaultPolicy(), Options{
		Mode: models.CollectAndContinue,
	})

	var batch *models.BatchError
	if !errors.As(err, &batch) {
		t.Fatalf("error = %v, want BatchError", err)
	}
	if batch.Attempted != 3 || batch.Succeeded != 2 || len(batch.Failures) != 1 {
		t.Errorf("tally = %d/%d with %d failures", batch.Succeeded, batch.Attempted, len(batch.Failures))
	}
	if !models.IsKind(err, models.KindStorage) {
		t.Errorf("error kind = %v, want StorageFailure", err)
	}
	var typed *models.Error
	if errors.As(batch.Failures[0], &typed) && typed.FileName != files[1].FileName {
		t.Errorf("failure file = %q, want %q", typed.FileName, files[1].FileName)
	}
	if result.Completed != 2 || len(result.Files) != 2 {
		t.Errorf("completed = %d files = %d, want 2", result.Completed, len(result.Files))
	}
}

func TestAnonymizeStudyFailFast(t *testing.T) {
	store := storage.NewMemoryBinaryStore(0)
	files := seedFiles(t, store, fixture.Study("PID-1", "1.3", 1, 4))
	if err := store.Delete(context.Background(), files[1].BinaryRef); err != nil {
		t.Fatal(err)
	}

	result, err := newTestAnonymizer(store).AnonymizeStudy(context.Background(), "run", files, models.DefaultPolicy(), Options{
		Mode:        models.FailFast,
		Concurrency: 1,
	})
	if !models.IsKind(err, models.KindStorage) {
		t.Fatalf("error = %v, want StorageFailure", err)
	}
	var batch *models.BatchError
	if errors.As(err, &batch) {
		t.Error("fail-fast should return the first failure, not a tally")
	}
	if result.Completed != 1 {
		t.Errorf("completed = %d, want 1 (dispatch stops after file 2)", result.Completed)
	}

	untouched, _ := store.Load(context.Background(), files[3].BinaryRef)
	meta, _ := dicomio.ParseMetadata(untouched)
	if meta.PatientID != "PID-1" {
		t.Error("file after the failure should not have been anonymized")
	}
}

func TestAnonymizeStudyMissingMetadata(t *testing.T) {
	store := storage.NewMemoryBinaryStore(0)
	files := seedFiles(t, store, fixture.Study("PID-1", "1.4", 1, 1))
	files[0].Metadata = nil

	_, err := newTestAnonymizer(store).AnonymizeStudy(context.Background(), "run", files, models.DefaultPolicy(), Options{Mode: models.FailFast})
	if !models.IsKind(err, models.KindMetadataMissing) {
		t.Errorf("error = %v, want ParseOrMetadataMissing", err)
	}
}

func TestAnonymizeStudyInvalidPolicyTouchesNothing(t *testing.T) {
	store := storage.NewMemoryBinaryStore(0)
	files := seedFiles(t, store, fixture.Study("PID-1", "1.4", 1, 2))
	before, _ := store.Load(context.Background(), files[0].BinaryRef)

	tests := []struct {
		name   string
		mutate func(*models.AnonymizationPolicy)
		opts   Options
	}{
		{name: "jitter out of range", mutate: func(p *models.AnonymizationPolicy) { p.DateJitterDays = 400 }},
		{name: "bad pattern", mutate: func(p *models.AnonymizationPolicy) { p.TagsToRemove = []string{"contains:"} }},
		{name: "unknown preserve tag", mutate: func(p *models.AnonymizationPolicy) { p.PreserveTags = []string{"NoSuchTag"} }},
		{name: "bad patient map", opts: Options{PatientIDMap: map[string]string{"PID-1": ""}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := models.DefaultPolicy()
			if tt.mutate != nil {
				tt.mutate(&policy)
			}
			calls := 0
			tt.opts.OnProgress = func(models.Progress) { calls++ }

			_, err := newTestAnonymizer(store).AnonymizeStudy(context.Background(), "run", files, policy, tt.opts)
			if !models.IsKind(err, models.KindConfigurationInvalid) {
				t.Fatalf("error = %v, want ConfigurationInvalid", err)
			}
			if calls != 0 {
				t.Errorf("progress fired %d times before config check", calls)
			}
		})
	}

	after, _ := store.Load(context.Background(), files[0].BinaryRef)
	if string(before) != string(after) {
		t.Error("bytes changed despite configuration error")
	}
}

func TestAnonymizeStudyPreserveTags(t *testing.T) {
	store := storage.NewMemoryBinaryStore(0)
	files := seedFiles(t, store, fixture.Study("PID-1", "1.8", 1, 1))

	policy := models.DefaultPolicy()
	policy.PreserveTags = []string{"PatientID"}
	result, err := newTestAnonymizer(store).AnonymizeStudy(context.Background(), "run", files, policy, Options{})
	if err != nil {
		t.Fatalf("AnonymizeStudy() error = %v", err)
	}
	if got := result.Files[0].Metadata.PatientID; got != "PID-1" {
		t.Errorf("preserved PatientID = %q, want PID-1", got)
	}
}

func TestAnonymizeStudyCancelled(t *testing.T) {
	store := storage.NewMemoryBinaryStore(0)
	files := seedFiles(t, store, fixture.Study("PID-1", "1.4", 1, 3))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := newTestAnonymizer(store).AnonymizeStudy(ctx, "run", files, models.DefaultPolicy(), Options{})
	if !models.IsKind(err, models.KindCancelled) {
		t.Fatalf("error = %v, want Cancelled", err)
	}
	if result.Completed != 0 {
		t.Errorf("completed = %d, want 0", result.Completed)
	}
}
