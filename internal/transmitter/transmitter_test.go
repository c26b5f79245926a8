package transmitter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/otcheredev/ris-dicom-relay/internal/adapters"
	"github.com/otcheredev/ris-dicom-relay/internal/models"
	"github.com/otcheredev/ris-dicom-relay/internal/storage"
)

// testStudy builds a one-series study whose payloads are "payload <id>"
func testStudy(t *testing.T, store storage.BinaryStore, ids ...string) models.StudyNode {
	t.Helper()
	series := models.SeriesNode{SeriesInstanceUID: "1.2.1", Modality: "CT"}
	for i, id := range ids {
		if err := store.Save(context.Background(), id, []byte("payload "+id)); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
		series.Files = append(series.Files, models.FileRecord{
			ID:        id,
			FileName:  id + ".dcm",
			BinaryRef: id,
			Metadata: &models.DicomMetadata{
				StudyInstanceUID:  "1.2",
				SeriesInstanceUID: "1.2.1",
				SOPInstanceUID:    fmt.Sprintf("1.2.1.%d", i+1),
			},
		})
	}
	return models.StudyNode{StudyInstanceUID: "1.2", Series: []models.SeriesNode{series}}
}

// stowServer fails any request whose body contains one of the markers
func stowServer(t *testing.T, requests *atomic.Int32, failMarkers ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		body, _ := io.ReadAll(r.Body)
		for _, marker := range failMarkers {
			if bytes.Contains(body, []byte(marker)) {
				http.Error(w, "rejected", http.StatusInternalServerError)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestTransmitter(store storage.BinaryStore) *Transmitter {
	return New(store, adapters.NewAdapterFactory())
}

func TestSendStudyErrorIsolation(t *testing.T) {
	store := storage.NewMemoryBinaryStore(0)
	study := testStudy(t, store, "file-1", "file-2", "file-3")
	var requests atomic.Int32
	srv := stowServer(t, &requests, "file-2")
	tr := newTestTransmitter(store)

	var last models.Progress
	sent, err := tr.SendStudy(context.Background(), study, models.ServerConfig{URL: srv.URL}, SendOptions{
		Mode:       models.CollectAndContinue,
		OnProgress: func(p models.Progress) { last = p },
	})

	var batch *models.BatchError
	if !errors.As(err, &batch) {
		t.Fatalf("SendStudy() error = %v, want BatchError", err)
	}
	if batch.Attempted != 3 || batch.Succeeded != 2 || len(batch.Failures) != 1 {
		t.Errorf("batch = %+v", batch)
	}
	if !models.IsKind(err, models.KindNetwork) {
		t.Errorf("failure kind not NetworkFailure: %v", err)
	}
	var fileErr *models.Error
	if errors.As(batch.Failures[0], &fileErr) && fileErr.FileName != "file-2.dcm" {
		t.Errorf("failure file = %q, want file-2.dcm", fileErr.FileName)
	}

	if len(sent) != 2 || sent[0].ID != "file-1" || sent[1].ID != "file-3" {
		t.Fatalf("sent = %v, want file-1 and file-3", sent)
	}
	for _, f := range sent {
		if !f.Sent {
			t.Errorf("file %s not flagged sent", f.ID)
		}
	}
	if requests.Load() != 3 {
		t.Errorf("requests = %d, want 3", requests.Load())
	}

	state, ok := tr.State("1.2")
	if !ok {
		t.Fatal("State() not found")
	}
	if state.Status != models.TransmissionFailed || state.Completed != 2 || state.Failed != 1 || state.LastError == "" {
		t.Errorf("state = %+v", state)
	}
	if last.Completed != 2 || last.Percentage != 67 {
		t.Errorf("last progress = %+v", last)
	}
}

func TestSendStudySkipsInvalidFiles(t *testing.T) {
	store := storage.NewMemoryBinaryStore(0)
	study := testStudy(t, store, "good", "empty", "nouid")
	if err := store.Save(context.Background(), "empty", nil); err != nil {
		t.Fatal(err)
	}
	study.Series[0].Files[2].Metadata.SOPInstanceUID = ""

	var requests atomic.Int32
	srv := stowServer(t, &requests)
	tr := newTestTransmitter(store)

	var (
		mu      sync.Mutex
		skipped []string
	)
	sent, err := tr.SendStudy(context.Background(), study, models.ServerConfig{URL: srv.URL}, SendOptions{
		Concurrency: 3,
		OnSkip: func(f models.FileRecord, reason error) {
			mu.Lock()
			defer mu.Unlock()
			if !models.IsKind(reason, models.KindValidation) {
				t.Errorf("skip reason = %v, want ValidationFailure", reason)
			}
			skipped = append(skipped, f.ID)
		},
	})
	if err != nil {
		t.Fatalf("SendStudy() error = %v", err)
	}
	if len(sent) != 1 || sent[0].ID != "good" {
		t.Errorf("sent = %v, want only good", sent)
	}
	if len(skipped) != 2 {
		t.Errorf("skipped = %v, want 2 files", skipped)
	}
	if requests.Load() != 1 {
		t.Errorf("requests = %d, want 1", requests.Load())
	}

	state, _ := tr.State("1.2")
	if state.Status != models.TransmissionCompleted || state.Skipped != 2 || state.Completed != 1 {
		t.Errorf("state = %+v", state)
	}
	if state.Percentage != 100 {
		t.Errorf("Percentage = %d, want 100 once every sendable file is sent", state.Percentage)
	}
}

func TestSendStudyFailFast(t *testing.T) {
	store := storage.NewMemoryBinaryStore(0)
	study := testStudy(t, store, "file-1", "file-2", "file-3")
	var requests atomic.Int32
	srv := stowServer(t, &requests, "file-1")
	tr := newTestTransmitter(store)

	sent, err := tr.SendStudy(context.Background(), study, models.ServerConfig{URL: srv.URL}, SendOptions{
		Concurrency: 1,
		Mode:        models.FailFast,
	})
	if !models.IsKind(err, models.KindNetwork) {
		t.Fatalf("SendStudy() error = %v, want NetworkFailure", err)
	}
	var batch *models.BatchError
	if errors.As(err, &batch) {
		t.Error("fail-fast should return the file error, not a batch")
	}
	if len(sent) != 0 {
		t.Errorf("sent = %v, want none", sent)
	}
	if requests.Load() != 1 {
		t.Errorf("requests = %d, want 1", requests.Load())
	}
}

func TestSendStudyCancellation(t *testing.T) {
	store := storage.NewMemoryBinaryStore(0)
	study := testStudy(t, store, "file-1", "file-2", "file-3")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		requests  atomic.Int32
		cancelled atomic.Bool
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		io.Copy(io.Discard, r.Body)
		cancelled.Store(true)
		cancel()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tr := newTestTransmitter(store)
	_, err := tr.SendStudy(ctx, study, models.ServerConfig{URL: srv.URL}, SendOptions{
		Concurrency: 1,
		OnProgress: func(p models.Progress) {
			if cancelled.Load() {
				t.Errorf("progress after cancellation: %+v", p)
			}
		},
	})
	if !models.IsKind(err, models.KindCancelled) {
		t.Fatalf("SendStudy() error = %v, want Cancelled", err)
	}
	if requests.Load() != 1 {
		t.Errorf("requests = %d, want 1", requests.Load())
	}
	state, _ := tr.State("1.2")
	if state.Status != models.TransmissionCancelled {
		t.Errorf("status = %s, want cancelled", state.Status)
	}
}

type countingProvider struct {
	calls atomic.Int32
}

func (p *countingProvider) GetAdapter(config models.ServerConfig) (adapters.Adapter, error) {
	p.calls.Add(1)
	return nil, errors.New("unexpected adapter request")
}

func TestSendStudyEmpty(t *testing.T) {
	provider := &countingProvider{}
	tr := New(storage.NewMemoryBinaryStore(0), provider)

	sent, err := tr.SendStudy(context.Background(), models.StudyNode{StudyInstanceUID: "1.9"}, models.ServerConfig{URL: "http://unused"}, SendOptions{})
	if err != nil || len(sent) != 0 {
		t.Errorf("SendStudy() = %v, %v, want empty", sent, err)
	}
	if provider.calls.Load() != 0 {
		t.Error("empty study should not touch the network")
	}
	if _, ok := tr.State("1.9"); ok {
		t.Error("empty study should not create state")
	}
}

func TestStateLifecycle(t *testing.T) {
	store := storage.NewMemoryBinaryStore(0)
	study := testStudy(t, store, "file-1")
	var requests atomic.Int32
	srv := stowServer(t, &requests)
	tr := newTestTransmitter(store)

	if state, ok := tr.State("1.2"); ok || state.Status != models.TransmissionIdle {
		t.Errorf("State() before send = %+v, %v", state, ok)
	}
	if _, err := tr.SendStudy(context.Background(), study, models.ServerConfig{URL: srv.URL}, SendOptions{}); err != nil {
		t.Fatalf("SendStudy() error = %v", err)
	}
	if state, ok := tr.State("1.2"); !ok || state.Percentage != 100 {
		t.Errorf("State() after send = %+v, %v", state, ok)
	}
	tr.ClearState("1.2")
	if _, ok := tr.State("1.2"); ok {
		t.Error("ClearState() did not remove state")
	}
}

func TestTestConnection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("limit") != "1" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Write([]byte(`[]`))
	}))
	tr := newTestTransmitter(storage.NewMemoryBinaryStore(0))

	if !tr.TestConnection(context.Background(), models.ServerConfig{URL: srv.URL}) {
		t.Error("TestConnection() = false for a healthy server")
	}

	downURL := srv.URL
	srv.Close()
	if tr.TestConnection(context.Background(), models.ServerConfig{URL: downURL, Headers: map[string]string{"X-Trace": "1"}}) {
		t.Error("TestConnection() = true for a closed server")
	}
	if tr.TestConnection(context.Background(), models.ServerConfig{URL: "ftp://nowhere"}) {
		t.Error("TestConnection() = true for an invalid config")
	}
}
