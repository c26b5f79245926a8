package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/otcheredev/ris-dicom-relay/internal/dicomio"
	"github.com/otcheredev/ris-dicom-relay/internal/dicomio/fixture"
	"github.com/otcheredev/ris-dicom-relay/internal/models"
	"github.com/otcheredev/ris-dicom-relay/internal/sharelink"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeStudy(t *testing.T, dir string, count int) {
	t.Helper()
	for i, inst := range fixture.Study("PID-1", "1.2.3.4", 1, count) {
		name := filepath.Join(dir, "img"+string(rune('a'+i))+".dcm")
		if err := os.WriteFile(name, fixture.MustBuild(inst), 0o600); err != nil {
			t.Fatal(err)
		}
	}
}

func TestRunExportsAndSends(t *testing.T) {
	in := t.TempDir()
	writeStudy(t, in, 3)
	os.WriteFile(filepath.Join(in, "notes.txt"), []byte("not dicom"), 0o600)
	os.WriteFile(filepath.Join(in, ".DS_Store"), []byte("junk"), 0o600)

	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	outDir := t.TempDir()
	out, err := execute(t, "run", in, "--out", outDir, "--send", "--server-url", srv.URL)
	if err != nil {
		t.Fatalf("run error = %v\n%s", err, out)
	}
	if !strings.Contains(out, "Ingested 4 files in 1 studies") || !strings.Contains(out, "Wrote 3 files") {
		t.Errorf("output = %s", out)
	}
	if requests.Load() != 3 {
		t.Errorf("requests = %d, want 3", requests.Load())
	}

	var exported []string
	filepath.WalkDir(outDir, func(p string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			exported = append(exported, p)
		}
		return nil
	})
	if len(exported) != 3 {
		t.Fatalf("exported = %v", exported)
	}
	data, _ := os.ReadFile(exported[0])
	meta, err := dicomio.ParseMetadata(data)
	if err != nil {
		t.Fatalf("ParseMetadata() error = %v", err)
	}
	if meta.PatientID == "PID-1" || meta.StudyInstanceUID == "1.2.3.4" {
		t.Errorf("exported file kept identifiers: %+v", meta)
	}
	if filepath.Base(filepath.Dir(exported[0])) != meta.StudyInstanceUID {
		t.Errorf("exported under %s, want study directory %s", exported[0], meta.StudyInstanceUID)
	}
}

func TestRunRejectsBadInput(t *testing.T) {
	empty := t.TempDir()
	if _, err := execute(t, "run", empty); err == nil {
		t.Error("run on an empty directory should fail")
	}

	in := t.TempDir()
	writeStudy(t, in, 1)
	if _, err := execute(t, "run", in, "--send"); !models.IsKind(err, models.KindConfigurationInvalid) {
		t.Errorf("run --send without server = %v, want ConfigurationInvalid", err)
	}

	policy := filepath.Join(t.TempDir(), "policy.json")
	os.WriteFile(policy, []byte(`{"profile":"paranoid"}`), 0o600)
	if _, err := execute(t, "run", in, "--policy", policy); !models.IsKind(err, models.KindConfigurationInvalid) {
		t.Errorf("run with bad policy = %v, want ConfigurationInvalid", err)
	}
}

func TestRunSendFailure(t *testing.T) {
	in := t.TempDir()
	writeStudy(t, in, 2)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	out, err := execute(t, "run", in, "--send", "--server-url", srv.URL)
	if err == nil {
		t.Fatalf("run should report the failed send\n%s", out)
	}
	if !strings.Contains(out, "send ") || !strings.Contains(out, string(models.AuditFailure)) {
		t.Errorf("output = %s", out)
	}
}

func TestTestConnection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	out, err := execute(t, "test-connection", "--server-url", srv.URL, "--token", "tok")
	if err != nil || !strings.Contains(out, "Connected to") {
		t.Errorf("test-connection = %q, %v", out, err)
	}
	if _, err := execute(t, "test-connection", "--server-url", srv.URL); err == nil {
		t.Error("test-connection without auth should fail")
	}
	if _, err := execute(t, "test-connection", "--server-url", srv.URL, "--token", "a", "--username", "b"); err == nil {
		t.Error("conflicting auth flags should fail")
	}
}

func TestShareEncodeDecode(t *testing.T) {
	link, err := execute(t, "share", "encode", "--name", "Trial", "--base", "https://relay.example/app",
		"--server-url", "https://pacs.example/dicom-web", "--username", "u", "--password", "p")
	if err != nil {
		t.Fatalf("share encode error = %v", err)
	}
	link = strings.TrimSpace(link)
	if !strings.HasPrefix(link, "https://relay.example/app?"+sharelink.Param+"=") {
		t.Fatalf("link = %s", link)
	}

	out, err := execute(t, "share", "decode", link)
	if err != nil {
		t.Fatalf("share decode error = %v", err)
	}
	var state sharelink.ProjectState
	if err := json.Unmarshal([]byte(out), &state); err != nil {
		t.Fatalf("decode output = %s", out)
	}
	if state.Name != "Trial" || state.ServerConfig == nil || state.ServerConfig.AuthType != models.AuthBasic || state.Policy == nil {
		t.Errorf("decoded = %+v", state)
	}

	param, err := execute(t, "share", "encode", "--name", "Bare")
	if err != nil || strings.Contains(param, "?") {
		t.Fatalf("bare encode = %q, %v", param, err)
	}
	out, err = execute(t, "share", "decode", strings.TrimSpace(param))
	if err != nil || !strings.Contains(out, `"Bare"`) {
		t.Errorf("bare decode = %q, %v", out, err)
	}
}
