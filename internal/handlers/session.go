package handlers

import (
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/otcheredev/ris-dicom-relay/internal/models"
	"github.com/otcheredev/ris-dicom-relay/internal/services"
	"github.com/otcheredev/ris-dicom-relay/internal/session"
	"github.com/rs/zerolog/log"
)

// uploadField is the multipart field carrying files
const uploadField = "files"

type SessionHandler struct {
	relay          *services.RelayService
	maxUploadBytes int64
}

func NewSessionHandler(relay *services.RelayService, maxUploadBytes int64) *SessionHandler {
	return &SessionHandler{
		relay:          relay,
		maxUploadBytes: maxUploadBytes,
	}
}

type ingestResponse struct {
	Files []models.FileRecord `json:"files"`
	Error string              `json:"error,omitempty"`
}

type runRequest struct {
	StudyUIDs []string                    `json:"studyUids"`
	Policy    *models.AnonymizationPolicy `json:"policy,omitempty"`
	Server    *models.ServerConfig        `json:"server,omitempty"`
}

type runResponse struct {
	Reports []session.RunReport `json:"reports"`
	Error   string              `json:"error,omitempty"`
}

type assignRequest struct {
	AssignedPatientID string            `json:"assignedPatientId"`
	CustomFields      map[string]string `json:"customFields,omitempty"`
}

// Upload ingests multipart files; ZIP archives are expanded
func (h *SessionHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if h.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "Invalid multipart upload", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	var uploads []session.Upload
	for _, header := range r.MultipartForm.File[uploadField] {
		f, err := header.Open()
		if err != nil {
			http.Error(w, "Failed to read upload", http.StatusBadRequest)
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			http.Error(w, "Failed to read upload", http.StatusBadRequest)
			return
		}
		uploads = append(uploads, session.Upload{Name: header.Filename, Data: data})
	}
	if len(uploads) == 0 {
		http.Error(w, "No files in upload", http.StatusBadRequest)
		return
	}

	added, err := h.relay.Session().Ingest(r.Context(), uploads)
	resp := ingestResponse{Files: added}
	if err != nil {
		log.Warn().Err(err).Msg("Upload partially failed")
		resp.Error = err.Error()
	}
	if resp.Files == nil {
		resp.Files = []models.FileRecord{}
	}
	writeJSON(w, http.StatusCreated, resp)
}

// ListFiles returns the flat file list
func (h *SessionHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	files := h.relay.Session().Files()
	if files == nil {
		files = []models.FileRecord{}
	}
	writeJSON(w, http.StatusOK, files)
}

// FileContent streams a file's current payload
func (h *SessionHandler) FileContent(w http.ResponseWriter, r *http.Request) {
	data, record, err := h.relay.Session().LoadBytes(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/dicom")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Disposition", `attachment; filename="`+record.FileName+`"`)
	w.Write(data)
}

// ListStudies returns the study tree
func (h *SessionHandler) ListStudies(w http.ResponseWriter, r *http.Request) {
	studies := h.relay.Session().Studies()
	if studies == nil {
		studies = []models.StudyNode{}
	}
	writeJSON(w, http.StatusOK, studies)
}

// AssignStudy sets the study's assigned patient id and custom fields
func (h *SessionHandler) AssignStudy(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	uid := chi.URLParam(r, "studyUID")
	if err := h.relay.Session().AssignStudy(r.Context(), uid, req.AssignedPatientID, req.CustomFields); err != nil {
		writeError(w, err)
		return
	}
	study, _ := h.relay.Session().Study(uid)
	writeJSON(w, http.StatusOK, study)
}

// Anonymize runs anonymization over the selected studies
func (h *SessionHandler) Anonymize(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	reports, err := h.relay.Anonymize(r.Context(), req.StudyUIDs, req.Policy)
	h.writeRun(w, reports, err)
}

// Send transmits the selected studies
func (h *SessionHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	reports, err := h.relay.Send(r.Context(), req.StudyUIDs, req.Server)
	h.writeRun(w, reports, err)
}

func (h *SessionHandler) writeRun(w http.ResponseWriter, reports []session.RunReport, err error) {
	if err != nil && len(reports) == 0 {
		writeError(w, err)
		return
	}
	resp := runResponse{Reports: reports}
	if err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// TransmissionState returns the study's last transmission state
func (h *SessionHandler) TransmissionState(w http.ResponseWriter, r *http.Request) {
	state, _ := h.relay.Session().TransmissionState(chi.URLParam(r, "studyUID"))
	writeJSON(w, http.StatusOK, state)
}

// CancelSend cancels the study's in-flight send
func (h *SessionHandler) CancelSend(w http.ResponseWriter, r *http.Request) {
	if !h.relay.Session().CancelSend(chi.URLParam(r, "studyUID")) {
		http.Error(w, "No send in progress", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// Clear empties the session and both stores
func (h *SessionHandler) Clear(w http.ResponseWriter, r *http.Request) {
	h.relay.Session().ClearAll(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// StorageUsage reports the binary store's usage
func (h *SessionHandler) StorageUsage(w http.ResponseWriter, r *http.Request) {
	usage, err := h.relay.StorageUsage(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, usage)
}

// AuditLog lists recorded runs
func (h *SessionHandler) AuditLog(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	logs, err := h.relay.AuditLog(r.Context(), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}
