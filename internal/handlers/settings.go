package handlers

import (
	"net/http"

	"github.com/otcheredev/ris-dicom-relay/internal/models"
	"github.com/otcheredev/ris-dicom-relay/internal/services"
	"github.com/otcheredev/ris-dicom-relay/internal/sharelink"
	"github.com/rs/zerolog/log"
)

type SettingsHandler struct {
	relay     *services.RelayService
	publicURL string
}

func NewSettingsHandler(relay *services.RelayService, publicURL string) *SettingsHandler {
	return &SettingsHandler{
		relay:     relay,
		publicURL: publicURL,
	}
}

type shareRequest struct {
	Name    string `json:"name,omitempty"`
	BaseURL string `json:"baseUrl,omitempty"`
}

type shareResponse struct {
	URL     string                  `json:"url"`
	Project *sharelink.ProjectState `json:"project"`
}

type loadProjectRequest struct {
	Link string `json:"link"`
}

type loadProjectResponse struct {
	Project *sharelink.ProjectState `json:"project"`
	URL     string                  `json:"url,omitempty"`
}

// GetServer returns the saved DICOMweb destination
func (h *SettingsHandler) GetServer(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.relay.Session().ServerConfig(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if cfg == nil {
		http.Error(w, "No server configured", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// PutServer saves the DICOMweb destination
func (h *SettingsHandler) PutServer(w http.ResponseWriter, r *http.Request) {
	var cfg models.ServerConfig
	if err := decodeJSON(r, &cfg); err != nil {
		writeError(w, err)
		return
	}
	if err := h.relay.Session().SaveServerConfig(r.Context(), cfg); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// TestServer checks the posted server, or the saved one for an empty body
func (h *SettingsHandler) TestServer(w http.ResponseWriter, r *http.Request) {
	var cfg *models.ServerConfig
	if r.ContentLength != 0 {
		cfg = &models.ServerConfig{}
		if err := decodeJSON(r, cfg); err != nil {
			writeError(w, err)
			return
		}
	}

	status, err := h.relay.TestConnection(r.Context(), cfg)
	if err != nil {
		writeError(w, err)
		return
	}
	if !status.IsConnected {
		log.Warn().Str("error", status.ErrorMessage).Msg("Connection test failed")
	}
	writeJSON(w, http.StatusOK, status)
}

// GetPolicy returns the saved anonymization policy
func (h *SettingsHandler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	policy, err := h.relay.Session().Policy(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, policy)
}

// PutPolicy saves the anonymization policy
func (h *SettingsHandler) PutPolicy(w http.ResponseWriter, r *http.Request) {
	var policy models.AnonymizationPolicy
	if err := decodeJSON(r, &policy); err != nil {
		writeError(w, err)
		return
	}
	if err := h.relay.Session().SavePolicy(r.Context(), policy); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, policy)
}

// Share encodes the saved settings into a project link
func (h *SettingsHandler) Share(w http.ResponseWriter, r *http.Request) {
	var req shareRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, err)
			return
		}
	}
	base := req.BaseURL
	if base == "" {
		base = h.publicURL
	}
	if base == "" {
		http.Error(w, "baseUrl is required", http.StatusBadRequest)
		return
	}

	link, state, err := h.relay.ShareProject(r.Context(), base, req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, shareResponse{URL: link, Project: state})
}

// LoadProject applies the settings carried by a project link
func (h *SettingsHandler) LoadProject(w http.ResponseWriter, r *http.Request) {
	var req loadProjectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	state, stripped, err := h.relay.LoadProject(r.Context(), req.Link)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loadProjectResponse{Project: state, URL: stripped})
}
