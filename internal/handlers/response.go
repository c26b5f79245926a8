package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/otcheredev/ris-dicom-relay/internal/models"
	"github.com/otcheredev/ris-dicom-relay/internal/session"
	"github.com/otcheredev/ris-dicom-relay/internal/sharelink"
	"github.com/otcheredev/ris-dicom-relay/internal/storage"
	"github.com/rs/zerolog/log"
)

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	resp := errorResponse{Error: err.Error()}
	var typed *models.Error
	if errors.As(err, &typed) {
		resp.Kind = string(typed.Kind)
	}
	writeJSON(w, statusFor(err), resp)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrUnknownStudy), errors.Is(err, session.ErrUnknownFile), errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, sharelink.ErrNoProject), models.IsKind(err, models.KindConfigurationInvalid):
		return http.StatusBadRequest
	case models.IsKind(err, models.KindValidation), models.IsKind(err, models.KindMetadataMissing):
		return http.StatusUnprocessableEntity
	case models.IsKind(err, models.KindNetwork):
		return http.StatusBadGateway
	case models.IsKind(err, models.KindCancelled):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return models.ConfigError("invalid request body: %v", err)
	}
	return nil
}
