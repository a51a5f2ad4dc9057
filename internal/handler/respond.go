// Package handler exposes the HTTP API.
package handler

import (
	"encoding/json"
	"net/http"

	"taxdesk/internal/document"
	"taxdesk/pkg/errors"
	"taxdesk/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func respondValidationErrors(w http.ResponseWriter, errs map[string]string) {
	respondJSON(w, http.StatusBadRequest, map[string]interface{}{
		"error":             "Validation failed",
		"validation_errors": errs,
	})
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errors.ErrClientNotFound),
		errors.Is(err, errors.ErrDocumentNotFound),
		errors.Is(err, errors.ErrPersonNotFound),
		errors.Is(err, errors.ErrBlobNotFound):
		return http.StatusNotFound
	case errors.Is(err, errors.ErrDocumentBusy),
		errors.Is(err, errors.ErrNameConflict),
		errors.Is(err, errors.ErrVersionConflict),
		errors.Is(err, errors.ErrDuplicateRequest):
		return http.StatusConflict
	case errors.Is(err, errors.ErrDocumentNotReady),
		errors.Is(err, errors.ErrDocumentNotExtracted),
		errors.Is(err, errors.ErrUnsupportedCategory):
		return http.StatusUnprocessableEntity
	case errors.Is(err, errors.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errors.ErrFileTypeNotAllowed):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, errors.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, errors.ErrOracle),
		errors.Is(err, errors.ErrRasterization),
		errors.Is(err, errors.ErrTextExtraction):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// handleError logs and writes err. Server errors get a generic message.
func handleError(w http.ResponseWriter, log logger.Logger, err error, operation string) {
	status := statusFor(err)
	fields := map[string]interface{}{
		"operation": operation,
		"error":     err.Error(),
		"status":    status,
	}

	var conflict *document.NameConflictError
	if errors.As(err, &conflict) {
		log.Warn("Request rejected", fields)
		respondJSON(w, status, map[string]interface{}{
			"error":     err.Error(),
			"nameCheck": conflict.Report,
		})
		return
	}

	switch {
	case status == http.StatusBadGateway:
		log.Error("Upstream extraction failed", fields)
		respondError(w, status, err.Error())
	case status >= http.StatusInternalServerError:
		log.Error("Request failed", fields)
		respondError(w, status, "Internal server error")
	default:
		log.Warn("Request rejected", fields)
		respondError(w, status, err.Error())
	}
}

func pathID(r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)[name])
	return id, err == nil
}
