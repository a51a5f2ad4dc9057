package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"taxdesk/internal/document"
	"taxdesk/internal/extraction"
	"taxdesk/pkg/domain"
	"taxdesk/pkg/errors"
	"taxdesk/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// DocumentService is implemented by document.Service.
type DocumentService interface {
	Upload(ctx context.Context, req document.UploadRequest) (*domain.Document, error)
	Process(ctx context.Context, id uuid.UUID) (*document.ProcessOutcome, error)
	Reprocess(ctx context.Context, id uuid.UUID) (*document.ProcessOutcome, error)
	Verify(ctx context.Context, id uuid.UUID) (*domain.Document, error)
	NameCheck(ctx context.Context, id uuid.UUID) (*extraction.NameReport, error)
	ApplyExtraction(ctx context.Context, id uuid.UUID, force bool) (*document.ApplyResult, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type DocumentHandler struct {
	service     DocumentService
	maxFileSize int64
	logger      logger.Logger
}

func NewDocumentHandler(service DocumentService, maxFileSize int64, log logger.Logger) *DocumentHandler {
	if maxFileSize <= 0 {
		maxFileSize = 10 << 20
	}
	return &DocumentHandler{
		service:     service,
		maxFileSize: maxFileSize,
		logger:      log,
	}
}

// Routes that start an extraction run, for rate limiting and idempotency.
type DocumentRoutes struct {
	// Runs wraps process and reprocess.
	Runs func(http.Handler) http.Handler
	// Uploads wraps the multipart upload.
	Uploads func(http.Handler) http.Handler
}

func passthrough(next http.Handler) http.Handler { return next }

// Register mounts the routes on an /api/v1 subrouter.
func (h *DocumentHandler) Register(api *mux.Router, mw DocumentRoutes) {
	if mw.Runs == nil {
		mw.Runs = passthrough
	}
	if mw.Uploads == nil {
		mw.Uploads = passthrough
	}
	api.Handle("/clients/{id}/documents", mw.Uploads(http.HandlerFunc(h.Upload))).Methods("POST")
	api.Handle("/documents/{id}/process", mw.Runs(http.HandlerFunc(h.Process))).Methods("POST")
	api.Handle("/documents/{id}/reprocess", mw.Runs(http.HandlerFunc(h.Reprocess))).Methods("POST")
	api.HandleFunc("/documents/{id}/verify", h.Verify).Methods("POST")
	api.HandleFunc("/documents/{id}/apply", h.Apply).Methods("POST")
	api.HandleFunc("/documents/{id}/name-check", h.NameCheck).Methods("GET")
	api.HandleFunc("/documents/{id}", h.Delete).Methods("DELETE")
}

func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	clientID, ok := pathID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid client id")
		return
	}
	if err := r.ParseMultipartForm(h.maxFileSize + 1<<20); err != nil {
		respondError(w, http.StatusBadRequest, "File too large or invalid form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "Missing document file")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.maxFileSize+1))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Failed to read document file")
		return
	}

	req := document.UploadRequest{
		ClientID: clientID,
		Category: domain.DocumentCategory(strings.ToUpper(strings.TrimSpace(r.FormValue("category")))),
		FileName: header.Filename,
		Data:     data,
	}
	if v := strings.TrimSpace(r.FormValue("assignedToPerson")); v != "" {
		pid, err := uuid.Parse(v)
		if err != nil {
			respondValidationErrors(w, map[string]string{"assignedToPerson": "Must be a UUID"})
			return
		}
		req.AssignedToPerson = &pid
	}

	doc, err := h.service.Upload(r.Context(), req)
	if err != nil {
		handleError(w, h.logger, err, "upload")
		return
	}
	respondJSON(w, http.StatusCreated, doc)
}

func (h *DocumentHandler) Process(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, "process", h.service.Process)
}

func (h *DocumentHandler) Reprocess(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, "reprocess", h.service.Reprocess)
}

func (h *DocumentHandler) run(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, uuid.UUID) (*document.ProcessOutcome, error)) {
	id, ok := pathID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid document id")
		return
	}
	out, err := fn(r.Context(), id)
	if err != nil {
		handleError(w, h.logger, err, op)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *DocumentHandler) Verify(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid document id")
		return
	}
	doc, err := h.service.Verify(r.Context(), id)
	if err != nil {
		handleError(w, h.logger, err, "verify")
		return
	}
	respondJSON(w, http.StatusOK, doc)
}

func (h *DocumentHandler) NameCheck(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid document id")
		return
	}
	report, err := h.service.NameCheck(r.Context(), id)
	if err != nil {
		handleError(w, h.logger, err, "name_check")
		return
	}
	respondJSON(w, http.StatusOK, report)
}

type applyRequest struct {
	Force bool `json:"force"`
}

func (h *DocumentHandler) Apply(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid document id")
		return
	}
	var req applyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := h.service.ApplyExtraction(r.Context(), id, req.Force)
	if err != nil {
		handleError(w, h.logger, err, "apply")
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (h *DocumentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid document id")
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		handleError(w, h.logger, err, "delete")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
