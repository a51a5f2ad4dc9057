package handler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"taxdesk/internal/compliance"
	"taxdesk/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// ComplianceService is implemented by compliance.Service.
type ComplianceService interface {
	ClientReport(ctx context.Context, clientID uuid.UUID) (*compliance.Report, error)
	DueDates(ctx context.Context, clientID uuid.UUID) (*compliance.DueDates, error)
	Dashboard(ctx context.Context) ([]*compliance.Report, error)
}

// Exporter is implemented by export.Service.
type Exporter interface {
	ExportComplianceXLSX(ctx context.Context) ([]byte, error)
}

type ComplianceHandler struct {
	service  ComplianceService
	exporter Exporter
	logger   logger.Logger
}

func NewComplianceHandler(service ComplianceService, exporter Exporter, log logger.Logger) *ComplianceHandler {
	return &ComplianceHandler{
		service:  service,
		exporter: exporter,
		logger:   log,
	}
}

// Register mounts the routes on an /api/v1 subrouter.
func (h *ComplianceHandler) Register(api *mux.Router) {
	api.HandleFunc("/clients/{id}/compliance", h.GetClientCompliance).Methods("GET")
	api.HandleFunc("/clients/{id}/due-dates", h.GetDueDates).Methods("GET")
	api.HandleFunc("/compliance/dashboard", h.GetDashboard).Methods("GET")
	api.HandleFunc("/compliance/export", h.ExportDashboard).Methods("GET")
}

func (h *ComplianceHandler) GetClientCompliance(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid client id")
		return
	}
	report, err := h.service.ClientReport(r.Context(), id)
	if err != nil {
		handleError(w, h.logger, err, "client_compliance")
		return
	}
	respondJSON(w, http.StatusOK, report)
}

func (h *ComplianceHandler) GetDueDates(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid client id")
		return
	}
	dd, err := h.service.DueDates(r.Context(), id)
	if err != nil {
		handleError(w, h.logger, err, "due_dates")
		return
	}
	respondJSON(w, http.StatusOK, dd)
}

func (h *ComplianceHandler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	reports, err := h.service.Dashboard(r.Context())
	if err != nil {
		handleError(w, h.logger, err, "dashboard")
		return
	}

	summary := map[compliance.Status]int{
		compliance.StatusCritical:  0,
		compliance.StatusWarning:   0,
		compliance.StatusCompliant: 0,
	}
	for _, rep := range reports {
		summary[rep.Status]++
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"clients": reports,
		"summary": summary,
		"total":   len(reports),
	})
}

func (h *ComplianceHandler) ExportDashboard(w http.ResponseWriter, r *http.Request) {
	data, err := h.exporter.ExportComplianceXLSX(r.Context())
	if err != nil {
		handleError(w, h.logger, err, "export")
		return
	}
	name := fmt.Sprintf("compliance-%s.xlsx", time.Now().UTC().Format("2006-01-02"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
