package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"taxdesk/pkg/domain"
	"taxdesk/pkg/errors"
	"taxdesk/pkg/logger"
	"taxdesk/pkg/validator"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// ClientStore is implemented by postgres.ClientRepository.
type ClientStore interface {
	GetWithDocuments(ctx context.Context, id uuid.UUID) (*domain.Client, error)
	Update(ctx context.Context, c *domain.Client) error
}

type ClientHandler struct {
	clients   ClientStore
	validator *validator.Validator
	logger    logger.Logger
}

func NewClientHandler(clients ClientStore, log logger.Logger) *ClientHandler {
	return &ClientHandler{
		clients:   clients,
		validator: validator.New(),
		logger:    log,
	}
}

func (h *ClientHandler) Register(api *mux.Router) {
	api.HandleFunc("/clients/{id}", h.GetClient).Methods("GET")
	api.HandleFunc("/clients/{id}/tax-periods", h.UpdateTaxPeriods).Methods("PUT")
}

func (h *ClientHandler) GetClient(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid client id")
		return
	}
	c, err := h.clients.GetWithDocuments(r.Context(), id)
	if err != nil {
		handleError(w, h.logger, err, "get_client")
		return
	}
	respondJSON(w, http.StatusOK, c)
}

type taxPeriodInput struct {
	StartDate string `json:"startDate" validate:"required,isodate"`
	EndDate   string `json:"endDate" validate:"required,isodate"`
}

type updateTaxPeriodsRequest struct {
	// Version, when set, must match the stored client version.
	Version    *int             `json:"version"`
	TaxPeriods []taxPeriodInput `json:"taxPeriods" validate:"dive"`
}

func (h *ClientHandler) UpdateTaxPeriods(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid client id")
		return
	}

	var req updateTaxPeriodsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if errs := h.validator.ValidateStructured(req); errs != nil {
		respondValidationErrors(w, errs)
		return
	}

	periods := make([]domain.TaxPeriod, len(req.TaxPeriods))
	for i, p := range req.TaxPeriods {
		start, err1 := domain.ParseDate(strings.TrimSpace(p.StartDate))
		end, err2 := domain.ParseDate(strings.TrimSpace(p.EndDate))
		if err1 != nil || err2 != nil {
			respondValidationErrors(w, map[string]string{"taxPeriods": "Must be a date in YYYY-MM-DD format"})
			return
		}
		periods[i] = domain.TaxPeriod{StartDate: start, EndDate: end}
	}
	if err := domain.ValidateTaxPeriods(periods); err != nil {
		respondValidationErrors(w, map[string]string{"taxPeriods": err.Error()})
		return
	}

	c, err := h.clients.GetWithDocuments(r.Context(), id)
	if err != nil {
		handleError(w, h.logger, err, "update_tax_periods")
		return
	}
	if req.Version != nil && *req.Version != c.Version {
		handleError(w, h.logger, errors.ErrVersionConflict, "update_tax_periods")
		return
	}

	c.BusinessInfo.VATTaxPeriods = domain.SortedTaxPeriods(periods)
	if err := h.clients.Update(r.Context(), c); err != nil {
		handleError(w, h.logger, err, "update_tax_periods")
		return
	}

	h.logger.Info("Tax periods updated", map[string]interface{}{
		"client_id": id.String(),
		"periods":   len(periods),
		"version":   c.Version,
	})
	respondJSON(w, http.StatusOK, c)
}
