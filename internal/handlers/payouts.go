package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"marketplace-system/internal/logger"
	"marketplace-system/internal/models"
)

// PayoutHandler обрабатывает выплаты продавцам.
type PayoutHandler struct {
	payoutService PayoutService
	log           *logger.Logger
}

// NewPayoutHandler создаёт новый обработчик выплат.
func NewPayoutHandler(payoutService PayoutService, log *logger.Logger) *PayoutHandler {
	return &PayoutHandler{
		payoutService: payoutService,
		log:           log,
	}
}

// RequestPayout инициирует выплату продавцу.
func (h *PayoutHandler) RequestPayout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req models.RequestPayoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	payout, err := h.payoutService.RequestPayout(r.Context(), &req)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to request payout")
		return
	}

	writeJSONResponse(w, http.StatusCreated, payout)
}

// GetPayout возвращает выплату по идентификатору.
func (h *PayoutHandler) GetPayout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	id, err := extractPathParam(r.URL.Path, "/api/payouts/")
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	payout, err := h.payoutService.GetPayout(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to get payout")
		return
	}

	writeJSONResponse(w, http.StatusOK, payout)
}

// GetVendorBalance возвращает баланс продавца.
func (h *PayoutHandler) GetVendorBalance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	vendorID, err := extractPathParam(r.URL.Path, "/api/vendors/")
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	if !strings.HasSuffix(r.URL.Path, "/balance") {
		writeErrorResponse(w, http.StatusNotFound, "Not found")
		return
	}

	balance, err := h.payoutService.GetVendorBalance(r.Context(), vendorID)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to get vendor balance")
		return
	}

	writeJSONResponse(w, http.StatusOK, balance)
}
