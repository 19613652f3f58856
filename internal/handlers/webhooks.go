package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"marketplace-system/internal/logger"
	"marketplace-system/internal/models"
)

// maxWebhookBody ограничивает размер тела вебхука.
const maxWebhookBody = 1 << 20 // 1 MiB

// WebhookHandler принимает события платёжного провайдера.
type WebhookHandler struct {
	reconciler EventReconciler
	verifier   SignatureVerifier
	log        *logger.Logger
}

// NewWebhookHandler создаёт новый обработчик вебхуков.
func NewWebhookHandler(reconciler EventReconciler, verifier SignatureVerifier, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{
		reconciler: reconciler,
		verifier:   verifier,
		log:        log,
	}
}

// HandleProviderWebhook проверяет подпись и передаёт событие на обработку.
// Непройденная подпись — жёсткий 400 без каких-либо изменений состояния.
// Внутренняя ошибка — 500, чтобы провайдер повторил доставку.
func (h *WebhookHandler) HandleProviderWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	signature := r.Header.Get("X-Provider-Signature")
	if err := h.verifier.Verify(payload, signature); err != nil {
		h.log.WithError(err).Warn("webhook signature verification failed")
		writeErrorResponse(w, http.StatusBadRequest, "invalid signature")
		return
	}

	var event models.ProviderEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid event payload")
		return
	}
	if event.ID == "" || event.Type == "" {
		writeErrorResponse(w, http.StatusBadRequest, "event id and type are required")
		return
	}

	if err := h.reconciler.HandleEvent(r.Context(), &event); err != nil {
		h.log.WithError(err).WithField("event_id", event.ID).Error("Failed to process webhook event")
		writeErrorResponse(w, http.StatusInternalServerError, "Failed to process event")
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]bool{"received": true})
}
