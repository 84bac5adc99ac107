package payment

import (
	"context"
	"io"
	"net/http"

	"github.com/go-chi/chi"

	errors "github.com/sokoworks/payment-hub/internal"
	"github.com/sokoworks/payment-hub/internal/transport"
)

// maxWebhookBody caps provider callbacks at 1MB. Real events are a few
// KB; anything bigger is not a webhook.
const maxWebhookBody = 1 << 20

type WebhookProcessorAPI interface {
	Handle(ctx context.Context, gatewayName string, payload []byte, headers http.Header) error
}

type WebhookHandler struct {
	*transport.BaseHandler
	Processor WebhookProcessorAPI
}

func NewWebhookHandler(processor WebhookProcessorAPI) *WebhookHandler {
	return &WebhookHandler{
		BaseHandler: transport.NewBaseHandler(nil),
		Processor:   processor,
	}
}

// Receive handles POST /api/v1/webhooks/{gateway}. The raw body is
// passed through untouched so signature verification sees the exact
// bytes the provider signed.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	gatewayName := chi.URLParam(r, "gateway")

	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBody)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.Logger.Error("Receive: failed to read webhook body", "error", err, "gateway", gatewayName)
		h.HandleError(w, errors.NewValidationError("unable to read request body", errors.ErrCodeInvalidJSON))
		return
	}

	if err := h.Processor.Handle(r.Context(), gatewayName, payload, r.Header); err != nil {
		h.Logger.Error("Receive: webhook rejected", "error", err, "gateway", gatewayName)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
