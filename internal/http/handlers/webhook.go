package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/copilot-adoption-backend/internal/http/response"
	"github.com/yungbote/copilot-adoption-backend/internal/modules/ingestion"
)

// maxWebhookBody bounds a notification batch.
const maxWebhookBody = 4 << 20

type WebhookHandler struct {
	webhook *ingestion.Webhook
}

func NewWebhookHandler(webhook *ingestion.Webhook) *WebhookHandler {
	return &WebhookHandler{webhook: webhook}
}

// POST /api/webhook/events
func (h *WebhookHandler) Receive(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "read_body_failed", err)
		return
	}
	res, err := h.webhook.Handle(c.Request.Context(), ingestion.WebhookRequest{
		AuthID:         c.GetHeader("Webhook-AuthID"),
		ValidationCode: c.GetHeader("Webhook-ValidationCode"),
		Body:           body,
	})
	switch {
	case err == nil:
	case errors.Is(err, ingestion.ErrInvalidAuthID):
		response.RespondError(c, http.StatusBadRequest, "invalid_auth_id", err)
		return
	case errors.Is(err, ingestion.ErrInvalidValidationCode):
		response.RespondError(c, http.StatusBadRequest, "invalid_validation_code", err)
		return
	case errors.Is(err, ingestion.ErrMalformedPayload):
		response.RespondError(c, http.StatusBadRequest, "malformed_payload", err)
		return
	default:
		respondErr(c, err, "webhook_failed")
		return
	}
	if res.Validation {
		c.Status(http.StatusOK)
		return
	}
	response.RespondOK(c, res)
}
