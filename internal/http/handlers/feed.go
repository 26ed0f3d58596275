package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/copilot-adoption-backend/internal/http/response"
	"github.com/yungbote/copilot-adoption-backend/internal/modules/ingestion"
)

// FeedHandler drives the activity feed by hand: pulling content that is
// already available and managing the push subscription.
type FeedHandler struct {
	webhook *ingestion.Webhook
}

func NewFeedHandler(webhook *ingestion.Webhook) *FeedHandler {
	return &FeedHandler{webhook: webhook}
}

func contentType(c *gin.Context) (string, bool) {
	ct := strings.TrimSpace(c.Query("contentType"))
	if ct == "" {
		response.RespondError(c, http.StatusBadRequest, "missing_content_type", ingestion.ErrContentTypeRequired)
		return "", false
	}
	return ct, true
}

// POST /api/admin/feed/pull?contentType=Audit.General
func (h *FeedHandler) Pull(c *gin.Context) {
	ct, ok := contentType(c)
	if !ok {
		return
	}
	res, err := h.webhook.Pull(c.Request.Context(), ct)
	if err != nil {
		respondErr(c, err, "pull_failed")
		return
	}
	response.RespondOK(c, res)
}

// POST /api/admin/feed/subscriptions?contentType=...&webhookAddress=...&authId=...
func (h *FeedHandler) Subscribe(c *gin.Context) {
	ct, ok := contentType(c)
	if !ok {
		return
	}
	hook := ingestion.WebhookAddress{
		Address: strings.TrimSpace(c.Query("webhookAddress")),
		AuthID:  strings.TrimSpace(c.Query("authId")),
	}
	if hook.AuthID != "" && hook.Address == "" {
		response.RespondError(c, http.StatusBadRequest, "missing_webhook_address", errors.New("authId needs a webhookAddress"))
		return
	}
	sub, err := h.webhook.Subscribe(c.Request.Context(), ct, hook)
	if err != nil {
		respondErr(c, err, "subscribe_failed")
		return
	}
	response.RespondOK(c, sub)
}

// GET /api/admin/feed/subscriptions
func (h *FeedHandler) List(c *gin.Context) {
	subs, err := h.webhook.Subscriptions(c.Request.Context())
	if err != nil {
		respondErr(c, err, "list_subscriptions_failed")
		return
	}
	response.RespondOK(c, gin.H{"subscriptions": subs})
}
