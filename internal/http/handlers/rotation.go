package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/copilot-adoption-backend/internal/http/response"
	"github.com/yungbote/copilot-adoption-backend/internal/modules/rotation"
	"github.com/yungbote/copilot-adoption-backend/internal/platform/apierr"
	"github.com/yungbote/copilot-adoption-backend/internal/platform/identcrypt"
)

type RotationHandler struct {
	ctrl *rotation.Controller
}

func NewRotationHandler(ctrl *rotation.Controller) *RotationHandler {
	return &RotationHandler{ctrl: ctrl}
}

type rotationRequest struct {
	Mode       string `json:"mode" form:"mode"`
	NewKeyName string `json:"newKeyName" form:"newKeyName"`
	RunID      string `json:"runId" form:"runId"`
}

// POST /api/admin/key-rotation?mode=prepare|confirm
func (h *RotationHandler) Rotate(c *gin.Context) {
	var req rotationRequest
	_ = c.ShouldBindQuery(&req)
	if c.Request.ContentLength > 0 {
		var body rotationRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
			return
		}
		if req.Mode == "" {
			req.Mode = body.Mode
		}
		if req.NewKeyName == "" {
			req.NewKeyName = body.NewKeyName
		}
		if req.RunID == "" {
			req.RunID = body.RunID
		}
	}

	switch strings.ToLower(strings.TrimSpace(req.Mode)) {
	case "prepare":
		rep, err := h.ctrl.Prepare(c.Request.Context(), req.NewKeyName, req.RunID)
		if err != nil {
			respondErr(c, rotationError(err), "rotation_failed")
			return
		}
		response.RespondOK(c, gin.H{"status": "prepared", "ingestionPaused": true, "report": rep})
	case "confirm":
		if err := h.ctrl.Confirm(c.Request.Context()); err != nil {
			respondErr(c, rotationError(err), "confirm_failed")
			return
		}
		response.RespondOK(c, gin.H{"status": "confirmed", "ingestionPaused": false})
	default:
		response.RespondError(c, http.StatusBadRequest, "invalid_mode", errors.New("mode must be prepare or confirm"))
	}
}

// rotationError maps operator mistakes onto 4xx. Anything else passes through.
func rotationError(err error) error {
	switch {
	case errors.Is(err, rotation.ErrMissingKeyName):
		return apierr.BadRequest("missing_key_name", rotation.ErrMissingKeyName)
	case errors.Is(err, identcrypt.ErrSecretNotFound):
		return apierr.BadRequest("unknown_key", errors.New("unknown key name"))
	case errors.Is(err, rotation.ErrSameKey):
		return apierr.BadRequest("same_key", rotation.ErrSameKey)
	case errors.Is(err, rotation.ErrWorkPending):
		return apierr.Conflict("aggregations_pending", err)
	case errors.Is(err, rotation.ErrKeyNotSwitched):
		return apierr.Conflict("key_not_switched", rotation.ErrKeyNotSwitched)
	default:
		return err
	}
}
