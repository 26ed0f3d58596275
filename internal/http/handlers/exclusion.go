package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/yungbote/copilot-adoption-backend/internal/http/response"
	"github.com/yungbote/copilot-adoption-backend/internal/modules/exclusion"
)

type ExclusionHandler struct {
	cache *exclusion.Cache
}

func NewExclusionHandler(cache *exclusion.Cache) *ExclusionHandler {
	return &ExclusionHandler{cache: cache}
}

// GET /api/admin/exclusions
func (h *ExclusionHandler) Info(c *gin.Context) {
	response.RespondOK(c, h.cache.Info())
}

// POST /api/admin/exclusions/refresh
func (h *ExclusionHandler) Refresh(c *gin.Context) {
	if err := h.cache.Refresh(c.Request.Context()); err != nil {
		respondErr(c, err, "exclusion_refresh_failed")
		return
	}
	response.RespondOK(c, h.cache.Info())
}

// DELETE /api/admin/exclusions/cache
func (h *ExclusionHandler) Clear(c *gin.Context) {
	h.cache.Clear()
	response.RespondOK(c, h.cache.Info())
}
