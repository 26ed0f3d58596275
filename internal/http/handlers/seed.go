package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/copilot-adoption-backend/internal/http/response"
	"github.com/yungbote/copilot-adoption-backend/internal/modules/seeding"
	"github.com/yungbote/copilot-adoption-backend/internal/platform/identcrypt"
)

type SeedHandler struct {
	seeder *seeding.Seeder
	enc    *identcrypt.Service
}

func NewSeedHandler(seeder *seeding.Seeder, enc *identcrypt.Service) *SeedHandler {
	return &SeedHandler{seeder: seeder, enc: enc}
}

type seedRequest struct {
	Users []string `json:"users"`
}

// POST /api/admin/seed?users=a@x.com,b@x.com or {"users": [...]}
func (h *SeedHandler) Seed(c *gin.Context) {
	var users []string
	if c.Request.ContentLength > 0 {
		var req seedRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
			return
		}
		users = req.Users
	}
	if len(users) == 0 {
		users = strings.Split(c.Query("users"), ",")
	}
	res, err := h.seeder.Seed(c.Request.Context(), h.enc, users)
	if errors.Is(err, seeding.ErrNoUsers) {
		response.RespondError(c, http.StatusBadRequest, "missing_users",
			errors.New("pass users as a comma-separated query value or a JSON array"))
		return
	}
	if err != nil {
		respondErr(c, err, "seed_failed")
		return
	}
	response.RespondOK(c, res)
}
