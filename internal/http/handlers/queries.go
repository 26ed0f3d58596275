package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	types "github.com/yungbote/copilot-adoption-backend/internal/domain/usage"
	"github.com/yungbote/copilot-adoption-backend/internal/http/response"
	"github.com/yungbote/copilot-adoption-backend/internal/modules/queries"
	"github.com/yungbote/copilot-adoption-backend/internal/platform/apierr"
)

type QueryHandler struct {
	svc *queries.Service
}

func NewQueryHandler(svc *queries.Service) *QueryHandler {
	return &QueryHandler{svc: svc}
}

func parseApps(raw []string) ([]types.AppType, error) {
	var out []types.AppType
	for _, chunk := range raw {
		for _, name := range strings.Split(chunk, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			app, ok := types.ParseAppType(name)
			if !ok {
				return nil, fmt.Errorf("unknown app %q", name)
			}
			out = append(out, app)
		}
	}
	return out, nil
}

func optionalInt(raw string) (*int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return nil, fmt.Errorf("invalid count %q", raw)
	}
	return &v, nil
}

// queryError turns validation sentinels into 400s.
func queryError(c *gin.Context, err error, code string) {
	switch {
	case errors.Is(err, queries.ErrNoApps), errors.Is(err, queries.ErrNoThreshold), errors.Is(err, queries.ErrStartRequired),
		errors.Is(err, queries.ErrInvalidDate), errors.Is(err, queries.ErrTimeframe):
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
	case errors.Is(err, queries.ErrNoData):
		response.RespondError(c, http.StatusBadRequest, "no_data", errors.New("no data yet, wait until tomorrow"))
	default:
		var ae *apierr.Error
		if errors.As(err, &ae) {
			response.RespondError(c, ae.Status, ae.Code, ae.Err)
			return
		}
		respondErr(c, err, code)
	}
}

// GET /api/users/streak?apps=Word,Excel&count=5
func (h *QueryHandler) UsersWithStreak(c *gin.Context) {
	apps, err := parseApps(c.QueryArray("apps"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_apps", err)
		return
	}
	count, err := optionalInt(c.Query("count"))
	if err != nil || count == nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_count", errors.New("count is required"))
		return
	}
	users, err := h.svc.UsersWithStreak(c.Request.Context(), apps, *count)
	if err != nil {
		queryError(c, err, "streak_query_failed")
		return
	}
	response.RespondOK(c, gin.H{"users": users})
}

type completedActivityBody struct {
	Apps             []string `json:"apps"`
	Timeframe        string   `json:"timeFrame"`
	StartDate        string   `json:"startDate"`
	DayCount         *int     `json:"dayCount"`
	InteractionCount *int     `json:"interactionCount"`
}

// GET|POST /api/users/completed-activity
func (h *QueryHandler) UsersWhoCompletedActivity(c *gin.Context) {
	var body completedActivityBody
	if c.Request.Method == http.MethodPost && c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
			return
		}
	}
	rawApps := body.Apps
	if len(rawApps) == 0 {
		rawApps = c.QueryArray("apps")
	}
	apps, err := parseApps(rawApps)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_apps", err)
		return
	}
	tfRaw := body.Timeframe
	if tfRaw == "" {
		tfRaw = c.Query("timeFrame")
	}
	tf, err := types.ParseTimeframe(tfRaw)
	if err != nil || tf == types.TimeframeDaily {
		response.RespondError(c, http.StatusBadRequest, "invalid_timeframe", errors.New("timeFrame must be weekly, monthly or alltime"))
		return
	}
	req := queries.CompletedActivityRequest{
		Apps:             apps,
		Timeframe:        tf,
		StartDate:        body.StartDate,
		DayCount:         body.DayCount,
		InteractionCount: body.InteractionCount,
	}
	if req.StartDate == "" {
		req.StartDate = c.Query("startDate")
	}
	if req.DayCount == nil {
		if req.DayCount, err = optionalInt(c.Query("dayCount")); err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_day_count", err)
			return
		}
	}
	if req.InteractionCount == nil {
		if req.InteractionCount, err = optionalInt(c.Query("interactionCount")); err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_interaction_count", err)
			return
		}
	}
	out, err := h.svc.UsersWhoCompletedActivity(c.Request.Context(), req)
	if err != nil {
		queryError(c, err, "activity_query_failed")
		return
	}
	response.RespondOK(c, out)
}

// GET /api/users/inactive?days=14
func (h *QueryHandler) InactiveUsers(c *gin.Context) {
	days, err := optionalInt(c.DefaultQuery("days", "14"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_days", err)
		return
	}
	users, err := h.svc.InactiveUsers(c.Request.Context(), *days)
	if err != nil {
		queryError(c, err, "inactive_query_failed")
		return
	}
	response.RespondOK(c, gin.H{"users": users})
}

// GET /api/usage/today?date=yyyy-MM-dd
func (h *QueryHandler) TodaysUsage(c *gin.Context) {
	out, err := h.svc.TodaysUsage(c.Request.Context(), strings.TrimSpace(c.Query("date")))
	if err != nil {
		queryError(c, err, "usage_query_failed")
		return
	}
	response.RespondOK(c, out)
}
