package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/copilot-adoption-backend/internal/data/repos"
	types "github.com/yungbote/copilot-adoption-backend/internal/domain/usage"
	"github.com/yungbote/copilot-adoption-backend/internal/http/response"
	"github.com/yungbote/copilot-adoption-backend/internal/modules/aggregation"
	"github.com/yungbote/copilot-adoption-backend/internal/platform/identcrypt"
)

const maxSnapshotBody = 64 << 20

type SnapshotHandler struct {
	engine *aggregation.Engine
	state  repos.StateRepo
	enc    *identcrypt.Service
}

func NewSnapshotHandler(engine *aggregation.Engine, state repos.StateRepo, enc *identcrypt.Service) *SnapshotHandler {
	return &SnapshotHandler{engine: engine, state: state, enc: enc}
}

// decodeSnapshots accepts a bare array or the report envelope {"value": [...]}.
func decodeSnapshots(body []byte) ([]types.UsageSnapshot, error) {
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "[") {
		var out []types.UsageSnapshot
		err := json.Unmarshal(body, &out)
		return out, err
	}
	var env struct {
		Value []types.UsageSnapshot `json:"value"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, err
	}
	return env.Value, nil
}

// POST /api/admin/snapshots?mode=apply|queue
func (h *SnapshotHandler) Ingest(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxSnapshotBody))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "read_body_failed", err)
		return
	}
	snaps, err := decodeSnapshots(body)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", errors.New("expected an array of usage snapshots"))
		return
	}
	mode := strings.ToLower(c.DefaultQuery("mode", "queue"))
	var n int
	switch mode {
	case "apply":
		n, err = h.engine.ApplyDailySnapshots(c.Request.Context(), snaps, h.enc)
	case "queue":
		n, err = h.engine.QueueDailySnapshots(c.Request.Context(), snaps, h.enc)
	default:
		response.RespondError(c, http.StatusBadRequest, "invalid_mode", errors.New("mode must be apply or queue"))
		return
	}
	if err != nil {
		respondErr(c, err, "snapshot_ingest_failed")
		return
	}
	response.RespondOK(c, gin.H{"mode": mode, "received": len(snaps), "processed": n})
}

type rollupRequest struct {
	Date string `json:"date" form:"date"`
}

// POST /api/admin/agents/rollup
func (h *SnapshotHandler) RollupAgents(c *gin.Context) {
	var req rollupRequest
	_ = c.ShouldBindQuery(&req)
	if req.Date == "" && c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
			return
		}
	}
	if req.Date == "" {
		req.Date = types.FormatDate(time.Now().AddDate(0, 0, -1))
	}
	if _, err := types.ParseDate(req.Date); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_date", err)
		return
	}
	n, err := h.engine.ProcessAgentUsageAggregations(c.Request.Context(), req.Date)
	if err != nil {
		respondErr(c, err, "agent_rollup_failed")
		return
	}
	response.RespondOK(c, gin.H{"date": req.Date, "agents": n})
}

// GET /api/admin/ingestion
func (h *SnapshotHandler) IngestionState(c *gin.Context) {
	paused, err := h.state.IsPaused(c.Request.Context())
	if err != nil {
		respondErr(c, err, "read_state_failed")
		return
	}
	out := gin.H{"paused": paused}
	for _, tf := range types.RollupTimeframes {
		rec, ok, err := h.state.GetReportRefresh(c.Request.Context(), tf)
		if err != nil {
			respondErr(c, err, "read_state_failed")
			return
		}
		if ok {
			out[string(tf)] = gin.H{"reportRefreshDate": rec.ReportRefreshDate, "startDate": rec.StartDate}
		}
	}
	response.RespondOK(c, out)
}
