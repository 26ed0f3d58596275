package handlers

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/copilot-adoption-backend/internal/http/response"
	"github.com/yungbote/copilot-adoption-backend/internal/modules/aggregation"
	"github.com/yungbote/copilot-adoption-backend/internal/platform/apierr"
	"github.com/yungbote/copilot-adoption-backend/internal/platform/identcrypt"
)

const pausedRetryAfter = 5 * time.Minute

// classify maps domain sentinels onto API errors. Unknown errors become a 500
// with fallbackCode; the response layer hides their text.
func classify(err error, fallbackCode string) *apierr.Error {
	var ae *apierr.Error
	switch {
	case errors.As(err, &ae):
		return ae
	case errors.Is(err, aggregation.ErrIngestionPaused):
		return apierr.Unavailable("ingestion_paused", aggregation.ErrIngestionPaused, pausedRetryAfter)
	case errors.Is(err, identcrypt.ErrDecryption):
		return apierr.Internal("decryption_failed", err)
	default:
		return apierr.Internal(fallbackCode, err)
	}
}

func respondErr(c *gin.Context, err error, fallbackCode string) {
	ae := classify(err, fallbackCode)
	if ra := ae.RetryAfterSeconds(); ra != "" {
		c.Header("Retry-After", ra)
	}
	response.RespondError(c, ae.Status, ae.Code, ae.Err)
}
