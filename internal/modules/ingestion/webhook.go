package ingestion

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/yungbote/copilot-adoption-backend/internal/modules/aggregation"
	"github.com/yungbote/copilot-adoption-backend/internal/platform/identcrypt"
	"github.com/yungbote/copilot-adoption-backend/internal/platform/logger"
)

var (
	ErrInvalidAuthID         = errors.New("invalid Webhook-AuthID header")
	ErrInvalidValidationCode = errors.New("invalid Webhook-ValidationCode header")
	ErrMalformedPayload      = errors.New("malformed notification payload")
)

// Trigger statuses written to the webhook log.
const (
	TriggerPaused      = "paused"
	TriggerInvalidAuth = "invalid_auth"
	TriggerValidation  = "validation"
	TriggerProcessed   = "processed"
	TriggerFailed      = "failed"
	TriggerPulled      = "pulled"
)

type WebhookRequest struct {
	AuthID         string
	ValidationCode string
	Body           []byte
}

type WebhookResult struct {
	Validation    bool   `json:"validation"`
	Notifications int    `json:"notifications"`
	Ingest        Result `json:"ingest"`
}

type WebhookDeps struct {
	Log      *logger.Logger
	Service  *Service
	Source   AuditSource
	Feed     Feed
	Enc      *identcrypt.Service
	AuthGUID string
}

// Webhook receives audit-feed notifications.
type Webhook struct {
	svc      *Service
	source   AuditSource
	feed     Feed
	enc      *identcrypt.Service
	authGUID string
	log      *logger.Logger
}

func NewWebhook(deps WebhookDeps) *Webhook {
	return &Webhook{
		svc:      deps.Service,
		source:   deps.Source,
		feed:     deps.Feed,
		enc:      deps.Enc,
		authGUID: deps.AuthGUID,
		log:      deps.Log.With("component", "AuditWebhook"),
	}
}

func (w *Webhook) Handle(ctx context.Context, req WebhookRequest) (WebhookResult, error) {
	var res WebhookResult
	m := w.svc.metrics

	paused, err := w.svc.state.IsPaused(ctx)
	if err != nil {
		m.IncWebhook("error")
		return res, fmt.Errorf("read pause flag: %w", err)
	}
	if paused {
		w.trigger(ctx, TriggerPaused, 0)
		m.IncWebhook(TriggerPaused)
		return res, aggregation.ErrIngestionPaused
	}

	if w.authGUID == "" || subtle.ConstantTimeCompare([]byte(req.AuthID), []byte(w.authGUID)) != 1 {
		w.trigger(ctx, TriggerInvalidAuth, 0)
		m.IncWebhook(TriggerInvalidAuth)
		return res, ErrInvalidAuthID
	}

	body := bytes.TrimSpace(req.Body)
	if len(body) > 0 && body[0] == '{' {
		var probe struct {
			ValidationCode string `json:"validationCode"`
		}
		if err := json.Unmarshal(body, &probe); err != nil {
			m.IncWebhook("malformed")
			return res, ErrMalformedPayload
		}
		if probe.ValidationCode == "" {
			m.IncWebhook("malformed")
			return res, ErrMalformedPayload
		}
		w.trigger(ctx, TriggerValidation, 0)
		res.Validation = true
		if req.ValidationCode != probe.ValidationCode {
			m.IncWebhook("invalid_validation")
			return res, ErrInvalidValidationCode
		}
		m.IncWebhook(TriggerValidation)
		return res, nil
	}

	var notes []Notification
	if err := json.Unmarshal(body, &notes); err != nil {
		w.trigger(ctx, TriggerFailed, 0)
		m.IncWebhook("malformed")
		return res, ErrMalformedPayload
	}
	res.Notifications = len(notes)
	w.trigger(ctx, TriggerProcessed, len(notes))
	res.Ingest, err = w.process(ctx, notes)
	if err != nil {
		m.IncWebhook("error")
		return res, err
	}
	m.IncWebhook(TriggerProcessed)
	return res, nil
}

// Pull asks the feed for content that is available now and ingests it the
// same way pushed notifications are. It backfills gaps when webhook calls
// were missed.
func (w *Webhook) Pull(ctx context.Context, contentType string) (WebhookResult, error) {
	var res WebhookResult
	if w.feed == nil {
		return res, errors.New("activity feed not configured")
	}
	paused, err := w.svc.state.IsPaused(ctx)
	if err != nil {
		return res, fmt.Errorf("read pause flag: %w", err)
	}
	if paused {
		return res, aggregation.ErrIngestionPaused
	}
	notes, err := w.feed.Available(ctx, contentType)
	if err != nil {
		return res, err
	}
	res.Notifications = len(notes)
	w.trigger(ctx, TriggerPulled, len(notes))
	res.Ingest, err = w.process(ctx, notes)
	return res, err
}

func (w *Webhook) process(ctx context.Context, notes []Notification) (Result, error) {
	if len(notes) == 0 {
		return Result{}, nil
	}
	if w.source == nil {
		return Result{}, errors.New("audit source not configured")
	}
	recs, err := w.source.Fetch(ctx, notes)
	if err != nil {
		return Result{}, fmt.Errorf("fetch notifications: %w", err)
	}
	return w.svc.IngestRecords(ctx, recs, w.enc)
}

// Subscribe starts the feed subscription for contentType.
func (w *Webhook) Subscribe(ctx context.Context, contentType string, hook WebhookAddress) (Subscription, error) {
	if w.feed == nil {
		return Subscription{}, errors.New("activity feed not configured")
	}
	return w.feed.StartSubscription(ctx, contentType, hook)
}

func (w *Webhook) Subscriptions(ctx context.Context) ([]Subscription, error) {
	if w.feed == nil {
		return nil, errors.New("activity feed not configured")
	}
	return w.feed.ListSubscriptions(ctx)
}

// trigger never fails the request; the log is best effort.
func (w *Webhook) trigger(ctx context.Context, status string, notifications int) {
	if err := w.svc.ingestion.LogTrigger(ctx, status, notifications); err != nil {
		w.log.Warn("Failed to log webhook trigger", "status", status, "error", err)
	}
}
