package ingestion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/yungbote/copilot-adoption-backend/internal/platform/logger"
)

// DefaultFeedBaseURL is the management activity API host.
const DefaultFeedBaseURL = "https://manage.office.com"

// maxFeedPages bounds NextPageUri chains so a misbehaving feed cannot loop.
const maxFeedPages = 100

var ErrContentTypeRequired = errors.New("contentType is required")

// Subscription is one content-type subscription on the activity feed.
type Subscription struct {
	ContentType string          `json:"contentType"`
	Status      string          `json:"status"`
	Webhook     *WebhookAddress `json:"webhook,omitempty"`
}

type WebhookAddress struct {
	Address    string `json:"address"`
	AuthID     string `json:"authId,omitempty"`
	Expiration string `json:"expiration,omitempty"`
	Status     string `json:"status,omitempty"`
}

// Feed lists pending content and manages subscriptions.
type Feed interface {
	Available(ctx context.Context, contentType string) ([]Notification, error)
	StartSubscription(ctx context.Context, contentType string, hook WebhookAddress) (Subscription, error)
	ListSubscriptions(ctx context.Context) ([]Subscription, error)
}

// FeedClient talks to the activity feed of one tenant with the same
// app-only client the audit source uses.
type FeedClient struct {
	client *http.Client
	base   string
	log    *logger.Logger
}

func NewFeedClient(ctx context.Context, cfg AuditSourceConfig, log *logger.Logger) (*FeedClient, error) {
	if cfg.TenantID == "" {
		return nil, errors.New("activity feed: tenant id is required")
	}
	client, err := oauthClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewFeedClientWithClient(client, cfg.FeedBaseURL, cfg.TenantID, log), nil
}

func NewFeedClientWithClient(client *http.Client, baseURL, tenantID string, log *logger.Logger) *FeedClient {
	if client == nil {
		client = http.DefaultClient
	}
	if baseURL == "" {
		baseURL = DefaultFeedBaseURL
	}
	base := strings.TrimRight(baseURL, "/") + "/api/v1.0/" + url.PathEscape(tenantID) + "/activity/feed/subscriptions"
	return &FeedClient{client: client, base: base, log: log.With("component", "ActivityFeed")}
}

// Available returns every notification the feed currently offers for
// contentType, following NextPageUri.
func (f *FeedClient) Available(ctx context.Context, contentType string) ([]Notification, error) {
	if strings.TrimSpace(contentType) == "" {
		return nil, ErrContentTypeRequired
	}
	next := f.base + "/content?contentType=" + url.QueryEscape(contentType)
	var out []Notification
	for page := 0; next != "" && page < maxFeedPages; page++ {
		var notes []Notification
		resp, err := f.do(ctx, http.MethodGet, next, nil, &notes)
		if err != nil {
			return nil, fmt.Errorf("list available content: %w", err)
		}
		out = append(out, notes...)
		next = resp.Header.Get("NextPageUri")
	}
	if next != "" {
		f.log.Warn("Stopped following content pages", "content_type", contentType, "pages", maxFeedPages)
	}
	f.log.Info("Listed available content", "content_type", contentType, "notifications", len(out))
	return out, nil
}

func (f *FeedClient) StartSubscription(ctx context.Context, contentType string, hook WebhookAddress) (Subscription, error) {
	var sub Subscription
	if strings.TrimSpace(contentType) == "" {
		return sub, ErrContentTypeRequired
	}
	var body any = struct{}{}
	if hook.Address != "" {
		body = map[string]WebhookAddress{"webhook": hook}
	}
	u := f.base + "/start?contentType=" + url.QueryEscape(contentType)
	if _, err := f.do(ctx, http.MethodPost, u, body, &sub); err != nil {
		return sub, fmt.Errorf("start subscription: %w", err)
	}
	f.log.Info("Started feed subscription", "content_type", contentType, "status", sub.Status)
	return sub, nil
}

func (f *FeedClient) ListSubscriptions(ctx context.Context) ([]Subscription, error) {
	var subs []Subscription
	if _, err := f.do(ctx, http.MethodGet, f.base+"/list", nil, &subs); err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return subs, nil
}

func (f *FeedClient) do(ctx context.Context, method, uri string, body, out any) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, uri, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode feed response: %w", err)
	}
	return resp, nil
}
