package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	types "github.com/yungbote/copilot-adoption-backend/internal/domain/usage"
	"github.com/yungbote/copilot-adoption-backend/internal/platform/envutil"
	"github.com/yungbote/copilot-adoption-backend/internal/platform/logger"
)

// Notification announces a blob of audit content ready for retrieval.
type Notification struct {
	ContentURI        string `json:"contentUri"`
	ContentID         string `json:"contentId"`
	ContentType       string `json:"contentType"`
	TenantID          string `json:"tenantId"`
	ClientID          string `json:"clientId"`
	ContentCreated    string `json:"contentCreated"`
	ContentExpiration string `json:"contentExpiration"`
}

// AuditSource resolves notifications into the audit records they point at.
type AuditSource interface {
	Fetch(ctx context.Context, notifications []Notification) ([]types.AuditRecord, error)
}

// CopilotOperation is the audit operation carrying assistant interactions.
const CopilotOperation = "CopilotInteraction"

type AuditSourceConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
	Timeout      time.Duration
	FeedBaseURL  string
}

func AuditSourceConfigFromEnv() AuditSourceConfig {
	tenant := envutil.String("AUDIT_TENANT_ID", "")
	tokenURL := envutil.String("AUDIT_TOKEN_URL", "")
	if tokenURL == "" && tenant != "" {
		tokenURL = "https://login.microsoftonline.com/" + tenant + "/oauth2/v2.0/token"
	}
	return AuditSourceConfig{
		TenantID:     tenant,
		ClientID:     envutil.String("AUDIT_CLIENT_ID", ""),
		ClientSecret: envutil.String("AUDIT_CLIENT_SECRET", ""),
		TokenURL:     tokenURL,
		Scopes:       envutil.StringSlice("AUDIT_SCOPES", []string{"https://manage.office.com/.default"}),
		Timeout:      envutil.Duration("AUDIT_FETCH_TIMEOUT", 30*time.Second),
		FeedBaseURL:  envutil.String("AUDIT_FEED_BASE_URL", DefaultFeedBaseURL),
	}
}

func (c AuditSourceConfig) Enabled() bool {
	return c.ClientID != "" && c.ClientSecret != "" && c.TokenURL != ""
}

// HTTPAuditSource downloads content blobs with an app-only bearer token.
type HTTPAuditSource struct {
	client *http.Client
	log    *logger.Logger
}

func NewHTTPAuditSource(ctx context.Context, cfg AuditSourceConfig, log *logger.Logger) (*HTTPAuditSource, error) {
	client, err := oauthClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewHTTPAuditSourceWithClient(client, log), nil
}

// oauthClient returns an http client that attaches app-only tokens.
func oauthClient(ctx context.Context, cfg AuditSourceConfig) (*http.Client, error) {
	if !cfg.Enabled() {
		return nil, errors.New("audit source: client id, secret and token url are required")
	}
	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
	}
	client := cc.Client(ctx)
	client.Timeout = cfg.Timeout
	return client, nil
}

func NewHTTPAuditSourceWithClient(client *http.Client, log *logger.Logger) *HTTPAuditSource {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPAuditSource{client: client, log: log.With("component", "AuditSource")}
}

// Fetch returns the assistant interactions across every notification. A blob that
// fails to download is logged and skipped; an error is returned only when all fail.
func (s *HTTPAuditSource) Fetch(ctx context.Context, notifications []Notification) ([]types.AuditRecord, error) {
	var (
		out      []types.AuditRecord
		failed   int
		firstErr error
	)
	for _, n := range notifications {
		if strings.TrimSpace(n.ContentURI) == "" {
			continue
		}
		recs, err := s.fetchOne(ctx, n.ContentURI)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			failed++
			if firstErr == nil {
				firstErr = err
			}
			s.log.Warn("Failed to fetch audit content", "content_id", n.ContentID, "error", err)
			continue
		}
		for _, r := range recs {
			if r.Operation == "" || r.Operation == CopilotOperation {
				out = append(out, r)
			}
		}
	}
	if failed > 0 && failed == len(notifications) {
		return nil, fmt.Errorf("fetch audit content: %w", firstErr)
	}
	return out, nil
}

func (s *HTTPAuditSource) fetchOne(ctx context.Context, uri string) ([]types.AuditRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var recs []types.AuditRecord
	if err := json.NewDecoder(resp.Body).Decode(&recs); err != nil {
		return nil, fmt.Errorf("decode audit content: %w", err)
	}
	return recs, nil
}
