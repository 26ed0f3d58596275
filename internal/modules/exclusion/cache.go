package exclusion

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/coder/quartz"

	"github.com/yungbote/copilot-adoption-backend/internal/observability"
	"github.com/yungbote/copilot-adoption-backend/internal/platform/logger"
)

const DefaultTTL = 30 * time.Minute

// ReloadBackoff is how long a failed reload keeps serving the previous list
// before the loader is tried again.
const ReloadBackoff = time.Minute

// Loader fetches the current email list.
type Loader interface {
	Load(ctx context.Context) ([]string, error)
}

type Deps struct {
	Log     *logger.Logger
	Loader  Loader
	Metrics *observability.Metrics
	Clock   quartz.Clock
	TTL     time.Duration
	// Exclusive means the list is the only set of users kept. Otherwise listed
	// users are dropped.
	Exclusive bool
}

// Cache holds the email list for TTL and reloads it on first use after
// expiry. A failed reload keeps serving the previous list for ReloadBackoff.
type Cache struct {
	mu        sync.Mutex
	loader    Loader
	clock     quartz.Clock
	ttl       time.Duration
	exclusive bool
	metrics   *observability.Metrics
	log       *logger.Logger

	emails    map[string]struct{}
	loaded    bool
	cachedAt  time.Time
	expiresAt time.Time
}

func NewCache(deps Deps) *Cache {
	clock := deps.Clock
	if clock == nil {
		clock = quartz.NewReal()
	}
	ttl := deps.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		loader:    deps.Loader,
		clock:     clock,
		ttl:       ttl,
		exclusive: deps.Exclusive,
		metrics:   deps.Metrics,
		log:       deps.Log.With("service", "ExclusionCache"),
	}
}

type Info struct {
	Empty     bool      `json:"isEmpty"`
	Count     int       `json:"emailCount"`
	CachedAt  time.Time `json:"cachedAt,omitempty"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
	Valid     bool      `json:"isValid"`
	Exclusive bool      `json:"isEmailListExclusive"`
}

// Get returns the cached list, reloading it when expired.
func (c *Cache) Get(ctx context.Context) ([]string, error) {
	set, err := c.current(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(set))
	for e := range set {
		out = append(out, e)
	}
	return out, nil
}

func (c *Cache) current(ctx context.Context) (map[string]struct{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded && c.clock.Now().Before(c.expiresAt) {
		return c.emails, nil
	}
	if err := c.reloadLocked(ctx); err != nil {
		if !c.loaded {
			return nil, err
		}
		c.expiresAt = c.clock.Now().Add(ReloadBackoff)
		c.log.Warn("Exclusion list reload failed, serving previous list", "retry_at", c.expiresAt, "error", err)
	}
	return c.emails, nil
}

// Refresh reloads the list now regardless of expiry.
func (c *Cache) Refresh(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reloadLocked(ctx)
}

func (c *Cache) reloadLocked(ctx context.Context) error {
	if c.loader == nil {
		return errors.New("exclusion: no loader configured")
	}
	list, err := c.loader.Load(ctx)
	if err != nil {
		return err
	}
	set := make(map[string]struct{}, len(list))
	for _, e := range list {
		if e = normalize(e); e != "" {
			set[e] = struct{}{}
		}
	}
	now := c.clock.Now()
	c.emails, c.loaded = set, true
	c.cachedAt, c.expiresAt = now, now.Add(c.ttl)
	c.metrics.SetExclusionEntries(len(set))
	c.log.Info("Exclusion list cached", "count", len(set), "expires_at", c.expiresAt)
	return nil
}

// Clear drops the cached list; the next read reloads it.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emails, c.loaded = nil, false
	c.cachedAt, c.expiresAt = time.Time{}, time.Time{}
}

func (c *Cache) Info() Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loaded {
		return Info{Empty: true, Exclusive: c.exclusive}
	}
	return Info{
		Count:     len(c.emails),
		CachedAt:  c.cachedAt,
		ExpiresAt: c.expiresAt,
		Valid:     c.clock.Now().Before(c.expiresAt),
		Exclusive: c.exclusive,
	}
}

// Filter returns the emails that pass the list, preserving order.
func (c *Cache) Filter(ctx context.Context, emails []string) ([]string, error) {
	set, err := c.current(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(emails))
	for _, e := range emails {
		if c.allowed(set, e) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (c *Cache) Allows(ctx context.Context, email string) (bool, error) {
	set, err := c.current(ctx)
	if err != nil {
		return false, err
	}
	return c.allowed(set, email), nil
}

func (c *Cache) allowed(set map[string]struct{}, email string) bool {
	_, listed := set[normalize(email)]
	if c.exclusive {
		return listed
	}
	return !listed
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
