// Package catalog caches the backend menu. The server cart carries only ids
// and quantities, so reconciliation prices adopted lines from here.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"storefront/internal/gateway"
	"storefront/internal/model"
)

const pathMenuItems = "menu/items/"

// DefaultTTL is used when the response carries no max-age.
const DefaultTTL = 5 * time.Minute

// Caller performs backend calls. Implemented by gateway.Gateway.
type Caller interface {
	Call(ctx context.Context, method, path string, body any) (*gateway.Response, error)
}

// Catalog fetches menu/items and keeps it for the response's max-age.
// On a failed refetch the stale listing is served.
type Catalog struct {
	caller Caller
	logger *slog.Logger
	ttl    time.Duration
	now    func() time.Time
	path   string

	mu        sync.RWMutex
	items     []model.MenuItem
	byID      map[int]model.MenuItem
	expiresAt time.Time
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithScope limits the listing to one organization and location. Nil values
// are left out of the query.
func WithScope(organization, location *int) Option {
	return func(c *Catalog) {
		q := url.Values{}
		if organization != nil {
			q.Set("organization", strconv.Itoa(*organization))
		}
		if location != nil {
			q.Set("location", strconv.Itoa(*location))
		}
		if len(q) > 0 {
			c.path = pathMenuItems + "?" + q.Encode()
		}
	}
}

// New creates a Catalog. ttl <= 0 selects DefaultTTL.
func New(caller Caller, ttl time.Duration, logger *slog.Logger, opts ...Option) *Catalog {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Catalog{
		caller: caller,
		logger: logger,
		ttl:    ttl,
		now:    time.Now,
		path:   pathMenuItems,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Items returns the menu, fetching it when the cache is empty or expired.
func (c *Catalog) Items(ctx context.Context) ([]model.MenuItem, error) {
	c.mu.RLock()
	items, fresh := c.items, c.byID != nil && c.expiresAt.After(c.now())
	c.mu.RUnlock()

	if fresh {
		return append([]model.MenuItem(nil), items...), nil
	}

	fetched, err := c.fetch(ctx)
	if err != nil {
		if items != nil {
			c.logger.Warn("menu refetch failed, serving stale listing", slog.String("error", err.Error()))
			return append([]model.MenuItem(nil), items...), nil
		}
		return nil, fmt.Errorf("fetching menu: %w", err)
	}
	return append([]model.MenuItem(nil), fetched...), nil
}

// Lookup returns the menu entry for id. Fetch failures are logged and read
// as not found.
func (c *Catalog) Lookup(ctx context.Context, id int) (model.MenuItem, bool) {
	if _, err := c.Items(ctx); err != nil {
		c.logger.Warn("menu unavailable for lookup",
			slog.Int("product_id", id),
			slog.String("error", err.Error()),
		)
		return model.MenuItem{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	item, ok := c.byID[id]
	return item, ok
}

// Invalidate drops the cached listing.
func (c *Catalog) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expiresAt = time.Time{}
}

func (c *Catalog) fetch(ctx context.Context) ([]model.MenuItem, error) {
	resp, err := c.caller.Call(ctx, http.MethodGet, c.path, nil)
	if err != nil {
		return nil, err
	}

	items, err := model.DecodeList[model.MenuItem](resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parsing menu: %w", err)
	}

	byID := make(map[int]model.MenuItem, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}

	c.mu.Lock()
	c.items = items
	c.byID = byID
	c.expiresAt = c.now().Add(c.cacheTTL(resp.Header))
	c.mu.Unlock()

	return items, nil
}

// cacheTTL honours Cache-Control: no-store/no-cache (0) and max-age=N.
func (c *Catalog) cacheTTL(h http.Header) time.Duration {
	for _, directive := range strings.Split(h.Get("Cache-Control"), ",") {
		directive = strings.TrimSpace(directive)
		switch {
		case directive == "no-store", directive == "no-cache":
			return 0
		case strings.HasPrefix(directive, "max-age="):
			if seconds, err := strconv.Atoi(strings.TrimPrefix(directive, "max-age=")); err == nil && seconds >= 0 {
				return time.Duration(seconds) * time.Second
			}
		}
	}
	return c.ttl
}
