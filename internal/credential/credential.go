// Package credential holds the access/refresh token pair for the current
// session and persists it to durable storage.
package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"storefront/internal/model"
	"storefront/internal/storage"
)

// Observer is notified after every Set or Clear with the new state.
// ok is false when the session became anonymous.
type Observer func(pair model.TokenPair, ok bool)

// Store is the credential holder. Reads are served from memory; every write
// goes to storage before the call returns.
type Store struct {
	mu        sync.RWMutex
	pair      model.TokenPair
	storage   storage.Store
	logger    *slog.Logger
	observers map[int]Observer
	nextID    int
}

// Load restores credentials from s. Malformed stored data reads as absent.
func Load(ctx context.Context, s storage.Store, logger *slog.Logger) (*Store, error) {
	c := &Store{
		storage:   s,
		logger:    logger,
		observers: make(map[int]Observer),
	}

	raw, ok, err := s.Get(ctx, storage.KeyTokens)
	if err != nil {
		return nil, fmt.Errorf("reading credentials: %w", err)
	}
	if ok {
		var pair model.TokenPair
		if err := json.Unmarshal(raw, &pair); err != nil {
			logger.Warn("discarding malformed stored credentials", slog.String("error", err.Error()))
		} else {
			c.pair = pair
		}
	}
	return c, nil
}

// Get returns the current pair. ok is false for an anonymous session.
func (c *Store) Get() (model.TokenPair, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pair, !c.pair.IsZero()
}

// Access returns the current access token, or "".
func (c *Store) Access() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pair.Access
}

// Set replaces the pair. Setting a pair without an access token is Clear.
func (c *Store) Set(ctx context.Context, pair model.TokenPair) error {
	if pair.IsZero() {
		return c.Clear(ctx)
	}

	raw, err := json.Marshal(pair)
	if err != nil {
		return fmt.Errorf("encoding credentials: %w", err)
	}

	c.mu.Lock()
	c.pair = pair
	err = c.storage.Set(ctx, storage.KeyTokens, raw)
	c.mu.Unlock()

	c.notify(pair, true)
	if err != nil {
		return fmt.Errorf("persisting credentials: %w", err)
	}
	return nil
}

// Clear forgets the pair, making the session anonymous.
func (c *Store) Clear(ctx context.Context) error {
	c.mu.Lock()
	c.pair = model.TokenPair{}
	err := c.storage.Delete(ctx, storage.KeyTokens)
	c.mu.Unlock()

	c.notify(model.TokenPair{}, false)
	if err != nil {
		return fmt.Errorf("clearing credentials: %w", err)
	}
	return nil
}

// Subscribe registers fn and returns a function that removes it.
func (c *Store) Subscribe(fn Observer) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.observers[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.observers, id)
		c.mu.Unlock()
	}
}

func (c *Store) notify(pair model.TokenPair, ok bool) {
	c.mu.RLock()
	fns := make([]Observer, 0, len(c.observers))
	for _, fn := range c.observers {
		fns = append(fns, fn)
	}
	c.mu.RUnlock()

	for _, fn := range fns {
		fn(pair, ok)
	}
}

// ErrNoCredentials is returned by Claims for an anonymous session.
var ErrNoCredentials = errors.New("no credentials")

// Claims is what the access token says about its holder. It is decoded
// without signature verification and is only used for display.
type Claims struct {
	jwt.RegisteredClaims
	UserID   any    `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`
}

// Identity returns the best available name for the token holder.
func (c *Claims) Identity() string {
	switch {
	case c.Username != "":
		return c.Username
	case c.UserID != nil:
		return fmt.Sprint(c.UserID)
	default:
		return c.Subject
	}
}

// Expired reports whether the token carries an expiry before now.
func (c *Claims) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && c.ExpiresAt.Before(now)
}

// Claims decodes the current access token.
func (c *Store) Claims() (*Claims, error) {
	access := c.Access()
	if access == "" {
		return nil, ErrNoCredentials
	}

	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(access, claims); err != nil {
		return nil, fmt.Errorf("decoding access token: %w", err)
	}
	return claims, nil
}
