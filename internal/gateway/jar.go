package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"

	"storefront/internal/storage"
)

// The backend keys the anonymous cart to its session cookie, so the jar is
// persisted: a CLI invocation must land in the same session as the last one.

type storedCookie struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// persistentJar saves the backend's cookies to storage on every change.
type persistentJar struct {
	mu     sync.Mutex
	jar    *cookiejar.Jar
	store  storage.Store
	base   *url.URL
	logger *slog.Logger
}

// NewCookieJar returns a jar preloaded with the cookies stored for base.
func NewCookieJar(ctx context.Context, store storage.Store, base *url.URL, logger *slog.Logger) (http.CookieJar, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	j := &persistentJar{jar: jar, store: store, base: base, logger: logger}

	raw, ok, err := store.Get(ctx, storage.KeySessionCookies)
	if err != nil {
		return nil, err
	}
	if ok {
		var saved []storedCookie
		if err := json.Unmarshal(raw, &saved); err != nil {
			logger.Warn("discarding malformed stored cookies", slog.String("error", err.Error()))
		} else {
			cookies := make([]*http.Cookie, 0, len(saved))
			for _, c := range saved {
				cookies = append(cookies, &http.Cookie{Name: c.Name, Value: c.Value, Path: "/"})
			}
			jar.SetCookies(base, cookies)
		}
	}
	return j, nil
}

func (j *persistentJar) Cookies(u *url.URL) []*http.Cookie {
	return j.jar.Cookies(u)
}

func (j *persistentJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.jar.SetCookies(u, cookies)

	current := j.jar.Cookies(j.base)
	saved := make([]storedCookie, 0, len(current))
	for _, c := range current {
		saved = append(saved, storedCookie{Name: c.Name, Value: c.Value})
	}
	raw, err := json.Marshal(saved)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := j.store.Set(ctx, storage.KeySessionCookies, raw); err != nil {
		j.logger.Warn("persisting session cookies failed", slog.String("error", err.Error()))
	}
}
