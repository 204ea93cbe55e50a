package catalog

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"storefront/internal/gateway"
	"storefront/internal/model"
)

// mockCaller serves canned responses and counts calls.
type mockCaller struct {
	calls int
	path  string
	resp  *gateway.Response
	err   error
}

func (m *mockCaller) Call(_ context.Context, method, path string, _ any) (*gateway.Response, error) {
	m.calls++
	m.path = path
	if method != http.MethodGet || !strings.HasPrefix(path, "menu/items/") {
		return nil, errors.New("unexpected call " + method + " " + path)
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.resp, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const menuPage = `{"count": 2, "results": [
	{"id": 1, "name": "Momo", "price": "9.99"},
	{"id": 2, "title": "Masala Tea", "unit_price": 1.5}
]}`

func TestItemsCached(t *testing.T) {
	caller := &mockCaller{resp: &gateway.Response{StatusCode: 200, Header: http.Header{}, Body: []byte(menuPage)}}
	c := New(caller, time.Minute, discardLogger())

	for i := 0; i < 3; i++ {
		items, err := c.Items(context.Background())
		if err != nil {
			t.Fatalf("Items error: %v", err)
		}
		if len(items) != 2 {
			t.Fatalf("items = %d, want 2", len(items))
		}
	}
	if caller.calls != 1 {
		t.Errorf("calls = %d, want 1", caller.calls)
	}
}

func TestItemsExpire(t *testing.T) {
	caller := &mockCaller{resp: &gateway.Response{StatusCode: 200, Header: http.Header{}, Body: []byte(menuPage)}}
	c := New(caller, time.Minute, discardLogger())

	now := time.Now()
	c.now = func() time.Time { return now }
	c.Items(context.Background())

	now = now.Add(2 * time.Minute)
	c.Items(context.Background())
	if caller.calls != 2 {
		t.Errorf("calls = %d, want 2 after expiry", caller.calls)
	}
}

func TestItemsHonourMaxAge(t *testing.T) {
	header := http.Header{}
	header.Set("Cache-Control", "public, max-age=0")
	caller := &mockCaller{resp: &gateway.Response{StatusCode: 200, Header: header, Body: []byte(menuPage)}}
	c := New(caller, time.Hour, discardLogger())

	c.Items(context.Background())
	c.Items(context.Background())
	if caller.calls != 2 {
		t.Errorf("calls = %d, want 2 with max-age=0", caller.calls)
	}
}

func TestItemsServeStaleOnFailure(t *testing.T) {
	caller := &mockCaller{resp: &gateway.Response{StatusCode: 200, Header: http.Header{}, Body: []byte(menuPage)}}
	c := New(caller, time.Minute, discardLogger())
	c.Items(context.Background())

	c.Invalidate()
	caller.err = model.NewNetworkError("GET menu/items/", errors.New("connection refused"))

	items, err := c.Items(context.Background())
	if err != nil || len(items) != 2 {
		t.Errorf("Items = %d items, %v; want stale listing", len(items), err)
	}
}

func TestItemsErrorWithoutCache(t *testing.T) {
	caller := &mockCaller{err: model.NewNetworkError("GET menu/items/", errors.New("refused"))}
	c := New(caller, 0, discardLogger())

	if _, err := c.Items(context.Background()); !errors.Is(err, model.ErrNetwork) {
		t.Errorf("Items error = %v, want network error", err)
	}
}

func TestLookup(t *testing.T) {
	caller := &mockCaller{resp: &gateway.Response{StatusCode: 200, Header: http.Header{}, Body: []byte(menuPage)}}
	c := New(caller, time.Minute, discardLogger())

	item, ok := c.Lookup(context.Background(), 2)
	if !ok || item.Name != "Masala Tea" || item.Price.String() != "1.5" {
		t.Errorf("Lookup(2) = %+v, %v", item, ok)
	}
	if _, ok := c.Lookup(context.Background(), 99); ok {
		t.Error("Lookup(99) should miss")
	}

	broken := New(&mockCaller{err: errors.New("down")}, 0, discardLogger())
	if _, ok := broken.Lookup(context.Background(), 1); ok {
		t.Error("Lookup with unavailable menu should miss")
	}
}

func TestItemsScopedToOrganizationAndLocation(t *testing.T) {
	org, loc := 3, 7
	tests := []struct {
		name string
		opts []Option
		want string
	}{
		{"unscoped", nil, "menu/items/"},
		{"both", []Option{WithScope(&org, &loc)}, "menu/items/?location=7&organization=3"},
		{"organization only", []Option{WithScope(&org, nil)}, "menu/items/?organization=3"},
		{"nil scope", []Option{WithScope(nil, nil)}, "menu/items/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			caller := &mockCaller{resp: &gateway.Response{StatusCode: 200, Header: http.Header{}, Body: []byte(menuPage)}}
			c := New(caller, time.Minute, discardLogger(), tt.opts...)
			if _, err := c.Items(context.Background()); err != nil {
				t.Fatalf("Items error: %v", err)
			}
			if caller.path != tt.want {
				t.Errorf("path = %q, want %q", caller.path, tt.want)
			}
		})
	}
}
