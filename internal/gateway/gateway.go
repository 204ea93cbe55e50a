// Package gateway is the single path from the client runtime to the storefront
// backend. It attaches bearer credentials and renews them transparently when
// the backend answers 401.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"storefront/internal/model"
)

// =============================================================================
// AUTH GATEWAY
// =============================================================================
//
// Every backend call goes through Call. On a 401:
//
//  1. No refresh token: credentials are cleared, the 401 is returned.
//  2. Another caller already replaced the token this request used: replay
//     with the current token, no refresh.
//  3. Otherwise join the refresh flight. N concurrent 401s share exactly one
//     POST auth/token/refresh/ through singleflight.
//  4. Refresh succeeded: replay once. A second 401 is terminal.
//  5. Refresh rejected: credentials are cleared and every waiter gets the
//     original 401.
// =============================================================================

const (
	pathToken    = "auth/token/"
	pathRefresh  = "auth/token/refresh/"
	pathRegister = "auth/register/"

	refreshKey     = "refresh"
	refreshTimeout = 15 * time.Second
)

// Credentials is the token holder the gateway reads and renews.
// Implemented by credential.Store.
type Credentials interface {
	Get() (model.TokenPair, bool)
	Set(ctx context.Context, pair model.TokenPair) error
	Clear(ctx context.Context) error
}

// Response is a buffered backend response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals the body into out. An empty body leaves out untouched.
func (r *Response) Decode(out any) error {
	if out == nil || len(bytes.TrimSpace(r.Body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}

// Options configures a Gateway.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client // defaults to a 30s-timeout client
	Agent      string       // Client-Agent header value, see ClientAgent
	Logger     *slog.Logger
}

// Gateway performs authenticated backend calls.
type Gateway struct {
	base       *url.URL
	httpClient *http.Client
	creds      Credentials
	agent      string
	logger     *slog.Logger
	refreshes  singleflight.Group
}

// New creates a Gateway for the backend at opts.BaseURL.
func New(opts Options, creds Credentials) (*Gateway, error) {
	base, err := url.Parse(opts.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid backend base URL %q", opts.BaseURL)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Gateway{
		base:       base,
		httpClient: client,
		creds:      creds,
		agent:      opts.Agent,
		logger:     logger,
	}, nil
}

// BaseURL returns the backend root every path is resolved against.
func (g *Gateway) BaseURL() *url.URL {
	u := *g.base
	return &u
}

// URL resolves path, which may carry a query string, against the backend root.
func (g *Gateway) URL(path string) string {
	path = strings.TrimPrefix(path, "/")
	ref, err := url.Parse(path)
	if err != nil || ref.Scheme != "" || ref.Host != "" {
		ref = &url.URL{Path: path}
	}
	return g.base.ResolveReference(ref).String()
}

// Call sends method path with an optional JSON body.
// Statuses >= 400 come back as *model.APIError; transport failures as a
// network-kind APIError.
func (g *Gateway) Call(ctx context.Context, method, path string, body any) (*Response, error) {
	payload, err := encodeBody(body)
	if err != nil {
		return nil, err
	}

	used, _ := g.creds.Get()
	resp, err := g.send(ctx, method, path, payload, used.Access)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return checkStatus(resp)
	}

	original := model.NewAuthError("authorization failed", resp.StatusCode, parseDetail(resp.Body))
	access, err := g.renew(ctx, used.Access, original)
	if err != nil {
		return nil, err
	}

	g.logger.Debug("replaying request with renewed token",
		slog.String("method", method),
		slog.String("path", path),
	)
	resp, err = g.send(ctx, method, path, payload, access)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, model.NewAuthError("authorization failed after token refresh", resp.StatusCode, parseDetail(resp.Body))
	}
	return checkStatus(resp)
}

// Do is Call followed by decoding the body into out.
func (g *Gateway) Do(ctx context.Context, method, path string, body, out any) error {
	resp, err := g.Call(ctx, method, path, body)
	if err != nil {
		return err
	}
	return resp.Decode(out)
}

// renew returns the access token to replay with after a 401 on a request that
// carried used ("" for anonymous requests).
func (g *Gateway) renew(ctx context.Context, used string, original error) (string, error) {
	current, ok := g.creds.Get()
	if ok && current.Access != used {
		return current.Access, nil
	}
	if !ok {
		return "", original
	}
	if current.Refresh == "" {
		g.logger.Info("no refresh token, clearing credentials")
		if err := g.creds.Clear(ctx); err != nil {
			g.logger.Warn("clearing credentials failed", slog.String("error", err.Error()))
		}
		return "", original
	}

	ch := g.refreshes.DoChan(refreshKey, func() (any, error) {
		// Detached so one caller's cancellation cannot fail every waiter.
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return g.refresh(flightCtx, used)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			if model.KindOf(res.Err) == model.KindNetwork {
				return "", res.Err
			}
			return "", original
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", model.NewNetworkError("refresh", ctx.Err())
	}
}

// refresh runs inside the singleflight. It re-reads the credentials first:
// a flight that started after an earlier flight finished must not spend the
// refresh token a second time.
func (g *Gateway) refresh(ctx context.Context, used string) (string, error) {
	current, ok := g.creds.Get()
	if !ok {
		return "", model.NewAuthError("session ended", http.StatusUnauthorized, nil)
	}
	if current.Access != used {
		return current.Access, nil
	}

	g.logger.Info("refreshing access token")

	payload, _ := json.Marshal(map[string]string{"refresh": current.Refresh})
	resp, err := g.send(ctx, http.MethodPost, pathRefresh, payload, "")
	if err != nil {
		g.logger.Warn("token refresh unreachable", slog.String("error", err.Error()))
		return "", err
	}

	var renewed model.TokenPair
	if resp.StatusCode < 400 {
		if err := resp.Decode(&renewed); err != nil {
			g.logger.Warn("token refresh returned malformed body", slog.String("error", err.Error()))
		}
	}
	if resp.StatusCode >= 400 || renewed.Access == "" {
		g.logger.Info("token refresh rejected, clearing credentials", slog.Int("status", resp.StatusCode))
		if err := g.creds.Clear(ctx); err != nil {
			g.logger.Warn("clearing credentials failed", slog.String("error", err.Error()))
		}
		return "", model.NewAuthError("refresh rejected", resp.StatusCode, parseDetail(resp.Body))
	}

	if renewed.Refresh == "" {
		renewed.Refresh = current.Refresh
	}
	if err := g.creds.Set(ctx, renewed); err != nil {
		g.logger.Warn("persisting refreshed credentials failed", slog.String("error", err.Error()))
	}
	return renewed.Access, nil
}

// send performs one HTTP exchange. accessToken "" sends the request anonymously.
func (g *Gateway) send(ctx context.Context, method, path string, payload []byte, accessToken string) (*Response, error) {
	req, err := g.newRequest(ctx, method, path, payload, accessToken)
	if err != nil {
		return nil, model.NewInternalError(fmt.Errorf("creating request: %w", err))
	}

	start := time.Now()
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, model.NewNetworkError(method+" "+path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, model.NewNetworkError(method+" "+path, fmt.Errorf("reading response: %w", err))
	}

	g.logger.Debug("backend call",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
		slog.String("request_id", req.Header.Get("X-Request-ID")),
	)

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// newRequest builds a JSON request. The body is rebuilt from payload on
// every send so replays never reuse a drained reader.
func (g *Gateway) newRequest(ctx context.Context, method, path string, payload []byte, accessToken string) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.URL(path), body)
	if err != nil {
		return nil, err
	}

	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if g.agent != "" {
		req.Header.Set("Client-Agent", g.agent)
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	return req, nil
}

func encodeBody(body any) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	if raw, ok := body.(json.RawMessage); ok {
		return raw, nil
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, model.NewInternalError(fmt.Errorf("marshaling request: %w", err))
	}
	return payload, nil
}

// checkStatus passes 1xx-3xx responses through and converts the rest.
func checkStatus(resp *Response) (*Response, error) {
	if resp.StatusCode < 400 {
		return resp, nil
	}
	return nil, model.NewUpstreamError(resp.StatusCode, parseDetail(resp.Body))
}

// parseDetail returns the body as decoded JSON, or as trimmed text when the
// body is not JSON.
func parseDetail(body []byte) any {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil
	}
	var detail any
	if err := json.Unmarshal(trimmed, &detail); err != nil {
		return string(trimmed)
	}
	return detail
}

// IsUnauthorized reports whether err is an authorization failure.
func IsUnauthorized(err error) bool {
	return errors.Is(err, model.ErrUnauthorized)
}
