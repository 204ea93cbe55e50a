package gateway

import (
	"context"
	"encoding/json"
	"net/http"

	"storefront/internal/model"
)

// RegisterRequest is the body of POST auth/register/.
type RegisterRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Password  string `json:"password"`
}

// Authenticate exchanges a username and password for a token pair.
// The call is sent anonymously and bypasses refresh handling.
func (g *Gateway) Authenticate(ctx context.Context, username, password string) (model.TokenPair, error) {
	payload, _ := json.Marshal(map[string]string{
		"username": username,
		"password": password,
	})
	return g.tokenCall(ctx, pathToken, payload, "invalid username or password")
}

// Register creates an account. Backends that do not sign the new user in
// return a zero pair.
func (g *Gateway) Register(ctx context.Context, req RegisterRequest) (model.TokenPair, error) {
	payload, err := encodeBody(req)
	if err != nil {
		return model.TokenPair{}, err
	}
	return g.tokenCall(ctx, pathRegister, payload, "registration rejected")
}

func (g *Gateway) tokenCall(ctx context.Context, path string, payload []byte, reason string) (model.TokenPair, error) {
	resp, err := g.send(ctx, http.MethodPost, path, payload, "")
	if err != nil {
		return model.TokenPair{}, err
	}

	switch {
	case resp.StatusCode == http.StatusBadRequest, resp.StatusCode == http.StatusUnauthorized:
		return model.TokenPair{}, model.NewAuthError(reason, resp.StatusCode, parseDetail(resp.Body))
	case resp.StatusCode >= 400:
		return model.TokenPair{}, model.NewUpstreamError(resp.StatusCode, parseDetail(resp.Body))
	}

	var pair model.TokenPair
	if err := resp.Decode(&pair); err != nil {
		return model.TokenPair{}, model.NewInternalError(err)
	}
	return pair, nil
}
