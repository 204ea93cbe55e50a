// Package handler exposes a storefront session to agents over MCP.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"storefront/internal/checkout"
	"storefront/internal/model"
	"storefront/internal/session"
)

// Storefront is the session surface the tools drive.
// Implemented by session.Session.
type Storefront interface {
	Menu(ctx context.Context) ([]model.MenuItem, error)
	ViewCart() session.CartView
	AddToCart(ctx context.Context, productID, quantity int) error
	ChangeQuantity(ctx context.Context, productID, delta int) error
	RemoveFromCart(ctx context.Context, productID int) error
	ApplyCoupon(ctx context.Context, code string) (*model.Coupon, error)
	RemoveCoupon(ctx context.Context)
	Checkout(ctx context.Context, serviceType model.ServiceType) (*checkout.Result, error)
	RetryPayment(ctx context.Context) (*checkout.Result, error)
	ResumePayment(ctx context.Context, orderID int) (*checkout.Result, error)
	Login(ctx context.Context, username, password string) (*session.Identity, error)
	Logout(ctx context.Context) error
	Orders(ctx context.Context) ([]model.Order, error)
	Whoami() session.Identity
}

// Handler holds dependencies for the MCP tools and HTTP routes.
type Handler struct {
	store   Storefront
	logger  *slog.Logger
	version string
}

// New creates a Handler. version is reported to MCP clients.
func New(store Storefront, logger *slog.Logger, version string) *Handler {
	if version == "" {
		version = "dev"
	}
	return &Handler{
		store:   store,
		logger:  logger,
		version: version,
	}
}

// RegisterRoutes registers the MCP endpoint and health checks.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("/mcp", h.NewMCPHandler())

	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /healthz", h.handleHealth)
}

// handleHealth reports liveness along with the session's sign-in state.
// GET /health, GET /healthz
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, healthResponse{
		Status:   "ok",
		SignedIn: h.store.Whoami().SignedIn,
	})
}

type healthResponse struct {
	Status   string `json:"status"`
	SignedIn bool   `json:"signed_in"`
}

// writeJSON sends a JSON response with the given status code.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", slog.String("error", err.Error()))
	}
}
