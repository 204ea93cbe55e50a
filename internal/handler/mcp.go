// MCP transport for the storefront session using the official MCP Go SDK.
package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"storefront/internal/checkout"
	"storefront/internal/model"
)

// === MCP Tool Input Types ===

// EmptyInput is the input of tools that take no arguments.
type EmptyInput struct{}

// AddToCartInput is the input schema for add_to_cart.
type AddToCartInput struct {
	ProductID int `json:"product_id" jsonschema:"menu item id from list_menu"`
	Quantity  int `json:"quantity,omitempty" jsonschema:"how many to add (default 1)"`
}

// ChangeQuantityInput is the input schema for change_quantity.
type ChangeQuantityInput struct {
	ProductID int `json:"product_id" jsonschema:"menu item id already in the cart"`
	Delta     int `json:"delta" jsonschema:"amount to add; negative to reduce, the line is removed at zero"`
}

// RemoveFromCartInput is the input schema for remove_from_cart.
type RemoveFromCartInput struct {
	ProductID int `json:"product_id" jsonschema:"menu item id to remove"`
}

// ApplyCouponInput is the input schema for apply_coupon.
type ApplyCouponInput struct {
	Code string `json:"code" jsonschema:"promotion code; case and surrounding spaces are ignored"`
}

// CheckoutInput is the input schema for checkout.
type CheckoutInput struct {
	ServiceType string `json:"service_type,omitempty" jsonschema:"DINE_IN, TAKEAWAY or DELIVERY (default DINE_IN)"`
}

// ResumePaymentInput is the input schema for resume_payment.
type ResumePaymentInput struct {
	OrderID int `json:"order_id,omitempty" jsonschema:"order to check; defaults to the current checkout's order"`
}

// LoginInput is the input schema for login.
type LoginInput struct {
	Username string `json:"username,omitempty" jsonschema:"account username"`
	Password string `json:"password,omitempty" jsonschema:"account password"`
}

const instructions = "Storefront ordering. Browse with list_menu, build the cart with " +
	"add_to_cart/change_quantity/remove_from_cart, optionally apply_coupon, then checkout. " +
	"If checkout reports login_required, call login and checkout again. " +
	"After a failed payment use retry_payment; it charges the same order."

// NewMCPServer creates an MCP server with the storefront tools registered.
func (h *Handler) NewMCPServer() *mcp.Server {
	server := mcp.NewServer(
		&mcp.Implementation{
			Name:    "storefront",
			Version: h.version,
		},
		&mcp.ServerOptions{
			Instructions: instructions,
		},
	)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_menu",
		Description: "List the menu items that can be added to the cart, with prices.",
	}, h.mcpListMenu)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "view_cart",
		Description: "Show the cart lines, item count, subtotal, coupon discount and payable amount.",
	}, h.mcpViewCart)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "add_to_cart",
		Description: "Add a menu item to the cart. Adding an item already in the cart increases its quantity.",
	}, h.mcpAddToCart)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "change_quantity",
		Description: "Change the quantity of a cart line by a positive or negative amount.",
	}, h.mcpChangeQuantity)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "remove_from_cart",
		Description: "Remove a line from the cart.",
	}, h.mcpRemoveFromCart)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "apply_coupon",
		Description: "Validate a promotion code and apply its discount. An invalid code removes any applied coupon.",
	}, h.mcpApplyCoupon)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "remove_coupon",
		Description: "Remove the applied coupon.",
	}, h.mcpRemoveCoupon)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "checkout",
		Description: "Create an order from the cart and pay for it.",
	}, h.mcpCheckout)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "retry_payment",
		Description: "Retry the payment of the last failed checkout for the same order and amount.",
	}, h.mcpRetryPayment)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "resume_payment",
		Description: "Check whether a hosted payment completed and finish the checkout if it did.",
	}, h.mcpResumePayment)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "login",
		Description: "Sign in. The current cart is merged into the account's cart.",
	}, h.mcpLogin)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "logout",
		Description: "Sign out and start a new empty cart.",
	}, h.mcpLogout)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "whoami",
		Description: "Show whether the session is signed in and as whom.",
	}, h.mcpWhoami)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_orders",
		Description: "List the signed-in user's orders.",
	}, h.mcpListOrders)

	return server
}

// NewMCPHandler returns an HTTP handler for the MCP endpoint.
// Mount this at /mcp on your mux.
func (h *Handler) NewMCPHandler() http.Handler {
	server := h.NewMCPServer()
	return mcp.NewStreamableHTTPHandler(
		func(r *http.Request) *mcp.Server { return server },
		nil,
	)
}

// RunStdio serves the tools over stdin/stdout until ctx is done or the
// client disconnects.
func (h *Handler) RunStdio(ctx context.Context) error {
	return h.NewMCPServer().Run(ctx, &mcp.StdioTransport{})
}

// === Tool Handlers ===

func (h *Handler) mcpListMenu(ctx context.Context, req *mcp.CallToolRequest, _ EmptyInput) (*mcp.CallToolResult, MenuOutput, error) {
	items, err := h.store.Menu(ctx)
	if err != nil {
		return nil, MenuOutput{}, h.mcpError(err)
	}
	return nil, menuView(items), nil
}

func (h *Handler) mcpViewCart(ctx context.Context, req *mcp.CallToolRequest, _ EmptyInput) (*mcp.CallToolResult, CartOutput, error) {
	return nil, cartView(h.store.ViewCart()), nil
}

func (h *Handler) mcpAddToCart(ctx context.Context, req *mcp.CallToolRequest, input AddToCartInput) (*mcp.CallToolResult, CartOutput, error) {
	qty := input.Quantity
	if qty == 0 {
		qty = 1
	}
	if err := h.store.AddToCart(ctx, input.ProductID, qty); err != nil {
		return nil, CartOutput{}, h.mcpError(err)
	}
	return nil, cartView(h.store.ViewCart()), nil
}

func (h *Handler) mcpChangeQuantity(ctx context.Context, req *mcp.CallToolRequest, input ChangeQuantityInput) (*mcp.CallToolResult, CartOutput, error) {
	if input.Delta == 0 {
		return nil, CartOutput{}, fmt.Errorf("delta must not be zero")
	}
	if err := h.store.ChangeQuantity(ctx, input.ProductID, input.Delta); err != nil {
		return nil, CartOutput{}, h.mcpError(err)
	}
	return nil, cartView(h.store.ViewCart()), nil
}

func (h *Handler) mcpRemoveFromCart(ctx context.Context, req *mcp.CallToolRequest, input RemoveFromCartInput) (*mcp.CallToolResult, CartOutput, error) {
	if err := h.store.RemoveFromCart(ctx, input.ProductID); err != nil {
		return nil, CartOutput{}, h.mcpError(err)
	}
	return nil, cartView(h.store.ViewCart()), nil
}

func (h *Handler) mcpApplyCoupon(ctx context.Context, req *mcp.CallToolRequest, input ApplyCouponInput) (*mcp.CallToolResult, CouponOutput, error) {
	coupon, err := h.store.ApplyCoupon(ctx, input.Code)
	if err != nil {
		return nil, CouponOutput{}, h.mcpError(err)
	}
	return nil, CouponOutput{
		Code:            coupon.Code,
		DiscountPercent: coupon.DiscountPercent.String(),
		Cart:            cartView(h.store.ViewCart()),
	}, nil
}

func (h *Handler) mcpRemoveCoupon(ctx context.Context, req *mcp.CallToolRequest, _ EmptyInput) (*mcp.CallToolResult, CartOutput, error) {
	h.store.RemoveCoupon(ctx)
	return nil, cartView(h.store.ViewCart()), nil
}

func (h *Handler) mcpCheckout(ctx context.Context, req *mcp.CallToolRequest, input CheckoutInput) (*mcp.CallToolResult, CheckoutOutput, error) {
	serviceType := model.ServiceType(strings.ToUpper(strings.TrimSpace(input.ServiceType)))
	return h.checkoutResult(h.store.Checkout(ctx, serviceType))
}

func (h *Handler) mcpRetryPayment(ctx context.Context, req *mcp.CallToolRequest, _ EmptyInput) (*mcp.CallToolResult, CheckoutOutput, error) {
	return h.checkoutResult(h.store.RetryPayment(ctx))
}

func (h *Handler) mcpResumePayment(ctx context.Context, req *mcp.CallToolRequest, input ResumePaymentInput) (*mcp.CallToolResult, CheckoutOutput, error) {
	return h.checkoutResult(h.store.ResumePayment(ctx, input.OrderID))
}

func (h *Handler) mcpLogin(ctx context.Context, req *mcp.CallToolRequest, input LoginInput) (*mcp.CallToolResult, IdentityOutput, error) {
	if input.Username == "" || input.Password == "" {
		return nil, IdentityOutput{}, fmt.Errorf("username and password are required")
	}
	id, err := h.store.Login(ctx, input.Username, input.Password)
	if err != nil {
		return nil, IdentityOutput{}, h.mcpError(err)
	}
	return nil, identityView(*id), nil
}

func (h *Handler) mcpLogout(ctx context.Context, req *mcp.CallToolRequest, _ EmptyInput) (*mcp.CallToolResult, IdentityOutput, error) {
	if err := h.store.Logout(ctx); err != nil {
		return nil, IdentityOutput{}, h.mcpError(err)
	}
	return nil, identityView(h.store.Whoami()), nil
}

func (h *Handler) mcpWhoami(ctx context.Context, req *mcp.CallToolRequest, _ EmptyInput) (*mcp.CallToolResult, IdentityOutput, error) {
	return nil, identityView(h.store.Whoami()), nil
}

func (h *Handler) mcpListOrders(ctx context.Context, req *mcp.CallToolRequest, _ EmptyInput) (*mcp.CallToolResult, OrdersOutput, error) {
	orders, err := h.store.Orders(ctx)
	if err != nil {
		return nil, OrdersOutput{}, h.mcpError(err)
	}
	return nil, ordersView(orders), nil
}

// checkoutResult returns a payment failure as a normal result so the agent
// can see the Failed state and offer a retry. Other failures are tool errors.
func (h *Handler) checkoutResult(res *checkout.Result, err error) (*mcp.CallToolResult, CheckoutOutput, error) {
	if err != nil && (res == nil || model.KindOf(err) != model.KindPayment) {
		return nil, CheckoutOutput{}, h.mcpError(err)
	}
	return nil, checkoutView(res), nil
}

// mcpError converts session errors to MCP-friendly errors.
func (h *Handler) mcpError(err error) error {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		if text := model.DetailText(apiErr.Detail); text != "" && apiErr.Kind != model.KindOrder {
			return fmt.Errorf("%s: %s (%s)", apiErr.Code, apiErr.Message, text)
		}
		return fmt.Errorf("%s: %s", apiErr.Code, apiErr.Message)
	}
	if errors.Is(err, checkout.ErrNothingToRetry) {
		return err
	}
	// Don't leak internal error details
	h.logger.Error("mcp internal error", slog.String("error", err.Error()))
	return fmt.Errorf("internal error")
}
