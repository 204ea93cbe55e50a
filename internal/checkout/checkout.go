// Package checkout drives a cart through order creation, placement and
// payment capture.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"storefront/internal/cart"
	"storefront/internal/gateway"
	"storefront/internal/model"
	"storefront/internal/storage"
)

// =============================================================================
// CHECKOUT STATE MACHINE
// =============================================================================
//
//   Idle → Validating → OrderCreated → Placed → PaymentPending → Captured
//                                                      ↑   ↓
//                                                      Failed
//
// Validating can fall back to Idle with a signal (cart_empty, login_required)
// instead of an error. Captured resets to Idle once the cart is cleared.
// Failed moves through RetryPayment, which reuses the order id and amount of
// the failed attempt, or through Resume once the backend reports it paid.
//
// Failed and PaymentPending runs are persisted under storage.KeyCheckout, so a
// later process can retry or resume them.
// =============================================================================

// State is a checkout state.
type State string

const (
	StateIdle           State = "idle"
	StateValidating     State = "validating"
	StateOrderCreated   State = "order_created"
	StatePlaced         State = "placed"
	StatePaymentPending State = "payment_pending"
	StateCaptured       State = "captured"
	StateFailed         State = "failed"
)

// Signal asks the caller to prompt the user for something.
type Signal string

const (
	SignalNone          Signal = ""
	SignalCartEmpty     Signal = "cart_empty"
	SignalLoginRequired Signal = "login_required"
	SignalSuggestSignup Signal = "suggest_signup"
	SignalRedirect      Signal = "redirect"
)

// Strategy selects how payment is taken.
type Strategy string

const (
	StrategyMock     Strategy = "mock"     // direct capture against payments/mock/pay/
	StrategyRedirect Strategy = "redirect" // hand off to the hosted payment page
)

const (
	pathOrders          = "orders/"
	pathCapture         = "payments/mock/pay/"
	pathValidateCoupon  = "promotions/validate/"
	DefaultRedirectPath = "payments/create-checkout-session/%d/"
	DefaultCurrency     = "NPR"
)

// ErrNothingToRetry is returned by RetryPayment outside the Failed state.
var ErrNothingToRetry = errors.New("no failed payment to retry")

// Caller performs backend calls and resolves backend URLs.
// Implemented by gateway.Gateway.
type Caller interface {
	Call(ctx context.Context, method, path string, body any) (*gateway.Response, error)
	URL(path string) string
}

// Credentials reports whether the session is signed in.
type Credentials interface {
	Get() (model.TokenPair, bool)
}

// Navigator opens the hosted payment page for the redirect strategy.
type Navigator interface {
	Navigate(ctx context.Context, url string) error
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(ctx context.Context, url string) error

func (f NavigatorFunc) Navigate(ctx context.Context, url string) error { return f(ctx, url) }

// Options configures an Orchestrator.
type Options struct {
	Strategy     Strategy
	Currency     string
	AllowGuest   bool   // let anonymous sessions check out
	SkipPlace    bool   // do not call orders/{id}/place/
	RedirectPath string // fmt pattern taking the order id
	Organization *int
	Location     *int
}

// Request starts a checkout run.
type Request struct {
	ServiceType model.ServiceType
}

// Result reports where a run stopped.
type Result struct {
	State       State                 `json:"state"`
	Signal      Signal                `json:"signal,omitempty"`
	Order       *model.Order          `json:"order,omitempty"`
	Payment     *model.PaymentAttempt `json:"payment,omitempty"`
	RedirectURL string                `json:"redirect_url,omitempty"`
	Message     string                `json:"message"`
}

// Totals is the priced cart as checkout would charge it.
type Totals struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Discount decimal.Decimal `json:"discount"`
	Payable  decimal.Decimal `json:"payable"`
	Coupon   *model.Coupon   `json:"coupon,omitempty"`
}

// Orchestrator runs checkouts one at a time.
type Orchestrator struct {
	caller    Caller
	cart      *cart.Store
	creds     Credentials
	storage   storage.Store
	navigator Navigator
	logger    *slog.Logger
	opts      Options

	mu      sync.Mutex
	state   State
	order   *model.Order
	attempt *model.PaymentAttempt
	coupon  *model.Coupon
}

// New creates an Orchestrator and restores any saved coupon and unfinished
// run from s.
func New(ctx context.Context, caller Caller, c *cart.Store, creds Credentials, s storage.Store, nav Navigator, logger *slog.Logger, opts Options) *Orchestrator {
	if opts.Strategy == "" {
		opts.Strategy = StrategyMock
	}
	if opts.Currency == "" {
		opts.Currency = DefaultCurrency
	}
	if opts.RedirectPath == "" {
		opts.RedirectPath = DefaultRedirectPath
	}

	o := &Orchestrator{
		caller:    caller,
		cart:      c,
		creds:     creds,
		storage:   s,
		navigator: nav,
		logger:    logger,
		opts:      opts,
		state:     StateIdle,
	}
	o.coupon = o.loadCoupon(ctx)
	o.restoreRun(ctx)
	return o
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Totals prices the current cart with the cached coupon.
func (o *Orchestrator) Totals() Totals {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.totalsLocked()
}

func (o *Orchestrator) totalsLocked() Totals {
	subtotal := o.cart.Subtotal()
	totals := Totals{
		Subtotal: subtotal,
		Discount: decimal.Zero,
		Payable:  subtotal.Truncate(2),
	}
	if o.coupon != nil {
		totals.Payable = model.ApplyDiscount(subtotal, o.coupon.DiscountPercent)
		totals.Discount = subtotal.Sub(totals.Payable)
		c := *o.coupon
		totals.Coupon = &c
	}
	return totals
}

// Checkout runs a checkout from Validating. Signals that need user action
// return a Result in Idle and a nil error.
func (o *Orchestrator) Checkout(ctx context.Context, req Request) (*Result, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.transition(StateValidating)
	o.forgetRunLocked(ctx)

	lines := o.cart.All()
	if len(lines) == 0 {
		o.transition(StateIdle)
		return &Result{State: StateIdle, Signal: SignalCartEmpty, Message: "Your cart is empty."}, nil
	}

	if _, ok := o.creds.Get(); !ok && !o.opts.AllowGuest {
		o.transition(StateIdle)
		return &Result{State: StateIdle, Signal: SignalLoginRequired, Message: "Please log in to check out."}, nil
	}

	serviceType := req.ServiceType
	if serviceType == "" {
		serviceType = model.ServiceDineIn
	}
	if !serviceType.Valid() {
		o.transition(StateIdle)
		err := model.NewValidationError("service_type", fmt.Sprintf("%q is not one of DINE_IN, TAKEAWAY, DELIVERY", serviceType))
		return &Result{State: StateIdle, Message: err.Message}, err
	}

	items := model.NormalizeCart(lines)
	if len(items) == 0 {
		o.transition(StateIdle)
		err := model.NewValidationError("cart", "no valid items")
		return &Result{State: StateIdle, Message: err.Message}, err
	}

	payable := o.totalsLocked().Payable

	order, err := o.createOrder(ctx, model.OrderRequest{
		ServiceType:  serviceType,
		Items:        items,
		Organization: o.opts.Organization,
		Location:     o.opts.Location,
	})
	if err != nil {
		o.transition(StateIdle)
		return &Result{State: StateIdle, Message: describe(err)}, err
	}
	o.order = order
	o.transition(StateOrderCreated)

	if !o.opts.SkipPlace {
		o.place(ctx, order.ID)
	}
	o.transition(StatePlaced)

	o.attempt = &model.PaymentAttempt{
		OrderID:  order.ID,
		Amount:   payable.Truncate(2),
		Currency: o.opts.Currency,
		Status:   model.PaymentPending,
	}
	return o.pay(ctx)
}

// RetryPayment re-enters PaymentPending with the failed attempt's order id
// and amount. The order is not re-created.
func (o *Orchestrator) RetryPayment(ctx context.Context) (*Result, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state != StateFailed || o.attempt == nil {
		return &Result{State: o.state, Message: ErrNothingToRetry.Error()}, ErrNothingToRetry
	}

	o.logger.Info("retrying payment",
		slog.Int("order_id", o.attempt.OrderID),
		slog.String("amount", model.FormatAmount(o.attempt.Amount)),
	)
	o.attempt.Status = model.PaymentPending
	return o.pay(ctx)
}

// Resume checks an order after the hosted payment page returns. orderID 0
// means the order of the unfinished run. Only that order completes the run;
// any other order is reported without touching the cart.
func (o *Orchestrator) Resume(ctx context.Context, orderID int) (*Result, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if orderID == 0 && o.attempt != nil {
		orderID = o.attempt.OrderID
	}
	if orderID <= 0 {
		err := model.NewValidationError("order", "no order to resume")
		return &Result{State: o.state, Message: err.Message}, err
	}

	resp, err := o.caller.Call(ctx, http.MethodGet, fmt.Sprintf("%s%d/", pathOrders, orderID), nil)
	if err != nil {
		return &Result{State: o.state, Message: describe(err)}, err
	}
	var order model.Order
	if err := resp.Decode(&order); err != nil {
		return &Result{State: o.state, Message: "Unreadable order response."}, model.NewInternalError(err)
	}
	if order.ID == 0 {
		order.ID = orderID
	}

	if o.attempt == nil || o.attempt.OrderID != order.ID {
		return otherOrder(o.state, &order), nil
	}

	o.order = &order
	if !order.IsPaid {
		// A failed capture stays retryable.
		if o.state != StateFailed {
			o.transition(StatePaymentPending)
		}
		o.saveRun(ctx)
		return &Result{
			State:   o.state,
			Order:   o.order,
			Payment: o.attempt,
			Message: fmt.Sprintf("Payment for order #%d is not confirmed yet.", order.ID),
		}, nil
	}

	o.attempt.Status = model.PaymentCaptured
	return o.captured(ctx), nil
}

// otherOrder reports an order that does not belong to the current run.
func otherOrder(state State, order *model.Order) *Result {
	msg := fmt.Sprintf("Order #%d is paid.", order.ID)
	if !order.IsPaid {
		msg = fmt.Sprintf("Payment for order #%d is not confirmed yet.", order.ID)
	}
	return &Result{State: state, Order: order, Message: msg}
}

func (o *Orchestrator) createOrder(ctx context.Context, req model.OrderRequest) (*model.Order, error) {
	resp, err := o.caller.Call(ctx, http.MethodPost, pathOrders, req)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) && apiErr.Kind == model.KindUpstream {
			return nil, model.NewOrderError(apiErr.StatusCode, apiErr.Detail)
		}
		return nil, err
	}

	var order model.Order
	if err := resp.Decode(&order); err != nil {
		return nil, model.NewOrderError(resp.StatusCode, "unreadable order response")
	}
	if order.ID <= 0 {
		return nil, model.NewOrderError(resp.StatusCode, "order response without id")
	}

	o.logger.Info("order created",
		slog.Int("order_id", order.ID),
		slog.String("service_type", string(req.ServiceType)),
		slog.Int("items", len(req.Items)),
	)
	return &order, nil
}

// place is best effort: the backend may treat a created order as live.
func (o *Orchestrator) place(ctx context.Context, orderID int) {
	if _, err := o.caller.Call(ctx, http.MethodPost, fmt.Sprintf("%s%d/place/", pathOrders, orderID), nil); err != nil {
		o.logger.Warn("placing order failed, continuing",
			slog.Int("order_id", orderID),
			slog.String("error", err.Error()),
		)
	}
}

// pay runs PaymentPending for o.attempt. Called with mu held.
func (o *Orchestrator) pay(ctx context.Context) (*Result, error) {
	o.transition(StatePaymentPending)

	if o.opts.Strategy == StrategyRedirect {
		return o.redirect(ctx)
	}

	attempt := o.attempt
	resp, err := o.caller.Call(ctx, http.MethodPost, pathCapture, model.CaptureRequest{
		OrderID:  attempt.OrderID,
		Amount:   model.FormatAmount(attempt.Amount),
		Currency: attempt.Currency,
	})
	if err != nil {
		if model.KindOf(err) != model.KindNetwork {
			err = model.NewPaymentError(fmt.Sprintf("capture rejected: %s", describe(err)))
		}
		return o.failed(ctx, err), err
	}

	var capture model.CaptureResponse
	if err := resp.Decode(&capture); err != nil || capture.Status != model.PaymentCaptured {
		status := string(capture.Status)
		if status == "" {
			status = "unknown"
		}
		perr := model.NewPaymentError(fmt.Sprintf("payment %s", status))
		return o.failed(ctx, perr), perr
	}

	attempt.Status = model.PaymentCaptured
	return o.captured(ctx), nil
}

func (o *Orchestrator) redirect(ctx context.Context) (*Result, error) {
	target := o.caller.URL(fmt.Sprintf(o.opts.RedirectPath, o.attempt.OrderID))
	if o.navigator != nil {
		if err := o.navigator.Navigate(ctx, target); err != nil {
			nerr := model.NewPaymentError(fmt.Sprintf("opening payment page: %v", err))
			return o.failed(ctx, nerr), nerr
		}
	}

	o.saveRun(ctx)
	o.logger.Info("redirected to hosted payment", slog.Int("order_id", o.attempt.OrderID))
	return &Result{
		State:       StatePaymentPending,
		Signal:      SignalRedirect,
		Order:       o.order,
		Payment:     o.attempt,
		RedirectURL: target,
		Message:     fmt.Sprintf("Complete payment for order #%d at %s", o.attempt.OrderID, target),
	}, nil
}

func (o *Orchestrator) failed(ctx context.Context, err error) *Result {
	o.attempt.Status = model.PaymentFailed
	o.transition(StateFailed)
	o.saveRun(ctx)
	o.logger.Warn("payment failed",
		slog.Int("order_id", o.attempt.OrderID),
		slog.String("error", err.Error()),
	)
	return &Result{
		State:   StateFailed,
		Order:   o.order,
		Payment: o.attempt,
		Message: fmt.Sprintf("Payment did not go through (%s). You can retry.", describe(err)),
	}
}

// captured clears the cart and the coupon, then resets to Idle.
func (o *Orchestrator) captured(ctx context.Context) *Result {
	o.transition(StateCaptured)

	if err := o.cart.Clear(ctx); err != nil {
		o.logger.Warn("clearing cart after capture failed", slog.String("error", err.Error()))
	}
	o.clearCouponLocked(ctx)

	result := &Result{
		State:   StateCaptured,
		Order:   o.order,
		Payment: o.attempt,
		Message: fmt.Sprintf("Payment captured for order #%d.", o.attempt.OrderID),
	}
	if _, ok := o.creds.Get(); !ok {
		result.Signal = SignalSuggestSignup
		result.Message += " Create an account to track your orders."
	}

	o.logger.Info("payment captured",
		slog.Int("order_id", o.attempt.OrderID),
		slog.String("amount", model.FormatAmount(o.attempt.Amount)),
	)

	o.transition(StateIdle)
	o.forgetRunLocked(ctx)
	return result
}

func (o *Orchestrator) transition(to State) {
	if o.state == to {
		return
	}
	o.logger.Debug("checkout transition", slog.String("from", string(o.state)), slog.String("to", string(to)))
	o.state = to
}

// describe renders err for the user, preferring backend detail text.
func describe(err error) string {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		if text := model.DetailText(apiErr.Detail); text != "" && apiErr.Kind != model.KindOrder {
			return text
		}
		return apiErr.Message
	}
	return strings.TrimSpace(err.Error())
}
