package handler

import (
	"context"

	"storefront/internal/checkout"
	"storefront/internal/model"
	"storefront/internal/session"
)

// mockStorefront implements Storefront for testing.
// Each method can be configured via function fields.
type mockStorefront struct {
	MenuFunc          func(ctx context.Context) ([]model.MenuItem, error)
	CartView          session.CartView
	AddToCartFunc     func(ctx context.Context, productID, quantity int) error
	ChangeQtyFunc     func(ctx context.Context, productID, delta int) error
	RemoveFunc        func(ctx context.Context, productID int) error
	ApplyCouponFunc   func(ctx context.Context, code string) (*model.Coupon, error)
	CheckoutFunc      func(ctx context.Context, serviceType model.ServiceType) (*checkout.Result, error)
	RetryPaymentFunc  func(ctx context.Context) (*checkout.Result, error)
	ResumePaymentFunc func(ctx context.Context, orderID int) (*checkout.Result, error)
	LoginFunc         func(ctx context.Context, username, password string) (*session.Identity, error)
	LogoutFunc        func(ctx context.Context) error
	OrdersFunc        func(ctx context.Context) ([]model.Order, error)
	Identity          session.Identity

	couponRemoved bool
}

func (m *mockStorefront) Menu(ctx context.Context) ([]model.MenuItem, error) {
	if m.MenuFunc != nil {
		return m.MenuFunc(ctx)
	}
	return nil, nil
}

func (m *mockStorefront) ViewCart() session.CartView { return m.CartView }

func (m *mockStorefront) AddToCart(ctx context.Context, productID, quantity int) error {
	if m.AddToCartFunc != nil {
		return m.AddToCartFunc(ctx, productID, quantity)
	}
	return nil
}

func (m *mockStorefront) ChangeQuantity(ctx context.Context, productID, delta int) error {
	if m.ChangeQtyFunc != nil {
		return m.ChangeQtyFunc(ctx, productID, delta)
	}
	return nil
}

func (m *mockStorefront) RemoveFromCart(ctx context.Context, productID int) error {
	if m.RemoveFunc != nil {
		return m.RemoveFunc(ctx, productID)
	}
	return nil
}

func (m *mockStorefront) ApplyCoupon(ctx context.Context, code string) (*model.Coupon, error) {
	if m.ApplyCouponFunc != nil {
		return m.ApplyCouponFunc(ctx, code)
	}
	return nil, model.NewValidationError("coupon", code+" is not valid")
}

func (m *mockStorefront) RemoveCoupon(ctx context.Context) { m.couponRemoved = true }

func (m *mockStorefront) Checkout(ctx context.Context, serviceType model.ServiceType) (*checkout.Result, error) {
	if m.CheckoutFunc != nil {
		return m.CheckoutFunc(ctx, serviceType)
	}
	return &checkout.Result{State: checkout.StateIdle, Signal: checkout.SignalCartEmpty, Message: "Your cart is empty."}, nil
}

func (m *mockStorefront) RetryPayment(ctx context.Context) (*checkout.Result, error) {
	if m.RetryPaymentFunc != nil {
		return m.RetryPaymentFunc(ctx)
	}
	return &checkout.Result{State: checkout.StateIdle}, checkout.ErrNothingToRetry
}

func (m *mockStorefront) ResumePayment(ctx context.Context, orderID int) (*checkout.Result, error) {
	if m.ResumePaymentFunc != nil {
		return m.ResumePaymentFunc(ctx, orderID)
	}
	return nil, model.NewValidationError("order", "no order to resume")
}

func (m *mockStorefront) Login(ctx context.Context, username, password string) (*session.Identity, error) {
	if m.LoginFunc != nil {
		return m.LoginFunc(ctx, username, password)
	}
	return nil, model.NewAuthError("invalid username or password", 401, nil)
}

func (m *mockStorefront) Logout(ctx context.Context) error {
	if m.LogoutFunc != nil {
		return m.LogoutFunc(ctx)
	}
	m.Identity = session.Identity{}
	return nil
}

func (m *mockStorefront) Orders(ctx context.Context) ([]model.Order, error) {
	if m.OrdersFunc != nil {
		return m.OrdersFunc(ctx)
	}
	return nil, nil
}

func (m *mockStorefront) Whoami() session.Identity { return m.Identity }
