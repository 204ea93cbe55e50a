package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"storefront/internal/cart"
	"storefront/internal/credential"
	"storefront/internal/gateway"
	"storefront/internal/model"
	"storefront/internal/reconcile"
	"storefront/internal/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// shopBackend implements the order, payment and promotion endpoints.
type shopBackend struct {
	mu            sync.Mutex
	hits          map[string]int
	orderBodies   []string
	captureBodies []model.CaptureRequest
	syncBodies    []string
	captureStatus []string // consumed per capture; last value repeats
	orderStatus   int      // non-zero rejects order creation
	placeStatus   int      // non-zero rejects place
	paid          bool
}

func newShopBackend() *shopBackend {
	return &shopBackend{hits: make(map[string]int), captureStatus: []string{"captured"}}
}

func (b *shopBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	body, _ := io.ReadAll(r.Body)
	path := strings.TrimPrefix(r.URL.Path, "/api/")
	b.hits[r.Method+" "+path]++

	switch {
	case r.Method == http.MethodPost && path == "orders/":
		b.orderBodies = append(b.orderBodies, string(body))
		if b.orderStatus != 0 {
			w.WriteHeader(b.orderStatus)
			w.Write([]byte(`{"detail":"Kitchen is closed"}`))
			return
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":101,"service_type":"DINE_IN","status":"PENDING","is_paid":false,"total":"19.98","items":[{"menu_item":1,"quantity":2}]}`))
	case r.Method == http.MethodPost && path == "orders/101/place/":
		if b.placeStatus != 0 {
			w.WriteHeader(b.placeStatus)
			return
		}
		w.Write([]byte(`{"id":101,"status":"PLACED"}`))
	case r.Method == http.MethodGet && path == "orders/101/":
		json.NewEncoder(w).Encode(map[string]any{"id": 101, "is_paid": b.paid, "total": "19.98", "items": []any{}})
	case r.Method == http.MethodGet && path == "orders/12/":
		w.Write([]byte(`{"is_paid":true,"total":"5.00"}`))
	case r.Method == http.MethodPost && path == "payments/mock/pay/":
		var req model.CaptureRequest
		json.Unmarshal(body, &req)
		b.captureBodies = append(b.captureBodies, req)
		status := b.captureStatus[0]
		if len(b.captureStatus) > 1 {
			b.captureStatus = b.captureStatus[1:]
		}
		json.NewEncoder(w).Encode(map[string]string{"status": status})
	case r.Method == http.MethodPost && path == "promotions/validate/":
		var req map[string]string
		json.Unmarshal(body, &req)
		if req["code"] == "SAVE10" {
			w.Write([]byte(`{"valid":true,"discount_percent":10}`))
			return
		}
		w.Write([]byte(`{"valid":false}`))
	case r.Method == http.MethodPost && path == "cart/sync/":
		b.syncBodies = append(b.syncBodies, string(body))
		w.Write([]byte(`{}`))
	default:
		http.NotFound(w, r)
	}
}

func (b *shopBackend) set(fn func(b *shopBackend)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(b)
}

func (b *shopBackend) count(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hits[key]
}

func (b *shopBackend) captures() []model.CaptureRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]model.CaptureRequest(nil), b.captureBodies...)
}

func (b *shopBackend) orders() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.orderBodies...)
}

func (b *shopBackend) lastSync() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.syncBodies) == 0 {
		return ""
	}
	return b.syncBodies[len(b.syncBodies)-1]
}

type fixture struct {
	backend *shopBackend
	store   storage.Store
	creds   *credential.Store
	cart    *cart.Store
	rec     *reconcile.Reconciler
	gw      *gateway.Gateway
	orch    *Orchestrator
}

func newFixture(t *testing.T, signedIn bool, opts Options, nav Navigator) *fixture {
	t.Helper()
	ctx := context.Background()

	backend := newShopBackend()
	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)

	store := storage.NewMemory()
	creds, _ := credential.Load(ctx, store, discardLogger())
	if signedIn {
		creds.Set(ctx, model.TokenPair{Access: "a", Refresh: "r"})
	}
	gw, err := gateway.New(gateway.Options{BaseURL: srv.URL + "/api/", Logger: discardLogger()}, creds)
	if err != nil {
		t.Fatal(err)
	}
	c, _ := cart.Load(ctx, store, discardLogger())
	rec := reconcile.New(gw, c, nil, discardLogger(), reconcile.Options{})
	t.Cleanup(rec.Close)

	return &fixture{
		backend: backend,
		store:   store,
		creds:   creds,
		cart:    c,
		rec:     rec,
		gw:      gw,
		orch:    New(ctx, gw, c, creds, store, nav, discardLogger(), opts),
	}
}

func (f *fixture) fillCart(t *testing.T) {
	t.Helper()
	if err := f.cart.Add(context.Background(), 1, 2, decimal.RequireFromString("9.99"), "Momo"); err != nil {
		t.Fatal(err)
	}
	f.rec.Wait()
}

func TestCheckoutEmptyCart(t *testing.T) {
	f := newFixture(t, true, Options{}, nil)

	res, err := f.orch.Checkout(context.Background(), Request{ServiceType: model.ServiceDineIn})
	if err != nil {
		t.Fatalf("Checkout error: %v", err)
	}
	if res.State != StateIdle || res.Signal != SignalCartEmpty {
		t.Errorf("result = %+v, want idle with cart_empty", res)
	}
	if f.backend.count("POST orders/") != 0 {
		t.Error("empty cart reached order creation")
	}
}

func TestCheckoutRequiresLogin(t *testing.T) {
	f := newFixture(t, false, Options{}, nil)
	f.fillCart(t)

	res, err := f.orch.Checkout(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Checkout error: %v", err)
	}
	if res.State != StateIdle || res.Signal != SignalLoginRequired {
		t.Errorf("result = %+v, want idle with login_required", res)
	}
	if f.backend.count("POST orders/") != 0 {
		t.Error("anonymous checkout reached order creation")
	}
}

func TestCheckoutCapturedEndToEnd(t *testing.T) {
	f := newFixture(t, true, Options{}, nil)
	f.fillCart(t)

	res, err := f.orch.Checkout(context.Background(), Request{ServiceType: model.ServiceDineIn})
	if err != nil {
		t.Fatalf("Checkout error: %v", err)
	}
	f.rec.Wait()

	if res.State != StateCaptured || res.Signal != SignalNone {
		t.Errorf("result = %+v, want captured without signal", res)
	}
	if f.orch.State() != StateIdle {
		t.Errorf("State() = %s, want idle after capture", f.orch.State())
	}
	if !f.cart.IsEmpty() {
		t.Error("cart not cleared after capture")
	}
	if got := f.backend.lastSync(); got != `{"items":[]}` {
		t.Errorf("last sync = %s, want {\"items\":[]}", got)
	}

	if orders := f.backend.orders(); len(orders) != 1 || orders[0] != `{"service_type":"DINE_IN","items":[{"menu_item":1,"quantity":2}]}` {
		t.Errorf("order bodies = %v", orders)
	}
	if f.backend.count("POST orders/101/place/") != 1 {
		t.Error("order not placed")
	}
	captures := f.backend.captures()
	if len(captures) != 1 || captures[0] != (model.CaptureRequest{OrderID: 101, Amount: "19.98", Currency: "NPR"}) {
		t.Errorf("captures = %+v", captures)
	}
}

func TestCheckoutGuestSuggestsSignup(t *testing.T) {
	f := newFixture(t, false, Options{AllowGuest: true}, nil)
	f.fillCart(t)

	res, err := f.orch.Checkout(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Checkout error: %v", err)
	}
	if res.State != StateCaptured || res.Signal != SignalSuggestSignup {
		t.Errorf("result = %+v, want captured with suggest_signup", res)
	}
}

func TestCheckoutWithCoupon(t *testing.T) {
	f := newFixture(t, true, Options{}, nil)
	f.fillCart(t)
	ctx := context.Background()

	coupon, err := f.orch.ApplyCoupon(ctx, "  save10 ")
	if err != nil {
		t.Fatalf("ApplyCoupon error: %v", err)
	}
	if coupon.Code != "SAVE10" {
		t.Errorf("code = %q, want SAVE10", coupon.Code)
	}

	totals := f.orch.Totals()
	if !totals.Subtotal.Equal(decimal.RequireFromString("19.98")) || !totals.Payable.Equal(decimal.RequireFromString("17.98")) {
		t.Errorf("totals = %+v, want 19.98 → 17.98", totals)
	}

	if _, err := f.orch.Checkout(ctx, Request{}); err != nil {
		t.Fatalf("Checkout error: %v", err)
	}
	captures := f.backend.captures()
	if len(captures) != 1 || captures[0].Amount != "17.98" {
		t.Errorf("captures = %+v, want amount 17.98", captures)
	}
	if f.orch.Coupon() != nil {
		t.Error("coupon not cleared after capture")
	}
	if _, ok, _ := f.store.Get(ctx, storage.KeyCoupon); ok {
		t.Error("stored coupon not cleared after capture")
	}
}

func TestInvalidCouponClearsCached(t *testing.T) {
	f := newFixture(t, true, Options{}, nil)
	ctx := context.Background()

	f.orch.ApplyCoupon(ctx, "SAVE10")
	_, err := f.orch.ApplyCoupon(ctx, "BOGUS")

	if model.KindOf(err) != model.KindValidation {
		t.Errorf("error = %v, want validation error", err)
	}
	if f.orch.Coupon() != nil {
		t.Error("invalid code left the previous coupon cached")
	}
}

func TestCouponRestoredFromStorage(t *testing.T) {
	f := newFixture(t, true, Options{}, nil)
	ctx := context.Background()
	f.orch.ApplyCoupon(ctx, "SAVE10")

	restored := New(ctx, f.gw, f.cart, f.creds, f.store, nil, discardLogger(), Options{})
	if c := restored.Coupon(); c == nil || c.Code != "SAVE10" {
		t.Errorf("restored coupon = %+v, want SAVE10", c)
	}
}

func TestFailedCaptureThenRetry(t *testing.T) {
	f := newFixture(t, true, Options{}, nil)
	f.fillCart(t)
	f.backend.set(func(b *shopBackend) { b.captureStatus = []string{"failed", "captured"} })
	ctx := context.Background()

	res, err := f.orch.Checkout(ctx, Request{})
	if model.KindOf(err) != model.KindPayment {
		t.Fatalf("error = %v, want payment error", err)
	}
	if res.State != StateFailed || f.orch.State() != StateFailed {
		t.Errorf("state = %s / %s, want failed", res.State, f.orch.State())
	}
	if f.cart.IsEmpty() {
		t.Error("failed capture cleared the cart")
	}

	res, err = f.orch.RetryPayment(ctx)
	if err != nil {
		t.Fatalf("RetryPayment error: %v", err)
	}
	if res.State != StateCaptured {
		t.Errorf("retry state = %s, want captured", res.State)
	}

	captures := f.backend.captures()
	if len(captures) != 2 {
		t.Fatalf("captures = %d, want 2", len(captures))
	}
	if captures[0] != captures[1] {
		t.Errorf("retry capture = %+v, want identical to %+v", captures[1], captures[0])
	}
	if f.backend.count("POST orders/") != 1 {
		t.Error("retry re-created the order")
	}
}

func TestRetryWithoutFailure(t *testing.T) {
	f := newFixture(t, true, Options{}, nil)
	if _, err := f.orch.RetryPayment(context.Background()); !errors.Is(err, ErrNothingToRetry) {
		t.Errorf("error = %v, want ErrNothingToRetry", err)
	}
}

func TestOrderCreationFailure(t *testing.T) {
	f := newFixture(t, true, Options{}, nil)
	f.fillCart(t)
	f.backend.set(func(b *shopBackend) { b.orderStatus = http.StatusBadRequest })

	res, err := f.orch.Checkout(context.Background(), Request{})
	if model.KindOf(err) != model.KindOrder {
		t.Fatalf("error = %v, want order error", err)
	}
	if !strings.Contains(err.Error(), "Kitchen is closed") {
		t.Errorf("error = %v, want backend detail text", err)
	}
	if res.State != StateIdle {
		t.Errorf("state = %s, want idle", res.State)
	}
	if f.backend.count("POST payments/mock/pay/") != 0 {
		t.Error("payment attempted after failed order creation")
	}
}

func TestPlaceFailureIsSwallowed(t *testing.T) {
	f := newFixture(t, true, Options{}, nil)
	f.fillCart(t)
	f.backend.set(func(b *shopBackend) { b.placeStatus = http.StatusConflict })

	res, err := f.orch.Checkout(context.Background(), Request{})
	if err != nil || res.State != StateCaptured {
		t.Errorf("Checkout = %+v, %v; want captured", res, err)
	}
}

func TestSkipPlace(t *testing.T) {
	f := newFixture(t, true, Options{SkipPlace: true}, nil)
	f.fillCart(t)

	f.orch.Checkout(context.Background(), Request{})
	if f.backend.count("POST orders/101/place/") != 0 {
		t.Error("place called with SkipPlace")
	}
}

func TestInvalidServiceType(t *testing.T) {
	f := newFixture(t, true, Options{}, nil)
	f.fillCart(t)

	_, err := f.orch.Checkout(context.Background(), Request{ServiceType: "DRIVE_THRU"})
	if model.KindOf(err) != model.KindValidation {
		t.Errorf("error = %v, want validation error", err)
	}
}

func TestRedirectThenResume(t *testing.T) {
	var navigated string
	nav := NavigatorFunc(func(_ context.Context, url string) error {
		navigated = url
		return nil
	})
	f := newFixture(t, true, Options{Strategy: StrategyRedirect}, nav)
	f.fillCart(t)
	ctx := context.Background()

	res, err := f.orch.Checkout(ctx, Request{})
	if err != nil {
		t.Fatalf("Checkout error: %v", err)
	}
	if res.State != StatePaymentPending || res.Signal != SignalRedirect {
		t.Errorf("result = %+v, want payment_pending with redirect", res)
	}
	if !strings.HasSuffix(navigated, "/api/payments/create-checkout-session/101/") || res.RedirectURL != navigated {
		t.Errorf("navigated to %q, result URL %q", navigated, res.RedirectURL)
	}
	if f.backend.count("POST payments/mock/pay/") != 0 {
		t.Error("redirect strategy called the capture endpoint")
	}

	res, err = f.orch.Resume(ctx, 0)
	if err != nil || res.State != StatePaymentPending {
		t.Errorf("Resume before payment = %+v, %v; want payment_pending", res, err)
	}
	if f.cart.IsEmpty() {
		t.Error("unpaid order cleared the cart")
	}

	f.backend.set(func(b *shopBackend) { b.paid = true })
	res, err = f.orch.Resume(ctx, 101)
	if err != nil || res.State != StateCaptured {
		t.Errorf("Resume after payment = %+v, %v; want captured", res, err)
	}
	if !f.cart.IsEmpty() {
		t.Error("paid order did not clear the cart")
	}
}

func TestRedirectNavigationFailure(t *testing.T) {
	nav := NavigatorFunc(func(context.Context, string) error { return errors.New("no browser") })
	f := newFixture(t, true, Options{Strategy: StrategyRedirect}, nav)
	f.fillCart(t)

	res, err := f.orch.Checkout(context.Background(), Request{})
	if model.KindOf(err) != model.KindPayment || res.State != StateFailed {
		t.Errorf("Checkout = %+v, %v; want failed payment", res, err)
	}
}

func TestRetryAfterRestart(t *testing.T) {
	f := newFixture(t, true, Options{}, nil)
	f.fillCart(t)
	f.backend.set(func(b *shopBackend) { b.captureStatus = []string{"failed", "captured"} })
	ctx := context.Background()

	if _, err := f.orch.Checkout(ctx, Request{}); model.KindOf(err) != model.KindPayment {
		t.Fatalf("error = %v, want payment error", err)
	}

	restarted := New(ctx, f.gw, f.cart, f.creds, f.store, nil, discardLogger(), Options{})
	if restarted.State() != StateFailed {
		t.Fatalf("restored State() = %s, want failed", restarted.State())
	}

	res, err := restarted.RetryPayment(ctx)
	if err != nil {
		t.Fatalf("RetryPayment error: %v", err)
	}
	if res.State != StateCaptured {
		t.Errorf("retry state = %s, want captured", res.State)
	}

	captures := f.backend.captures()
	if len(captures) != 2 || captures[0] != captures[1] {
		t.Errorf("captures = %+v, want two identical", captures)
	}
	if f.backend.count("POST orders/") != 1 {
		t.Error("retry re-created the order")
	}
	if _, ok, _ := f.store.Get(ctx, storage.KeyCheckout); ok {
		t.Error("captured run still stored")
	}
}

func TestResumeAfterRestart(t *testing.T) {
	nav := NavigatorFunc(func(context.Context, string) error { return nil })
	f := newFixture(t, true, Options{Strategy: StrategyRedirect}, nav)
	f.fillCart(t)
	ctx := context.Background()

	if _, err := f.orch.Checkout(ctx, Request{}); err != nil {
		t.Fatalf("Checkout error: %v", err)
	}

	f.backend.set(func(b *shopBackend) { b.paid = true })
	restarted := New(ctx, f.gw, f.cart, f.creds, f.store, nav, discardLogger(), Options{Strategy: StrategyRedirect})
	res, err := restarted.Resume(ctx, 0)
	if err != nil || res.State != StateCaptured {
		t.Fatalf("Resume = %+v, %v; want captured", res, err)
	}
	if res.Payment == nil || res.Payment.OrderID != 101 {
		t.Errorf("Payment = %+v, want order 101", res.Payment)
	}
	if !f.cart.IsEmpty() {
		t.Error("paid order did not clear the cart")
	}
}

func TestResumeOtherOrderKeepsCart(t *testing.T) {
	nav := NavigatorFunc(func(context.Context, string) error { return nil })

	t.Run("no run", func(t *testing.T) {
		f := newFixture(t, true, Options{}, nil)
		f.fillCart(t)

		res, err := f.orch.Resume(context.Background(), 12)
		if err != nil {
			t.Fatalf("Resume error: %v", err)
		}
		if res.State != StateIdle || res.Order == nil || !res.Order.IsPaid || res.Order.ID != 12 {
			t.Errorf("result = %+v, want idle with paid order 12", res)
		}
		if f.cart.Count() != 2 {
			t.Errorf("Count() = %d, want cart untouched", f.cart.Count())
		}
	})

	t.Run("pending run", func(t *testing.T) {
		f := newFixture(t, true, Options{Strategy: StrategyRedirect}, nav)
		f.fillCart(t)
		ctx := context.Background()
		if _, err := f.orch.Checkout(ctx, Request{}); err != nil {
			t.Fatalf("Checkout error: %v", err)
		}

		res, err := f.orch.Resume(ctx, 12)
		if err != nil || res.State != StatePaymentPending {
			t.Errorf("Resume = %+v, %v; want payment_pending", res, err)
		}
		if f.cart.IsEmpty() {
			t.Error("unrelated paid order cleared the cart")
		}
		if _, ok, _ := f.store.Get(ctx, storage.KeyCheckout); !ok {
			t.Error("pending run dropped by unrelated order")
		}
	})
}

func TestResumeUnpaidKeepsFailedRun(t *testing.T) {
	f := newFixture(t, true, Options{}, nil)
	f.fillCart(t)
	f.backend.set(func(b *shopBackend) { b.captureStatus = []string{"failed"} })
	ctx := context.Background()
	f.orch.Checkout(ctx, Request{})

	res, err := f.orch.Resume(ctx, 0)
	if err != nil || res.State != StateFailed {
		t.Errorf("Resume = %+v, %v; want failed", res, err)
	}
	if f.orch.State() != StateFailed {
		t.Errorf("State() = %s, want failed", f.orch.State())
	}
}

func TestMalformedStoredRunDiscarded(t *testing.T) {
	f := newFixture(t, true, Options{}, nil)
	ctx := context.Background()
	f.store.Set(ctx, storage.KeyCheckout, []byte(`{"state":"captured","attempt":{"order_id":9}}`))

	restored := New(ctx, f.gw, f.cart, f.creds, f.store, nil, discardLogger(), Options{})
	if restored.State() != StateIdle {
		t.Errorf("State() = %s, want idle", restored.State())
	}
	if _, ok, _ := f.store.Get(ctx, storage.KeyCheckout); ok {
		t.Error("malformed run not removed")
	}
}

func TestTotalsWithoutCoupon(t *testing.T) {
	f := newFixture(t, true, Options{}, nil)
	if err := f.cart.Add(context.Background(), 3, 1, decimal.RequireFromString("3.335"), "Juice"); err != nil {
		t.Fatal(err)
	}
	f.rec.Wait()

	totals := f.orch.Totals()
	if !totals.Discount.IsZero() {
		t.Errorf("Discount = %s, want 0", totals.Discount)
	}
	if !totals.Payable.Equal(decimal.RequireFromString("3.33")) {
		t.Errorf("Payable = %s, want 3.33", totals.Payable)
	}
}
