// Package session wires the storefront components into one client session.
//
// A Session owns the storage handle, the credential and cart stores, the
// authenticated gateway, the menu cache, the cart reconciler and the checkout
// orchestrator. Frontends (the CLI and the MCP tool surface) talk to it only.
package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"storefront/internal/cart"
	"storefront/internal/catalog"
	"storefront/internal/checkout"
	"storefront/internal/config"
	"storefront/internal/credential"
	"storefront/internal/gateway"
	"storefront/internal/model"
	"storefront/internal/reconcile"
	"storefront/internal/storage"
	"storefront/internal/transport"
)

const pathOrders = "orders/"

// ClientName is reported in the Client-Agent header.
const ClientName = "storefront-cli"

// Option customises New.
type Option func(*options)

type options struct {
	store      storage.Store
	httpClient *http.Client
	navigator  checkout.Navigator
	version    string
	menuTTL    time.Duration
	reconcile  reconcile.Options
}

// WithStorage replaces the configured storage driver.
func WithStorage(s storage.Store) Option {
	return func(o *options) { o.store = s }
}

// WithHTTPClient replaces the configured transport. A nil Jar on the client
// is filled with the persistent session jar.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithNavigator sets how the hosted payment page is opened.
func WithNavigator(n checkout.Navigator) Option {
	return func(o *options) { o.navigator = n }
}

// WithVersion sets the version reported to the backend.
func WithVersion(v string) Option {
	return func(o *options) { o.version = v }
}

// WithMenuTTL overrides the menu cache lifetime.
func WithMenuTTL(ttl time.Duration) Option {
	return func(o *options) { o.menuTTL = ttl }
}

// WithReconcileOptions tunes background cart pushes.
func WithReconcileOptions(r reconcile.Options) Option {
	return func(o *options) { o.reconcile = r }
}

// Session is one client's view of the storefront.
type Session struct {
	store      storage.Store
	creds      *credential.Store
	gateway    *gateway.Gateway
	cart       *cart.Store
	catalog    *catalog.Catalog
	reconciler *reconcile.Reconciler
	checkout   *checkout.Orchestrator
	logger     *slog.Logger

	unsubscribe func()
}

// New builds a Session from cfg. Nothing is sent to the backend until Boot.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Session, error) {
	o := options{version: "dev", menuTTL: catalog.DefaultTTL}
	for _, opt := range opts {
		opt(&o)
	}

	base, err := url.Parse(cfg.Backend.APIBaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing api base url: %w", err)
	}

	store := o.store
	if store == nil {
		store, err = storage.Open(ctx, storage.Options{
			Driver:    cfg.Storage.Driver,
			Path:      cfg.Storage.Path,
			RedisAddr: cfg.Storage.RedisAddr,
			RedisDB:   cfg.Storage.RedisDB,
			Namespace: cfg.Storage.Namespace,
		})
		if err != nil {
			return nil, fmt.Errorf("opening storage: %w", err)
		}
	}

	s, err := build(ctx, cfg, base, store, o, logger)
	if err != nil {
		if c, ok := store.(io.Closer); ok && o.store == nil {
			c.Close()
		}
		return nil, err
	}
	return s, nil
}

func build(ctx context.Context, cfg *config.Config, base *url.URL, store storage.Store, o options, logger *slog.Logger) (*Session, error) {
	creds, err := credential.Load(ctx, store, logger)
	if err != nil {
		return nil, fmt.Errorf("loading credentials: %w", err)
	}

	jar, err := gateway.NewCookieJar(ctx, store, base, logger)
	if err != nil {
		return nil, fmt.Errorf("loading session cookies: %w", err)
	}

	client := o.httpClient
	if client == nil {
		client = transport.NewClient(transport.Options{
			ChromeTLS: cfg.Backend.ChromeTLS,
			Timeout:   cfg.Backend.Timeout(),
			Tracing:   cfg.Backend.Tracing,
		}, jar)
	} else if client.Jar == nil {
		c := *client
		c.Jar = jar
		client = &c
	}

	agent, err := gateway.ClientAgent(ClientName, o.version)
	if err != nil {
		return nil, fmt.Errorf("building client agent: %w", err)
	}

	gw, err := gateway.New(gateway.Options{
		BaseURL:    base.String(),
		HTTPClient: client,
		Agent:      agent,
		Logger:     logger,
	}, creds)
	if err != nil {
		return nil, err
	}

	cartStore, err := cart.Load(ctx, store, logger)
	if err != nil {
		return nil, fmt.Errorf("loading cart: %w", err)
	}

	menu := catalog.New(gw, o.menuTTL, logger, catalog.WithScope(cfg.Checkout.Organization, cfg.Checkout.Location))
	reconciler := reconcile.New(gw, cartStore, menu, logger, o.reconcile)
	orchestrator := checkout.New(ctx, gw, cartStore, creds, store, o.navigator, logger, checkout.Options{
		Strategy:     checkout.Strategy(cfg.Checkout.Strategy),
		Currency:     cfg.Checkout.Currency,
		AllowGuest:   cfg.Checkout.AllowGuest,
		SkipPlace:    cfg.Checkout.SkipPlace,
		RedirectPath: cfg.Checkout.RedirectPath,
		Organization: cfg.Checkout.Organization,
		Location:     cfg.Checkout.Location,
	})

	s := &Session{
		store:      store,
		creds:      creds,
		gateway:    gw,
		cart:       cartStore,
		catalog:    menu,
		reconciler: reconciler,
		checkout:   orchestrator,
		logger:     logger,
	}
	s.unsubscribe = creds.Subscribe(func(_ model.TokenPair, ok bool) {
		if !ok {
			logger.Info("signed out")
		}
	})
	return s, nil
}

// Boot reconciles the local cart with the backend session cart.
func (s *Session) Boot(ctx context.Context) {
	s.reconciler.Bootstrap(ctx)
}

// Close drains background cart pushes and releases storage.
func (s *Session) Close() error {
	s.unsubscribe()
	s.reconciler.Close()
	if c, ok := s.store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Cart returns the cart store.
func (s *Session) Cart() *cart.Store { return s.cart }

// Menu returns the purchasable items.
func (s *Session) Menu(ctx context.Context) ([]model.MenuItem, error) {
	return s.catalog.Items(ctx)
}

// AddToCart adds quantity of a menu item, priced from the menu.
func (s *Session) AddToCart(ctx context.Context, productID, quantity int) error {
	if productID <= 0 {
		return model.NewValidationError("product_id", "must be a positive integer")
	}
	item, ok := s.catalog.Lookup(ctx, productID)
	if !ok {
		return model.NewValidationError("product_id", fmt.Sprintf("menu item %d is not available", productID))
	}
	return s.cart.Add(ctx, productID, quantity, item.Price, item.Name)
}

// ChangeQuantity adjusts a line by delta; a result of zero or less removes it.
func (s *Session) ChangeQuantity(ctx context.Context, productID, delta int) error {
	return s.cart.ChangeQuantity(ctx, productID, delta)
}

// RemoveFromCart drops a line.
func (s *Session) RemoveFromCart(ctx context.Context, productID int) error {
	return s.cart.Remove(ctx, productID)
}

// ApplyCoupon validates code and, when valid, discounts the payable amount.
func (s *Session) ApplyCoupon(ctx context.Context, code string) (*model.Coupon, error) {
	return s.checkout.ApplyCoupon(ctx, code)
}

// RemoveCoupon drops the applied coupon.
func (s *Session) RemoveCoupon(ctx context.Context) {
	s.checkout.RemoveCoupon(ctx)
}

// Checkout runs a checkout for the current cart.
func (s *Session) Checkout(ctx context.Context, serviceType model.ServiceType) (*checkout.Result, error) {
	return s.checkout.Checkout(ctx, checkout.Request{ServiceType: serviceType})
}

// RetryPayment retries the failed capture of the current run.
func (s *Session) RetryPayment(ctx context.Context) (*checkout.Result, error) {
	return s.checkout.RetryPayment(ctx)
}

// ResumePayment checks an order after the hosted payment page.
func (s *Session) ResumePayment(ctx context.Context, orderID int) (*checkout.Result, error) {
	return s.checkout.Resume(ctx, orderID)
}

// CartView is the cart as shown to the user.
type CartView struct {
	Lines  model.Cart      `json:"lines"`
	Count  int             `json:"count"`
	Totals checkout.Totals `json:"totals"`
}

// ViewCart snapshots the cart and what checkout would charge.
func (s *Session) ViewCart() CartView {
	return CartView{
		Lines:  s.cart.All(),
		Count:  s.cart.Count(),
		Totals: s.checkout.Totals(),
	}
}

// Login signs in and merges the anonymous session cart into the account.
func (s *Session) Login(ctx context.Context, username, password string) (*Identity, error) {
	pair, err := s.gateway.Authenticate(ctx, username, password)
	if err != nil {
		return nil, err
	}
	return s.signIn(ctx, pair)
}

// Register creates an account and signs in. Backends that do not return
// tokens on registration are followed by a regular login.
func (s *Session) Register(ctx context.Context, req gateway.RegisterRequest) (*Identity, error) {
	pair, err := s.gateway.Register(ctx, req)
	if err != nil {
		return nil, err
	}
	if pair.IsZero() {
		pair, err = s.gateway.Authenticate(ctx, req.Username, req.Password)
		if err != nil {
			return nil, fmt.Errorf("signing in after registration: %w", err)
		}
	}
	return s.signIn(ctx, pair)
}

func (s *Session) signIn(ctx context.Context, pair model.TokenPair) (*Identity, error) {
	if err := s.creds.Set(ctx, pair); err != nil {
		return nil, fmt.Errorf("saving credentials: %w", err)
	}
	s.reconciler.Claim(ctx)

	id := s.Whoami()
	s.logger.Info("signed in", slog.String("user", id.Username))
	return &id, nil
}

// Logout forgets the credentials and starts a fresh anonymous cart.
func (s *Session) Logout(ctx context.Context) error {
	if err := s.creds.Clear(ctx); err != nil {
		return fmt.Errorf("clearing credentials: %w", err)
	}
	s.reconciler.Reset(ctx)
	return nil
}

// Orders lists the signed-in user's orders.
func (s *Session) Orders(ctx context.Context) ([]model.Order, error) {
	resp, err := s.gateway.Call(ctx, http.MethodGet, pathOrders, nil)
	if err != nil {
		return nil, err
	}
	orders, err := model.DecodeList[model.Order](resp.Body)
	if err != nil {
		return nil, model.NewInternalError(fmt.Errorf("decoding orders: %w", err))
	}
	return orders, nil
}

// Identity describes who the session is signed in as.
type Identity struct {
	SignedIn  bool       `json:"signed_in"`
	Username  string     `json:"username,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Whoami reports the signed-in user from the access token claims.
// An undecodable token still counts as signed in.
func (s *Session) Whoami() Identity {
	if _, ok := s.creds.Get(); !ok {
		return Identity{}
	}
	id := Identity{SignedIn: true}
	claims, err := s.creds.Claims()
	if err != nil {
		s.logger.Debug("access token is not a readable JWT", slog.String("error", err.Error()))
		return id
	}
	id.Username = claims.Identity()
	if claims.ExpiresAt != nil {
		t := claims.ExpiresAt.Time
		id.ExpiresAt = &t
	}
	return id
}
