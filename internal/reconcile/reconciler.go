package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"storefront/internal/cart"
	"storefront/internal/gateway"
	"storefront/internal/model"
)

// =============================================================================
// CART RECONCILIATION
// =============================================================================
//
//   Bootstrap  local non-empty wins; local empty adopts GET cart/
//   Push       every local mutation sends the full list to POST cart/sync/
//              in the background; failures are logged, never rolled back
//   Claim      POST cart/claim/ then adopt GET cart/, server wins
//   Reset      local cart emptied, POST cart/reset_session/
//
// Adoption is an OpAdopt mutation, which is not pushed back.
// =============================================================================

const (
	pathCart      = "cart/"
	pathSync      = "cart/sync/"
	pathClaim     = "cart/claim/"
	pathResetSess = "cart/reset_session/"
)

// Caller performs backend calls. Implemented by gateway.Gateway.
type Caller interface {
	Call(ctx context.Context, method, path string, body any) (*gateway.Response, error)
}

// Pricer resolves a product's display name and price. Implemented by
// catalog.Catalog.
type Pricer interface {
	Lookup(ctx context.Context, id int) (model.MenuItem, bool)
}

// Options tunes background pushes.
type Options struct {
	PushTimeout      time.Duration // per push; default 10s
	BreakerThreshold uint32        // consecutive failures that open the breaker; default 5
	BreakerCooldown  time.Duration // open state duration; default 30s
}

// Reconciler couples a cart.Store to the backend session cart.
type Reconciler struct {
	caller  Caller
	cart    *cart.Store
	pricer  Pricer
	logger  *slog.Logger
	breaker *gobreaker.CircuitBreaker[*gateway.Response]
	timeout time.Duration

	pushes      sync.WaitGroup
	unsubscribe func()
}

// New creates a Reconciler and subscribes it to store mutations.
// pricer may be nil; adopted lines are then priced at zero.
func New(caller Caller, store *cart.Store, pricer Pricer, logger *slog.Logger, opts Options) *Reconciler {
	if opts.PushTimeout <= 0 {
		opts.PushTimeout = 10 * time.Second
	}
	if opts.BreakerThreshold == 0 {
		opts.BreakerThreshold = 5
	}
	if opts.BreakerCooldown <= 0 {
		opts.BreakerCooldown = 30 * time.Second
	}

	r := &Reconciler{
		caller:  caller,
		cart:    store,
		pricer:  pricer,
		logger:  logger,
		timeout: opts.PushTimeout,
	}

	threshold := opts.BreakerThreshold
	r.breaker = gobreaker.NewCircuitBreaker[*gateway.Response](gobreaker.Settings{
		Name:        "cart-sync",
		MaxRequests: 1,
		Timeout:     opts.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// Only an unreachable or failing backend trips the breaker; a 4xx
		// means it is up and answering.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			return model.KindOf(err) != model.KindNetwork && model.StatusOf(err) < 500
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})

	r.unsubscribe = store.OnChange(func(ch cart.Change) {
		if ch.Op == cart.OpAdopt {
			return
		}
		r.Push(ch.Cart)
	})
	return r
}

// Bootstrap runs at session start. A non-empty local cart is authoritative.
func (r *Reconciler) Bootstrap(ctx context.Context) {
	if !r.cart.IsEmpty() {
		r.logger.Debug("local cart present, skipping pull")
		return
	}
	r.pull(ctx, "bootstrap")
}

// Claim transfers the anonymous session cart to the signed-in account and
// adopts the result. A failed claim still pulls.
func (r *Reconciler) Claim(ctx context.Context) {
	if _, err := r.caller.Call(ctx, http.MethodPost, pathClaim, nil); err != nil {
		r.logger.Warn("cart claim failed", slog.String("error", err.Error()))
	}
	r.pull(ctx, "claim")
}

// Reset empties the local cart and asks the backend for a fresh session.
func (r *Reconciler) Reset(ctx context.Context) {
	if err := r.cart.ReplaceAll(ctx, nil); err != nil {
		r.logger.Warn("clearing local cart failed", slog.String("error", err.Error()))
	}
	if _, err := r.caller.Call(ctx, http.MethodPost, pathResetSess, nil); err != nil {
		r.logger.Warn("session reset failed", slog.String("error", err.Error()))
	}
}

// Push sends lines to the backend in the background. The outcome is only
// visible in the logs.
func (r *Reconciler) Push(lines model.Cart) {
	payload := model.CartPayload{Items: model.NormalizeCart(lines)}

	r.pushes.Add(1)
	go func() {
		defer r.pushes.Done()

		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()

		_, err := r.breaker.Execute(func() (*gateway.Response, error) {
			return r.caller.Call(ctx, http.MethodPost, pathSync, payload)
		})
		if err != nil {
			r.logger.Warn("cart push failed",
				slog.Int("items", len(payload.Items)),
				slog.String("error", err.Error()),
			)
			return
		}
		r.logger.Debug("cart pushed", slog.Int("items", len(payload.Items)))
	}()
}

// Wait blocks until every background push has finished.
func (r *Reconciler) Wait() {
	r.pushes.Wait()
}

// Close stops reacting to cart mutations and drains pending pushes.
func (r *Reconciler) Close() {
	r.unsubscribe()
	r.Wait()
}

// pull adopts the backend cart. Failures are logged and leave the local cart
// untouched.
func (r *Reconciler) pull(ctx context.Context, reason string) {
	resp, err := r.caller.Call(ctx, http.MethodGet, pathCart, nil)
	if err != nil {
		r.logger.Warn("cart pull failed", slog.String("reason", reason), slog.String("error", err.Error()))
		return
	}

	var payload model.CartPayload
	if err := resp.Decode(&payload); err != nil {
		r.logger.Warn("cart pull returned malformed body", slog.String("reason", reason), slog.String("error", err.Error()))
		return
	}

	local := r.cart.All()
	diff := DiffLineItems(model.NormalizeCart(local), payload.Items)
	if diff.IsEmpty() {
		r.logger.Debug("server cart matches local cart", slog.String("reason", reason))
		return
	}

	r.logger.Info("adopting server cart",
		slog.String("reason", reason),
		slog.Int("added", len(diff.ToAdd)),
		slog.Int("removed", len(diff.ToRemove)),
		slog.Int("updated", len(diff.ToUpdate)),
	)

	if err := r.cart.ReplaceAll(ctx, r.price(ctx, local, payload.Items)); err != nil {
		r.logger.Warn("adopting server cart failed", slog.String("error", err.Error()))
	}
}

// price builds cart lines for items, taking price and name from the local
// line when one exists, then from the pricer.
func (r *Reconciler) price(ctx context.Context, local model.Cart, items []model.SyncItem) model.Cart {
	lines := make(model.Cart, 0, len(items))
	for _, item := range items {
		line := model.CartLine{ProductID: item.ProductID, Quantity: item.Quantity}

		if i := local.Find(item.ProductID); i >= 0 {
			line.UnitPrice = local[i].UnitPrice
			line.DisplayName = local[i].DisplayName
		} else if menuItem, ok := r.lookup(ctx, item.ProductID); ok {
			line.UnitPrice = menuItem.Price
			line.DisplayName = menuItem.Name
		}
		if line.DisplayName == "" {
			line.DisplayName = fmt.Sprintf("Item #%d", item.ProductID)
		}
		lines = append(lines, line)
	}
	return lines
}

func (r *Reconciler) lookup(ctx context.Context, id int) (model.MenuItem, bool) {
	if r.pricer == nil {
		return model.MenuItem{}, false
	}
	return r.pricer.Lookup(ctx, id)
}
