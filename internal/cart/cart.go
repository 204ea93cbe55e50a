// Package cart holds the cart visible to the current client session.
//
// Every mutation is applied under a lock, persisted, and announced to
// observers before the call returns. At most one line exists per product and
// each line's total is recomputed from quantity and unit price on every
// mutation and on load.
package cart

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"storefront/internal/model"
	"storefront/internal/storage"
)

// Op names the mutation that produced a Change.
type Op string

const (
	OpAdd            Op = "add"
	OpChangeQuantity Op = "change_quantity"
	OpRemove         Op = "remove"
	OpClear          Op = "clear"
	OpAdopt          Op = "adopt" // ReplaceAll: state taken from the backend
)

// Change is delivered to change observers after each mutation.
type Change struct {
	Op   Op
	Cart model.Cart
}

// Store is the cart holder.
type Store struct {
	mu      sync.Mutex
	lines   model.Cart
	storage storage.Store
	logger  *slog.Logger

	obsMu    sync.RWMutex
	onCount  map[int]func(int)
	onChange map[int]func(Change)
	nextID   int
}

// Load restores the cart from s. Malformed stored data is an empty cart.
func Load(ctx context.Context, s storage.Store, logger *slog.Logger) (*Store, error) {
	c := &Store{
		lines:    model.Cart{},
		storage:  s,
		logger:   logger,
		onCount:  make(map[int]func(int)),
		onChange: make(map[int]func(Change)),
	}

	raw, ok, err := s.Get(ctx, storage.KeyCart)
	if err != nil {
		return nil, fmt.Errorf("reading cart: %w", err)
	}
	if ok {
		var stored model.Cart
		if err := json.Unmarshal(raw, &stored); err != nil {
			logger.Warn("discarding malformed stored cart", slog.String("error", err.Error()))
		} else {
			c.lines = sanitize(stored)
		}
	}
	return c, nil
}

// All returns a snapshot of the lines.
func (c *Store) All() model.Cart {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lines.Clone()
}

// Count returns the sum of quantities.
func (c *Store) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lines.Count()
}

// Subtotal returns the sum of line totals.
func (c *Store) Subtotal() decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lines.Subtotal()
}

// IsEmpty reports whether the cart has no lines.
func (c *Store) IsEmpty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.lines) == 0
}

// Add increments the line for productID by quantity, or appends a new line.
// Quantity is floored at 1. A negative unit price is stored as zero.
func (c *Store) Add(ctx context.Context, productID, quantity int, unitPrice decimal.Decimal, name string) error {
	if productID <= 0 {
		return model.NewValidationError("product", fmt.Sprintf("id %d is not positive", productID))
	}
	if quantity < 1 {
		quantity = 1
	}

	return c.mutate(ctx, OpAdd, func(lines model.Cart) model.Cart {
		if i := lines.Find(productID); i >= 0 {
			lines[i].Quantity += quantity
			if lines[i].DisplayName == "" {
				lines[i].DisplayName = name
			}
			return lines
		}
		return append(lines, model.CartLine{
			ProductID:   productID,
			Quantity:    quantity,
			UnitPrice:   nonNegative(unitPrice),
			DisplayName: name,
		})
	})
}

// ChangeQuantity adds delta to the line's quantity. The result is clamped at
// zero and a zero quantity removes the line. Unknown products are a no-op.
func (c *Store) ChangeQuantity(ctx context.Context, productID, delta int) error {
	if !c.has(productID) {
		return nil
	}
	return c.mutate(ctx, OpChangeQuantity, func(lines model.Cart) model.Cart {
		i := lines.Find(productID)
		if i < 0 {
			return lines
		}
		q := lines[i].Quantity + delta
		if q <= 0 {
			return append(lines[:i], lines[i+1:]...)
		}
		lines[i].Quantity = q
		return lines
	})
}

// Remove drops the line for productID. Unknown products are a no-op.
func (c *Store) Remove(ctx context.Context, productID int) error {
	if !c.has(productID) {
		return nil
	}
	return c.mutate(ctx, OpRemove, func(lines model.Cart) model.Cart {
		if i := lines.Find(productID); i >= 0 {
			return append(lines[:i], lines[i+1:]...)
		}
		return lines
	})
}

// ReplaceAll adopts lines wholesale, as reconciliation does with the backend
// cart. Invalid lines are dropped and duplicates merged.
func (c *Store) ReplaceAll(ctx context.Context, lines model.Cart) error {
	return c.mutate(ctx, OpAdopt, func(model.Cart) model.Cart {
		return lines.Clone()
	})
}

// Clear empties the cart.
func (c *Store) Clear(ctx context.Context) error {
	return c.mutate(ctx, OpClear, func(model.Cart) model.Cart {
		return model.Cart{}
	})
}

// OnCount registers fn to receive the item count after every mutation.
func (c *Store) OnCount(fn func(count int)) (unsubscribe func()) {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	id := c.nextID
	c.nextID++
	c.onCount[id] = fn
	return func() {
		c.obsMu.Lock()
		delete(c.onCount, id)
		c.obsMu.Unlock()
	}
}

// OnChange registers fn to receive a snapshot after every mutation.
func (c *Store) OnChange(fn func(Change)) (unsubscribe func()) {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	id := c.nextID
	c.nextID++
	c.onChange[id] = fn
	return func() {
		c.obsMu.Lock()
		delete(c.onChange, id)
		c.obsMu.Unlock()
	}
}

func (c *Store) has(productID int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lines.Find(productID) >= 0
}

// mutate applies fn to a private copy of the lines, persists the result and
// notifies observers. The in-memory cart is updated even if persisting fails.
func (c *Store) mutate(ctx context.Context, op Op, fn func(model.Cart) model.Cart) error {
	c.mu.Lock()
	next := sanitize(fn(c.lines.Clone()))
	c.lines = next

	raw, err := json.Marshal(next)
	if err == nil {
		err = c.storage.Set(ctx, storage.KeyCart, raw)
	}
	snapshot := next.Clone()
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn("persisting cart failed",
			slog.String("op", string(op)),
			slog.String("error", err.Error()),
		)
	}

	c.notify(Change{Op: op, Cart: snapshot})

	if err != nil {
		return fmt.Errorf("persisting cart: %w", err)
	}
	return nil
}

func (c *Store) notify(change Change) {
	c.obsMu.RLock()
	counts := make([]func(int), 0, len(c.onCount))
	for _, fn := range c.onCount {
		counts = append(counts, fn)
	}
	changes := make([]func(Change), 0, len(c.onChange))
	for _, fn := range c.onChange {
		changes = append(changes, fn)
	}
	c.obsMu.RUnlock()

	count := change.Cart.Count()
	for _, fn := range counts {
		fn(count)
	}
	for _, fn := range changes {
		fn(Change{Op: change.Op, Cart: change.Cart.Clone()})
	}
}

// sanitize enforces the line invariants: positive id and quantity, one line
// per product (quantities merged at the first position), non-negative price,
// and LineTotal recomputed.
func sanitize(lines model.Cart) model.Cart {
	out := make(model.Cart, 0, len(lines))
	for _, line := range lines {
		if line.ProductID <= 0 || line.Quantity <= 0 {
			continue
		}
		if i := out.Find(line.ProductID); i >= 0 {
			out[i].Quantity += line.Quantity
			continue
		}
		line.UnitPrice = nonNegative(line.UnitPrice)
		out = append(out, line)
	}
	for i := range out {
		out[i].LineTotal = out[i].UnitPrice.Mul(decimal.NewFromInt(int64(out[i].Quantity)))
	}
	return out
}

func nonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
