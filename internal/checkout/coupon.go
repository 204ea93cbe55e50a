package checkout

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"storefront/internal/model"
	"storefront/internal/storage"
)

// NormalizeCouponCode trims and upper-cases a user-entered code.
func NormalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ApplyCoupon validates code with the backend. A valid code is cached and
// persisted; any failure clears the cached coupon.
func (o *Orchestrator) ApplyCoupon(ctx context.Context, code string) (*model.Coupon, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	code = NormalizeCouponCode(code)
	if code == "" {
		o.clearCouponLocked(ctx)
		return nil, model.NewValidationError("coupon", "code is empty")
	}

	resp, err := o.caller.Call(ctx, http.MethodPost, pathValidateCoupon, map[string]string{"code": code})
	if err != nil {
		o.clearCouponLocked(ctx)
		return nil, err
	}

	var result model.CouponResult
	if err := resp.Decode(&result); err != nil || !result.Valid {
		o.clearCouponLocked(ctx)
		return nil, model.NewValidationError("coupon", fmt.Sprintf("%s is not valid", code))
	}

	coupon := &model.Coupon{Code: code, DiscountPercent: result.DiscountPercent}
	o.coupon = coupon
	o.saveCoupon(ctx, coupon)

	o.logger.Info("coupon applied",
		slog.String("code", code),
		slog.String("discount_percent", result.DiscountPercent.String()),
	)
	c := *coupon
	return &c, nil
}

// RemoveCoupon forgets the cached coupon.
func (o *Orchestrator) RemoveCoupon(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.clearCouponLocked(ctx)
}

// Coupon returns the cached coupon, or nil.
func (o *Orchestrator) Coupon() *model.Coupon {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.coupon == nil {
		return nil
	}
	c := *o.coupon
	return &c
}

func (o *Orchestrator) clearCouponLocked(ctx context.Context) {
	o.coupon = nil
	if err := o.storage.Delete(ctx, storage.KeyCoupon); err != nil {
		o.logger.Warn("clearing stored coupon failed", slog.String("error", err.Error()))
	}
}

func (o *Orchestrator) saveCoupon(ctx context.Context, coupon *model.Coupon) {
	raw, err := json.Marshal(coupon)
	if err == nil {
		err = o.storage.Set(ctx, storage.KeyCoupon, raw)
	}
	if err != nil {
		o.logger.Warn("persisting coupon failed", slog.String("error", err.Error()))
	}
}

func (o *Orchestrator) loadCoupon(ctx context.Context) *model.Coupon {
	raw, ok, err := o.storage.Get(ctx, storage.KeyCoupon)
	if err != nil || !ok {
		return nil
	}
	var coupon model.Coupon
	if err := json.Unmarshal(raw, &coupon); err != nil || coupon.Code == "" {
		o.logger.Warn("discarding malformed stored coupon")
		return nil
	}
	return &coupon
}
