package checkout

import (
	"context"
	"encoding/json"
	"log/slog"

	"storefront/internal/model"
	"storefront/internal/storage"
)

// savedRun is an unfinished run: a failed capture waiting for RetryPayment,
// or a hosted payment waiting for Resume.
type savedRun struct {
	State   State                 `json:"state"`
	Order   *model.Order          `json:"order,omitempty"`
	Attempt *model.PaymentAttempt `json:"attempt"`
}

func (o *Orchestrator) saveRun(ctx context.Context) {
	if o.attempt == nil {
		return
	}
	raw, err := json.Marshal(savedRun{State: o.state, Order: o.order, Attempt: o.attempt})
	if err == nil {
		err = o.storage.Set(ctx, storage.KeyCheckout, raw)
	}
	if err != nil {
		o.logger.Warn("persisting checkout run failed", slog.String("error", err.Error()))
	}
}

// forgetRunLocked drops the in-memory and stored run.
func (o *Orchestrator) forgetRunLocked(ctx context.Context) {
	o.order, o.attempt = nil, nil
	if err := o.storage.Delete(ctx, storage.KeyCheckout); err != nil {
		o.logger.Warn("clearing stored checkout run failed", slog.String("error", err.Error()))
	}
}

// restoreRun picks up a run left by an earlier process. Only Failed and
// PaymentPending runs are resumable; anything else is discarded.
func (o *Orchestrator) restoreRun(ctx context.Context) {
	raw, ok, err := o.storage.Get(ctx, storage.KeyCheckout)
	if err != nil || !ok {
		return
	}

	var run savedRun
	if err := json.Unmarshal(raw, &run); err != nil || run.Attempt == nil || run.Attempt.OrderID <= 0 ||
		(run.State != StateFailed && run.State != StatePaymentPending) {
		o.logger.Warn("discarding malformed stored checkout run")
		o.forgetRunLocked(ctx)
		return
	}

	o.state = run.State
	o.order = run.Order
	o.attempt = run.Attempt
	o.logger.Debug("restored checkout run",
		slog.String("state", string(run.State)),
		slog.Int("order_id", run.Attempt.OrderID),
	)
}
