// Package reconcile keeps the local cart and the backend's session cart
// consistent across page loads, logins and logouts.
package reconcile

import "storefront/internal/model"

// LineItemDiff describes how a cart must change to become another.
// Entries keep the order of the slices they were computed from.
type LineItemDiff struct {
	ToAdd    []model.SyncItem // in desired, not in current
	ToRemove []int            // product ids in current, not in desired
	ToUpdate []QuantityChange // in both with different quantities
}

// QuantityChange is a product present on both sides with a new quantity.
type QuantityChange struct {
	ProductID   int
	OldQuantity int
	NewQuantity int
}

// IsEmpty returns true if the two sides already match.
func (d *LineItemDiff) IsEmpty() bool {
	return len(d.ToAdd) == 0 && len(d.ToRemove) == 0 && len(d.ToUpdate) == 0
}

// DiffLineItems computes the delta between current and desired, matching by
// ProductID. Both sides are expected to be normalized (one entry per product).
func DiffLineItems(current, desired []model.SyncItem) *LineItemDiff {
	diff := &LineItemDiff{}

	currentByID := make(map[int]model.SyncItem, len(current))
	for _, item := range current {
		currentByID[item.ProductID] = item
	}
	desiredByID := make(map[int]model.SyncItem, len(desired))
	for _, item := range desired {
		desiredByID[item.ProductID] = item
	}

	for _, want := range desired {
		have, exists := currentByID[want.ProductID]
		switch {
		case !exists:
			diff.ToAdd = append(diff.ToAdd, want)
		case have.Quantity != want.Quantity:
			diff.ToUpdate = append(diff.ToUpdate, QuantityChange{
				ProductID:   want.ProductID,
				OldQuantity: have.Quantity,
				NewQuantity: want.Quantity,
			})
		}
	}

	for _, have := range current {
		if _, exists := desiredByID[have.ProductID]; !exists {
			diff.ToRemove = append(diff.ToRemove, have.ProductID)
		}
	}

	return diff
}
