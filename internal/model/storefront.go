// Package model holds the storefront client's data types, money helpers and
// error taxonomy. Shared by every component; has no I/O.
package model

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// TokenPair is the credential pair issued by auth/token.
// Both fields empty means an anonymous session.
type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh,omitempty"`
}

// IsZero reports whether the pair carries no access token.
func (t TokenPair) IsZero() bool {
	return t.Access == ""
}

// CartLine is one product in the local cart.
// LineTotal is always Quantity * UnitPrice; it is recomputed, never read from input.
type CartLine struct {
	ProductID   int             `json:"product_id"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	LineTotal   decimal.Decimal `json:"line_total"`
	DisplayName string          `json:"name"`
}

// Cart is the ordered set of lines visible to this client.
type Cart []CartLine

// Count returns the sum of quantities.
func (c Cart) Count() int {
	n := 0
	for _, line := range c {
		n += line.Quantity
	}
	return n
}

// Subtotal returns the sum of line totals.
func (c Cart) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, line := range c {
		total = total.Add(line.LineTotal)
	}
	return total
}

// Find returns the index of the line for productID, or -1.
func (c Cart) Find(productID int) int {
	for i, line := range c {
		if line.ProductID == productID {
			return i
		}
	}
	return -1
}

// Clone returns a copy that shares no backing array with c.
func (c Cart) Clone() Cart {
	if c == nil {
		return Cart{}
	}
	out := make(Cart, len(c))
	copy(out, c)
	return out
}

// SyncItem is the canonical {product, quantity} pair sent to the backend.
// The backend names the product field menu_item.
type SyncItem struct {
	ProductID int `json:"menu_item"`
	Quantity  int `json:"quantity"`
}

// CartPayload is the body of GET cart and POST cart/sync.
type CartPayload struct {
	Items []SyncItem `json:"items"`
}

// UnmarshalJSON accepts any alias the backend or older clients used for the
// product and quantity fields, dropping entries that do not resolve.
func (p *CartPayload) UnmarshalJSON(data []byte) error {
	var raw struct {
		Items []map[string]any `json:"items"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	p.Items = NormalizeItems(raw.Items)
	return nil
}

// ServiceType is how the order will be fulfilled.
type ServiceType string

const (
	ServiceDineIn   ServiceType = "DINE_IN"
	ServiceTakeaway ServiceType = "TAKEAWAY"
	ServiceDelivery ServiceType = "DELIVERY"
)

// Valid reports whether s is a known service type.
func (s ServiceType) Valid() bool {
	switch s {
	case ServiceDineIn, ServiceTakeaway, ServiceDelivery:
		return true
	}
	return false
}

// OrderRequest is the body of POST orders.
// Organization and Location are omitted unless numeric ids were given.
type OrderRequest struct {
	ServiceType  ServiceType `json:"service_type"`
	Items        []SyncItem  `json:"items"`
	Organization *int        `json:"organization,omitempty"`
	Location     *int        `json:"location,omitempty"`
}

// Order is the server-side order created by a checkout run.
type Order struct {
	ID          int             `json:"id"`
	ServiceType ServiceType     `json:"service_type"`
	Items       []OrderItem     `json:"items"`
	Status      string          `json:"status"`
	IsPaid      bool            `json:"is_paid"`
	Total       decimal.Decimal `json:"total"`
}

// OrderItem is one order line as echoed by the backend.
type OrderItem struct {
	ProductID int    `json:"menu_item"`
	Name      string `json:"name,omitempty"`
	Quantity  int    `json:"quantity"`
}

// UnmarshalJSON resolves the product id through the alias rules.
func (o *OrderItem) UnmarshalJSON(data []byte) error {
	raw, err := decodeObject(data)
	if err != nil {
		return err
	}
	o.ProductID, _ = ResolveProductID(raw)
	o.Quantity = ResolveQuantity(raw)
	o.Name, _ = raw["name"].(string)
	return nil
}

// PaymentStatus is the state of a single capture attempt.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentCaptured PaymentStatus = "captured"
	PaymentFailed   PaymentStatus = "failed"
)

// PaymentAttempt is one capture submission. Never persisted.
type PaymentAttempt struct {
	OrderID  int             `json:"order_id"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	Status   PaymentStatus   `json:"status"`
}

// CaptureRequest is the body of POST payments/mock/pay.
// Amount is a 2-decimal string.
type CaptureRequest struct {
	OrderID  int    `json:"order_id"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// CaptureResponse is the mock gateway's verdict.
type CaptureResponse struct {
	Status PaymentStatus `json:"status"`
}

// Coupon is a validated promotion code and its percentage.
type Coupon struct {
	Code            string          `json:"code"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
}

// CouponResult is the body returned by promotions/validate.
type CouponResult struct {
	Valid           bool            `json:"valid"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
}

// MenuItem is a purchasable product as listed by menu/items.
type MenuItem struct {
	ID          int             `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Price       decimal.Decimal `json:"price"`
}

// UnmarshalJSON tolerates the alternate name and price keys the menu
// serializers have used (title; unit_price, amount).
func (m *MenuItem) UnmarshalJSON(data []byte) error {
	raw, err := decodeObject(data)
	if err != nil {
		return err
	}
	id, ok := coerceID(raw["id"])
	if !ok {
		return fmt.Errorf("menu item without id")
	}
	m.ID = id
	m.Name = firstString(raw, "name", "title")
	if m.Name == "" {
		m.Name = "Item"
	}
	m.Description = firstString(raw, "description")
	m.Price = decimal.Zero
	for _, key := range []string{"price", "unit_price", "amount"} {
		if v, ok := raw[key]; ok && v != nil {
			m.Price = ParseAmount(v)
			break
		}
	}
	return nil
}

// DecodeList decodes a JSON array or a paginated {"results": [...]} envelope.
func DecodeList[T any](data []byte) ([]T, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var items []T
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, err
		}
		return items, nil
	}
	var page struct {
		Results []T `json:"results"`
	}
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, err
	}
	return page.Results, nil
}

func decodeObject(data []byte) (map[string]any, error) {
	var raw map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func firstString(raw map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := raw[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
