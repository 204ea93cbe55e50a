package handler

import (
	"time"

	"storefront/internal/checkout"
	"storefront/internal/model"
	"storefront/internal/session"
)

// Tool outputs carry money as 2-decimal strings so the inferred output
// schemas stay plain JSON types.

// MenuOutput lists purchasable items.
type MenuOutput struct {
	Items []MenuItemView `json:"items"`
}

// MenuItemView is one menu entry.
type MenuItemView struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Price       string `json:"price"`
}

// CartOutput is the cart with checkout totals.
type CartOutput struct {
	Lines    []CartLineView `json:"lines"`
	Count    int            `json:"count"`
	Subtotal string         `json:"subtotal"`
	Discount string         `json:"discount"`
	Payable  string         `json:"payable"`
	Coupon   string         `json:"coupon,omitempty"`
}

// CartLineView is one cart line.
type CartLineView struct {
	ProductID int    `json:"product_id"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
	LineTotal string `json:"line_total"`
}

// CouponOutput confirms an applied coupon.
type CouponOutput struct {
	Code            string     `json:"code"`
	DiscountPercent string     `json:"discount_percent"`
	Cart            CartOutput `json:"cart"`
}

// CheckoutOutput reports where a checkout run stopped.
type CheckoutOutput struct {
	State         string `json:"state"`
	Signal        string `json:"signal,omitempty"`
	Message       string `json:"message"`
	OrderID       int    `json:"order_id,omitempty"`
	Amount        string `json:"amount,omitempty"`
	Currency      string `json:"currency,omitempty"`
	PaymentStatus string `json:"payment_status,omitempty"`
	RedirectURL   string `json:"redirect_url,omitempty"`
}

// IdentityOutput describes the signed-in user.
type IdentityOutput struct {
	SignedIn  bool   `json:"signed_in"`
	Username  string `json:"username,omitempty"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

// OrdersOutput lists past orders.
type OrdersOutput struct {
	Orders []OrderView `json:"orders"`
}

// OrderView summarises one order.
type OrderView struct {
	ID          int    `json:"id"`
	Status      string `json:"status,omitempty"`
	ServiceType string `json:"service_type,omitempty"`
	IsPaid      bool   `json:"is_paid"`
	Total       string `json:"total"`
	ItemCount   int    `json:"item_count"`
}

func menuView(items []model.MenuItem) MenuOutput {
	out := MenuOutput{Items: make([]MenuItemView, 0, len(items))}
	for _, it := range items {
		out.Items = append(out.Items, MenuItemView{
			ID:          it.ID,
			Name:        it.Name,
			Description: it.Description,
			Price:       model.FormatAmount(it.Price),
		})
	}
	return out
}

func cartView(v session.CartView) CartOutput {
	out := CartOutput{
		Lines:    make([]CartLineView, 0, len(v.Lines)),
		Count:    v.Count,
		Subtotal: model.FormatAmount(v.Totals.Subtotal),
		Discount: model.FormatAmount(v.Totals.Discount),
		Payable:  model.FormatAmount(v.Totals.Payable),
	}
	if v.Totals.Coupon != nil {
		out.Coupon = v.Totals.Coupon.Code
	}
	for _, line := range v.Lines {
		out.Lines = append(out.Lines, CartLineView{
			ProductID: line.ProductID,
			Name:      line.DisplayName,
			Quantity:  line.Quantity,
			UnitPrice: model.FormatAmount(line.UnitPrice),
			LineTotal: model.FormatAmount(line.LineTotal),
		})
	}
	return out
}

func checkoutView(res *checkout.Result) CheckoutOutput {
	out := CheckoutOutput{
		State:       string(res.State),
		Signal:      string(res.Signal),
		Message:     res.Message,
		RedirectURL: res.RedirectURL,
	}
	if res.Order != nil {
		out.OrderID = res.Order.ID
	}
	if p := res.Payment; p != nil {
		out.OrderID = p.OrderID
		out.Amount = model.FormatAmount(p.Amount)
		out.Currency = p.Currency
		out.PaymentStatus = string(p.Status)
	}
	return out
}

func identityView(id session.Identity) IdentityOutput {
	out := IdentityOutput{SignedIn: id.SignedIn, Username: id.Username}
	if id.ExpiresAt != nil {
		out.ExpiresAt = id.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return out
}

func ordersView(orders []model.Order) OrdersOutput {
	out := OrdersOutput{Orders: make([]OrderView, 0, len(orders))}
	for _, o := range orders {
		count := 0
		for _, it := range o.Items {
			count += it.Quantity
		}
		out.Orders = append(out.Orders, OrderView{
			ID:          o.ID,
			Status:      o.Status,
			ServiceType: string(o.ServiceType),
			IsPaid:      o.IsPaid,
			Total:       model.FormatAmount(o.Total),
			ItemCount:   count,
		})
	}
	return out
}
