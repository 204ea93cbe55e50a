package model

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// =============================================================================
// PRODUCT IDENTIFIER RESOLUTION
// =============================================================================
//
// Cart entries reach the client under several historical shapes:
//
//	{"menu_item": 12}              server cart, order payloads
//	{"id": "12"}                   menu listings, older cached carts
//	{"product": 12}, {"item": 12}  legacy storefront scripts
//	{"menu_item": {"id": 12}}      nested serializer output
//
// Resolution walks idRules in order and takes the first rule that yields a
// positive integer. Aliases exist only here: everything downstream speaks
// ProductID, and nothing is ever persisted under an alias.
// =============================================================================

// idRule extracts a candidate product id from a decoded JSON object.
type idRule func(raw map[string]any) (int, bool)

// idRules is the fixed priority order for product id aliases.
var idRules = []idRule{
	scalarRule("menu_item"),
	scalarRule("id"),
	scalarRule("item"),
	scalarRule("product"),
	scalarRule("menuitem"),
	scalarRule("menu"),
	scalarRule("menu_id"),
	scalarRule("product_id"),
	nestedRule("menu_item"),
	nestedRule("product"),
	nestedRule("item"),
}

// quantityKeys is the priority order for quantity aliases.
var quantityKeys = []string{"quantity", "qty", "q"}

func scalarRule(key string) idRule {
	return func(raw map[string]any) (int, bool) {
		return coerceID(raw[key])
	}
}

func nestedRule(key string) idRule {
	return func(raw map[string]any) (int, bool) {
		obj, ok := raw[key].(map[string]any)
		if !ok {
			return 0, false
		}
		return coerceID(obj["id"])
	}
}

// ResolveProductID returns the first positive integer produced by the alias
// rules. ok is false when no rule resolves.
func ResolveProductID(raw map[string]any) (id int, ok bool) {
	if raw == nil {
		return 0, false
	}
	for _, rule := range idRules {
		if id, ok := rule(raw); ok {
			return id, true
		}
	}
	return 0, false
}

// ResolveQuantity returns the quantity under the first present alias.
// An absent quantity means 1; a present but unparseable one means 0.
func ResolveQuantity(raw map[string]any) int {
	for _, key := range quantityKeys {
		v, present := raw[key]
		if !present || v == nil {
			continue
		}
		n, ok := coerceInt(v)
		if !ok {
			return 0
		}
		return n
	}
	return 1
}

// NormalizeItems converts loosely shaped entries into canonical sync items.
// Entries whose id does not resolve or whose quantity is not positive are
// dropped. Repeated ids are merged by summing, keeping the first position.
func NormalizeItems(raw []map[string]any) []SyncItem {
	items := make([]SyncItem, 0, len(raw))
	index := make(map[int]int, len(raw))
	for _, entry := range raw {
		id, ok := ResolveProductID(entry)
		if !ok {
			continue
		}
		qty := ResolveQuantity(entry)
		if qty <= 0 {
			continue
		}
		if i, seen := index[id]; seen {
			items[i].Quantity += qty
			continue
		}
		index[id] = len(items)
		items = append(items, SyncItem{ProductID: id, Quantity: qty})
	}
	return items
}

// NormalizeCart converts cart lines into canonical sync items under the same
// rules as NormalizeItems.
func NormalizeCart(cart Cart) []SyncItem {
	items := make([]SyncItem, 0, len(cart))
	index := make(map[int]int, len(cart))
	for _, line := range cart {
		if line.ProductID <= 0 || line.Quantity <= 0 {
			continue
		}
		if i, seen := index[line.ProductID]; seen {
			items[i].Quantity += line.Quantity
			continue
		}
		index[line.ProductID] = len(items)
		items = append(items, SyncItem{ProductID: line.ProductID, Quantity: line.Quantity})
	}
	return items
}

// coerceID accepts a positive integer as a JSON number or a string of digits.
func coerceID(v any) (int, bool) {
	n, ok := coerceInt(v)
	if !ok || n <= 0 {
		return 0, false
	}
	return n, true
}

// coerceInt accepts whole numbers only; 2.5 and "2x" are rejected.
func coerceInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case int64:
		return int(x), true
	case float64:
		if x != math.Trunc(x) || math.IsInf(x, 0) {
			return 0, false
		}
		return int(x), true
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return int(n), true
		}
		f, err := x.Float64()
		if err != nil || f != math.Trunc(f) {
			return 0, false
		}
		return int(f), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}
