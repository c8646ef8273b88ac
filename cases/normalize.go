package cases

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/liamcoop/casereview/rules"
)

const (
	maxUnwrapDepth     = 3
	defaultHoursToSLA  = 48
	budgetLimit        = 1_000_000
	ratingGood         = 95
	ratingLateDelivery = 55
)

// Input fields produced by Normalize besides the rules.Field* ones
const (
	FieldHoursToSLA      = "hours_to_sla"
	FieldVendorName      = "vendor_name"
	FieldVendorStatus    = "vendor_status"
	FieldVendorRating    = "vendor_rating"
	FieldBudgetRemaining = "budget_remaining"
	FieldPOCount24h      = "po_count_24h"
	FieldTotalSpend24h   = "total_spend_24h"
)

// Vendor statuses inferred from the vendor name
const (
	VendorActive      = "ACTIVE"
	VendorBlacklisted = "BLACKLISTED"
)

var (
	businessKeys = []string{"vendor", "vendor_name", "line_items"}
	amountKeys   = []string{"amount_total", "amount", "total_price"}
	vendorKeys   = []string{"vendor_name", "vendor_id", "vendor", "supplier", "partner_name"}
)

// BusinessPayload unwraps nested "payload" objects, at most three levels deep,
// until it reaches the layer that carries vendor or line item data.
func BusinessPayload(payload map[string]any) map[string]any {
	if payload == nil {
		return map[string]any{}
	}

	current := payload
	for depth := 0; depth < maxUnwrapDepth; depth++ {
		for _, k := range businessKeys {
			if _, ok := current[k]; ok {
				return current
			}
		}
		inner, ok := current["payload"].(map[string]any)
		if !ok {
			break
		}
		current = inner
	}
	return current
}

// Normalize turns a raw case payload into the flat evaluation input: the amount
// parsed from amount_total, amount or total_price; vendor identity with status
// and rating inferred from the name; SLA and budget context; line items with
// numeric prices; and the vendor's contract from contracts when one is found.
func Normalize(payload map[string]any, contracts *ContractDirectory) rules.Input {
	business := BusinessPayload(payload)

	amount := parseAmount(business)
	vendor := vendorName(business)
	lowered := strings.ToLower(strings.TrimSpace(vendor))

	status := VendorActive
	if strings.Contains(lowered, "bad") || strings.Contains(lowered, "blacklist") {
		status = VendorBlacklisted
	}
	rating := ratingGood
	if strings.Contains(lowered, "late") {
		rating = ratingLateDelivery
	}

	hours, ok := parseNumber(business[FieldHoursToSLA])
	if !ok {
		hours = defaultHoursToSLA
	}

	in := rules.Input{
		rules.FieldAmountTotal: amount,
		rules.FieldAmount:      amount,
		FieldHoursToSLA:        hours,
		FieldVendorName:        vendor,
		FieldVendorStatus:      status,
		FieldVendorRating:      rating,
		FieldBudgetRemaining:   budgetLimit - amount,
		FieldPOCount24h:        1,
		FieldTotalSpend24h:     amount,
		rules.FieldLineItems:   lineItems(business["line_items"]),
	}

	if c, ok := contracts.Lookup(vendor); ok {
		in[rules.FieldContract] = c.Ref()
	}

	return in
}

// parseAmount takes the first set amount field. Unparsable amounts are 0.
func parseAmount(m map[string]any) float64 {
	for _, k := range amountKeys {
		v, ok := m[k]
		if !ok || isBlank(v) {
			continue
		}
		n, _ := parseNumber(v)
		return n
	}
	return 0
}

func vendorName(m map[string]any) string {
	for _, k := range vendorKeys {
		v, ok := m[k]
		if !ok || isBlank(v) {
			continue
		}
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprint(v)
	}
	return ""
}

func isBlank(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	}
	n, ok := parseNumber(v)
	return ok && n == 0
}

// parseNumber accepts numbers and numeric strings with thousands separators
func parseNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(n), ",", "")
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	}
	return 0, false
}

func lineItems(raw any) []rules.LineItem {
	list, ok := raw.([]any)
	if !ok {
		return []rules.LineItem{}
	}

	items := make([]rules.LineItem, 0, len(list))
	for _, entry := range list {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}

		var item rules.LineItem
		if sku, ok := m["sku"].(string); ok {
			item.SKU = strings.TrimSpace(sku)
		}
		if d, ok := m["description"].(string); ok {
			item.Description = d
		} else if d, ok := m["name"].(string); ok {
			item.Description = d
		}
		item.UnitPrice, _ = parseNumber(m["unit_price"])
		if q, ok := parseNumber(m["quantity"]); ok {
			item.Quantity = q
		} else {
			item.Quantity, _ = parseNumber(m["qty"])
		}
		items = append(items, item)
	}
	return items
}
