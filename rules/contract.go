package rules

import (
	"fmt"
	"math"
	"strings"

	"github.com/liamcoop/casereview/policy"
)

// ContractRef is the vendor contract a case is checked against
type ContractRef struct {
	DocID      string             `json:"doc_id"`
	VendorName string             `json:"vendor_name,omitempty"`
	IsActive   *bool              `json:"is_active,omitempty"`
	Prices     map[string]float64 `json:"prices"`
}

// Active reports whether the contract is in force; unset means active
func (c *ContractRef) Active() bool {
	return c.IsActive == nil || *c.IsActive
}

// LineItem is one purchased item
type LineItem struct {
	SKU         string  `json:"sku"`
	Description string  `json:"description,omitempty"`
	UnitPrice   float64 `json:"unit_price"`
	Quantity    float64 `json:"quantity"`
}

// ContractFrom reads the contract reference from in. It accepts a ContractRef,
// a *ContractRef, or a JSON-shaped map with doc_id, is_active and prices.
func ContractFrom(in Input) *ContractRef {
	switch c := in[FieldContract].(type) {
	case *ContractRef:
		return c
	case ContractRef:
		return &c
	case map[string]any:
		ref := &ContractRef{Prices: map[string]float64{}}
		ref.DocID, _ = c["doc_id"].(string)
		ref.VendorName, _ = c["vendor_name"].(string)
		if active, ok := c["is_active"].(bool); ok {
			ref.IsActive = &active
		}
		if prices, ok := c["prices"].(map[string]any); ok {
			for sku, v := range prices {
				if n, ok := toNumber(v); ok {
					ref.Prices[strings.TrimSpace(sku)] = n
				}
			}
		}
		return ref
	}
	return nil
}

// LineItemsFrom reads line items from in. It accepts []LineItem or a JSON-shaped
// list of maps with sku, unit_price and quantity (or qty). Entries whose unit
// price is not a number are dropped.
func LineItemsFrom(in Input) []LineItem {
	switch items := in[FieldLineItems].(type) {
	case []LineItem:
		return items
	case []any:
		out := make([]LineItem, 0, len(items))
		for _, raw := range items {
			m, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			price, ok := toNumber(m["unit_price"])
			if !ok {
				continue
			}
			item := LineItem{UnitPrice: price}
			item.SKU, _ = m["sku"].(string)
			item.Description, _ = m["description"].(string)
			if q, ok := toNumber(m["quantity"]); ok {
				item.Quantity = q
			} else if q, ok := toNumber(m["qty"]); ok {
				item.Quantity = q
			}
			out = append(out, item)
		}
		return out
	}
	return nil
}

// builtinContractCheck is the default metadata of one contract check
type builtinContractCheck struct {
	id          string
	severity    policy.RiskLevel
	description string
}

var (
	checkNoContract = builtinContractCheck{policy.RuleNoContractReference, policy.RiskHigh,
		"Item purchased without active contract reference"}
	checkExpired = builtinContractCheck{policy.RuleContractExpired, policy.RiskCritical,
		"Contract is expired or inactive"}
	checkVariance = builtinContractCheck{policy.RuleContractPriceVariance, policy.RiskHigh,
		"Items unit price exceeds contract agreement"}
)

// enabled reports whether the check runs; a contract rule declared inactive in the policy disables it
func (c builtinContractCheck) enabled(p *policy.Policy) bool {
	if r, ok := p.Rule(c.id); ok && r.Kind == policy.KindContract {
		return r.Active()
	}
	return true
}

func (c builtinContractCheck) result(p *policy.Policy, matched []MatchedCondition) RuleResult {
	description := c.description
	if r, ok := p.Rule(c.id); ok && r.Description != "" {
		description = r.Description
	}
	return RuleResult{
		RuleID:      c.id,
		Description: description,
		Kind:        policy.KindContract,
		Hit:         true,
		Matched:     matched,
		Severity:    c.severity,
	}
}

// CheckContract runs the contract compliance checks configured by p.ContractCompliance.
// Each check yields at most one hit; misses are not reported. Without a contract
// reference only NO_CONTRACT_REFERENCE is reported.
//
// A policy without a contract_compliance section runs no checks at all, so a
// purchase without a contract is not flagged either. NO_CONTRACT_REFERENCE is
// opt-in through contract_compliance rather than raised for every policy.
func CheckContract(p *policy.Policy, in Input) []RuleResult {
	results := []RuleResult{}

	cfg := p.ContractCompliance
	if cfg == nil {
		return results
	}

	contract := ContractFrom(in)
	if contract == nil || strings.TrimSpace(contract.DocID) == "" {
		if checkNoContract.enabled(p) {
			results = append(results, checkNoContract.result(p, []MatchedCondition{{
				Field:    "contract_id",
				Operator: "exists",
				Expected: "Valid Contract",
				Actual:   "None/Missing",
			}}))
		}
		return results
	}

	if cfg.ValidityCheck && !contract.Active() && checkExpired.enabled(p) {
		r := checkExpired.result(p, []MatchedCondition{{
			Field:    "contract_status",
			Operator: "is_active",
			Expected: "ACTIVE",
			Actual:   "EXPIRED/INACTIVE",
		}})
		r.DocReference = contract.DocID
		results = append(results, r)
	}

	if cfg.PriceCheck && checkVariance.enabled(p) {
		if r, hit := checkPriceVariance(p, cfg.MaxAllowedVariancePct, contract, LineItemsFrom(in)); hit {
			results = append(results, r)
		}
	}

	return results
}

// checkPriceVariance aggregates every line item priced above the contract by more
// than maxVariance percent into one result. Items without an exact SKU match, or
// whose contract price is not positive, cannot be verified and are skipped.
func checkPriceVariance(p *policy.Policy, maxVariance float64, contract *ContractRef, items []LineItem) (RuleResult, bool) {
	matched := []MatchedCondition{}
	snapshot := map[string]any{}

	for _, item := range items {
		sku := strings.TrimSpace(item.SKU)
		if sku == "" {
			continue
		}
		contractPrice, ok := contract.Prices[sku]
		if !ok || contractPrice <= 0 {
			continue
		}

		variance := (item.UnitPrice - contractPrice) / contractPrice * 100
		if !(variance > maxVariance) {
			continue
		}

		rounded := math.Round(variance*100) / 100
		matched = append(matched, MatchedCondition{
			Field:    "price_" + sku,
			Operator: fmt.Sprintf("<= %g%% variance", maxVariance),
			Expected: contractPrice,
			Actual:   item.UnitPrice,
			Variance: &rounded,
		})

		entry := map[string]any{
			"unit_price":     item.UnitPrice,
			"contract_price": contractPrice,
			"variance_pct":   rounded,
		}
		if item.Quantity > 0 {
			entry["quantity"] = item.Quantity
			entry["excess_amount"] = math.Round((item.UnitPrice-contractPrice)*item.Quantity*100) / 100
		}
		snapshot[sku] = entry
	}

	if len(matched) == 0 {
		return RuleResult{}, false
	}

	r := checkVariance.result(p, matched)
	if r.Description == checkVariance.description {
		r.Description = fmt.Sprintf("%s by > %g%%", checkVariance.description, maxVariance)
	}
	r.DocReference = contract.DocID
	r.InputsSnapshot = snapshot
	return r, true
}
