package cases

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/liamcoop/casereview/rules"
)

// Contract is a vendor contract as stored in the contract directory
type Contract struct {
	DocID      string                  `json:"doc_id"`
	VendorName string                  `json:"vendor_name"`
	IsActive   *bool                   `json:"is_active,omitempty"`
	Items      map[string]ContractItem `json:"items"`
}

// ContractItem is one agreed price
type ContractItem struct {
	SKU         string  `json:"sku"`
	AgreedPrice float64 `json:"agreed_price"`
}

// Ref converts the contract into the engine's contract reference, keyed by SKU
func (c *Contract) Ref() rules.ContractRef {
	prices := make(map[string]float64, len(c.Items))
	for _, item := range c.Items {
		sku := strings.TrimSpace(item.SKU)
		if sku == "" {
			continue
		}
		prices[sku] = item.AgreedPrice
	}
	return rules.ContractRef{
		DocID:      c.DocID,
		VendorName: c.VendorName,
		IsActive:   c.IsActive,
		Prices:     prices,
	}
}

// ContractDirectory looks up vendor contracts by vendor name
type ContractDirectory struct {
	contracts map[string]*Contract
}

// NewContractDirectory creates a directory over contracts keyed by vendor
func NewContractDirectory(contracts map[string]*Contract) *ContractDirectory {
	if contracts == nil {
		contracts = map[string]*Contract{}
	}
	return &ContractDirectory{contracts: contracts}
}

// LoadContracts reads a contract directory file of the form {"contracts": {<vendor>: {...}}}
func LoadContracts(path string) (*ContractDirectory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read contracts file: %w", err)
	}

	var doc struct {
		Contracts map[string]*Contract `json:"contracts"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse contracts file: %w", err)
	}

	return NewContractDirectory(doc.Contracts), nil
}

// Lookup finds a vendor's contract: exact key first, then a case-insensitive
// match on the key, then on the contract's vendor_name.
func (d *ContractDirectory) Lookup(vendor string) (*Contract, bool) {
	if d == nil || vendor == "" {
		return nil, false
	}
	if c, ok := d.contracts[vendor]; ok && c != nil {
		return c, true
	}

	target := strings.ToLower(strings.TrimSpace(vendor))
	for key, c := range d.contracts {
		if c != nil && strings.ToLower(strings.TrimSpace(key)) == target {
			return c, true
		}
	}
	for _, c := range d.contracts {
		if c != nil && strings.ToLower(strings.TrimSpace(c.VendorName)) == target {
			return c, true
		}
	}
	return nil, false
}

// Len returns the number of contracts
func (d *ContractDirectory) Len() int {
	if d == nil {
		return 0
	}
	return len(d.contracts)
}
