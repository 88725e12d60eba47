package models

import (
	"strings"

	"github.com/shopspring/decimal"
)

// SlabSummary aggregates one tax rate across all records of a run.
type SlabSummary struct {
	Rate        decimal.Decimal `json:"rate"`
	SalesNet    decimal.Decimal `json:"sales_net"`
	SalesTax    decimal.Decimal `json:"sales_tax"`
	PurchaseNet decimal.Decimal `json:"purchase_net"`
	PurchaseTax decimal.Decimal `json:"purchase_tax"`
	NetPayable  decimal.Decimal `json:"net_payable"`
}

// ReconciliationSummary is the per-slab view of a run, ordered by rate.
type ReconciliationSummary struct {
	Slabs []SlabSummary `json:"slabs"`
	Total SlabSummary   `json:"total"`
}

// Slab returns the summary row for rate, if any.
func (s *ReconciliationSummary) Slab(rate decimal.Decimal) (SlabSummary, bool) {
	for _, row := range s.Slabs {
		if row.Rate.Equal(rate) {
			return row, true
		}
	}
	return SlabSummary{}, false
}

// Company is one counterparty seen during a run.
type Company struct {
	Name  string `json:"name"`
	TaxID string `json:"tax_id,omitempty"`
}

// Key returns the deduplication key: case-insensitive, whitespace-collapsed
// name plus upper-cased tax identifier.
func (c Company) Key() string {
	return NormalizeCompanyName(c.Name) + "|" + strings.ToUpper(strings.TrimSpace(c.TaxID))
}

// CompanyDirectory is the deduplicated set of companies, sorted by key.
type CompanyDirectory struct {
	Companies []Company `json:"companies"`
}

// NormalizeCompanyName lower-cases a name and collapses internal whitespace.
func NormalizeCompanyName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

func normalizeClass(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
