// Package reconciliation reduces validated invoice records into the per-class
// tables, the per-slab sales/purchase summary and the company directory.
//
// Aggregation is a single sequential pass with no shared state. The summary
// and the directory are sorted, so they do not depend on the order in which
// documents finished processing.
package reconciliation

import (
	"sort"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"invoicexl/internal/logger"
	"invoicexl/pkg/models"
)

// Options controls which records take part in aggregation.
type Options struct {
	// ExcludeInvalid leaves records with violations out of the summary and
	// the directory. They still appear in their class table.
	ExcludeInvalid bool
}

// Report is the aggregated view of one run.
type Report struct {
	Sales     []models.ValidatedRecord     `json:"sales"`
	Purchase  []models.ValidatedRecord     `json:"purchase"`
	Summary   models.ReconciliationSummary `json:"summary"`
	Directory models.CompanyDirectory      `json:"directory"`
}

// Aggregator builds Reports.
type Aggregator struct {
	opts Options
	log  zerolog.Logger
}

// NewAggregator creates an aggregator with the given options.
func NewAggregator(opts Options) *Aggregator {
	return &Aggregator{
		opts: opts,
		log:  logger.WithComponent("reconciliation"),
	}
}

// Aggregate groups records by class, sums slabs by rate and deduplicates
// companies. Class tables keep the input order.
func (a *Aggregator) Aggregate(records []models.ValidatedRecord) *Report {
	report := &Report{
		Sales:    []models.ValidatedRecord{},
		Purchase: []models.ValidatedRecord{},
	}

	slabs := make(map[string]*models.SlabSummary)
	companies := make(map[string]models.Company)
	excluded := 0

	for _, vr := range records {
		if vr.Record == nil {
			continue
		}
		rec := vr.Record

		switch rec.Class {
		case models.ClassSales:
			report.Sales = append(report.Sales, vr)
		case models.ClassPurchase:
			report.Purchase = append(report.Purchase, vr)
		default:
			a.log.Warn().Str("filename", rec.Filename).Str("class", string(rec.Class)).Msg("Skipping record with unknown class")
			continue
		}

		if a.opts.ExcludeInvalid && !vr.Valid {
			excluded++
			continue
		}

		for _, slab := range rec.Slabs {
			key := slab.Rate.String()
			row, ok := slabs[key]
			if !ok {
				row = &models.SlabSummary{Rate: slab.Rate}
				slabs[key] = row
			}
			addSlab(row, rec.Class, slab)
		}

		if rec.CompanyName != nil {
			c := models.Company{Name: *rec.CompanyName}
			if rec.TaxID != nil {
				c.TaxID = *rec.TaxID
			}
			key := c.Key()
			// Same company printed with different casing: keep one stable spelling.
			if existing, ok := companies[key]; !ok || c.Name < existing.Name {
				companies[key] = c
			}
		}
	}

	report.Summary = summarize(slabs)
	report.Directory = directory(companies)

	a.log.Info().
		Int("sales", len(report.Sales)).
		Int("purchase", len(report.Purchase)).
		Int("slabs", len(report.Summary.Slabs)).
		Int("companies", len(report.Directory.Companies)).
		Int("excluded_invalid", excluded).
		Str("net_payable", report.Summary.Total.NetPayable.StringFixed(2)).
		Msg("Aggregation completed")

	return report
}

func addSlab(row *models.SlabSummary, class models.DocumentClass, slab models.TaxSlab) {
	net, tax := decimal.Zero, decimal.Zero
	if slab.Net != nil && slab.Net.Parsed {
		net = slab.Net.Value
	}
	if slab.Tax != nil && slab.Tax.Parsed {
		tax = slab.Tax.Value
	}
	if class == models.ClassSales {
		row.SalesNet = row.SalesNet.Add(net)
		row.SalesTax = row.SalesTax.Add(tax)
	} else {
		row.PurchaseNet = row.PurchaseNet.Add(net)
		row.PurchaseTax = row.PurchaseTax.Add(tax)
	}
}

func summarize(slabs map[string]*models.SlabSummary) models.ReconciliationSummary {
	summary := models.ReconciliationSummary{Slabs: make([]models.SlabSummary, 0, len(slabs))}
	for _, row := range slabs {
		row.NetPayable = row.SalesTax.Sub(row.PurchaseTax)
		summary.Slabs = append(summary.Slabs, *row)

		summary.Total.SalesNet = summary.Total.SalesNet.Add(row.SalesNet)
		summary.Total.SalesTax = summary.Total.SalesTax.Add(row.SalesTax)
		summary.Total.PurchaseNet = summary.Total.PurchaseNet.Add(row.PurchaseNet)
		summary.Total.PurchaseTax = summary.Total.PurchaseTax.Add(row.PurchaseTax)
	}
	summary.Total.NetPayable = summary.Total.SalesTax.Sub(summary.Total.PurchaseTax)

	sort.Slice(summary.Slabs, func(i, j int) bool {
		return summary.Slabs[i].Rate.LessThan(summary.Slabs[j].Rate)
	})
	return summary
}

func directory(companies map[string]models.Company) models.CompanyDirectory {
	keys := make([]string, 0, len(companies))
	for k := range companies {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	dir := models.CompanyDirectory{Companies: make([]models.Company, 0, len(keys))}
	for _, k := range keys {
		dir.Companies = append(dir.Companies, companies[k])
	}
	return dir
}
