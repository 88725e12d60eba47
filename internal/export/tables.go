// Package export renders a run into the invoices workbook: one "Invoices" sheet
// with the sales, purchase, summary and companies tables stacked in that order,
// each followed by two blank rows, plus an "Issues" sheet with the run's issues.
package export

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"invoicexl/internal/reconciliation"
	"invoicexl/pkg/models"
)

// Sheet names and the default file name.
const (
	InvoicesSheet = "Invoices"
	IssuesSheet   = "Issues"
	FileName      = "invoices.xlsx"
	ContentType   = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// BlankRowsBetweenTables separates stacked tables.
const BlankRowsBetweenTables = 2

// Table is a header plus rows of cell values (string or float64).
type Table struct {
	Name   string
	Header []string
	Rows   [][]interface{}
}

// Tables returns the four stacked tables in sheet order. taxIDName labels the
// tax identifier columns (e.g. "GSTIN").
func Tables(report *reconciliation.Report, taxIDName string) []Table {
	if taxIDName == "" {
		taxIDName = "Tax ID"
	}
	return []Table{
		invoiceTable("Sales", report.Sales, taxIDName),
		invoiceTable("Purchase", report.Purchase, taxIDName),
		summaryTable(report.Summary),
		companyTable(report.Directory, taxIDName),
	}
}

func invoiceTable(name string, records []models.ValidatedRecord, taxIDName string) Table {
	t := Table{
		Name: name,
		Header: []string{
			"File", "Invoice No", "Date", "Company", taxIDName, "Tax Slabs",
			"Net Amount", "Tax Amount", "Total Tax", "Total Quantity", "HSN/SAC",
			"Status", "Issues",
		},
	}

	for _, vr := range records {
		rec := vr.Record
		if rec == nil {
			continue
		}
		net, tax := slabTotals(rec.Slabs)

		date := ""
		if rec.Date != nil {
			date = rec.Date.Format("2006-01-02")
		}

		status := "valid"
		if !vr.Valid {
			status = "invalid"
		}

		t.Rows = append(t.Rows, []interface{}{
			rec.Filename,
			str(rec.InvoiceNumber),
			date,
			str(rec.CompanyName),
			str(rec.TaxID),
			slabText(rec.Slabs),
			net,
			tax,
			amount(rec.TotalTax),
			amount(rec.TotalQuantity),
			strings.Join(rec.ClassificationCodes, ", "),
			status,
			issueText(vr),
		})
	}
	return t
}

func summaryTable(s models.ReconciliationSummary) Table {
	t := Table{
		Name: "Summary",
		Header: []string{
			"Tax Rate (%)", "Sales Net", "Sales Tax", "Purchase Net", "Purchase Tax", "Net Payable",
		},
	}
	for _, row := range s.Slabs {
		t.Rows = append(t.Rows, summaryRow(row.Rate.String(), row))
	}
	if len(s.Slabs) > 0 {
		t.Rows = append(t.Rows, summaryRow("Total", s.Total))
	}
	return t
}

func summaryRow(label string, row models.SlabSummary) []interface{} {
	return []interface{}{
		label,
		num(row.SalesNet),
		num(row.SalesTax),
		num(row.PurchaseNet),
		num(row.PurchaseTax),
		num(row.NetPayable),
	}
}

func companyTable(dir models.CompanyDirectory, taxIDName string) Table {
	t := Table{Name: "Companies", Header: []string{"Company", taxIDName}}
	for _, c := range dir.Companies {
		t.Rows = append(t.Rows, []interface{}{c.Name, c.TaxID})
	}
	return t
}

// IssueTable lists run issues in the order they were recorded.
func IssueTable(issues []models.RunIssue) Table {
	t := Table{
		Name:   "Issues",
		Header: []string{"File", "Kind", "Message", "Fields", "Attempts", "Transient"},
	}
	for _, is := range issues {
		attempts := ""
		if is.Attempts > 0 {
			attempts = strconv.Itoa(is.Attempts)
		}
		transient := ""
		if is.Kind == models.IssueOCRFailure {
			transient = strconv.FormatBool(is.Transient)
		}
		t.Rows = append(t.Rows, []interface{}{
			is.Filename,
			string(is.Kind),
			is.Message,
			strings.Join(is.Fields, ", "),
			attempts,
			transient,
		})
	}
	return t
}

// Stack lays tables out top to bottom. A table occupies its header row and one
// row per record, then BlankRowsBetweenTables empty rows; the next table
// starts right after. headerRows holds the 0-based index of each header.
func Stack(tables []Table) (rows [][]interface{}, headerRows []int) {
	for i, t := range tables {
		headerRows = append(headerRows, len(rows))

		header := make([]interface{}, len(t.Header))
		for j, h := range t.Header {
			header[j] = h
		}
		rows = append(rows, header)
		rows = append(rows, t.Rows...)

		if i < len(tables)-1 {
			for b := 0; b < BlankRowsBetweenTables; b++ {
				rows = append(rows, []interface{}{})
			}
		}
	}
	return rows, headerRows
}

func slabTotals(slabs []models.TaxSlab) (interface{}, interface{}) {
	net, tax := decimal.Zero, decimal.Zero
	hasNet, hasTax := false, false
	for _, s := range slabs {
		if s.Net != nil && s.Net.Parsed {
			net = net.Add(s.Net.Value)
			hasNet = true
		}
		if s.Tax != nil && s.Tax.Parsed {
			tax = tax.Add(s.Tax.Value)
			hasTax = true
		}
	}
	var n, t interface{} = "", ""
	if hasNet {
		n = num(net)
	}
	if hasTax {
		t = num(tax)
	}
	return n, t
}

func slabText(slabs []models.TaxSlab) string {
	parts := make([]string, 0, len(slabs))
	for _, s := range slabs {
		part := fmt.Sprintf("%s %s%%", s.Component, s.Rate.String())
		if s.Net != nil {
			part += " net " + s.Net.Raw
		}
		if s.Tax != nil {
			part += " tax " + s.Tax.Raw
		}
		parts = append(parts, strings.TrimSpace(part))
	}
	return strings.Join(parts, "; ")
}

func issueText(vr models.ValidatedRecord) string {
	var parts []string
	if len(vr.Record.Gaps) > 0 {
		gaps := make([]string, len(vr.Record.Gaps))
		for i, g := range vr.Record.Gaps {
			gaps[i] = string(g)
		}
		parts = append(parts, "missing: "+strings.Join(gaps, ", "))
	}
	for _, v := range vr.Violations {
		parts = append(parts, v.Code)
	}
	return strings.Join(parts, "; ")
}

func str(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// amount renders a parsed amount as a number and an unparsed one as its raw text.
func amount(a *models.Amount) interface{} {
	switch {
	case a == nil:
		return ""
	case !a.Parsed:
		return a.Raw
	}
	return num(a.Value)
}

func num(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}
