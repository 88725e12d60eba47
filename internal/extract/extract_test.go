package extract

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"invoicexl/internal/normalize"
	"invoicexl/internal/ruleset"
	"invoicexl/pkg/models"
)

const salesInvoice = `Our Company Pvt Ltd
GSTIN: 27AAPFU0939F1ZV
TAX INVOICE
Invoice No: INV-2024-001
Invoice Date: 01/04/2024
Due Date: 30/04/2024
Bill To: ACME Traders Pvt. Ltd.
GSTIN: 29AAGCB7383J1Z4
HSN Code: 8471
Widget 2 500.00 1000.00
CGST 2.5% 1,000.00 25.00
SGST 9% 500.00 50.00
Total Quantity: 2
Total Tax: 75.00`

const purchaseInvoice = `ACME Supplies LLP
GSTIN: 24AAACC1206D1ZM
Invoice #: 42
Dated 5-Apr-2024
Details of Receiver
Our Company Pvt Ltd
GSTIN 27AAPFU0939F1ZV
HSN/SAC: 9983, 998314
IGST 18% 2,000.00 360.00
Total Tax: 360.00`

func newTestExtractor(t *testing.T) *Extractor {
	t.Helper()
	rules, err := ruleset.Default()
	if err != nil {
		t.Fatalf("ruleset.Default() error = %v", err)
	}
	rules.WithOwnIdentity([]string{"27AAPFU0939F1ZV"}, []string{"Our Company Pvt Ltd"})
	return NewExtractor(rules)
}

func TestExtractSalesInvoice(t *testing.T) {
	e := newTestExtractor(t)
	rec := e.Extract("inv1.pdf", models.ClassSales, normalize.Normalize(salesInvoice))

	if len(rec.Gaps) != 0 {
		t.Errorf("Expected no gaps, got %v", rec.Gaps)
	}
	if rec.InvoiceNumber == nil || *rec.InvoiceNumber != "INV-2024-001" {
		t.Errorf("Unexpected invoice number: %v", rec.InvoiceNumber)
	}
	want := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	if rec.Date == nil || !rec.Date.Equal(want) {
		t.Errorf("Expected date %v, got %v", want, rec.Date)
	}
	if rec.CompanyName == nil || *rec.CompanyName != "ACME Traders Pvt. Ltd." {
		t.Errorf("Unexpected company name: %v", rec.CompanyName)
	}
	if rec.TaxID == nil || *rec.TaxID != "29AAGCB7383J1Z4" {
		t.Errorf("Unexpected tax ID: %v", rec.TaxID)
	}
	if ev := rec.Provenance[models.FieldTaxID]; ev.Rule != "tax_id.near_company" || ev.Line != 8 {
		t.Errorf("Unexpected tax ID provenance: %+v", ev)
	}

	if len(rec.Slabs) != 2 {
		t.Fatalf("Expected 2 slabs, got %d", len(rec.Slabs))
	}
	first := rec.Slabs[0]
	if first.Component != "CGST" || !first.Rate.Equal(decimal.RequireFromString("2.5")) {
		t.Errorf("Unexpected first slab: %+v", first)
	}
	if first.Net == nil || !first.Net.Value.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("Expected net 1000, got %+v", first.Net)
	}
	if first.Tax == nil || !first.Tax.Value.Equal(decimal.NewFromInt(25)) {
		t.Errorf("Expected tax 25, got %+v", first.Tax)
	}
	if !rec.Slabs[1].Rate.Equal(decimal.NewFromInt(9)) || !rec.Slabs[1].Tax.Value.Equal(decimal.NewFromInt(50)) {
		t.Errorf("Unexpected second slab: %+v", rec.Slabs[1])
	}

	if rec.TotalTax == nil || !rec.TotalTax.Value.Equal(decimal.NewFromInt(75)) {
		t.Errorf("Expected total tax 75, got %+v", rec.TotalTax)
	}
	if rec.TotalQuantity == nil || !rec.TotalQuantity.Value.Equal(decimal.NewFromInt(2)) {
		t.Errorf("Expected total quantity 2, got %+v", rec.TotalQuantity)
	}
	if len(rec.ClassificationCodes) != 1 || rec.ClassificationCodes[0] != "8471" {
		t.Errorf("Unexpected codes: %v", rec.ClassificationCodes)
	}
}

func TestExtractPurchaseInvoice(t *testing.T) {
	e := newTestExtractor(t)
	rec := e.Extract("bill.png", models.ClassPurchase, normalize.Normalize(purchaseInvoice))

	if rec.CompanyName == nil || *rec.CompanyName != "ACME Supplies LLP" {
		t.Errorf("Unexpected company name: %v", rec.CompanyName)
	}
	if rec.TaxID == nil || *rec.TaxID != "24AAACC1206D1ZM" {
		t.Errorf("Unexpected tax ID: %v", rec.TaxID)
	}
	if rec.InvoiceNumber == nil || *rec.InvoiceNumber != "42" {
		t.Errorf("Unexpected invoice number: %v", rec.InvoiceNumber)
	}
	want := time.Date(2024, 4, 5, 0, 0, 0, 0, time.UTC)
	if rec.Date == nil || !rec.Date.Equal(want) {
		t.Errorf("Expected date %v, got %v", want, rec.Date)
	}
	if len(rec.Slabs) != 1 || rec.Slabs[0].Component != "IGST" || !rec.Slabs[0].Tax.Value.Equal(decimal.NewFromInt(360)) {
		t.Errorf("Unexpected slabs: %+v", rec.Slabs)
	}
	if len(rec.ClassificationCodes) != 2 || rec.ClassificationCodes[0] != "9983" || rec.ClassificationCodes[1] != "998314" {
		t.Errorf("Unexpected codes: %v", rec.ClassificationCodes)
	}
	if !rec.HasGap(models.FieldTotalQuantity) {
		t.Error("Expected total quantity gap")
	}
}

func TestExtractEmptyTextIsAllGaps(t *testing.T) {
	e := newTestExtractor(t)
	rec := e.Extract("blank.pdf", models.ClassSales, normalize.Normalize(""))

	if len(rec.Gaps) != len(models.AllFields) {
		t.Errorf("Expected %d gaps, got %v", len(models.AllFields), rec.Gaps)
	}
	if rec.InvoiceNumber != nil || rec.Date != nil || rec.CompanyName != nil || rec.TaxID != nil {
		t.Error("Expected every field to be absent")
	}
	if rec.Filename != "blank.pdf" || rec.Class != models.ClassSales {
		t.Errorf("Expected source metadata to be kept, got %s/%s", rec.Filename, rec.Class)
	}
}

func TestExtractNeverFabricatesDate(t *testing.T) {
	e := newTestExtractor(t)

	tests := map[string]string{
		"no date at all":    "Invoice No: 17\nCGST 9% 100.00 9.00",
		"only a due date":   "Invoice No: 17\nDue Date: 30/04/2024",
		"unparseable token": "Invoice Date: 45/19/2024",
	}
	for name, text := range tests {
		t.Run(name, func(t *testing.T) {
			rec := e.Extract("x.pdf", models.ClassSales, normalize.Normalize(text))
			if rec.Date != nil {
				t.Errorf("Expected no date, got %v", rec.Date)
			}
			if !rec.HasGap(models.FieldDate) {
				t.Error("Expected date to be listed as a gap")
			}
		})
	}
}

func TestExtractSkipsOwnCompany(t *testing.T) {
	e := newTestExtractor(t)
	text := "Our Company Pvt Ltd\nGSTIN: 27AAPFU0939F1ZV\nACME Traders Pvt. Ltd.\n29AAGCB7383J1Z4"
	rec := e.Extract("x.pdf", models.ClassSales, normalize.Normalize(text))

	if rec.CompanyName == nil || *rec.CompanyName != "ACME Traders Pvt. Ltd." {
		t.Errorf("Expected counterparty, got %v", rec.CompanyName)
	}
	if rec.TaxID == nil || *rec.TaxID != "29AAGCB7383J1Z4" {
		t.Errorf("Expected counterparty tax ID, got %v", rec.TaxID)
	}
}

func TestExtractRejectsBankAccountAsTaxID(t *testing.T) {
	e := newTestExtractor(t)
	rec := e.Extract("x.pdf", models.ClassPurchase, normalize.Normalize("A/c No: 123456789012345"))

	if rec.TaxID != nil {
		t.Errorf("Expected no tax ID, got %s", *rec.TaxID)
	}
}

func TestExtractSlabs(t *testing.T) {
	e := newTestExtractor(t)

	tests := []struct {
		name  string
		line  string
		slabs int
		tax   string
		net   string
	}{
		{"two components on one line", "CGST 9% 90.00 SGST 9% 90.00", 2, "90", ""},
		{"rate before component", "9% CGST 450", 1, "450", ""},
		{"currency markers", "CGST @ 6% on Rs. 5,000.00 = Rs. 300.00", 1, "300", "5000"},
		{"no component", "Discount 10% 100.00", 0, "", ""},
		{"no amount", "GST 18% included", 0, "", ""},
		{"total line ignored", "Total Tax 18% 180.00", 0, "", ""},
		{"hundred percent is not a rate", "CESS 100% exempt 0", 0, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.Extract("x.pdf", models.ClassSales, []string{tt.line})
			if len(rec.Slabs) != tt.slabs {
				t.Fatalf("Expected %d slabs, got %+v", tt.slabs, rec.Slabs)
			}
			if tt.slabs == 0 {
				return
			}
			if !rec.Slabs[0].Tax.Value.Equal(decimal.RequireFromString(tt.tax)) {
				t.Errorf("Expected tax %s, got %s", tt.tax, rec.Slabs[0].Tax.Value)
			}
			if tt.net == "" && rec.Slabs[0].Net != nil {
				t.Errorf("Expected no net amount, got %s", rec.Slabs[0].Net.Raw)
			}
			if tt.net != "" && (rec.Slabs[0].Net == nil || !rec.Slabs[0].Net.Value.Equal(decimal.RequireFromString(tt.net))) {
				t.Errorf("Expected net %s, got %+v", tt.net, rec.Slabs[0].Net)
			}
		})
	}
}

func TestExtractKeepsNegativeAndUnreadableAmounts(t *testing.T) {
	e := newTestExtractor(t)
	rec := e.Extract("x.pdf", models.ClassSales, []string{
		"CGST 9% 1.000.00 90.00",
		"Total Tax: -90.00",
	})

	if len(rec.Slabs) != 1 || rec.Slabs[0].Net == nil || rec.Slabs[0].Net.Parsed {
		t.Errorf("Expected unparsed net amount, got %+v", rec.Slabs)
	}
	if rec.TotalTax == nil || !rec.TotalTax.Value.Equal(decimal.NewFromInt(-90)) {
		t.Errorf("Expected total tax -90, got %+v", rec.TotalTax)
	}
}

func TestExtractLabelOnNextLine(t *testing.T) {
	e := newTestExtractor(t)
	rec := e.Extract("x.pdf", models.ClassSales, []string{
		"Invoice No.",
		"A/117",
		"Bill To:",
		"M/s Sharma & Sons, Pune",
	})

	if rec.InvoiceNumber == nil || *rec.InvoiceNumber != "A/117" {
		t.Errorf("Unexpected invoice number: %v", rec.InvoiceNumber)
	}
	if rec.CompanyName == nil || *rec.CompanyName != "Sharma & Sons" {
		t.Errorf("Unexpected company name: %v", rec.CompanyName)
	}
	if ev := rec.Provenance[models.FieldCompanyName]; ev.Rule != "company.party_next_line" {
		t.Errorf("Unexpected company provenance: %+v", ev)
	}
}

func TestExtractIsDeterministic(t *testing.T) {
	e := newTestExtractor(t)
	lines := normalize.Normalize(salesInvoice)
	a := e.Extract("inv1.pdf", models.ClassSales, lines)
	b := e.Extract("inv1.pdf", models.ClassSales, lines)

	if *a.InvoiceNumber != *b.InvoiceNumber || *a.TaxID != *b.TaxID || len(a.Slabs) != len(b.Slabs) {
		t.Error("Expected identical records for identical input")
	}
}

func TestExtractTotalTaxSkipsPrintedRate(t *testing.T) {
	e := newTestExtractor(t)

	tests := []struct {
		name string
		line string
		want string
	}{
		{"bare rate", "Total GST 18% 180", "180"},
		{"at rate", "Total Tax @ 2.5 %: 25.00", "25"},
		{"bracketed rate", "Total GST (18%) 180.00", "180"},
		{"no rate", "Total Tax: 75.00", "75"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.Extract("x.pdf", models.ClassSales, []string{
				"Phone: 9876543210",
				"Invoice No 55",
				tt.line,
			})
			if rec.TotalTax == nil || !rec.TotalTax.Value.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("Expected total tax %s, got %+v", tt.want, rec.TotalTax)
			}
			if len(rec.Slabs) != 0 {
				t.Errorf("Expected the total line to yield no slabs, got %+v", rec.Slabs)
			}
		})
	}
}

func TestExtractSlabsSharingTrailingAmounts(t *testing.T) {
	e := newTestExtractor(t)

	tests := []struct {
		name  string
		line  string
		nets  []string
		taxes []string
	}{
		{"shared net", "CGST 9% SGST 9% 1000 90 90", []string{"1000", "1000"}, []string{"90", "90"}},
		{"net and tax pairs", "CGST 9% SGST 9% 1000 90 2000 180", []string{"1000", "2000"}, []string{"90", "180"}},
		{"taxes only", "CGST 2.5% SGST 2.5% 25 25", []string{"", ""}, []string{"25", "25"}},
		{"uneven count", "CGST 9% SGST 9% 1 2 3 4 5", []string{"", "1"}, []string{"", "5"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.Extract("x.pdf", models.ClassSales, []string{tt.line})
			if len(rec.Slabs) != 2 {
				t.Fatalf("Expected 2 slabs, got %+v", rec.Slabs)
			}
			if rec.Slabs[0].Component != "CGST" || rec.Slabs[1].Component != "SGST" {
				t.Errorf("Expected CGST then SGST, got %s and %s", rec.Slabs[0].Component, rec.Slabs[1].Component)
			}
			for i, s := range rec.Slabs {
				checkAmount(t, "net", s.Net, tt.nets[i])
				checkAmount(t, "tax", s.Tax, tt.taxes[i])
			}
		})
	}
}

func checkAmount(t *testing.T, what string, got *models.Amount, want string) {
	t.Helper()
	if want == "" {
		if got != nil {
			t.Errorf("Expected no %s amount, got %s", what, got.Raw)
		}
		return
	}
	if got == nil || !got.Value.Equal(decimal.RequireFromString(want)) {
		t.Errorf("Expected %s %s, got %+v", what, want, got)
	}
}
