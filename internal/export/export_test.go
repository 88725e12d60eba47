package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"invoicexl/internal/reconciliation"
	"invoicexl/pkg/models"
)

func amt(s string) *models.Amount {
	return &models.Amount{Raw: s, Value: decimal.RequireFromString(s), Parsed: true}
}

func ptr(s string) *string { return &s }

func sampleReport() *reconciliation.Report {
	date := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	sale := models.ValidatedRecord{
		Valid: true,
		Record: &models.InvoiceRecord{
			Filename:      "inv1.pdf",
			Class:         models.ClassSales,
			InvoiceNumber: ptr("INV-1"),
			Date:          &date,
			CompanyName:   ptr("ACME Traders Pvt. Ltd."),
			TaxID:         ptr("29AAGCB7383J1Z4"),
			Slabs: []models.TaxSlab{
				{Component: "CGST", Rate: decimal.RequireFromString("2.5"), Net: amt("1000.00"), Tax: amt("25.00")},
				{Component: "SGST", Rate: decimal.NewFromInt(9), Net: amt("500.00"), Tax: amt("45.00")},
			},
			TotalTax:            amt("70.00"),
			ClassificationCodes: []string{"8471"},
			Gaps:                []models.Field{models.FieldTotalQuantity},
		},
	}
	blank := models.ValidatedRecord{
		Valid: true,
		Record: &models.InvoiceRecord{
			Filename: "blank.jpg",
			Class:    models.ClassPurchase,
			Gaps:     append([]models.Field(nil), models.AllFields...),
		},
	}
	return reconciliation.NewAggregator(reconciliation.Options{}).Aggregate([]models.ValidatedRecord{sale, blank})
}

func TestStackLayout(t *testing.T) {
	tables := []Table{
		{Name: "a", Header: []string{"A"}, Rows: [][]interface{}{{"1"}, {"2"}}},
		{Name: "b", Header: []string{"B"}},
		{Name: "c", Header: []string{"C"}, Rows: [][]interface{}{{"3"}}},
	}

	rows, headers := Stack(tables)

	// a: header at 0, rows 1-2, blanks 3-4; b: header at 5, blanks 6-7; c: header at 8, row 9.
	wantHeaders := []int{0, 5, 8}
	if len(headers) != len(wantHeaders) {
		t.Fatalf("headers = %v, want %v", headers, wantHeaders)
	}
	for i := range wantHeaders {
		if headers[i] != wantHeaders[i] {
			t.Errorf("headers = %v, want %v", headers, wantHeaders)
			break
		}
	}
	if len(rows) != 10 {
		t.Fatalf("rows = %d, want 10", len(rows))
	}
	for _, i := range []int{3, 4, 6, 7} {
		if len(rows[i]) != 0 {
			t.Errorf("row %d = %v, want blank", i, rows[i])
		}
	}
}

func TestTablesOrderAndContent(t *testing.T) {
	tables := Tables(sampleReport(), "GSTIN")

	names := []string{"Sales", "Purchase", "Summary", "Companies"}
	if len(tables) != len(names) {
		t.Fatalf("got %d tables", len(tables))
	}
	for i, n := range names {
		if tables[i].Name != n {
			t.Errorf("table %d = %s, want %s", i, tables[i].Name, n)
		}
	}

	sales := tables[0]
	if sales.Header[4] != "GSTIN" {
		t.Errorf("tax id header = %q", sales.Header[4])
	}
	row := sales.Rows[0]
	if row[1] != "INV-1" || row[2] != "2024-04-01" || row[6] != 1500.0 || row[7] != 70.0 {
		t.Errorf("sales row = %v", row)
	}
	if row[5] != "CGST 2.5% net 1000.00 tax 25.00; SGST 9% net 500.00 tax 45.00" {
		t.Errorf("slab text = %q", row[5])
	}
	if row[12] != "missing: total_quantity" {
		t.Errorf("issues = %q", row[12])
	}

	purchase := tables[1].Rows[0]
	if purchase[1] != "" || purchase[6] != "" || purchase[8] != "" {
		t.Errorf("blank record should render empty cells, got %v", purchase)
	}

	summary := tables[2]
	if len(summary.Rows) != 3 || summary.Rows[2][0] != "Total" || summary.Rows[2][5] != 70.0 {
		t.Errorf("summary = %v", summary.Rows)
	}
	if summary.Rows[0][0] != "2.5" {
		t.Errorf("first slab = %v, want 2.5", summary.Rows[0][0])
	}
}

func TestWorkbookRoundTrip(t *testing.T) {
	issues := []models.RunIssue{
		{Kind: models.IssueOCRFailure, Filename: "broken.pdf", Message: "gave up", Attempts: 3, Transient: true},
		{Kind: models.IssueExtractionGap, Filename: "blank.jpg", Message: "8 field(s) not found", Fields: []string{"date"}},
	}

	data, err := NewWriter("GSTIN").Bytes(sampleReport(), issues)
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer f.Close()

	if sheets := f.GetSheetList(); len(sheets) != 2 || sheets[0] != InvoicesSheet || sheets[1] != IssuesSheet {
		t.Fatalf("sheets = %v", sheets)
	}

	rows, err := f.GetRows(InvoicesSheet)
	if err != nil {
		t.Fatal(err)
	}
	// Sales: header + 1 row + 2 blanks; purchase: header at row 4.
	if rows[0][0] != "File" || rows[1][0] != "inv1.pdf" {
		t.Errorf("sales table = %v / %v", rows[0], rows[1])
	}
	if len(rows[2]) != 0 || len(rows[3]) != 0 {
		t.Errorf("expected blank separator rows, got %v %v", rows[2], rows[3])
	}
	if rows[4][0] != "File" || rows[5][0] != "blank.jpg" {
		t.Errorf("purchase table = %v / %v", rows[4], rows[5])
	}
	if rows[8][0] != "Tax Rate (%)" || rows[9][0] != "2.5" || rows[11][0] != "Total" {
		t.Errorf("summary table = %v %v %v", rows[8], rows[9], rows[11])
	}
	if rows[14][0] != "Company" || rows[15][1] != "29AAGCB7383J1Z4" {
		t.Errorf("companies table = %v %v", rows[14], rows[15])
	}

	issueRows, err := f.GetRows(IssuesSheet)
	if err != nil {
		t.Fatal(err)
	}
	if len(issueRows) != 3 || issueRows[1][1] != "ocr_failure" || issueRows[1][4] != "3" || issueRows[1][5] != "true" {
		t.Errorf("issues sheet = %v", issueRows)
	}
}
