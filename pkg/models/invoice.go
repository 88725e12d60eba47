package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DocumentClass tells whether a document was issued by us (sales) or to us (purchase).
type DocumentClass string

const (
	ClassSales    DocumentClass = "sales"
	ClassPurchase DocumentClass = "purchase"
)

// ParseDocumentClass accepts "sales"/"purchase" in any case, plus the
// receivable/payable aliases used by accounting tools.
func ParseDocumentClass(s string) (DocumentClass, bool) {
	switch normalizeClass(s) {
	case "sales", "sale", "receivable":
		return ClassSales, true
	case "purchase", "purchases", "payable":
		return ClassPurchase, true
	}
	return "", false
}

// Field names an extractable invoice field.
type Field string

const (
	FieldInvoiceNumber       Field = "invoice_number"
	FieldDate                Field = "date"
	FieldCompanyName         Field = "company_name"
	FieldTaxID               Field = "tax_id"
	FieldTaxSlabs            Field = "tax_slabs"
	FieldTotalTax            Field = "total_tax"
	FieldTotalQuantity       Field = "total_quantity"
	FieldClassificationCodes Field = "classification_codes"
)

// AllFields lists every field in extraction order.
var AllFields = []Field{
	FieldInvoiceNumber,
	FieldDate,
	FieldCompanyName,
	FieldTaxID,
	FieldTaxSlabs,
	FieldTotalTax,
	FieldTotalQuantity,
	FieldClassificationCodes,
}

// InvoiceDocument is one ingested document after OCR.
type InvoiceDocument struct {
	Filename  string        // Source filename as uploaded
	Class     DocumentClass // sales or purchase
	MimeType  string        // Detected content type
	Text      string        // Raw OCR text, empty when OCR produced nothing
	PageCount int           // Pages reported by the OCR provider
}

// Amount is a monetary or numeric value as it appeared in the source text.
// A nil *Amount means the value was not found; Parsed=false means it was found
// but could not be read as a decimal.
type Amount struct {
	Raw    string          `json:"raw"`
	Value  decimal.Decimal `json:"value"`
	Parsed bool            `json:"parsed"`
}

// TaxSlab is one tax line of an invoice.
type TaxSlab struct {
	Component string          `json:"component"` // CGST, SGST, IGST, ...
	Rate      decimal.Decimal `json:"rate"`      // Percent, e.g. 9 for 9%
	Net       *Amount         `json:"net,omitempty"`
	Tax       *Amount         `json:"tax,omitempty"`
	Line      int             `json:"line"` // 1-based line in the normalized text
}

// Evidence records which rule produced a field and where.
type Evidence struct {
	Rule string `json:"rule"`
	Line int    `json:"line"`
}

// InvoiceRecord holds what could be extracted from one document.
// Pointer fields are nil when the source text had no evidence for them.
type InvoiceRecord struct {
	Filename string        `json:"filename"`
	Class    DocumentClass `json:"class"`

	InvoiceNumber *string    `json:"invoice_number,omitempty"`
	Date          *time.Time `json:"date,omitempty"`
	CompanyName   *string    `json:"company_name,omitempty"`
	TaxID         *string    `json:"tax_id,omitempty"`

	Slabs               []TaxSlab `json:"slabs,omitempty"`
	TotalTax            *Amount   `json:"total_tax,omitempty"`
	TotalQuantity       *Amount   `json:"total_quantity,omitempty"`
	ClassificationCodes []string  `json:"classification_codes,omitempty"`

	Gaps       []Field            `json:"gaps,omitempty"`
	Provenance map[Field]Evidence `json:"provenance,omitempty"`
}

// HasGap reports whether f is listed as an extraction gap.
func (r *InvoiceRecord) HasGap(f Field) bool {
	for _, g := range r.Gaps {
		if g == f {
			return true
		}
	}
	return false
}

// SlabTaxSum adds up the tax amounts of all slabs that carry one.
func (r *InvoiceRecord) SlabTaxSum() (decimal.Decimal, bool) {
	sum := decimal.Zero
	found := false
	for _, s := range r.Slabs {
		if s.Tax != nil && s.Tax.Parsed {
			sum = sum.Add(s.Tax.Value)
			found = true
		}
	}
	return sum, found
}

// Violation is a broken invariant found by validation.
type Violation struct {
	Code    string `json:"code"`
	Field   Field  `json:"field,omitempty"`
	Message string `json:"message"`
}

// ValidatedRecord is an InvoiceRecord tagged by the validator.
type ValidatedRecord struct {
	Record        *InvoiceRecord `json:"record"`
	Valid         bool           `json:"valid"`
	TaxIDResolved bool           `json:"tax_id_resolved"`
	Violations    []Violation    `json:"violations,omitempty"`
}

// IssueKind classifies a run-level problem.
type IssueKind string

const (
	IssueIngestionFailure  IssueKind = "ingestion_failure"
	IssueOCRFailure        IssueKind = "ocr_failure"
	IssueExtractionGap     IssueKind = "extraction_gap"
	IssueValidationFailure IssueKind = "validation_failure"
)

// RunIssue is one entry in a run's error list.
type RunIssue struct {
	Kind      IssueKind `json:"kind"`
	Filename  string    `json:"filename"`
	Message   string    `json:"message"`
	Fields    []string  `json:"fields,omitempty"`
	Attempts  int       `json:"attempts,omitempty"`
	Transient bool      `json:"transient,omitempty"`
}
