// Package validate checks extracted invoice records against the invariants of
// their rule set and tags them valid or invalid. Validation never drops a
// record: violations are reported alongside it.
package validate

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"invoicexl/internal/logger"
	"invoicexl/internal/ruleset"
	"invoicexl/pkg/models"
)

// Violation codes.
const (
	CodeTaxIDFormat      = "tax_id_format"
	CodeTaxIDChecksum    = "tax_id_checksum"
	CodeAmountUnparsed   = "amount_unparsed"
	CodeAmountNegative   = "amount_negative"
	CodeSlabRateUnknown  = "slab_rate_unknown"
	CodeSlabTaxMismatch  = "slab_tax_mismatch"
	CodeTotalTaxMismatch = "total_tax_mismatch"
)

var (
	hundred  = decimal.NewFromInt(100)
	minDelta = decimal.RequireFromString("0.01")
)

// Validator applies rule-set and arithmetic checks to records.
type Validator struct {
	rules         *ruleset.Rules
	slabTolerance decimal.Decimal // relative, e.g. 0.005 for 0.5%
	sumTolerance  decimal.Decimal // absolute, in currency units
	log           zerolog.Logger
}

// NewValidator creates a validator. slabTolerance is the relative tolerance
// between a slab's tax and net × rate; sumTolerance is the absolute tolerance
// between the slab tax sum and the declared total tax.
func NewValidator(rules *ruleset.Rules, slabTolerance, sumTolerance decimal.Decimal) *Validator {
	return &Validator{
		rules:         rules,
		slabTolerance: slabTolerance,
		sumTolerance:  sumTolerance,
		log:           logger.WithComponent("validate"),
	}
}

// Validate checks one record. Missing fields are gaps, not violations.
func (v *Validator) Validate(rec *models.InvoiceRecord) models.ValidatedRecord {
	out := models.ValidatedRecord{Record: rec}

	if rec.TaxID != nil {
		id := *rec.TaxID
		switch {
		case !v.rules.TaxIDConforms(id):
			out.Violations = append(out.Violations, models.Violation{
				Code:    CodeTaxIDFormat,
				Field:   models.FieldTaxID,
				Message: fmt.Sprintf("%s %q does not match the expected format", v.rules.TaxIDName, id),
			})
		case !v.rules.TaxIDChecksumValid(id):
			out.Violations = append(out.Violations, models.Violation{
				Code:    CodeTaxIDChecksum,
				Field:   models.FieldTaxID,
				Message: fmt.Sprintf("%s %q has an invalid check character", v.rules.TaxIDName, id),
			})
		default:
			out.TaxIDResolved = true
		}
	}

	out.Violations = append(out.Violations, checkAmount(models.FieldTotalTax, "total tax", rec.TotalTax)...)
	out.Violations = append(out.Violations, checkAmount(models.FieldTotalQuantity, "total quantity", rec.TotalQuantity)...)

	for _, slab := range rec.Slabs {
		out.Violations = append(out.Violations, v.checkSlab(slab)...)
	}

	if violation, ok := v.checkTotal(rec); !ok {
		out.Violations = append(out.Violations, violation)
	}

	out.Valid = len(out.Violations) == 0
	if !out.Valid {
		codes := make([]string, len(out.Violations))
		for i, viol := range out.Violations {
			codes[i] = viol.Code
		}
		v.log.Debug().
			Str("filename", rec.Filename).
			Strs("violations", codes).
			Msg("Record failed validation")
	}
	return out
}

func checkAmount(field models.Field, label string, a *models.Amount) []models.Violation {
	if a == nil {
		return nil
	}
	if !a.Parsed {
		return []models.Violation{{
			Code:    CodeAmountUnparsed,
			Field:   field,
			Message: fmt.Sprintf("%s %q is not a number", label, a.Raw),
		}}
	}
	if a.Value.IsNegative() {
		return []models.Violation{{
			Code:    CodeAmountNegative,
			Field:   field,
			Message: fmt.Sprintf("%s %s is negative", label, a.Value.String()),
		}}
	}
	return nil
}

func (v *Validator) checkSlab(slab models.TaxSlab) []models.Violation {
	where := fmt.Sprintf("%s %s%% (line %d)", slab.Component, slab.Rate.String(), slab.Line)

	var out []models.Violation
	if !v.rules.KnownSlab(slab.Rate) {
		out = append(out, models.Violation{
			Code:    CodeSlabRateUnknown,
			Field:   models.FieldTaxSlabs,
			Message: fmt.Sprintf("%s: rate is not a known slab", where),
		})
	}
	out = append(out, checkAmount(models.FieldTaxSlabs, where+" net", slab.Net)...)
	out = append(out, checkAmount(models.FieldTaxSlabs, where+" tax", slab.Tax)...)

	if slab.Net == nil || slab.Tax == nil || !slab.Net.Parsed || !slab.Tax.Parsed {
		return out
	}

	expected := slab.Net.Value.Mul(slab.Rate).Div(hundred)
	allowed := decimal.Max(expected.Abs().Mul(v.slabTolerance), minDelta)
	if slab.Tax.Value.Sub(expected).Abs().GreaterThan(allowed) {
		out = append(out, models.Violation{
			Code:  CodeSlabTaxMismatch,
			Field: models.FieldTaxSlabs,
			Message: fmt.Sprintf("%s: tax %s does not match net %s at the rate (expected %s)",
				where, slab.Tax.Value.StringFixed(2), slab.Net.Value.StringFixed(2), expected.StringFixed(2)),
		})
	}
	return out
}

// checkTotal compares the slab tax sum with the declared total. It only
// applies when both sides are present.
func (v *Validator) checkTotal(rec *models.InvoiceRecord) (models.Violation, bool) {
	if rec.TotalTax == nil || !rec.TotalTax.Parsed {
		return models.Violation{}, true
	}
	sum, ok := rec.SlabTaxSum()
	if !ok {
		return models.Violation{}, true
	}
	if sum.Sub(rec.TotalTax.Value).Abs().GreaterThan(v.sumTolerance) {
		return models.Violation{
			Code:  CodeTotalTaxMismatch,
			Field: models.FieldTotalTax,
			Message: fmt.Sprintf("slab tax sum %s differs from declared total tax %s",
				sum.StringFixed(2), rec.TotalTax.Value.StringFixed(2)),
		}, false
	}
	return models.Violation{}, true
}

// ValidateAll validates records in order.
func (v *Validator) ValidateAll(records []*models.InvoiceRecord) []models.ValidatedRecord {
	out := make([]models.ValidatedRecord, len(records))
	for i, rec := range records {
		out[i] = v.Validate(rec)
	}
	return out
}
