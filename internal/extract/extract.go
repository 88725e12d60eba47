// Package extract turns normalized invoice lines into an InvoiceRecord.
//
// Every scalar field has an ordered list of rules. Rules are tried in order and,
// within a rule, lines are scanned top to bottom; the first candidate that the
// field's parser accepts wins. A field no rule can fill stays nil and is listed
// in the record's gaps. Nothing is ever guessed or defaulted.
package extract

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"invoicexl/internal/logger"
	"invoicexl/internal/ruleset"
	"invoicexl/pkg/models"
)

// Extractor applies a compiled rule set to normalized lines.
// It holds no per-document state and is safe for concurrent use.
type Extractor struct {
	rules      *ruleset.Rules
	fields     fieldRules
	taxIDLabel *regexp.Regexp
	totalTax   *regexp.Regexp
	log        zerolog.Logger
}

// NewExtractor creates an extractor for the given rule set.
func NewExtractor(rules *ruleset.Rules) *Extractor {
	e := &Extractor{
		rules:  rules,
		fields: buildRules(rules),
		log:    logger.WithComponent("extract"),
	}
	if rules.TaxIDLabels != "" {
		e.taxIDLabel = regexp.MustCompile(`(?i)(?:` + rules.TaxIDLabels + `)`)
	}
	if rules.TotalTaxLabels != "" {
		e.totalTax = regexp.MustCompile(`(?i)(?:` + rules.TotalTaxLabels + `)`)
	}
	return e
}

// Extract builds a record from normalized lines. The class decides which
// party (buyer or supplier) is taken as the counterparty.
func (e *Extractor) Extract(filename string, class models.DocumentClass, lines []string) *models.InvoiceRecord {
	rec := &models.InvoiceRecord{
		Filename:   filename,
		Class:      class,
		Provenance: make(map[models.Field]models.Evidence),
	}

	if v, ev, ok := e.first(e.fields.invoiceNumber, class, lines, acceptInvoiceNumber); ok {
		rec.InvoiceNumber = &v
		rec.Provenance[models.FieldInvoiceNumber] = ev
	}

	var date time.Time
	if _, ev, ok := e.first(e.fields.date, class, lines, acceptDate(e.rules.DateLayouts, &date)); ok {
		rec.Date = &date
		rec.Provenance[models.FieldDate] = ev
	}

	companyLine := -1
	if v, ev, ok := e.first(e.fields.company, class, lines, e.acceptCompany); ok {
		rec.CompanyName = &v
		rec.Provenance[models.FieldCompanyName] = ev
		companyLine = ev.Line - 1
	}

	if v, ev, ok := e.nearCompanyTaxID(lines, companyLine); ok {
		rec.TaxID = &v
		rec.Provenance[models.FieldTaxID] = ev
	} else if v, ev, ok := e.first(e.fields.taxID, class, lines, e.acceptTaxID); ok {
		rec.TaxID = &v
		rec.Provenance[models.FieldTaxID] = ev
	}

	rec.Slabs = e.slabs(lines)
	if len(rec.Slabs) > 0 {
		rec.Provenance[models.FieldTaxSlabs] = models.Evidence{Rule: "tax_slabs.component_rate", Line: rec.Slabs[0].Line}
	}

	if v, ev, ok := e.first(e.fields.totalTax, class, lines, acceptNumber); ok {
		rec.TotalTax = parseAmount(v)
		rec.Provenance[models.FieldTotalTax] = ev
	}
	if v, ev, ok := e.first(e.fields.totalQuantity, class, lines, acceptNumber); ok {
		rec.TotalQuantity = parseAmount(v)
		rec.Provenance[models.FieldTotalQuantity] = ev
	}

	rec.ClassificationCodes = e.codes(class, lines, rec)

	rec.Gaps = gaps(rec)
	if len(rec.Gaps) > 0 {
		gapNames := make([]string, len(rec.Gaps))
		for i, g := range rec.Gaps {
			gapNames[i] = string(g)
		}
		e.log.Debug().
			Str("filename", filename).
			Str("class", string(class)).
			Strs("gaps", gapNames).
			Msg("Extraction left gaps")
	}

	return rec
}

// first runs rules in order over lines and returns the first candidate accepted.
func (e *Extractor) first(rules []rule, class models.DocumentClass, lines []string, accept func(string) (string, bool)) (string, models.Evidence, bool) {
	for _, r := range rules {
		if !r.applies(class) {
			continue
		}
		limit := len(lines)
		if r.lines > 0 && r.lines < limit {
			limit = r.lines
		}
		for i := 0; i < limit; i++ {
			for _, c := range r.candidates(lines, i) {
				c = strings.TrimSpace(c)
				if c == "" {
					continue
				}
				if v, ok := accept(c); ok {
					line := i + 1
					if r.next != nil {
						line++
					}
					return v, models.Evidence{Rule: r.name, Line: line}, true
				}
			}
		}
	}
	return "", models.Evidence{}, false
}

// nearCompanyTaxID looks for a tax identifier printed just below the company name.
func (e *Extractor) nearCompanyTaxID(lines []string, companyLine int) (string, models.Evidence, bool) {
	if companyLine < 0 {
		return "", models.Evidence{}, false
	}
	end := companyLine + e.rules.PartyWindow
	if end >= len(lines) {
		end = len(lines) - 1
	}
	for i := companyLine; i <= end; i++ {
		for _, c := range e.rules.TaxIDCandidate.FindAllString(strings.ToUpper(lines[i]), -1) {
			if v, ok := e.acceptTaxID(c); ok {
				return v, models.Evidence{Rule: "tax_id.near_company", Line: i + 1}, true
			}
		}
	}
	return "", models.Evidence{}, false
}

// slabs collects one TaxSlab per tax component and percentage found on a line.
// Amounts printed after the rate are read as net then tax when there are two
// or more, and as tax alone when there is one. Rates with no amounts of their
// own share the amounts printed after the next rate on the line.
func (e *Extractor) slabs(lines []string) []models.TaxSlab {
	var out []models.TaxSlab
	for i, line := range lines {
		if e.totalTax != nil && e.totalTax.MatchString(line) {
			continue
		}
		components := e.rules.Component.FindAllStringIndex(line, -1)
		if len(components) == 0 {
			continue
		}
		rates := ratePattern.FindAllStringSubmatchIndex(line, -1)
		// pending rates still wait for amounts; a line that ends with some
		// pending has no amounts for them and is a heading, not a slab row.
		var pending []models.TaxSlab
		for j, loc := range rates {
			segStart := 0
			if j > 0 {
				segStart = rates[j-1][1]
			}
			segEnd := len(line)
			if j+1 < len(rates) {
				segEnd = rates[j+1][2]
			}

			component := componentFor(line, components, segStart, loc[2], loc[1], segEnd)
			if component == "" {
				continue
			}
			rate, err := decimal.NewFromString(line[loc[2]:loc[3]])
			if err != nil {
				continue
			}
			slab := models.TaxSlab{Component: strings.ToUpper(component), Rate: rate, Line: i + 1}

			var amounts []string
			for _, m := range numberPattern.FindAllStringSubmatch(line[loc[1]:segEnd], -1) {
				amounts = append(amounts, m[1])
			}
			if len(amounts) == 0 {
				pending = append(pending, slab)
				continue
			}

			out = append(out, assignAmounts(append(pending, slab), amounts)...)
			pending = nil
		}
	}
	return out
}

// assignAmounts spreads the amounts printed after a group of rates over the
// group. With one amount per rate they are taxes, with two per rate they are
// net/tax pairs, and with one more than the rates the first is a shared net.
// Any other count goes to the last rate and the others keep no amounts.
func assignAmounts(group []models.TaxSlab, amounts []string) []models.TaxSlab {
	k, n := len(group), len(amounts)
	switch {
	case k > 1 && n == k:
		for i := range group {
			group[i].Tax = parseAmount(amounts[i])
		}
	case k > 1 && n == 2*k:
		for i := range group {
			group[i].Net = parseAmount(amounts[2*i])
			group[i].Tax = parseAmount(amounts[2*i+1])
		}
	case k > 1 && n == k+1:
		for i := range group {
			group[i].Net = parseAmount(amounts[0])
			group[i].Tax = parseAmount(amounts[i+1])
		}
	default:
		last := &group[k-1]
		last.Tax = parseAmount(amounts[n-1])
		if n >= 2 {
			last.Net = parseAmount(amounts[0])
		}
	}
	return group
}

// componentFor picks the component named closest before the rate, or failing
// that the first one named after it, within the rate's own segment of the line.
func componentFor(line string, components [][]int, segStart, rateStart, rateEnd, segEnd int) string {
	found := ""
	for _, c := range components {
		if c[0] >= segStart && c[1] <= rateStart {
			found = line[c[0]:c[1]]
		}
	}
	if found != "" {
		return found
	}
	for _, c := range components {
		if c[0] >= rateEnd && c[1] <= segEnd {
			return line[c[0]:c[1]]
		}
	}
	return ""
}

// codes collects every classification code, sorted and deduplicated.
func (e *Extractor) codes(class models.DocumentClass, lines []string, rec *models.InvoiceRecord) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range e.fields.codes {
		if !r.applies(class) {
			continue
		}
		for i := range lines {
			for _, c := range r.candidates(lines, i) {
				if seen[c] {
					continue
				}
				if len(out) == 0 {
					rec.Provenance[models.FieldClassificationCodes] = models.Evidence{Rule: r.name, Line: i + 1}
				}
				seen[c] = true
				out = append(out, c)
			}
		}
	}
	sort.Strings(out)
	return out
}

func gaps(rec *models.InvoiceRecord) []models.Field {
	var out []models.Field
	for _, f := range models.AllFields {
		missing := false
		switch f {
		case models.FieldInvoiceNumber:
			missing = rec.InvoiceNumber == nil
		case models.FieldDate:
			missing = rec.Date == nil
		case models.FieldCompanyName:
			missing = rec.CompanyName == nil
		case models.FieldTaxID:
			missing = rec.TaxID == nil
		case models.FieldTaxSlabs:
			missing = len(rec.Slabs) == 0
		case models.FieldTotalTax:
			missing = rec.TotalTax == nil
		case models.FieldTotalQuantity:
			missing = rec.TotalQuantity == nil
		case models.FieldClassificationCodes:
			missing = len(rec.ClassificationCodes) == 0
		}
		if missing {
			out = append(out, f)
		}
	}
	return out
}
