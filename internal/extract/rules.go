package extract

import (
	"regexp"
	"strings"

	"invoicexl/internal/ruleset"
	"invoicexl/pkg/models"
)

const (
	// sep is the punctuation OCR leaves between a label and its value. A dash
	// counts only when followed by a space so that negative amounts survive.
	sep = `\s*[:.#=|]*\s*(?:-+\s+)?`

	// number matches a printed amount or quantity, optionally prefixed by a currency marker.
	number = `(?:Rs\.?|INR|₹)?\s*(-?\d(?:[\d,.]*\d)?)`

	dateToken = `\d{4}-\d{2}-\d{2}` +
		`|\d{1,2}[./-]\d{1,2}[./-]\d{2,4}` +
		`|\d{1,2}[\s-][A-Za-z]{3,9}[\s,-]*\d{2,4}` +
		`|[A-Za-z]{3,9}\s+\d{1,2},?\s+\d{4}`

	invoiceToken = `([A-Za-z0-9][A-Za-z0-9/\-_.]*)`

	// ratePercent is a printed percentage such as "18%" or "@ 2.5 %". Total lines
	// may carry one between the label and the amount.
	ratePercent = `(?:@\s*)?\d{1,2}(?:\.\d{1,3})?\s*%`
)

var (
	numberPattern = regexp.MustCompile(number)
	ratePattern   = regexp.MustCompile(`(?:^|[^\d.])(\d{1,2}(?:\.\d{1,3})?)\s*%`)
	msPrefix      = regexp.MustCompile(`(?i)^M\s*/\s*s\.?\s*`)
)

// rule is one way of finding a field. Rules for a field are tried in order and
// the first candidate accepted by the field's parser wins.
type rule struct {
	name  string
	class models.DocumentClass // empty applies to both classes

	// match must match the line. Its first group is the candidate value
	// unless next is set.
	match *regexp.Regexp
	// next, when set, is applied to the following line and its first group
	// is the candidate value. Used for labels printed on a line of their own.
	next *regexp.Regexp
	// value, when set, narrows the captured text to every match of value
	// within it, after upper-casing.
	value *regexp.Regexp
	// skip excludes lines that match it.
	skip *regexp.Regexp
	// lines limits the scan to the first lines of the document when > 0.
	lines int
}

func (r rule) applies(class models.DocumentClass) bool {
	return r.class == "" || r.class == class
}

// candidates returns the values the rule finds on line i.
func (r rule) candidates(lines []string, i int) []string {
	line := lines[i]
	if r.skip != nil && r.skip.MatchString(line) {
		return nil
	}

	var captured []string
	if r.next != nil {
		if !r.match.MatchString(line) || i+1 >= len(lines) {
			return nil
		}
		if m := r.next.FindStringSubmatch(lines[i+1]); m != nil {
			captured = append(captured, m[1])
		}
	} else {
		for _, m := range r.match.FindAllStringSubmatch(line, -1) {
			captured = append(captured, m[1])
		}
	}

	if r.value == nil {
		return captured
	}
	var out []string
	for _, c := range captured {
		out = append(out, r.value.FindAllString(strings.ToUpper(c), -1)...)
	}
	return out
}

// fieldRules holds the ordered rules for every scalar field.
type fieldRules struct {
	invoiceNumber []rule
	date          []rule
	company       []rule
	taxID         []rule
	totalTax      []rule
	totalQuantity []rule
	codes         []rule
}

func labelled(labels, value string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)(?:` + labels + `)` + sep + value)
}

func labelOnly(labels string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)^(?:` + labels + `)` + sep + `$`)
}

// buildRules compiles the per-field rules from a rule set. Rules whose labels
// are missing from the rule set are left out.
func buildRules(rs *ruleset.Rules) fieldRules {
	var fr fieldRules
	date := `(` + dateToken + `)`

	if rs.InvoiceNumberLabels != "" {
		fr.invoiceNumber = append(fr.invoiceNumber,
			rule{name: "invoice_number.labelled", match: labelled(rs.InvoiceNumberLabels, invoiceToken)},
			rule{name: "invoice_number.next_line", match: labelOnly(rs.InvoiceNumberLabels), next: regexp.MustCompile(`^` + invoiceToken)},
		)
	}

	if rs.DatePrimaryLabels != "" {
		fr.date = append(fr.date,
			rule{name: "date.primary", match: labelled(rs.DatePrimaryLabels, date)},
			rule{name: "date.primary_next_line", match: labelOnly(rs.DatePrimaryLabels), next: regexp.MustCompile(`^` + date)},
		)
	}
	if rs.DateLabels != "" {
		fr.date = append(fr.date, rule{
			name:  "date.labelled",
			match: regexp.MustCompile(`(?i)\b(?:` + rs.DateLabels + `)` + sep + date),
			skip:  rs.DateExclude,
		})
	}
	fr.date = append(fr.date, rule{
		name:  "date.header",
		match: regexp.MustCompile(`(?i)\b(` + dateToken + `)`),
		skip:  rs.DateExclude,
		lines: rs.HeaderLines,
	})

	anyText := `([A-Za-z0-9&"].*)`
	for _, class := range []models.DocumentClass{models.ClassSales, models.ClassPurchase} {
		labels := rs.PartyLabels[class]
		if labels == "" {
			continue
		}
		fr.company = append(fr.company,
			rule{name: "company.party_label", class: class, match: labelled(labels, anyText)},
			rule{name: "company.party_next_line", class: class, match: labelOnly(labels), next: regexp.MustCompile(`^` + anyText)},
		)
	}
	if rs.CompanySuffix != nil {
		fr.company = append(fr.company, rule{name: "company.suffix", match: rs.CompanySuffix})
	}

	// tax_id.near_company is positional and handled by the extractor ahead of these.
	if rs.TaxIDLabels != "" {
		fr.taxID = append(fr.taxID, rule{
			name:  "tax_id.labelled",
			match: labelled(rs.TaxIDLabels, `(.+)$`),
			value: rs.TaxIDCandidate,
		})
	}
	fr.taxID = append(fr.taxID, rule{
		name:  "tax_id.any",
		match: regexp.MustCompile(`^(.*)$`),
		value: rs.TaxIDCandidate,
	})

	if rs.TotalTaxLabels != "" {
		fr.totalTax = append(fr.totalTax, rule{
			name:  "total_tax.labelled",
			match: labelled(rs.TotalTaxLabels, `\s*(?:\([^)]*\))?`+sep+`(?:`+ratePercent+sep+`)?`+number),
		})
	}
	if rs.TotalQuantityLabels != "" {
		fr.totalQuantity = append(fr.totalQuantity, rule{
			name:  "total_quantity.labelled",
			match: labelled(rs.TotalQuantityLabels, number),
		})
	}
	if rs.CodeLabels != "" {
		fr.codes = append(fr.codes, rule{
			name:  "classification_codes.labelled",
			match: labelled(rs.CodeLabels, `((?:\d{4,8}\b[\s,/;]*)+)`),
			value: regexp.MustCompile(`\b\d{4,8}\b`),
		})
	}

	return fr
}
