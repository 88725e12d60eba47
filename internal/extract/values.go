package extract

import (
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"

	"invoicexl/pkg/models"
)

const maxCompanyName = 120

func acceptInvoiceNumber(s string) (string, bool) {
	s = strings.TrimRight(s, "./-_")
	if s == "" || len(s) > 40 || !strings.ContainsFunc(s, unicode.IsDigit) {
		return "", false
	}
	return s, true
}

// acceptDate parses s with the rule set's layouts and stores the result in dst.
func acceptDate(layouts []string, dst *time.Time) func(string) (string, bool) {
	return func(s string) (string, bool) {
		t, ok := parseDate(s, layouts)
		if !ok {
			return "", false
		}
		*dst = t
		return s, true
	}
}

func parseDate(s string, layouts []string) (time.Time, bool) {
	s = strings.Join(strings.Fields(s), " ")
	variants := []string{s}
	if strings.Contains(s, ",") {
		variants = append(variants, strings.Join(strings.Fields(strings.ReplaceAll(s, ",", " ")), " "))
	}
	for _, v := range variants {
		for _, layout := range layouts {
			t, err := time.Parse(layout, v)
			if err != nil {
				continue
			}
			if t.Year() < 1990 || t.Year() > 2100 {
				continue
			}
			return t, true
		}
	}
	return time.Time{}, false
}

func acceptNumber(s string) (string, bool) {
	if !parseAmount(s).Parsed {
		return "", false
	}
	return s, true
}

// parseAmount reads a printed number. Grouping commas (including the Indian
// 1,00,000 style) are ignored. An unreadable number keeps its raw text with
// Parsed=false.
func parseAmount(raw string) *models.Amount {
	a := &models.Amount{Raw: raw}
	d, err := decimal.NewFromString(strings.ReplaceAll(raw, ",", ""))
	if err == nil {
		a.Value = d
		a.Parsed = true
	}
	return a
}

// acceptTaxID rejects our own identifiers and all-digit strings that do not
// conform to the pattern, which are usually bank account or phone numbers.
func (e *Extractor) acceptTaxID(s string) (string, bool) {
	s = strings.ToUpper(s)
	if e.rules.IsOwnTaxID(s) {
		return "", false
	}
	if !strings.ContainsFunc(s, unicode.IsLetter) && !e.rules.TaxIDConforms(s) {
		return "", false
	}
	return s, true
}

func (e *Extractor) acceptCompany(s string) (string, bool) {
	name := e.cleanCompany(s)
	if len(name) < 2 || len(name) > maxCompanyName || !strings.ContainsFunc(name, unicode.IsLetter) {
		return "", false
	}
	if e.rules.IsOwnCompany(name) {
		return "", false
	}
	return name, true
}

// cleanCompany trims a captured party line down to the company name: labels,
// M/s prefixes, tax identifiers and address tails are cut off.
func (e *Extractor) cleanCompany(s string) string {
	s = strings.TrimSpace(s)
	if e.taxIDLabel != nil {
		if loc := e.taxIDLabel.FindStringIndex(s); loc != nil {
			s = s[:loc[0]]
		}
	}
	if upper := strings.ToUpper(s); len(upper) == len(s) {
		if loc := e.rules.TaxIDCandidate.FindStringIndex(upper); loc != nil {
			s = s[:loc[0]]
		}
	}
	if i := strings.LastIndex(s, ":"); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSpace(s)
	s = msPrefix.ReplaceAllString(s, "")

	var m []string
	if e.rules.CompanySuffix != nil {
		m = e.rules.CompanySuffix.FindStringSubmatch(s)
	}
	if m != nil {
		s = m[1]
	} else if i := strings.Index(s, ","); i >= 0 {
		s = s[:i]
	}
	return strings.Trim(s, ` ,;:-|"'`)
}
