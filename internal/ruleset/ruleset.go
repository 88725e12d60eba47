// Package ruleset holds the jurisdiction-specific knowledge used by extraction
// and validation: the tax identifier format, the known tax slabs, tax component
// names and the labels invoices print next to each field.
//
// The embedded default describes India GST. Other jurisdictions are loaded from
// a YAML file with the same shape (see gst_india.yaml).
package ruleset

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"invoicexl/pkg/models"
)

//go:embed gst_india.yaml
var defaultRuleSet []byte

// ChecksumGSTIN selects the GSTIN mod-36 check character algorithm.
const ChecksumGSTIN = "gstin-mod36"

// RuleSet is the YAML form of a jurisdiction rule set.
type RuleSet struct {
	Name     string `yaml:"name"`
	Currency string `yaml:"currency"`

	TaxID struct {
		Name      string   `yaml:"name"`
		Pattern   string   `yaml:"pattern"`
		Candidate string   `yaml:"candidate"`
		Checksum  string   `yaml:"checksum"`
		Labels    []string `yaml:"labels"`
	} `yaml:"tax_id"`

	Slabs         []string `yaml:"slabs"`
	TaxComponents []string `yaml:"tax_components"`

	Labels struct {
		InvoiceNumber       []string            `yaml:"invoice_number"`
		DatePrimary         []string            `yaml:"date_primary"`
		Date                []string            `yaml:"date"`
		DateExclude         []string            `yaml:"date_exclude"`
		TotalTax            []string            `yaml:"total_tax"`
		TotalQuantity       []string            `yaml:"total_quantity"`
		ClassificationCodes []string            `yaml:"classification_codes"`
		Parties             map[string][]string `yaml:"parties"`
	} `yaml:"labels"`

	CompanySuffixes []string `yaml:"company_suffixes"`
	DateLayouts     []string `yaml:"date_layouts"`
	HeaderLines     int      `yaml:"header_lines"`
	PartyWindow     int      `yaml:"party_window"`
}

// Rules is a compiled RuleSet plus the run's own identity, ready for matching.
type Rules struct {
	Name     string
	Currency string

	TaxIDName      string
	TaxIDPattern   *regexp.Regexp
	TaxIDCandidate *regexp.Regexp
	TaxIDChecksum  string

	Slabs     []decimal.Decimal
	Component *regexp.Regexp

	// Label alternations, case-insensitive, longest label first.
	TaxIDLabels         string
	InvoiceNumberLabels string
	DatePrimaryLabels   string
	DateLabels          string
	DateExclude         *regexp.Regexp
	TotalTaxLabels      string
	TotalQuantityLabels string
	CodeLabels          string
	PartyLabels         map[models.DocumentClass]string
	CompanySuffix       *regexp.Regexp

	DateLayouts []string
	HeaderLines int
	PartyWindow int

	ownTaxIDs    map[string]bool
	ownCompanies map[string]bool
}

// Default returns the compiled India GST rule set.
func Default() (*Rules, error) {
	return Parse(defaultRuleSet)
}

// LoadFile reads and compiles a YAML rule set. An empty path yields the default.
func LoadFile(path string) (*Rules, error) {
	const op = "LoadFile"

	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read rule set %s: %w", op, path, err)
	}
	rules, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %s: %w", op, path, err)
	}
	return rules, nil
}

// Parse compiles a YAML rule set.
func Parse(data []byte) (*Rules, error) {
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("invalid rule set YAML: %w", err)
	}
	return rs.Compile()
}

// Compile validates the rule set and builds its regular expressions.
func (rs *RuleSet) Compile() (*Rules, error) {
	const op = "Compile"

	if rs.Name == "" {
		return nil, fmt.Errorf("%s: rule set name is required", op)
	}
	if rs.TaxID.Pattern == "" || rs.TaxID.Candidate == "" {
		return nil, fmt.Errorf("%s: tax_id.pattern and tax_id.candidate are required", op)
	}
	if len(rs.Slabs) == 0 {
		return nil, fmt.Errorf("%s: at least one slab is required", op)
	}
	if len(rs.TaxComponents) == 0 {
		return nil, fmt.Errorf("%s: at least one tax component is required", op)
	}
	if len(rs.DateLayouts) == 0 {
		return nil, fmt.Errorf("%s: at least one date layout is required", op)
	}
	if rs.TaxID.Checksum != "" && rs.TaxID.Checksum != ChecksumGSTIN {
		return nil, fmt.Errorf("%s: unknown tax_id.checksum %q", op, rs.TaxID.Checksum)
	}

	r := &Rules{
		Name:          rs.Name,
		Currency:      rs.Currency,
		TaxIDName:     rs.TaxID.Name,
		TaxIDChecksum: rs.TaxID.Checksum,
		DateLayouts:   rs.DateLayouts,
		HeaderLines:   rs.HeaderLines,
		PartyWindow:   rs.PartyWindow,
		PartyLabels:   make(map[models.DocumentClass]string),
		ownTaxIDs:     make(map[string]bool),
		ownCompanies:  make(map[string]bool),
	}
	if r.TaxIDName == "" {
		r.TaxIDName = "Tax ID"
	}
	if r.PartyWindow <= 0 {
		r.PartyWindow = 4
	}

	var err error
	if r.TaxIDPattern, err = regexp.Compile(rs.TaxID.Pattern); err != nil {
		return nil, fmt.Errorf("%s: tax_id.pattern: %w", op, err)
	}
	if r.TaxIDCandidate, err = regexp.Compile(rs.TaxID.Candidate); err != nil {
		return nil, fmt.Errorf("%s: tax_id.candidate: %w", op, err)
	}

	for _, s := range rs.Slabs {
		d, err := decimal.NewFromString(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("%s: invalid slab %q: %w", op, s, err)
		}
		r.Slabs = append(r.Slabs, d)
	}
	sort.Slice(r.Slabs, func(i, j int) bool { return r.Slabs[i].LessThan(r.Slabs[j]) })

	r.Component = regexp.MustCompile(`(?i)\b(` + Alternation(rs.TaxComponents) + `)\b`)
	r.TaxIDLabels = Alternation(rs.TaxID.Labels)
	r.InvoiceNumberLabels = Alternation(rs.Labels.InvoiceNumber)
	r.DatePrimaryLabels = Alternation(rs.Labels.DatePrimary)
	r.DateLabels = Alternation(rs.Labels.Date)
	r.TotalTaxLabels = Alternation(rs.Labels.TotalTax)
	r.TotalQuantityLabels = Alternation(rs.Labels.TotalQuantity)
	r.CodeLabels = Alternation(rs.Labels.ClassificationCodes)
	if alt := Alternation(rs.Labels.DateExclude); alt != "" {
		r.DateExclude = regexp.MustCompile(`(?i)(?:` + alt + `)`)
	}
	if alt := Alternation(rs.CompanySuffixes); alt != "" {
		r.CompanySuffix = regexp.MustCompile(`(?i)^(.*?\b(?:` + alt + `))`)
	}

	for name, labels := range rs.Labels.Parties {
		class, ok := models.ParseDocumentClass(name)
		if !ok {
			return nil, fmt.Errorf("%s: unknown party class %q", op, name)
		}
		r.PartyLabels[class] = Alternation(labels)
	}

	return r, nil
}

// WithOwnIdentity marks tax IDs and company names that belong to the business
// running the pipeline, so extraction never reports them as the counterparty.
func (r *Rules) WithOwnIdentity(taxIDs, companyNames []string) *Rules {
	for _, id := range taxIDs {
		r.ownTaxIDs[strings.ToUpper(strings.TrimSpace(id))] = true
	}
	for _, name := range companyNames {
		r.ownCompanies[models.NormalizeCompanyName(name)] = true
	}
	return r
}

// IsOwnTaxID reports whether id is one of our own tax identifiers.
func (r *Rules) IsOwnTaxID(id string) bool {
	return r.ownTaxIDs[strings.ToUpper(strings.TrimSpace(id))]
}

// IsOwnCompany reports whether name is one of our own company names.
func (r *Rules) IsOwnCompany(name string) bool {
	return r.ownCompanies[models.NormalizeCompanyName(name)]
}

// KnownSlab reports whether rate is one of the rule set's slabs.
func (r *Rules) KnownSlab(rate decimal.Decimal) bool {
	for _, s := range r.Slabs {
		if s.Equal(rate) {
			return true
		}
	}
	return false
}

// TaxIDConforms reports whether id matches the tax identifier pattern.
func (r *Rules) TaxIDConforms(id string) bool {
	return r.TaxIDPattern.MatchString(id)
}

// TaxIDChecksumValid verifies the check character when the rule set defines one.
// Rule sets without a checksum accept every identifier.
func (r *Rules) TaxIDChecksumValid(id string) bool {
	switch r.TaxIDChecksum {
	case ChecksumGSTIN:
		return gstinChecksumValid(id)
	default:
		return true
	}
}

// Alternation turns labels into a regexp alternation. Labels are sorted longest
// first so that "Invoice Number" wins over "Invoice No" at the same position.
// Spaces match any run of whitespace (including none), dots are optional and a
// word boundary follows labels that end in a letter or digit.
func Alternation(labels []string) string {
	if len(labels) == 0 {
		return ""
	}
	sorted := append([]string(nil), labels...)
	sort.SliceStable(sorted, func(i, j int) bool { return len(sorted[i]) > len(sorted[j]) })

	parts := make([]string, 0, len(sorted))
	for _, label := range sorted {
		label = strings.TrimSpace(label)
		if label == "" {
			continue
		}
		var b strings.Builder
		for _, word := range strings.Fields(label) {
			if b.Len() > 0 {
				b.WriteString(`\s*`)
			}
			b.WriteString(strings.ReplaceAll(regexp.QuoteMeta(word), `\.`, `\.?`))
		}
		last := rune(label[len(label)-1])
		if unicode.IsLetter(last) || unicode.IsDigit(last) {
			b.WriteString(`\b`)
		}
		parts = append(parts, b.String())
	}
	return strings.Join(parts, "|")
}

const gstinAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// gstinChecksumValid checks the 15th GSTIN character: a Luhn mod 36 check over
// the first 14 characters.
func gstinChecksumValid(id string) bool {
	if len(id) != 15 {
		return false
	}
	sum := 0
	for i := 0; i < 14; i++ {
		v := strings.IndexByte(gstinAlphabet, id[i])
		if v < 0 {
			return false
		}
		factor := 1
		if i%2 == 1 {
			factor = 2
		}
		p := v * factor
		sum += p/36 + p%36
	}
	check := (36 - sum%36) % 36
	return id[14] == gstinAlphabet[check]
}
