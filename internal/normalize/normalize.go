// Package normalize turns raw OCR text into clean, non-empty lines.
package normalize

import (
	"regexp"
	"strings"
	"unicode"
)

// pageSeparator matches the marker OCR providers put between pages.
var pageSeparator = regexp.MustCompile(`^-{2,}\s*Page\s+\d+\s*-{2,}$`)

var replacer = strings.NewReplacer(
	"\r\n", "\n",
	"\r", "\n",
	"\f", "\n",
	"\v", "\n",
	"\u2028", "\n",
	"\u2029", "\n",
	"\u00a0", " ",
	"\u2007", " ",
	"\u202f", " ",
	"\t", " ",
	"\u200b", "",
	"\u200c", "",
	"\u200d", "",
	"\ufeff", "",
	"\u2010", "-",
	"\u2011", "-",
	"\u2012", "-",
	"\u2013", "-",
	"\u2014", "-",
	"\u2212", "-",
	"\u2018", "'",
	"\u2019", "'",
	"\u201c", `"`,
	"\u201d", `"`,
	"\u00ad", "",
)

// Normalize splits raw OCR text into trimmed lines with whitespace runs
// collapsed. Empty lines and page separators are dropped. Normalize never
// fails: empty or garbage input yields an empty slice.
func Normalize(raw string) []string {
	if raw == "" {
		return []string{}
	}
	text := replacer.Replace(raw)

	lines := make([]string, 0, strings.Count(text, "\n")+1)
	for _, line := range strings.Split(text, "\n") {
		line = strings.Map(dropControl, line)
		line = strings.Join(strings.FieldsFunc(line, unicode.IsSpace), " ")
		if line == "" || pageSeparator.MatchString(line) {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

// Text is Normalize joined back with newlines, for display.
func Text(raw string) string {
	return strings.Join(Normalize(raw), "\n")
}

func dropControl(r rune) rune {
	if unicode.IsControl(r) || r == unicode.ReplacementChar {
		return -1
	}
	return r
}
