package matcher

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// noiseWords are administrative suffixes that vary freely across tenant data
// entry without changing which place is meant. "Kathmandu Metropolitan City"
// and "Kathmandu" are the same unit; "Ward 32" and "32" are the same ward.
// Includes Nepali romanized administrative terms alongside English ones.
var noiseWords = map[string]struct{}{
	"ward":         {},
	"municipality": {},
	"metropolitan": {},
	"metro":        {},
	"city":         {},
	"rural":        {},
	"district":     {},
	"province":     {},
	"zone":         {},
	"region":       {},
	"no":           {},
	"number":       {},
	"gaunpalika":   {},
	"nagarpalika":  {},
	"mahanagar":    {},
	"upamahanagar": {},
	"palika":       {},
	"tole":         {},
	"vdc":          {},
}

var folder = cases.Fold()

// Normalize reduces a declared name to its matching form: Unicode NFC,
// case-folded, punctuation stripped, whitespace collapsed, and
// administrative noise words removed. Digits are kept because they carry
// identity for numbered wards. If stripping noise words would leave nothing
// (the name was all noise, e.g. "Ward"), the folded form is returned so the
// key never collapses to the empty string.
func Normalize(name string) string {
	folded := folder.String(norm.NFC.String(strings.TrimSpace(name)))

	var b strings.Builder
	for _, r := range folded {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r > 127:
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}

	fields := strings.Fields(b.String())
	kept := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, noise := noiseWords[f]; noise {
			continue
		}
		kept = append(kept, f)
	}
	if len(kept) == 0 {
		kept = fields
	}
	return strings.Join(kept, " ")
}
