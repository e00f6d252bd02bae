package ir

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// NormalizeName returns the catalog key for a sequence name.
//
// Names are trimmed, NFC normalized and case folded, so "Orders", "ORDERS" and
// "orders" resolve to the same sequence.
func NormalizeName(name string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return ""
	}
	return norm.NFC.String(cases.Fold().String(trimmed))
}
