// Package textfold holds the case-insensitive string helpers shared by the
// keyword filter and the rule engine.
package textfold

import (
	"strings"

	"golang.org/x/text/cases"
)

// Fold returns the Unicode case-folded form of s. A Caser keeps state, so a
// fresh one is built per call.
func Fold(s string) string {
	return cases.Fold().String(s)
}

func Contains(s, substr string) bool {
	return strings.Contains(Fold(s), Fold(substr))
}

func HasPrefix(s, prefix string) bool {
	return strings.HasPrefix(Fold(s), Fold(prefix))
}

func HasSuffix(s, suffix string) bool {
	return strings.HasSuffix(Fold(s), Fold(suffix))
}
