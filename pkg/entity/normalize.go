package entity

import (
	"strings"
	"unicode"

	"github.com/cleargate/vantage/pkg/contracts"
)

// NormalizeIdentifier produces the matching form of an identifier value.
// SSN/EIN keep digits only; phones become E.164-ish digits with a leading
// plus; emails lowercase; passports uppercase alphanumerics.
func NormalizeIdentifier(typ contracts.IdentifierType, value string) string {
	switch typ {
	case contracts.IdentSSN, contracts.IdentEIN:
		return digitsOnly(value)
	case contracts.IdentPhone:
		d := digitsOnly(value)
		if d == "" {
			return ""
		}
		if strings.HasPrefix(strings.TrimSpace(value), "+") {
			return "+" + d
		}
		// Bare 10-digit numbers are assumed NANP.
		if len(d) == 10 {
			return "+1" + d
		}
		return "+" + d
	case contracts.IdentEmail:
		return strings.ToLower(strings.TrimSpace(value))
	case contracts.IdentPassport:
		var b strings.Builder
		for _, r := range strings.ToUpper(value) {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				b.WriteRune(r)
			}
		}
		return b.String()
	default:
		return strings.TrimSpace(value)
	}
}

// NormalizeName folds diacritics, lowercases, and collapses whitespace so
// "José  GARCÍA" and "jose garcia" match.
func NormalizeName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		case unicode.Is(unicode.Mn, r):
			// Combining marks dropped after decomposition below.
		default:
			b.WriteRune(foldRune(r))
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// foldRune maps common Latin diacritics to their base letter. Full
// Unicode normalization is overkill for name matching; this covers the
// ranges seen in provider payloads.
func foldRune(r rune) rune {
	switch {
	case r >= 'à' && r <= 'å':
		return 'a'
	case r == 'ç':
		return 'c'
	case r >= 'è' && r <= 'ë':
		return 'e'
	case r >= 'ì' && r <= 'ï':
		return 'i'
	case r == 'ñ':
		return 'n'
	case r >= 'ò' && r <= 'ö':
		return 'o'
	case r >= 'ù' && r <= 'ü':
		return 'u'
	case r == 'ý' || r == 'ÿ':
		return 'y'
	case r == 'ß':
		return 's'
	}
	return r
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
