// Package sqlutil implements the three pure, allocation-light SQL
// analysis functions the interceptor calls on every observed
// statement: Mask, Kind, and Targets (spec §4.3). Mask and Kind are
// single-pass scanners over the raw SQL text and Targets matches a
// small set of regular expressions against it; no third-party SQL
// parser in the retrieval pack matches this package's shape (see
// DESIGN.md) so it is deliberately written against the standard
// library only.
package sqlutil

import "strings"

// Mask replaces quoted string literals and bare integer/decimal
// tokens with "?", leaving identifiers, keywords, and existing "?"
// placeholders untouched. Mask is idempotent: Mask(Mask(sql)) ==
// Mask(sql).
func Mask(sql string) string {
	var b strings.Builder
	b.Grow(len(sql))

	runes := []rune(sql)
	n := len(runes)
	for i := 0; i < n; i++ {
		r := runes[i]

		switch r {
		case '\'':
			i = maskQuoted(runes, i, '\'', &b)
			continue
		case '"':
			// Double-quoted identifiers are left untouched; SQL
			// dialects use them for quoted identifiers, not string
			// literals. Copy through verbatim, including the quotes.
			j := i + 1
			for j < n && runes[j] != '"' {
				j++
			}
			if j < n {
				j++ // consume closing quote
			}
			b.WriteString(string(runes[i:j]))
			i = j - 1
			continue
		}

		if isDigit(r) {
			// A digit run immediately preceded by '$' or ':' is a
			// positional/named placeholder (Postgres $1, named :id),
			// not a literal; leave it untouched. A digit run immediately
			// preceded by an identifier character (users2, id1) is the
			// tail of an identifier, not a literal either.
			if i > 0 && (runes[i-1] == '$' || runes[i-1] == ':' || isIdentChar(runes[i-1])) {
				b.WriteRune(r)
				continue
			}

			j := i
			for j < n && (isDigit(runes[j]) || runes[j] == '.') {
				j++
			}
			// Don't swallow a trailing '.' that isn't part of a number,
			// e.g. the '.' after "5" in "x = 5.": it is left in the
			// output after the "?".
			for j > i+1 && runes[j-1] == '.' {
				j--
			}
			lit := runes[i:j]
			if isNumericLiteral(lit) {
				b.WriteByte('?')
				i = j - 1
				continue
			}
			b.WriteRune(r)
			continue
		}

		b.WriteRune(r)
	}

	return b.String()
}

// maskQuoted consumes a '...' quoted literal (handling '' as an
// escaped quote) starting at index i (which must point at the opening
// quote), writes a single "?" to b, and returns the index of the
// closing quote.
func maskQuoted(runes []rune, i int, quote rune, b *strings.Builder) int {
	n := len(runes)
	j := i + 1
	for j < n {
		if runes[j] == quote {
			if j+1 < n && runes[j+1] == quote {
				j += 2 // escaped quote, keep scanning
				continue
			}
			break
		}
		j++
	}
	b.WriteByte('?')
	return j
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }

// isIdentChar reports whether r can appear inside a bare SQL
// identifier (letter, digit, or underscore).
func isIdentChar(r rune) bool {
	return r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || isDigit(r) || r == '_'
}

func isNumericLiteral(lit []rune) bool {
	hasDigit := false
	for _, r := range lit {
		if isDigit(r) {
			hasDigit = true
		}
	}
	return hasDigit
}
