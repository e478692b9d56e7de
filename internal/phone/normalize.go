// Package phone canonicalizes recipient numbers so the outbound send path and
// the inbound match path always compare equal byte-for-byte.
package phone

import "strings"

// Normalize keeps only decimal digits and prefixes a North American country
// code. Eleven digits starting with 1 already carry it. Other country codes
// are not recognised.
func Normalize(raw string) string {
	var b strings.Builder
	b.Grow(len(raw) + 2)
	for i := 0; i < len(raw); i++ {
		if c := raw[i]; c >= '0' && c <= '9' {
			b.WriteByte(c)
		}
	}
	digits := b.String()

	if len(digits) == 11 && digits[0] == '1' {
		return "+" + digits
	}
	return "+1" + digits
}
