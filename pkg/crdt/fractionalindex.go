package crdt

import (
	"strings"
)

// fractionAlphabet is the digit set fractional indices are generated
// over: base-62, ordered so plain byte comparison matches numeric
// order.
const fractionAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

const fractionBase = len(fractionAlphabet)

func digitValue(b byte) int {
	return strings.IndexByte(fractionAlphabet, b)
}

// Between returns a sortable string key k such that a < k < b
// lexicographically, for use as an ordered-list position (spec
// §3/§4.2.4 FractionalIndex). Pass "" for a/b to mean "no lower/upper
// bound". clientID is appended as a tie-break suffix so two replicas
// independently generating a key between the same (a, b) never
// collide (spec §9 Open Question, resolved in DESIGN.md).
func Between(a, b, clientID string) string {
	mid := betweenDigits(a, b)
	return mid + "!" + clientID
}

// betweenDigits computes a base-62 digit string strictly between a and
// b (ignoring any "!clientID" suffix on either side), by walking
// digit-by-digit and, where the two strings agree so far, inserting a
// new digit partway between the next available digits; where they
// haven't yet diverged and one string has ended, it pads with an
// implicit digit of 0 (for a) or fractionBase (exclusive top, for b).
func betweenDigits(a, b string) string {
	a = baseOf(a)
	b = baseOf(b)

	var out strings.Builder
	i := 0
	for {
		da := 0
		if i < len(a) {
			da = digitValue(a[i])
		}
		hasUpper := b == "" || i < len(b)
		dbExclusive := fractionBase
		if i < len(b) {
			dbExclusive = digitValue(b[i])
		}
		if !hasUpper {
			dbExclusive = fractionBase
		}

		if da+1 < dbExclusive {
			// room for a new digit strictly between da and dbExclusive
			mid := da + (dbExclusive-da)/2
			out.WriteByte(fractionAlphabet[mid])
			return out.String()
		}
		// no room yet at this position: echo a's digit (or 0) and
		// recurse into the next position.
		out.WriteByte(fractionAlphabet[da])
		i++
		if i > 200 {
			// pathological degenerate input; bail with a disambiguating
			// digit rather than loop forever.
			out.WriteByte(fractionAlphabet[1])
			return out.String()
		}
	}
}

// baseOf strips a previously appended "!clientID" tie-break suffix, if
// present, so comparisons operate on the numeric digit string alone.
func baseOf(s string) string {
	if idx := strings.IndexByte(s, '!'); idx >= 0 {
		return s[:idx]
	}
	return s
}
