package logging

import (
	"log/slog"
	"strings"
	"sync/atomic"
)

// RedactedValue is the placeholder emitted in place of suppressed amounts.
const RedactedValue = "[REDACTED]"

// amountKeys names the attribute keys that carry user balances or transfer
// sizes. They are suppressed wholesale when amount redaction is on.
var amountKeys = map[string]struct{}{
	"value":   {},
	"shares":  {},
	"total":   {},
	"settled": {},
}

var redactAmounts atomic.Bool

// RedactAmounts toggles suppression of amount-valued log fields. Deployments
// that must not leak user balances into shared log pipelines switch it on.
func RedactAmounts(on bool) {
	redactAmounts.Store(on)
}

// IsAmountKey reports whether the key is subject to amount redaction.
func IsAmountKey(key string) bool {
	_, ok := amountKeys[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// AbbreviateHex shortens a 0x-prefixed hex identifier to its leading and
// trailing bytes. Request ids stay greppable without drowning the rest of
// the line.
func AbbreviateHex(value string) string {
	const keep = 8
	if !strings.HasPrefix(value, "0x") || len(value) <= 2+2*keep {
		return value
	}
	return value[:2+keep] + ".." + value[len(value)-keep:]
}

// maskAttr post-processes one string attribute: amounts are suppressed when
// amount redaction is on and long hex identifiers are abbreviated.
func maskAttr(attr slog.Attr) slog.Attr {
	if attr.Value.Kind() != slog.KindString {
		return attr
	}
	if redactAmounts.Load() && IsAmountKey(attr.Key) {
		return slog.String(attr.Key, RedactedValue)
	}
	return slog.String(attr.Key, AbbreviateHex(attr.Value.String()))
}
