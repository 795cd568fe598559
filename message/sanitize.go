package message

import "math"

// MaxTextLen is the length, in characters, that text-valued fields are
// truncated to before transmission.
const MaxTextLen = 1000

type fieldKind int

const (
	textField fieldKind = iota
	numberField
)

// fields is the whitelist of message fields the renderer understands.
// Anything not listed here never reaches the wire.
var fields = map[string]fieldKind{
	"id":      textField,
	"text":    textField,
	"color":   textField,
	"size":    textField,
	"shape":   textField,
	"fill":    textField,
	"command": textField,
	"x":       numberField,
	"y":       numberField,
	"w":       numberField,
	"h":       numberField,
	"ttl":     numberField,
}

// Sanitize filters raw down to the whitelisted fields. Text values are
// truncated to MaxTextLen characters, numeric values pass through unchanged,
// and everything else (unknown fields, wrong types, NaN/Inf) is dropped.
// The result is always a valid message to serialize; Sanitize never fails.
func Sanitize(raw Raw) Raw {
	clean := make(Raw, len(raw))
	for key, val := range raw {
		kind, ok := fields[key]
		if !ok {
			continue
		}
		switch kind {
		case textField:
			s, ok := val.(string)
			if !ok {
				continue
			}
			clean[key] = truncate(s)
		case numberField:
			if numericOK(val) {
				clean[key] = val
			}
		}
	}
	return clean
}

func truncate(s string) string {
	runes := []rune(s)
	if len(runes) <= MaxTextLen {
		return s
	}
	return string(runes[:MaxTextLen])
}

func numericOK(v any) bool {
	switch n := v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	case float32:
		return !math.IsNaN(float64(n)) && !math.IsInf(float64(n), 0)
	case float64:
		return !math.IsNaN(n) && !math.IsInf(n, 0)
	}
	return false
}
