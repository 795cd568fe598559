// Package message defines the control messages sent to the overlay renderer
// and the whitelist sanitization applied to them before transmission.
package message

import (
	"strings"

	"github.com/google/uuid"
)

// Raw is an outbound message as a field->value mapping. Callers may build
// one directly or through the typed constructors below; either way it is
// sanitized before hitting the wire.
type Raw map[string]any

// Text builds a text label message.
func Text(id, text, color, size string, x, y, ttl int) Raw {
	return Raw{
		"id":    id,
		"text":  text,
		"color": color,
		"size":  size,
		"x":     x,
		"y":     y,
		"ttl":   ttl,
	}
}

// Shape builds a geometric primitive message.
func Shape(id, shape, color, fill string, x, y, w, h, ttl int) Raw {
	return Raw{
		"id":    id,
		"shape": shape,
		"color": color,
		"fill":  fill,
		"x":     x,
		"y":     y,
		"w":     w,
		"h":     h,
		"ttl":   ttl,
	}
}

// Command builds a bare command message, used for the exit handshake.
func Command(cmd string) Raw {
	return Raw{"command": cmd}
}

// ProbeIDPrefix marks liveness probe messages so renderers and log filters
// can tell them apart from real display traffic.
const ProbeIDPrefix = "edmcoverlay-probe-"

// Probe builds the liveness probe message: a one-tick black dot at the
// origin. Renderers that do not special-case the id prefix draw it for a
// single tick, which older servers already tolerate.
func Probe() Raw {
	return Text(ProbeIDPrefix+uuid.NewString(), ".", "black", "normal", 0, 0, 1)
}

// IsProbe reports whether msg is a liveness probe.
func IsProbe(msg Raw) bool {
	id, ok := msg["id"].(string)
	return ok && strings.HasPrefix(id, ProbeIDPrefix)
}

// TypeOf classifies a message for metrics and logging.
func TypeOf(msg Raw) string {
	switch {
	case IsProbe(msg):
		return "probe"
	case msg["command"] != nil:
		return "command"
	case msg["shape"] != nil:
		return "shape"
	default:
		return "message"
	}
}
