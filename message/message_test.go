package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextFields(t *testing.T) {
	msg := Text("m1", "Hello", "red", "normal", 10, 20, 4)
	assert.Equal(t, Raw{
		"id":    "m1",
		"text":  "Hello",
		"color": "red",
		"size":  "normal",
		"x":     10,
		"y":     20,
		"ttl":   4,
	}, msg)
}

func TestShapeFields(t *testing.T) {
	msg := Shape("s1", "rect", "#ccff00", "#00ff00", 5, 6, 100, 40, 8)
	assert.Equal(t, Raw{
		"id":    "s1",
		"shape": "rect",
		"color": "#ccff00",
		"fill":  "#00ff00",
		"x":     5,
		"y":     6,
		"w":     100,
		"h":     40,
		"ttl":   8,
	}, msg)
}

func TestCommandFields(t *testing.T) {
	assert.Equal(t, Raw{"command": "exit"}, Command("exit"))
}

func TestProbe(t *testing.T) {
	probe := Probe()
	require.True(t, IsProbe(probe))
	assert.Equal(t, ".", probe["text"])
	assert.Equal(t, "black", probe["color"])
	assert.Equal(t, 1, probe["ttl"])

	// probes survive sanitization intact so the round-trip exercises the
	// same path as real traffic
	assert.Equal(t, probe, Sanitize(probe))

	// ids are unique per probe
	assert.NotEqual(t, probe["id"], Probe()["id"])
}

func TestIsProbeRejectsRegularMessages(t *testing.T) {
	assert.False(t, IsProbe(Text("m1", "hi", "red", "normal", 0, 0, 1)))
	assert.False(t, IsProbe(Raw{"id": 42}))
	assert.False(t, IsProbe(Raw{}))
}

func TestTypeOf(t *testing.T) {
	assert.Equal(t, "message", TypeOf(Text("m1", "hi", "red", "normal", 0, 0, 1)))
	assert.Equal(t, "shape", TypeOf(Shape("s1", "rect", "red", "red", 0, 0, 1, 1, 1)))
	assert.Equal(t, "command", TypeOf(Command("exit")))
	assert.Equal(t, "probe", TypeOf(Probe()))
}
