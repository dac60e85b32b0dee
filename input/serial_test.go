package input

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		line string
		ch   int
		val  int
		ok   bool
	}{
		{"DMX: read value from channel 12 : 255", 12, 255, true},
		{"dmx: READ VALUE FROM CHANNEL 1 : 0", 1, 0, true},
		{"noise DMX: read value from channel 512 : 99 trailing", 512, 99, true},
		{"DMX: read value from channel 0 : 10", 0, 0, false},
		{"DMX: read value from channel 513 : 10", 0, 0, false},
		{"DMX: read value from channel 1 : 256", 0, 0, false},
		{"something else entirely", 0, 0, false},
		{"", 0, 0, false},
	}
	for _, tc := range tests {
		ch, val, ok := ParseLine(tc.line)
		assert.Equal(t, tc.ok, ok, "line %q", tc.line)
		if tc.ok {
			assert.Equal(t, tc.ch, ch)
			assert.Equal(t, tc.val, val)
		}
	}
}
