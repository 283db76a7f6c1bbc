package gcode

import (
	"testing"

	"github.com/mastercactapus/graver/coord"
	"github.com/stretchr/testify/assert"
)

func TestPositioned(t *testing.T) {
	b := Positioned(SetPosition, coord.Values{coord.C: 90, coord.X: 10, coord.Z: -1.5})
	assert.Equal(t, "G92 X10.000000 Z-1.500000 C90.000000", b.String())

	b = Positioned(SetPosition, coord.Values{})
	assert.Equal(t, "G92", b.String())
}

func TestMove(t *testing.T) {
	v := coord.Values{coord.X: 10, coord.Y: 10, coord.Z: 10, coord.C: 10}

	b := Move(true, v, 100, true)
	assert.Len(t, b, 2)
	assert.Equal(t, "G91", b[0].String())
	assert.Equal(t, "G0 X10.000000 Y10.000000 Z10.000000 C10.000000 F100.000000 S1", b[1].String())

	b = Move(false, coord.Values{coord.Y: 2.5}, 12.25, false)
	assert.Equal(t, "G90", b[0].String())
	assert.Equal(t, "G0 Y2.500000 F12.250000 S0", b[1].String())
}

func TestTrace(t *testing.T) {
	b := Trace(coord.Point{X: 1, Y: 2, Z: 3, C: 4}, 100, true)
	assert.Equal(t, "G1 X1.000000 Y2.000000 Z3.000000 C4.000000 F100.000000 S1", b.String())
}

func TestFixedCommands(t *testing.T) {
	assert.Equal(t, "G4 S0", Dwell.String())
	assert.Equal(t, "M84 S30", MotorsOn.String())
	assert.Equal(t, "M18", Block{MotorsOff}.String())
	assert.Equal(t, "M114", Block{QueryPosition}.String())
	assert.Equal(t, "M119", Block{QueryEndstops}.String())
}
