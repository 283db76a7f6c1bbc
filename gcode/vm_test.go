package gcode

import (
	"testing"

	"github.com/mastercactapus/graver/coord"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVM_Run(t *testing.T) {
	vm := NewVM()

	for _, b := range MustParse("G90\nG0 X10 Y5 F100 S1\nG91\nG0 X1 C90 S0\n") {
		require.NoError(t, vm.Run(b))
	}
	assert.Equal(t, coord.Point{X: 11, Y: 5, C: 90}, vm.MPos())
	assert.Equal(t, 100.0, vm.Feed())
	assert.False(t, vm.Endstops())
}

func TestVM_SetPosition(t *testing.T) {
	vm := NewVM()
	vm.SetMPos(coord.Point{X: 10, Y: 10})

	for _, b := range MustParse("G92 X0\nG90\nG0 X5") {
		require.NoError(t, vm.Run(b))
	}
	assert.Equal(t, coord.Point{X: 15, Y: 10}, vm.MPos())
	assert.Equal(t, coord.Point{X: 5, Y: 10}, vm.WPos())
}

func TestVM_Unsupported(t *testing.T) {
	vm := NewVM()
	assert.Error(t, vm.Run(Block{{W: 'G', Arg: 2}}))
	assert.NoError(t, vm.Run(Dwell))
	assert.NoError(t, vm.Run(MotorsOn))
}
