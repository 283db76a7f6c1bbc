// Package gcode models the Marlin G-code dialect spoken by the
// controller: words, blocks, the commands the machine sends and a small
// interpreter used by the virtual device.
package gcode

import (
	"strconv"
	"strings"

	"github.com/mastercactapus/graver/coord"
)

// A Word is one letter and its numeric argument, like G0 or X1.5.
type Word struct {
	W   byte
	Arg float64
}

// IsAxis reports whether w sets a coordinate.
func (w Word) IsAxis() bool { return coord.Axis(w.W).Valid() }

func (w Word) IsValid() bool {
	return w.W >= 'A' && w.W <= 'Z'
}

// shortFloat formats f with at most prec decimals and no trailing zeros.
func shortFloat(f float64, prec int) string {
	s := strconv.FormatFloat(f, 'f', prec, 64)
	if strings.ContainsRune(s, '.') {
		s = strings.TrimRight(strings.TrimRight(s, "0"), ".")
	}
	return s
}

// String renders the word for the wire. Axis and feed-rate values are
// always fixed to 6 decimals; codes and flags use the shortest form.
func (w Word) String() string {
	if w.IsAxis() || w.W == 'F' {
		return string(w.W) + strconv.FormatFloat(w.Arg, 'f', 6, 64)
	}
	return string(w.W) + shortFloat(w.Arg, 3)
}
