package gcode

import (
	"github.com/mastercactapus/graver/coord"
)

// Command words understood by Marlin and RepRap style firmwares.
var (
	RapidMove    = Word{W: 'G', Arg: 0}
	LinearMove   = Word{W: 'G', Arg: 1}
	SetPosition  = Word{W: 'G', Arg: 92}
	AbsoluteMode = Word{W: 'G', Arg: 90}
	RelativeMode = Word{W: 'G', Arg: 91}

	QueryPosition = Word{W: 'M', Arg: 114}
	QueryEndstops = Word{W: 'M', Arg: 119}
	MotorsOff     = Word{W: 'M', Arg: 18}
)

var (
	// Dwell waits for every queued move to finish.
	Dwell = Block{{W: 'G', Arg: 4}, {W: 'S', Arg: 0}}

	// MotorsOn enables the steppers with a 30s idle hold.
	MotorsOn = Block{{W: 'M', Arg: 84}, {W: 'S', Arg: 30}}
)

func boolArg(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

// Positioned returns a block starting with code followed by one word
// per axis present in v, in coord.Axes order.
func Positioned(code Word, v coord.Values) Block {
	b := Block{code}
	for _, a := range coord.Axes {
		val, ok := v[a]
		if !ok {
			continue
		}
		b = append(b, Word{W: byte(a), Arg: val})
	}
	return b
}

// Move returns the distance-mode block and the rapid move block for
// a positioning command, with feed rate and endstop flag appended.
func Move(relative bool, v coord.Values, feed float64, endstops bool) []Block {
	mode := AbsoluteMode
	if relative {
		mode = RelativeMode
	}
	move := Positioned(RapidMove, v)
	move = append(move,
		Word{W: 'F', Arg: feed},
		Word{W: 'S', Arg: boolArg(endstops)},
	)
	return []Block{{mode}, move}
}

// Trace returns a linear move to p on every axis.
func Trace(p coord.Point, feed float64, endstops bool) Block {
	b := Positioned(LinearMove, p.Values())
	return append(b,
		Word{W: 'F', Arg: feed},
		Word{W: 'S', Arg: boolArg(endstops)},
	)
}
