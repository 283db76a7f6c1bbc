package coord

import "strings"

// Axis identifies one of the four controllable degrees of freedom.
type Axis byte

const (
	X Axis = 'X'
	Y Axis = 'Y'
	Z Axis = 'Z'
	C Axis = 'C'
)

// Axes lists every axis in declaration order. Commands always emit
// axis words in this order.
var Axes = [...]Axis{X, Y, Z, C}

func (a Axis) String() string { return string(a) }

// Valid reports whether a is one of Axes.
func (a Axis) Valid() bool {
	switch a {
	case X, Y, Z, C:
		return true
	}
	return false
}

// ParseAxis returns the axis named by s, case-insensitively.
func ParseAxis(s string) (Axis, bool) {
	if len(s) != 1 {
		return 0, false
	}
	a := Axis(strings.ToUpper(s)[0])
	return a, a.Valid()
}

// Values maps axes to coordinates. Absent axes are left untouched
// by operations that accept Values.
type Values map[Axis]float64

// FilterValues builds Values from loosely named input, silently
// dropping names that do not map to an axis.
func FilterValues(in map[string]float64) Values {
	v := make(Values, len(in))
	for name, val := range in {
		a, ok := ParseAxis(name)
		if !ok {
			continue
		}
		v[a] = val
	}
	return v
}
