package marlin

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/mastercactapus/graver/coord"
)

var (
	positionRx = make(map[coord.Axis]*regexp.Regexp, len(coord.Axes))
	endstopRx  = make(map[coord.Axis]*regexp.Regexp, len(coord.Axes))
)

func init() {
	for _, a := range coord.Axes {
		positionRx[a] = regexp.MustCompile(`(?i)` + a.String() + `: ?([-+]?[0-9]{1,8}(?:\.[0-9]{0,8})?)`)
		endstopRx[a] = regexp.MustCompile(a.String() + `:([^,]*),`)
	}
}

// ParsePosition reads axis coordinates from an M114 reply line.
// The first `<AXIS>:<number>` occurrence wins; axes missing from the
// line keep their value from prev.
func ParsePosition(line string, prev coord.Point) coord.Point {
	p := prev
	for _, a := range coord.Axes {
		m := positionRx[a].FindStringSubmatch(line)
		if m == nil {
			continue
		}
		val, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		p = p.With(a, val)
	}
	return p
}

// ParseEndstops reads an M119 reply line. An axis is reported as not
// triggered only when its status text contains "not stopped"; any other
// status, or a missing one, counts as triggered.
func ParseEndstops(line string) map[coord.Axis]bool {
	res := make(map[coord.Axis]bool, len(coord.Axes))
	for _, a := range coord.Axes {
		m := endstopRx[a].FindStringSubmatch(line)
		res[a] = m == nil || !strings.Contains(m[1], "not stopped")
	}
	return res
}
