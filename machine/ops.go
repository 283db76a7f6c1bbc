package machine

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/mastercactapus/graver/coord"
	"github.com/mastercactapus/graver/gcode"
	"github.com/mastercactapus/graver/machine/marlin"
)

// Reply line budgets of the queries.
const (
	positionLines = 2
	endstopLines  = 2
)

// Write sends a raw command line without waiting for a reply. It returns
// false without error when disconnected.
func (m *Machine) Write(ctx context.Context, cmd string) (bool, error) {
	timeout, err := m.stepTimeout(ctx)
	if err != nil {
		return false, err
	}
	conn := m.connection()
	if conn == nil {
		return false, nil
	}
	err = conn.WriteLine(ctx, cmd, timeout)
	if err != nil {
		return false, err
	}
	return true, nil
}

// ReadLine returns the next reply line, or "" when disconnected.
func (m *Machine) ReadLine(ctx context.Context) (string, error) {
	timeout, err := m.stepTimeout(ctx)
	if err != nil {
		return "", err
	}
	conn := m.connection()
	if conn == nil {
		return "", nil
	}
	return conn.ReadLine(ctx, timeout)
}

// WaitAnswer collects up to n reply lines, stopping after an ok line.
// It returns nil without error when disconnected.
func (m *Machine) WaitAnswer(ctx context.Context, n int) ([]string, error) {
	if n < 1 {
		return nil, ErrArgument
	}
	timeout, err := m.stepTimeout(ctx)
	if err != nil {
		return nil, err
	}
	conn := m.connection()
	if conn == nil {
		return nil, nil
	}
	return conn.WaitAnswer(ctx, n, timeout)
}

// Ask sends cmd and collects up to n reply lines, stopping after an ok
// line. It returns nil without error when disconnected.
func (m *Machine) Ask(ctx context.Context, cmd string, n int) ([]string, error) {
	if n < 1 {
		return nil, ErrArgument
	}
	timeout, err := m.stepTimeout(ctx)
	if err != nil {
		return nil, err
	}
	conn := m.connection()
	if conn == nil {
		return nil, nil
	}
	return conn.Ask(ctx, cmd, n, timeout)
}

// Wait blocks until the controller has finished every queued move. It
// returns false if disconnected or if no acknowledgement arrived in time.
func (m *Machine) Wait(ctx context.Context) (bool, error) {
	timeout, err := m.stepTimeout(ctx)
	if err != nil {
		return false, err
	}
	conn := m.connection()
	if conn == nil {
		return false, nil
	}
	return conn.Wait(ctx, gcode.Dwell.String(), timeout)
}

// GetPosition returns the controller's position. Disconnected, the last
// history point is returned. Connected, the reply replaces the last
// history point; axes missing from the reply keep their previous value.
func (m *Machine) GetPosition(ctx context.Context) (coord.Point, error) {
	last := m.history.Last()
	timeout, err := m.stepTimeout(ctx)
	if err != nil {
		return last, err
	}
	conn := m.connection()
	if conn == nil {
		return last, nil
	}

	reply, err := conn.Query(ctx, gcode.Block{gcode.QueryPosition}.String(), positionLines, timeout)
	if err != nil {
		return last, err
	}
	p := marlin.ParsePosition(strings.Join(reply, ""), last)
	m.history.ReplaceLast(p)
	return p, nil
}

// SetPosition redefines the current coordinates of the given axes
// without moving. The last history point is updated in place; false is
// returned without error when nothing was sent to the controller.
func (m *Machine) SetPosition(ctx context.Context, v coord.Values) (bool, error) {
	timeout, err := m.stepTimeout(ctx)
	if err != nil {
		return false, err
	}
	m.history.ReplaceLast(m.history.Last().Apply(v, false))

	conn := m.connection()
	if conn == nil || len(v) == 0 {
		return false, nil
	}
	_, err = conn.Ask(ctx, gcode.Positioned(gcode.SetPosition, v).String(), 1, timeout)
	if err != nil {
		return false, err
	}
	return true, nil
}

// SetPositionPoint is SetPosition with every axis taken from p.
func (m *Machine) SetPositionPoint(ctx context.Context, p coord.Point) (bool, error) {
	return m.SetPosition(ctx, p.Values())
}

// SetPositionVector is SetPosition from an X, Y, Z, C ordered slice.
func (m *Machine) SetPositionVector(ctx context.Context, v []float64) (bool, error) {
	if len(v) != len(coord.Axes) {
		return false, ErrLengthMismatch
	}
	return m.SetPositionPoint(ctx, coord.Point{X: v[0], Y: v[1], Z: v[2], C: v[3]})
}

// Move commands a rapid move. Absolute values are targets and relative
// values are offsets; axes absent from v hold their position.
//
// The target is appended to the history before anything is sent and is
// kept even if sending fails.
func (m *Machine) Move(ctx context.Context, relative bool, v coord.Values) (bool, error) {
	timeout, err := m.stepTimeout(ctx)
	if err != nil {
		return false, err
	}
	m.history.Append(m.history.Last().Apply(v, relative))

	conn := m.connection()
	if conn == nil {
		return false, nil
	}
	feed, endstops := m.motion()
	for _, b := range gcode.Move(relative, v, feed, endstops) {
		_, err := conn.Ask(ctx, b.String(), 1, timeout)
		if err != nil {
			return false, err
		}
	}
	return true, nil
}

// MoveAbs moves to p.
func (m *Machine) MoveAbs(ctx context.Context, p coord.Point) (bool, error) {
	return m.Move(ctx, false, p.Values())
}

// MoveRel moves by p.
func (m *Machine) MoveRel(ctx context.Context, p coord.Point) (bool, error) {
	return m.Move(ctx, true, p.Values())
}

// ProbeEndstops reads the endstop states of axes, or of every axis if
// none are given. True means triggered, or that the state is unknown.
// Disconnected, an empty map is returned.
func (m *Machine) ProbeEndstops(ctx context.Context, axes ...coord.Axis) (map[coord.Axis]bool, error) {
	timeout, err := m.stepTimeout(ctx)
	if err != nil {
		return nil, err
	}
	conn := m.connection()
	if conn == nil {
		return map[coord.Axis]bool{}, nil
	}
	reply, err := conn.Query(ctx, gcode.Block{gcode.QueryEndstops}.String(), endstopLines, timeout)
	if err != nil {
		return nil, err
	}
	state := marlin.ParseEndstops(strings.Join(reply, ""))
	if len(axes) == 0 {
		return state, nil
	}
	res := make(map[coord.Axis]bool, len(axes))
	for _, a := range axes {
		if a.Valid() {
			res[a] = state[a]
		}
	}
	return res, nil
}

// SwitchMotors energizes or releases the motors. It reports whether the
// command was sent, not whether the controller applied it.
func (m *Machine) SwitchMotors(ctx context.Context, on bool) (bool, error) {
	b := gcode.Block{gcode.MotorsOff}
	if on {
		b = gcode.MotorsOn
	}
	ok, err := m.Write(ctx, b.String())
	if err != nil {
		log.Error().Err(err).Bool("on", on).Msg("switch motors")
	}
	return ok, err
}

// Path is a sequence of points given as one vector per axis. Empty
// vectors are treated as absent and default to zero.
type Path struct {
	X, Y, Z, C []float64
}

// Points returns the points of p.
func (p Path) Points() ([]coord.Point, error) {
	vecs := [...][]float64{p.X, p.Y, p.Z, p.C}
	n := -1
	for _, v := range vecs {
		if len(v) == 0 {
			continue
		}
		if n == -1 {
			n = len(v)
			continue
		}
		if len(v) != n {
			return nil, ErrLengthMismatch
		}
	}
	if n == -1 {
		return nil, ErrNoAxisData
	}

	at := func(v []float64, i int) float64 {
		if len(v) == 0 {
			return 0
		}
		return v[i]
	}
	pts := make([]coord.Point, n)
	for i := range pts {
		pts[i] = coord.Point{X: at(p.X, i), Y: at(p.Y, i), Z: at(p.Z, i), C: at(p.C, i)}
	}
	return pts, nil
}

// Trace streams path to the controller one linear move at a time and
// then waits for motion to finish. See TracePoints.
func (m *Machine) Trace(ctx context.Context, path Path) (bool, error) {
	pts, err := path.Points()
	if err != nil {
		return false, err
	}
	return m.TracePoints(ctx, pts)
}

// TracePoints streams pts to the controller one linear move at a time
// and then waits for motion to finish. Every point is appended to the
// history. Once a point goes unacknowledged the rest are recorded but not
// sent, and false is returned.
func (m *Machine) TracePoints(ctx context.Context, pts []coord.Point) (bool, error) {
	if len(pts) == 0 {
		return false, ErrNoAxisData
	}
	timeout, err := m.stepTimeout(ctx)
	if err != nil {
		return false, err
	}
	conn := m.connection()
	feed, endstops := m.motion()

	ok := conn != nil
	for _, p := range pts {
		m.history.Append(p)
		if !ok {
			continue
		}
		_, err = conn.Ask(ctx, gcode.Trace(p, feed, endstops).String(), 1, timeout)
		switch {
		case err == nil:
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return false, err
		default:
			log.Warn().Err(err).Interface("point", p).Msg("trace point not acknowledged")
			ok = false
		}
	}
	if !ok {
		return false, nil
	}
	return m.Wait(ctx)
}
