package main

import (
	"github.com/mastercactapus/graver/coord"
	"github.com/mastercactapus/graver/machine"
)

// Machine is what the API needs from the controller. Calls must be
// serialized; machine.SyncMachine does that.
type Machine interface {
	GetPosition() (coord.Point, error)
	SetPosition(coord.Values) (bool, error)
	Move(relative bool, v coord.Values) (bool, error)
	ProbeEndstops(axes ...coord.Axis) (map[coord.Axis]bool, error)
	SwitchMotors(on bool) (bool, error)
	Trace(machine.Path) (bool, error)
	SetToolSize(float64) error
	SetFeedRate(float64) error
}

var _ Machine = &machine.SyncMachine{}

// Result reports whether a command reached the controller.
type Result struct {
	Sent bool `json:"sent"`
}

type TraceRequest struct {
	X []float64 `json:"x"`
	Y []float64 `json:"y"`
	Z []float64 `json:"z"`
	C []float64 `json:"c"`
}
