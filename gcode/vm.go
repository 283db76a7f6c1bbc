package gcode

import (
	"errors"

	"github.com/mastercactapus/graver/coord"
)

// VM will track state and interpret gcode.
type VM struct {
	pos coord.Point
	wco coord.Point

	modal [256]float64

	feed     float64
	endstops bool
}

// NewVM constructs a new VM with default state.
func NewVM() *VM {
	vm := &VM{endstops: true}

	// using marlin defaults
	vm.modal[ModalGroupMotion] = 0
	vm.modal[ModalGroupCoordinateSystem] = 54
	vm.modal[ModalGroupPlaneSelection] = 17
	vm.modal[ModalGroupDistanceMode] = 90
	vm.modal[ModalGroupFeedRateMode] = 94
	vm.modal[ModalGroupUnits] = 21

	return vm
}

func (vm VM) Inches() bool         { return vm.modal[ModalGroupUnits] == 20 }
func (vm VM) RelativeMotion() bool { return vm.modal[ModalGroupDistanceMode] == 91 }

func (vm VM) WPos() coord.Point {
	return vm.pos.Sub(vm.wco)
}
func (vm VM) MPos() coord.Point {
	return vm.pos
}
func (vm *VM) SetMPos(p coord.Point) {
	vm.pos = p
}

// Feed returns the last programmed feed rate.
func (vm VM) Feed() float64 { return vm.feed }

// Endstops returns the endstop flag of the last motion block.
func (vm VM) Endstops() bool { return vm.endstops }

func isSupported(g Word) bool {
	if g.IsAxis() {
		return true
	}

	switch g.W {
	case 'G':
		switch g.Arg {
		case 0, 1, 4, 20, 21, 90, 91, 92, 94:
			return true
		}
	case 'M':
		switch g.Arg {
		case 18, 84, 114, 119:
			return true
		}
	case 'F', 'S':
		return true
	}

	return false
}

func applyBlock(p coord.Point, b Block, mul float64) coord.Point {
	for _, g := range b {
		if !g.IsAxis() {
			continue
		}
		p = p.With(coord.Axis(g.W), g.Arg*mul)
	}

	return p
}

func (vm *VM) Run(b Block) error {
	err := b.Validate()
	if err != nil {
		return err
	}
	var setPos, motion bool
	for _, g := range b {
		if !isSupported(g) {
			return errors.New("unsupported code: " + g.String())
		}
		mg := g.ModalGroup()
		if mg != ModalGroupNone && mg != ModalGroupNonModal {
			vm.modal[mg] = g.Arg
		}
		switch g {
		case SetPosition:
			setPos = true
		case RapidMove, LinearMove:
			motion = true
		}
		if g.W == 'F' {
			vm.feed = g.Arg
		}
	}

	args := b.Args()
	if len(args) == 0 {
		return nil
	}

	mul := 1.0
	if vm.Inches() {
		mul = 25.4
	}

	if setPos {
		// G92 moves the work origin so that WPos reads the given values
		wpos := applyBlock(vm.WPos(), args, mul)
		vm.wco = vm.pos.Sub(wpos)
		return nil
	}
	if !motion {
		return nil
	}
	if s, ok := args.Arg('S'); ok {
		vm.endstops = s != 0
	}

	// apply motion
	if vm.RelativeMotion() {
		vm.pos = vm.pos.Add(applyBlock(coord.Point{}, args, mul))
	} else {
		vm.pos = applyBlock(vm.WPos(), args, mul).Add(vm.wco)
	}

	return nil
}
