package gcode

// ModalGroup identifies words that may not appear together in one block.
type ModalGroup byte

const (
	ModalGroupNone ModalGroup = iota
	ModalGroupNonModal
	ModalGroupMotion
	ModalGroupPlaneSelection
	ModalGroupDistanceMode
	ModalGroupFeedRateMode
	ModalGroupUnits
	ModalGroupCoordinateSystem
	ModalGroupStopping
	ModalGroupSteppers
	ModalGroupReport
	ModalGroupFeedRate
)

// ModalGroup returns the group of w as Marlin firmware treats it.
func (w Word) ModalGroup() ModalGroup {
	switch w.W {
	case 'G':
		switch w.Arg {
		case 4, 28, 29, 92:
			return ModalGroupNonModal
		case 0, 1, 2, 3, 5:
			return ModalGroupMotion
		case 17, 18, 19:
			return ModalGroupPlaneSelection
		case 90, 91:
			return ModalGroupDistanceMode
		case 93, 94:
			return ModalGroupFeedRateMode
		case 20, 21:
			return ModalGroupUnits
		case 53, 54, 55, 56, 57, 58, 59:
			return ModalGroupCoordinateSystem
		}
	case 'M':
		switch w.Arg {
		case 0, 1, 112:
			return ModalGroupStopping
		case 17, 18, 84:
			return ModalGroupSteppers
		case 114, 119:
			return ModalGroupReport
		}
	case 'F':
		return ModalGroupFeedRate
	}

	return ModalGroupNone
}
