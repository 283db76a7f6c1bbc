package coord

// Point is a position on all four machine axes. C is rotary, in degrees.
type Point struct{ X, Y, Z, C float64 }

// Equal reports whether all four components match exactly.
func (p Point) Equal(b Point) bool {
	return p.X == b.X && p.Y == b.Y && p.Z == b.Z && p.C == b.C
}

func (p Point) Mul(val float64) Point {
	p.X *= val
	p.Y *= val
	p.Z *= val
	p.C *= val
	return p
}

// Neg will return p with every component negated.
func (p Point) Neg() Point {
	return p.Mul(-1)
}

// Add will add the target values to p.
func (p Point) Add(target Point) Point {
	p.X += target.X
	p.Y += target.Y
	p.Z += target.Z
	p.C += target.C
	return p
}

// Sub will subtract the target values from p.
func (p Point) Sub(target Point) Point {
	p.X -= target.X
	p.Y -= target.Y
	p.Z -= target.Z
	p.C -= target.C
	return p
}

// Get returns the component mapped to axis a.
func (p Point) Get(a Axis) float64 {
	switch a {
	case X:
		return p.X
	case Y:
		return p.Y
	case Z:
		return p.Z
	case C:
		return p.C
	}
	return 0
}

// With returns a copy of p with the component for axis a replaced.
func (p Point) With(a Axis, val float64) Point {
	switch a {
	case X:
		p.X = val
	case Y:
		p.Y = val
	case Z:
		p.Z = val
	case C:
		p.C = val
	}
	return p
}

// Apply returns a copy of p with every axis in v replaced.
// If relative is set, values in v are added instead.
func (p Point) Apply(v Values, relative bool) Point {
	for _, a := range Axes {
		val, ok := v[a]
		if !ok {
			continue
		}
		if relative {
			val += p.Get(a)
		}
		p = p.With(a, val)
	}
	return p
}

// Values returns the components of p keyed by axis.
func (p Point) Values() Values {
	v := make(Values, len(Axes))
	for _, a := range Axes {
		v[a] = p.Get(a)
	}
	return v
}
