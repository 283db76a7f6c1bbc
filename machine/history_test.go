package machine

import (
	"image/color"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mastercactapus/graver/coord"
)

type recorder struct{ events []Event }

func (r *recorder) HistoryChanged(e Event) { r.events = append(r.events, e) }

func (r *recorder) kinds() []EventKind {
	res := make([]EventKind, len(r.events))
	for i, e := range r.events {
		res[i] = e.Kind
	}
	return res
}

func TestHistory_New(t *testing.T) {
	h := NewHistory()
	segs := h.Segments()
	require.Len(t, segs, 1)
	assert.Equal(t, []coord.Point{{}}, segs[0].Points)
	assert.Equal(t, DefaultColor, segs[0].Color)
	assert.Equal(t, 1.0, segs[0].ToolSize)
	assert.Equal(t, coord.Point{}, h.Last())
}

func TestHistory_SetToolSize(t *testing.T) {
	h := NewHistory()

	h.SetToolSize(0.5)
	h.SetToolSize(0.25)
	require.Len(t, h.Segments(), 1, "restyling an unused segment must not open a new one")
	assert.Equal(t, 0.25, h.ToolSize())

	h.Append(coord.Point{X: 1})
	h.Append(coord.Point{X: 2})
	h.SetToolSize(0.25)
	require.Len(t, h.Segments(), 1, "same size keeps the segment")

	h.SetToolSize(2)
	h.Append(coord.Point{X: 3})
	h.SetToolSize(3)

	segs := h.Segments()
	require.Len(t, segs, 3)
	for i := 1; i < len(segs); i++ {
		prev := segs[i-1].Points
		assert.Equal(t, prev[len(prev)-1], segs[i].Points[0], "segment %d continuity", i)
	}
	assert.Equal(t, []coord.Point{{X: 3}}, segs[2].Points)
	assert.Equal(t, 3.0, segs[2].ToolSize)
}

func TestHistory_SetToolSizeInvalid(t *testing.T) {
	h := NewHistory()
	h.Append(coord.Point{X: 1})

	assert.ErrorIs(t, h.SetToolSize(-1), ErrInvalidToolSize)
	assert.ErrorIs(t, h.SetToolSize(0), ErrInvalidToolSize)
	assert.ErrorIs(t, h.SetToolSize(math.NaN()), ErrInvalidToolSize)
	assert.Len(t, h.Segments(), 1)
	assert.Equal(t, 1.0, h.ToolSize())
}

func TestHistory_ReplaceLast(t *testing.T) {
	h := NewHistory()
	h.Append(coord.Point{X: 1})
	h.ReplaceLast(coord.Point{X: 5, C: 1})
	assert.Equal(t, coord.Point{X: 5, C: 1}, h.Last())
	assert.Equal(t, 2, h.Len())
}

func TestHistory_SegmentsCopy(t *testing.T) {
	h := NewHistory()
	h.Append(coord.Point{X: 1})
	segs := h.Segments()
	segs[0].Points[1].X = 99
	assert.Equal(t, coord.Point{X: 1}, h.Last())
}

func TestHistory_SetColor(t *testing.T) {
	red := color.RGBA{R: 255, A: 255}
	blue := color.RGBA{B: 255, A: 255}

	h := NewHistory()
	h.SetColor(red)
	assert.Equal(t, red, h.Segments()[0].Color)

	h.Append(coord.Point{Y: 1})
	h.SetColor(blue)
	assert.Equal(t, red, h.Segments()[0].Color, "traced segment keeps its colour")

	h.SetToolSize(2)
	assert.Equal(t, blue, h.Segments()[1].Color)
}

func TestHistory_Subscribe(t *testing.T) {
	h := NewHistory()
	h.Append(coord.Point{X: 1})

	var r recorder
	h.Subscribe(&r)
	assert.Equal(t, []EventKind{SegmentOpened, PointAppended, PointAppended}, r.kinds())
	assert.Equal(t, coord.Point{X: 1}, r.events[2].Point)
	assert.Equal(t, 1, r.events[2].Index)

	r.events = nil
	h.Append(coord.Point{X: 2})
	h.ReplaceLast(coord.Point{X: 3})
	h.SetToolSize(4)
	assert.Equal(t, []EventKind{PointAppended, PointReplaced, SegmentOpened, PointAppended}, r.kinds())

	opened := r.events[2]
	assert.Equal(t, 1, opened.Segment)
	assert.Equal(t, 0, opened.Index)
	assert.Equal(t, 4.0, opened.ToolSize)
	assert.Equal(t, coord.Point{X: 3}, opened.Point)

	var calls int
	h.Subscribe(ObserverFunc(func(Event) { calls++ }))
	assert.Equal(t, 2+3+1, calls)
}
