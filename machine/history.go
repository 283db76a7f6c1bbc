package machine

import (
	"image/color"
	"sync"

	"github.com/mastercactapus/graver/coord"
)

// DefaultColor is the colour of segments unless SetColor was called.
var DefaultColor = color.RGBA{A: 255}

// A Segment is a run of commanded positions traced with one tool.
// Its first point is always the last point of the previous segment.
type Segment struct {
	ToolSize float64       `json:"toolSize"`
	Color    color.RGBA    `json:"color"`
	Points   []coord.Point `json:"points"`
}

type EventKind int

const (
	// SegmentOpened is sent before the first point of a new segment.
	SegmentOpened EventKind = iota
	// SegmentStyled is sent when the active segment's tool size or colour
	// changes without opening a new segment.
	SegmentStyled
	PointAppended
	// PointReplaced is sent when the last point is overwritten, after a
	// position set or a position query.
	PointReplaced
)

func (k EventKind) String() string {
	switch k {
	case SegmentOpened:
		return "segment-opened"
	case SegmentStyled:
		return "segment-styled"
	case PointAppended:
		return "point-appended"
	case PointReplaced:
		return "point-replaced"
	}
	return "unknown"
}

func (k EventKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// An Event describes one mutation of a History.
type Event struct {
	Kind     EventKind   `json:"kind"`
	Segment  int         `json:"segment"`
	Index    int         `json:"index"`
	Point    coord.Point `json:"point"`
	ToolSize float64     `json:"toolSize"`
	Color    color.RGBA  `json:"color"`
}

// An Observer is notified after every History mutation. Observers are
// called with the history locked and must not call back into it.
type Observer interface {
	HistoryChanged(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

func (fn ObserverFunc) HistoryChanged(e Event) { fn(e) }

// History is the append-only log of every commanded position, split
// into segments by tool size. It is safe for concurrent use.
type History struct {
	mx        sync.RWMutex
	segments  []Segment
	color     color.RGBA
	observers []Observer
}

// NewHistory returns a history holding one segment seeded with the origin.
func NewHistory() *History {
	return &History{
		color: DefaultColor,
		segments: []Segment{{
			ToolSize: 1,
			Color:    DefaultColor,
			Points:   []coord.Point{{}},
		}},
	}
}

func (h *History) notify(e Event) {
	for _, o := range h.observers {
		o.HistoryChanged(e)
	}
}

func (h *History) active() (int, *Segment) {
	i := len(h.segments) - 1
	return i, &h.segments[i]
}

func (h *History) event(kind EventKind) Event {
	i, seg := h.active()
	return Event{
		Kind:     kind,
		Segment:  i,
		Index:    len(seg.Points) - 1,
		Point:    seg.Points[len(seg.Points)-1],
		ToolSize: seg.ToolSize,
		Color:    seg.Color,
	}
}

// Subscribe registers o and replays the existing history to it.
func (h *History) Subscribe(o Observer) {
	h.mx.Lock()
	defer h.mx.Unlock()

	for i, seg := range h.segments {
		e := Event{Segment: i, ToolSize: seg.ToolSize, Color: seg.Color}
		e.Kind = SegmentOpened
		o.HistoryChanged(e)
		for j, p := range seg.Points {
			e.Kind = PointAppended
			e.Index = j
			e.Point = p
			o.HistoryChanged(e)
		}
	}
	h.observers = append(h.observers, o)
}

// Append adds p to the active segment.
func (h *History) Append(p coord.Point) {
	h.mx.Lock()
	defer h.mx.Unlock()

	_, seg := h.active()
	seg.Points = append(seg.Points, p)
	h.notify(h.event(PointAppended))
}

// ReplaceLast overwrites the most recent point in place.
func (h *History) ReplaceLast(p coord.Point) {
	h.mx.Lock()
	defer h.mx.Unlock()

	_, seg := h.active()
	seg.Points[len(seg.Points)-1] = p
	h.notify(h.event(PointReplaced))
}

// Last returns the most recent point.
func (h *History) Last() coord.Point {
	h.mx.RLock()
	defer h.mx.RUnlock()

	_, seg := h.active()
	return seg.Points[len(seg.Points)-1]
}

// ToolSize returns the tool size of the active segment.
func (h *History) ToolSize() float64 {
	h.mx.RLock()
	defer h.mx.RUnlock()

	_, seg := h.active()
	return seg.ToolSize
}

// SetToolSize changes the active tool size. If the active segment already
// holds a move, a new segment is opened from its last point; otherwise the
// active segment is restyled. Sizes must be positive.
func (h *History) SetToolSize(size float64) error {
	if !(size > 0) {
		return ErrInvalidToolSize
	}
	h.mx.Lock()
	defer h.mx.Unlock()

	_, seg := h.active()
	if seg.ToolSize == size {
		return nil
	}
	if len(seg.Points) > 1 {
		last := seg.Points[len(seg.Points)-1]
		h.segments = append(h.segments, Segment{
			ToolSize: size,
			Color:    h.color,
			Points:   []coord.Point{last},
		})
		e := h.event(SegmentOpened)
		h.notify(e)
		e.Kind = PointAppended
		h.notify(e)
		return nil
	}
	seg.ToolSize = size
	h.notify(h.event(SegmentStyled))
	return nil
}

// SetColor sets the colour of segments opened from now on. The active
// segment takes it too if nothing was traced in it yet.
func (h *History) SetColor(c color.RGBA) {
	h.mx.Lock()
	defer h.mx.Unlock()

	h.color = c
	_, seg := h.active()
	if len(seg.Points) > 1 || seg.Color == c {
		return
	}
	seg.Color = c
	h.notify(h.event(SegmentStyled))
}

// Segments returns a copy of every segment.
func (h *History) Segments() []Segment {
	h.mx.RLock()
	defer h.mx.RUnlock()

	res := make([]Segment, len(h.segments))
	for i, seg := range h.segments {
		res[i] = seg
		res[i].Points = append([]coord.Point(nil), seg.Points...)
	}
	return res
}

// Len returns the total number of recorded points.
func (h *History) Len() int {
	h.mx.RLock()
	defer h.mx.RUnlock()

	var n int
	for _, seg := range h.segments {
		n += len(seg.Points)
	}
	return n
}
