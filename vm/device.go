// Package vm provides a virtual Marlin-style controller that speaks the
// same line protocol as real hardware.
package vm

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/mastercactapus/graver/coord"
	"github.com/mastercactapus/graver/gcode"
)

const outBuffer = 256

// Device is an in-memory controller. Lines written to it are parsed and
// run on a gcode.VM; replies are available through Read.
type Device struct {
	mx sync.Mutex

	vm       *gcode.VM
	term     string
	ok       string
	silent   bool
	min      coord.Point
	motorsOn bool
	received []string

	in      []byte
	readBuf []byte
	out     chan []byte
	closed  chan struct{}
}

var _ io.ReadWriteCloser = &Device{}

// An Option configures a Device.
type Option func(*Device)

// Silent makes the device swallow every line without replying.
func Silent() Option { return func(d *Device) { d.silent = true } }

// Terminator sets the line terminator (default "\n").
func Terminator(term string) Option { return func(d *Device) { d.term = term } }

// OK sets the acknowledgement token (default "ok").
func OK(token string) Option { return func(d *Device) { d.ok = token } }

// EndstopMin sets the machine position at or below which the X, Y and Z
// endstops report "at min stop". The rotary axis has no endstop.
func EndstopMin(p coord.Point) Option { return func(d *Device) { d.min = p } }

// NewDevice returns a powered-on device at the origin.
func NewDevice(opts ...Option) *Device {
	d := &Device{
		vm:     gcode.NewVM(),
		term:   "\n",
		ok:     "ok",
		out:    make(chan []byte, outBuffer),
		closed: make(chan struct{}),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Open matches the marlin.Opener signature. It ignores port and baud
// and reopens the device if it was closed.
func (d *Device) Open(port string, baud int) (io.ReadWriteCloser, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	select {
	case <-d.closed:
		d.closed = make(chan struct{})
		d.out = make(chan []byte, outBuffer)
		d.in = nil
	default:
	}
	return d, nil
}

// Position returns the current machine position.
func (d *Device) Position() coord.Point {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.vm.MPos()
}

// MotorsOn reports whether the steppers are enabled.
func (d *Device) MotorsOn() bool {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.motorsOn
}

// Received returns every line written to the device, without terminators.
func (d *Device) Received() []string {
	d.mx.Lock()
	defer d.mx.Unlock()
	return append([]string(nil), d.received...)
}

func (d *Device) Read(p []byte) (int, error) {
	d.mx.Lock()
	out, closed := d.out, d.closed
	d.mx.Unlock()

	if len(d.readBuf) == 0 {
		select {
		case r := <-out:
			d.readBuf = r
		case <-closed:
			return 0, io.EOF
		}
	}

	n := copy(p, d.readBuf)
	d.readBuf = d.readBuf[n:]
	return n, nil
}

func (d *Device) Write(p []byte) (int, error) {
	d.mx.Lock()
	select {
	case <-d.closed:
		d.mx.Unlock()
		return 0, io.ErrClosedPipe
	default:
	}

	d.in = append(d.in, p...)
	var replies []string
	term := []byte(d.term)
	for {
		i := bytes.Index(d.in, term)
		if i < 0 {
			break
		}
		line := string(d.in[:i])
		d.in = d.in[i+len(term):]
		replies = append(replies, d.process(line)...)
	}
	out, closed := d.out, d.closed
	d.mx.Unlock()

	if d.silent {
		return len(p), nil
	}
	for _, r := range replies {
		select {
		case out <- []byte(r + d.term):
		case <-closed:
			return len(p), nil
		}
	}
	return len(p), nil
}

func (d *Device) Close() error {
	d.mx.Lock()
	defer d.mx.Unlock()
	select {
	case <-d.closed:
	default:
		close(d.closed)
	}
	return nil
}

func (d *Device) process(line string) []string {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	d.received = append(d.received, line)

	blocks, err := gcode.Parse(line)
	if err != nil {
		return []string{"Error:" + err.Error(), d.ok}
	}

	var res []string
	for _, b := range blocks {
		err = d.vm.Run(b)
		if err != nil {
			return []string{"Error:" + err.Error(), d.ok}
		}
		switch {
		case b.HasWord(gcode.QueryPosition):
			p := d.vm.WPos()
			res = append(res, fmt.Sprintf("X:%.6f Y:%.6f Z:%.6f C:%.6f Count X:0 Y:0 Z:0", p.X, p.Y, p.Z, p.C))
		case b.HasWord(gcode.QueryEndstops):
			res = append(res, d.endstopStatus())
		case b.HasWord(gcode.MotorsOff):
			d.motorsOn = false
		case b.HasWord(gcode.MotorsOn[0]):
			d.motorsOn = true
		}
	}
	return append(res, d.ok)
}

func (d *Device) endstopStatus() string {
	pos := d.vm.MPos()
	status := func(a coord.Axis) string {
		if a != coord.C && d.vm.Endstops() && pos.Get(a) <= d.min.Get(a) {
			return "at min stop"
		}
		return "not stopped"
	}

	var sb strings.Builder
	sb.WriteString("Endstops -")
	for _, a := range coord.Axes {
		fmt.Fprintf(&sb, " %s: %s,", a, status(a))
	}
	return sb.String()
}
