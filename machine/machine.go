// Package machine drives a Marlin-style engraver and keeps a local model
// of its position and tool state, whether or not it is connected.
package machine

import (
	"context"
	"errors"
	"image/color"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mastercactapus/graver/coord"
	"github.com/mastercactapus/graver/machine/marlin"
)

// Defaults applied by New.
const (
	DefaultBaudRate = 115200
	DefaultTimeout  = time.Second
	DefaultFeedRate = 100
	DefaultToolSize = 1
)

// Machine is a single-connection controller. Settings and history are
// safe for concurrent use; commands are serialized on the connection.
type Machine struct {
	mx sync.Mutex

	port     string
	baud     int
	timeout  time.Duration
	term     string
	okToken  string
	feedRate float64
	endstops bool

	open marlin.Opener
	conn *marlin.Conn

	// lmx serializes Open and Close.
	lmx sync.Mutex

	history *History
}

// New returns a disconnected Machine that opens port as a serial device.
func New(port string) *Machine {
	return NewWithOpener(port, marlin.OpenSerial)
}

// NewWithOpener returns a disconnected Machine that uses open to
// establish its connection.
func NewWithOpener(port string, open marlin.Opener) *Machine {
	return &Machine{
		port:     port,
		baud:     DefaultBaudRate,
		timeout:  DefaultTimeout,
		term:     "\n",
		okToken:  "ok",
		feedRate: DefaultFeedRate,
		endstops: true,
		open:     open,
		history:  NewHistory(),
	}
}

type timeoutKey struct{}

// WithTimeout overrides the per-step timeout of every operation called
// with the returned context. A zero duration waits forever; a negative
// one makes those operations fail with ErrInvalidTimeout.
func WithTimeout(ctx context.Context, d time.Duration) context.Context {
	return context.WithValue(ctx, timeoutKey{}, d)
}

func (m *Machine) stepTimeout(ctx context.Context) (time.Duration, error) {
	if d, ok := ctx.Value(timeoutKey{}).(time.Duration); ok {
		if d < 0 {
			return 0, ErrInvalidTimeout
		}
		return d, nil
	}
	m.mx.Lock()
	defer m.mx.Unlock()
	return m.timeout, nil
}

// History returns the motion history of m.
func (m *Machine) History() *History { return m.history }

// IsOpen reports whether a connection is open.
func (m *Machine) IsOpen() bool {
	m.mx.Lock()
	defer m.mx.Unlock()
	return m.conn != nil
}

func (m *Machine) connection() *marlin.Conn {
	m.mx.Lock()
	defer m.mx.Unlock()
	return m.conn
}

// setConnSetting applies fn only while disconnected.
func (m *Machine) setConnSetting(fn func()) error {
	m.mx.Lock()
	defer m.mx.Unlock()
	if m.conn != nil {
		return ErrConnectionOpen
	}
	fn()
	return nil
}

func (m *Machine) Port() string {
	m.mx.Lock()
	defer m.mx.Unlock()
	return m.port
}

// SetPort changes the device path used by the next Open.
func (m *Machine) SetPort(port string) error {
	if port == "" {
		return ErrInvalidPort
	}
	return m.setConnSetting(func() { m.port = port })
}

func (m *Machine) BaudRate() int {
	m.mx.Lock()
	defer m.mx.Unlock()
	return m.baud
}

func (m *Machine) SetBaudRate(baud int) error {
	if baud <= 0 {
		return ErrInvalidBaudRate
	}
	return m.setConnSetting(func() { m.baud = baud })
}

func (m *Machine) Timeout() time.Duration {
	m.mx.Lock()
	defer m.mx.Unlock()
	return m.timeout
}

// SetTimeout sets the default per-step timeout, the bound on each single
// write or reply line. Zero stands for an infinite timeout and disables
// the bound. Unlike the other connection settings it may change while
// open.
func (m *Machine) SetTimeout(d time.Duration) error {
	if d < 0 {
		return ErrInvalidTimeout
	}
	m.mx.Lock()
	m.timeout = d
	m.mx.Unlock()
	return nil
}

func (m *Machine) Terminator() string {
	m.mx.Lock()
	defer m.mx.Unlock()
	return m.term
}

func (m *Machine) SetTerminator(term string) error {
	if term == "" {
		return ErrInvalidTerminator
	}
	return m.setConnSetting(func() { m.term = term })
}

func (m *Machine) OKToken() string {
	m.mx.Lock()
	defer m.mx.Unlock()
	return m.okToken
}

func (m *Machine) SetOKToken(token string) error {
	if token == "" {
		return ErrInvalidOKToken
	}
	return m.setConnSetting(func() { m.okToken = token })
}

func (m *Machine) FeedRate() float64 {
	m.mx.Lock()
	defer m.mx.Unlock()
	return m.feedRate
}

// SetFeedRate sets the feed rate of subsequent motion commands.
func (m *Machine) SetFeedRate(rate float64) error {
	if rate <= 0 {
		return ErrInvalidFeedRate
	}
	m.mx.Lock()
	m.feedRate = rate
	m.mx.Unlock()
	return nil
}

// Endstops reports whether motion commands ask the controller to
// honour endstops.
func (m *Machine) Endstops() bool {
	m.mx.Lock()
	defer m.mx.Unlock()
	return m.endstops
}

func (m *Machine) EnableEndstops()  { m.setEndstops(true) }
func (m *Machine) DisableEndstops() { m.setEndstops(false) }

func (m *Machine) setEndstops(v bool) {
	m.mx.Lock()
	m.endstops = v
	m.mx.Unlock()
}

func (m *Machine) ToolSize() float64 { return m.history.ToolSize() }

// SetToolSize changes the tool size, opening a new history segment if
// the current one already holds a move.
func (m *Machine) SetToolSize(size float64) error {
	return m.history.SetToolSize(size)
}

// SetColor sets the display colour recorded with new history segments.
func (m *Machine) SetColor(c color.RGBA) { m.history.SetColor(c) }

// Position returns the last commanded position without any I/O.
func (m *Machine) Position() coord.Point { return m.history.Last() }

// motion returns the settings every motion command carries.
func (m *Machine) motion() (feed float64, endstops bool) {
	m.mx.Lock()
	defer m.mx.Unlock()
	return m.feedRate, m.endstops
}

// Open connects to the configured port. The opener runs under the step
// timeout; a device that opens late is closed again.
func (m *Machine) Open(ctx context.Context) error {
	m.lmx.Lock()
	defer m.lmx.Unlock()

	m.mx.Lock()
	port, baud, term, ok, open, isOpen := m.port, m.baud, m.term, m.okToken, m.open, m.conn != nil
	m.mx.Unlock()
	if isOpen {
		return ErrAlreadyOpen
	}
	if port == "" {
		return ErrInvalidPort
	}
	timeout, err := m.stepTimeout(ctx)
	if err != nil {
		return err
	}

	type result struct {
		rwc io.ReadWriteCloser
		err error
	}
	ch := make(chan result, 1)
	go func() {
		rwc, err := open(port, baud)
		ch <- result{rwc, err}
	}()

	abandon := func() {
		go func() {
			if r := <-ch; r.err == nil {
				r.rwc.Close()
			}
		}()
	}

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	var r result
	select {
	case r = <-ch:
	case <-timer:
		abandon()
		return ErrTimeout
	case <-ctx.Done():
		abandon()
		return ctx.Err()
	}
	if r.err != nil {
		log.Error().Err(r.err).Str("port", port).Msg("open connection")
		return r.err
	}

	m.mx.Lock()
	m.conn = marlin.NewConn(r.rwc, term, ok)
	m.mx.Unlock()
	log.Info().Str("port", port).Int("baud", baud).Msg("connection opened")
	return nil
}

// Close tears down the connection. It returns false if none was open.
// If closing times out the connection is kept and ErrTimeout returned.
// Any other error from the device is returned with true: the connection
// is dropped either way.
func (m *Machine) Close(ctx context.Context) (bool, error) {
	m.lmx.Lock()
	defer m.lmx.Unlock()

	timeout, err := m.stepTimeout(ctx)
	if err != nil {
		return false, err
	}
	conn := m.connection()
	if conn == nil {
		return false, nil
	}
	err = conn.Close(ctx, timeout)
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false, err
	}

	m.mx.Lock()
	m.conn = nil
	m.mx.Unlock()
	if err != nil {
		log.Error().Err(err).Msg("close connection")
		return true, err
	}
	log.Info().Msg("connection closed")
	return true, nil
}
