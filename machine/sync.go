package machine

import (
	"context"
	"fmt"
	"image/color"
	"sync"
	"time"

	"github.com/mastercactapus/graver/coord"
)

// SyncMachine runs every call of a Machine on one dedicated worker
// goroutine, one call at a time. Callers block until their call is done.
//
// A SyncMachine must not be called from inside a History observer of the
// same Machine; that call would wait on itself.
type SyncMachine struct {
	m   *Machine
	w   *worker
	ctx context.Context
}

type worker struct {
	mx     sync.Mutex
	jobs   chan func()
	stop   chan struct{}
	closed bool
}

// NewSync starts a worker for m. Calls run with ctx.
func NewSync(ctx context.Context, m *Machine) *SyncMachine {
	w := &worker{
		jobs: make(chan func()),
		stop: make(chan struct{}),
	}
	go w.loop()
	return &SyncMachine{m: m, w: w, ctx: ctx}
}

func (w *worker) loop() {
	for {
		select {
		case fn := <-w.jobs:
			fn()
		case <-w.stop:
			return
		}
	}
}

// Machine returns the wrapped Machine.
func (s *SyncMachine) Machine() *Machine { return s.m }

// Timeout returns a view of s whose calls use d as their per-step
// timeout, as WithTimeout does. The view shares the worker of s, so its
// calls stay ordered with every other call.
func (s *SyncMachine) Timeout(d time.Duration) *SyncMachine {
	return &SyncMachine{m: s.m, w: s.w, ctx: WithTimeout(s.ctx, d)}
}

type outcome[T any] struct {
	val   T
	err   error
	panic any
}

// ErrStopped is returned by calls made after Stop.
var ErrStopped = fmt.Errorf("%w: sync machine stopped", ErrConnectionState)

func call[T any](s *SyncMachine, fn func(context.Context) (T, error)) (T, error) {
	w := s.w
	w.mx.Lock()
	defer w.mx.Unlock()

	var zero T
	if w.closed {
		return zero, ErrStopped
	}
	res := make(chan outcome[T], 1)
	w.jobs <- func() {
		var o outcome[T]
		defer func() {
			o.panic = recover()
			res <- o
		}()
		o.val, o.err = fn(s.ctx)
	}
	o := <-res
	if o.panic != nil {
		panic(o.panic)
	}
	return o.val, o.err
}

// Stop shuts down the worker, for every view of it. The Machine is left
// as is.
func (s *SyncMachine) Stop() {
	w := s.w
	w.mx.Lock()
	defer w.mx.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	close(w.stop)
}

func (s *SyncMachine) Open() error {
	_, err := call(s, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.m.Open(ctx)
	})
	return err
}

func (s *SyncMachine) Close() (bool, error) {
	return call(s, s.m.Close)
}

func (s *SyncMachine) Write(cmd string) (bool, error) {
	return call(s, func(ctx context.Context) (bool, error) { return s.m.Write(ctx, cmd) })
}

func (s *SyncMachine) ReadLine() (string, error) {
	return call(s, s.m.ReadLine)
}

func (s *SyncMachine) WaitAnswer(n int) ([]string, error) {
	return call(s, func(ctx context.Context) ([]string, error) { return s.m.WaitAnswer(ctx, n) })
}

func (s *SyncMachine) Ask(cmd string, n int) ([]string, error) {
	return call(s, func(ctx context.Context) ([]string, error) { return s.m.Ask(ctx, cmd, n) })
}

func (s *SyncMachine) Wait() (bool, error) {
	return call(s, s.m.Wait)
}

func (s *SyncMachine) GetPosition() (coord.Point, error) {
	return call(s, s.m.GetPosition)
}

func (s *SyncMachine) SetPosition(v coord.Values) (bool, error) {
	return call(s, func(ctx context.Context) (bool, error) { return s.m.SetPosition(ctx, v) })
}

func (s *SyncMachine) SetPositionPoint(p coord.Point) (bool, error) {
	return call(s, func(ctx context.Context) (bool, error) { return s.m.SetPositionPoint(ctx, p) })
}

func (s *SyncMachine) SetPositionVector(v []float64) (bool, error) {
	return call(s, func(ctx context.Context) (bool, error) { return s.m.SetPositionVector(ctx, v) })
}

func (s *SyncMachine) Move(relative bool, v coord.Values) (bool, error) {
	return call(s, func(ctx context.Context) (bool, error) { return s.m.Move(ctx, relative, v) })
}

func (s *SyncMachine) MoveAbs(p coord.Point) (bool, error) {
	return call(s, func(ctx context.Context) (bool, error) { return s.m.MoveAbs(ctx, p) })
}

func (s *SyncMachine) MoveRel(p coord.Point) (bool, error) {
	return call(s, func(ctx context.Context) (bool, error) { return s.m.MoveRel(ctx, p) })
}

func (s *SyncMachine) ProbeEndstops(axes ...coord.Axis) (map[coord.Axis]bool, error) {
	return call(s, func(ctx context.Context) (map[coord.Axis]bool, error) { return s.m.ProbeEndstops(ctx, axes...) })
}

func (s *SyncMachine) SwitchMotors(on bool) (bool, error) {
	return call(s, func(ctx context.Context) (bool, error) { return s.m.SwitchMotors(ctx, on) })
}

func (s *SyncMachine) Trace(path Path) (bool, error) {
	return call(s, func(ctx context.Context) (bool, error) { return s.m.Trace(ctx, path) })
}

func (s *SyncMachine) TracePoints(pts []coord.Point) (bool, error) {
	return call(s, func(ctx context.Context) (bool, error) { return s.m.TracePoints(ctx, pts) })
}

// SetToolSize runs on the worker so it is ordered with pending moves.
func (s *SyncMachine) SetToolSize(size float64) error {
	_, err := call(s, func(context.Context) (struct{}, error) {
		return struct{}{}, s.m.SetToolSize(size)
	})
	return err
}

func (s *SyncMachine) SetFeedRate(rate float64) error {
	_, err := call(s, func(context.Context) (struct{}, error) {
		return struct{}{}, s.m.SetFeedRate(rate)
	})
	return err
}

func (s *SyncMachine) SetColor(c color.RGBA) {
	call(s, func(context.Context) (struct{}, error) {
		s.m.SetColor(c)
		return struct{}{}, nil
	})
}

func (s *SyncMachine) EnableEndstops() {
	call(s, func(context.Context) (struct{}, error) {
		s.m.EnableEndstops()
		return struct{}{}, nil
	})
}

func (s *SyncMachine) DisableEndstops() {
	call(s, func(context.Context) (struct{}, error) {
		s.m.DisableEndstops()
		return struct{}{}, nil
	})
}
