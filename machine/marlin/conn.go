package marlin

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// lineBuffer is how many unread reply lines are held before the
// reader stops pulling from the device.
const lineBuffer = 64

var (
	// ErrTimeout is returned when a single I/O step exceeds its timeout.
	ErrTimeout = errors.New("timed out waiting for machine")

	// ErrInvalidReply is returned by queries whose reply used up the
	// line budget without an ok-terminated line.
	ErrInvalidReply = errors.New("invalid reply from machine")
)

// Conn is a line-framed connection to a Marlin or RepRap style controller.
//
// Only one command may be in flight at a time; Ask, Query and Wait hold
// an internal lock from the moment the command is written until the
// reply has been collected.
type Conn struct {
	rwc  io.ReadWriteCloser
	term string
	ok   string

	lines    chan string
	readDone chan struct{}
	readErr  error

	closeCh   chan struct{}
	closeOnce sync.Once

	// pending counts ok replies still owed to lines sent with WriteLine.
	// Guarded by mx.
	pending int

	mx  sync.Mutex
	wMx sync.Mutex
}

// NewConn creates a new Conn using the provided ReadWriteCloser for data.
// Lines are split on term, and a reply line ending in okToken+term
// completes a command.
func NewConn(rwc io.ReadWriteCloser, term, okToken string) *Conn {
	c := &Conn{
		rwc:      rwc,
		term:     term,
		ok:       okToken + term,
		lines:    make(chan string, lineBuffer),
		readDone: make(chan struct{}),
		closeCh:  make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// splitLinesKeep returns a split function for bufio.Scanner that cuts
// on term and keeps it at the end of each token.
func splitLinesKeep(term []byte) bufio.SplitFunc {
	return func(data []byte, atEOF bool) (advance int, token []byte, err error) {
		if atEOF && len(data) == 0 {
			return 0, nil, nil
		}
		if i := bytes.Index(data, term); i >= 0 {
			return i + len(term), data[:i+len(term)], nil
		}
		if atEOF {
			return len(data), data, io.ErrUnexpectedEOF
		}
		return 0, nil, nil
	}
}

func (c *Conn) readLoop() {
	defer close(c.readDone)

	scan := bufio.NewScanner(c.rwc)
	scan.Split(splitLinesKeep([]byte(c.term)))
	for scan.Scan() {
		line := scan.Text()
		log.Debug().Str("line", strings.TrimSuffix(line, c.term)).Msg("recv")
		select {
		case c.lines <- line:
		case <-c.closeCh:
			return
		}
	}
	c.readErr = scan.Err()
	if c.readErr == nil {
		c.readErr = io.EOF
	}
}

// Close will abort any in-progress reads and close the underlying
// ReadWriteCloser. If closing takes longer than timeout, ErrTimeout is
// returned and the Conn is left open.
func (c *Conn) Close(ctx context.Context, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() { done <- c.rwc.Close() }()

	timer, stop := newTimer(timeout)
	defer stop()
	select {
	case err := <-done:
		c.closeOnce.Do(func() { close(c.closeCh) })
		return err
	case <-timer:
		return ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Terminator returns the line terminator in use.
func (c *Conn) Terminator() string { return c.term }

func newTimer(timeout time.Duration) (<-chan time.Time, func()) {
	if timeout <= 0 {
		return nil, func() {}
	}
	t := time.NewTimer(timeout)
	return t.C, func() { t.Stop() }
}

// consumed settles one owed reply if line acknowledges a command.
func (c *Conn) consumed(line string) {
	if c.pending > 0 && strings.HasSuffix(line, c.ok) {
		c.pending--
	}
}

// settle reads and drops the replies still owed to lines sent with
// WriteLine, each within timeout, then discards any other buffered line.
// A reply that never arrives is given up on so later commands still run.
func (c *Conn) settle(ctx context.Context, timeout time.Duration) error {
	for c.pending > 0 {
		line, err := c.readLine(ctx, timeout)
		if errors.Is(err, ErrTimeout) {
			log.Warn().Int("pending", c.pending).Msg("no reply to earlier command")
			c.pending = 0
			break
		}
		if err != nil {
			return err
		}
		log.Debug().Str("line", strings.TrimSuffix(line, c.term)).Msg("discard stale reply")
		c.consumed(line)
	}

	for {
		select {
		case line := <-c.lines:
			log.Debug().Str("line", strings.TrimSuffix(line, c.term)).Msg("discard stale reply")
		default:
			return nil
		}
	}
}

func (c *Conn) writeLine(ctx context.Context, cmd string, timeout time.Duration) error {
	select {
	case <-c.closeCh:
		return io.ErrClosedPipe
	default:
	}
	err := c.settle(ctx, timeout)
	if err != nil {
		return err
	}

	data := []byte(cmd + c.term)
	done := make(chan error, 1)
	go func() {
		c.wMx.Lock()
		defer c.wMx.Unlock()
		_, err := c.rwc.Write(data)
		done <- err
	}()
	log.Info().Str("cmd", cmd).Msg("send")

	timer, stop := newTimer(timeout)
	defer stop()
	select {
	case err := <-done:
		return err
	case <-timer:
		return ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Conn) readLine(ctx context.Context, timeout time.Duration) (string, error) {
	timer, stop := newTimer(timeout)
	defer stop()

	select {
	case line := <-c.lines:
		return line, nil
	default:
	}

	select {
	case line := <-c.lines:
		return line, nil
	case <-c.closeCh:
		return "", io.ErrClosedPipe
	case <-c.readDone:
		return "", c.readErr
	case <-timer:
		return "", ErrTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// collect reads up to n lines, stopping early after an ok-terminated line.
// Any read failure discards what was collected.
func (c *Conn) collect(ctx context.Context, n int, timeout time.Duration) (reply []string, ok bool, err error) {
	for len(reply) < n {
		line, err := c.readLine(ctx, timeout)
		if err != nil {
			return nil, false, err
		}
		reply = append(reply, line)
		if strings.HasSuffix(line, c.ok) {
			return reply, true, nil
		}
	}
	return reply, false, nil
}

// WriteLine sends cmd followed by the terminator without waiting for a
// reply. The acknowledgement is owed: either ReadLine or WaitAnswer
// picks it up, or the next command skips it before it is written.
func (c *Conn) WriteLine(ctx context.Context, cmd string, timeout time.Duration) error {
	c.mx.Lock()
	defer c.mx.Unlock()
	err := c.writeLine(ctx, cmd, timeout)
	if err != nil {
		return err
	}
	c.pending++
	return nil
}

// ReadLine returns the next reply line, terminator included.
func (c *Conn) ReadLine(ctx context.Context, timeout time.Duration) (string, error) {
	c.mx.Lock()
	defer c.mx.Unlock()
	line, err := c.readLine(ctx, timeout)
	if err != nil {
		return "", err
	}
	c.consumed(line)
	return line, nil
}

// WaitAnswer collects up to n reply lines. It returns as soon as an
// ok-terminated line is read; otherwise all n lines are returned.
func (c *Conn) WaitAnswer(ctx context.Context, n int, timeout time.Duration) ([]string, error) {
	c.mx.Lock()
	defer c.mx.Unlock()
	reply, _, err := c.collect(ctx, n, timeout)
	for _, line := range reply {
		c.consumed(line)
	}
	return reply, err
}

// Ask sends cmd and collects its reply as WaitAnswer does. Each line read
// is bounded by timeout; a timeout anywhere fails the whole reply.
func (c *Conn) Ask(ctx context.Context, cmd string, n int, timeout time.Duration) ([]string, error) {
	c.mx.Lock()
	defer c.mx.Unlock()

	err := c.writeLine(ctx, cmd, timeout)
	if err != nil {
		return nil, err
	}
	reply, _, err := c.collect(ctx, n, timeout)
	return reply, err
}

// Query is like Ask but fails with ErrInvalidReply when n lines were read
// without any of them ending in the ok token.
func (c *Conn) Query(ctx context.Context, cmd string, n int, timeout time.Duration) ([]string, error) {
	c.mx.Lock()
	defer c.mx.Unlock()

	err := c.writeLine(ctx, cmd, timeout)
	if err != nil {
		return nil, err
	}
	reply, ok, err := c.collect(ctx, n, timeout)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidReply
	}
	return reply, nil
}

// Wait sends a zero-length dwell and waits for any single reply line,
// which means every queued move has completed. It returns false if no
// line arrived within timeout.
func (c *Conn) Wait(ctx context.Context, cmd string, timeout time.Duration) (bool, error) {
	c.mx.Lock()
	defer c.mx.Unlock()

	err := c.writeLine(ctx, cmd, timeout)
	if err != nil {
		return false, err
	}
	_, err = c.readLine(ctx, timeout)
	if errors.Is(err, ErrTimeout) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
