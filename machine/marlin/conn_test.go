package marlin

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/mastercactapus/graver/vm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scripted answers every line written to it with the output of reply.
type scripted struct {
	r     *io.PipeReader
	w     *io.PipeWriter
	buf   []byte
	reply func(line string) string
}

func newScripted(reply func(line string) string) *scripted {
	r, w := io.Pipe()
	return &scripted{r: r, w: w, reply: reply}
}

func (s *scripted) Read(p []byte) (int, error) { return s.r.Read(p) }
func (s *scripted) Write(p []byte) (int, error) {
	s.buf = append(s.buf, p...)
	for {
		i := bytes.IndexByte(s.buf, '\n')
		if i < 0 {
			break
		}
		line := string(s.buf[:i])
		s.buf = s.buf[i+1:]
		if out := s.reply(line); out != "" {
			_, err := s.w.Write([]byte(out))
			if err != nil {
				return 0, err
			}
		}
	}
	return len(p), nil
}
func (s *scripted) Close() error {
	s.w.Close()
	return s.r.Close()
}

func newTestConn(t *testing.T, rwc io.ReadWriteCloser) *Conn {
	t.Helper()
	c := NewConn(rwc, "\n", "ok")
	t.Cleanup(func() { c.Close(context.Background(), time.Second) })
	return c
}

func TestConn_Ask(t *testing.T) {
	c := newTestConn(t, vm.NewDevice())

	reply, err := c.Ask(context.Background(), "G4 S0", 1, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []string{"ok\n"}, reply)

	reply, err = c.Ask(context.Background(), "M114", 2, time.Second)
	require.NoError(t, err)
	require.Len(t, reply, 2)
	assert.True(t, strings.HasPrefix(reply[0], "X:0.000000"))
	assert.Equal(t, "ok\n", reply[1])
}

func TestConn_AskStopsAtOK(t *testing.T) {
	c := newTestConn(t, newScripted(func(string) string { return "ok\nextra\nmore\n" }))

	reply, err := c.Ask(context.Background(), "G4 S0", 1, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []string{"ok\n"}, reply)

	// an early ok also cuts a multi-line budget short
	reply, err = c.Ask(context.Background(), "M114", 3, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []string{"ok\n"}, reply)
}

func TestConn_AskBudgetWithoutOK(t *testing.T) {
	c := newTestConn(t, newScripted(func(string) string { return "first\nsecond\n" }))

	reply, err := c.Ask(context.Background(), "M114", 2, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []string{"first\n", "second\n"}, reply)

	reply, err = c.Query(context.Background(), "M114", 2, time.Second)
	assert.ErrorIs(t, err, ErrInvalidReply)
	assert.Nil(t, reply)
}

func TestConn_Timeout(t *testing.T) {
	c := newTestConn(t, vm.NewDevice(vm.Silent()))

	start := time.Now()
	reply, err := c.Ask(context.Background(), "M114", 2, 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Nil(t, reply)
	assert.Less(t, time.Since(start), time.Second)

	// the connection stays usable
	assert.NoError(t, c.WriteLine(context.Background(), "M18", time.Second))
}

func TestConn_PartialReplyDiscarded(t *testing.T) {
	c := newTestConn(t, newScripted(func(string) string { return "X:1.0 Y:2.0\n" }))

	reply, err := c.Query(context.Background(), "M114", 2, 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Nil(t, reply)
}

func TestConn_Terminator(t *testing.T) {
	c := NewConn(vm.NewDevice(vm.Terminator("\r\n"), vm.OK("done")), "\r\n", "done")
	defer c.Close(context.Background(), time.Second)

	reply, err := c.Ask(context.Background(), "G4 S0", 3, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []string{"done\r\n"}, reply)
}

func TestConn_Wait(t *testing.T) {
	c := newTestConn(t, newScripted(func(string) string { return "anything\n" }))
	ok, err := c.Wait(context.Background(), "G4 S0", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	silent := newTestConn(t, vm.NewDevice(vm.Silent()))
	ok, err = silent.Wait(context.Background(), "G4 S0", 20*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConn_DiscardStaleReplies(t *testing.T) {
	s := newScripted(nil)
	s.reply = func(line string) string {
		if line == "M18" {
			// acknowledge late, after the next command could be written
			go func() {
				time.Sleep(20 * time.Millisecond)
				s.w.Write([]byte("ok\n"))
			}()
			return ""
		}
		return "X:1.00 Y:2.00 Z:3.00 C:4.00 Count X:0 Y:0 Z:0\nok\n"
	}
	c := newTestConn(t, s)

	require.NoError(t, c.WriteLine(context.Background(), "M18", time.Second))
	reply, err := c.Query(context.Background(), "M114", 2, time.Second)
	require.NoError(t, err)
	require.Len(t, reply, 2)
	assert.True(t, strings.HasPrefix(reply[0], "X:1.00"))

	reply, err = c.Query(context.Background(), "M114", 2, time.Second)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(reply[0], "X:1.00"), "no reply left behind")
}

func TestConn_UnansweredWrite(t *testing.T) {
	c := newTestConn(t, newScripted(func(line string) string {
		if line == "M18" {
			return ""
		}
		return "ok\n"
	}))

	require.NoError(t, c.WriteLine(context.Background(), "M18", time.Second))
	reply, err := c.Ask(context.Background(), "G4 S0", 1, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, []string{"ok\n"}, reply)
}

func TestConn_WriteThenReadLine(t *testing.T) {
	c := newTestConn(t, vm.NewDevice())

	require.NoError(t, c.WriteLine(context.Background(), "M18", time.Second))
	line, err := c.ReadLine(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ok\n", line)

	// the acknowledgement was read, so nothing is owed
	start := time.Now()
	_, err = c.Query(context.Background(), "M114", 2, time.Second)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestConn_Cancel(t *testing.T) {
	c := newTestConn(t, vm.NewDevice(vm.Silent()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Ask(ctx, "M114", 1, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConn_Close(t *testing.T) {
	c := NewConn(vm.NewDevice(), "\n", "ok")
	require.NoError(t, c.Close(context.Background(), time.Second))

	_, err := c.Ask(context.Background(), "M114", 1, time.Second)
	assert.ErrorIs(t, err, io.ErrClosedPipe)
}
