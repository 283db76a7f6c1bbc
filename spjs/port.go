package spjs

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"sync"

	"go.uber.org/atomic"
)

var lastID = atomic.NewInt64(0)

func nextID() string {
	return "cmd_" + strconv.FormatInt(lastID.Inc(), 36)
}

// Port is a serial port opened on the server. Bytes written are sent a
// line at a time with sendjson; serial data for the port is read back.
type Port struct {
	c    *Client
	name string
	term []byte

	r *io.PipeReader
	w *io.PipeWriter

	wMx sync.Mutex
	buf []byte

	closeOnce sync.Once
}

var _ io.ReadWriteCloser = &Port{}

// Open asks the server to open port at baud and returns a handle to it.
// Lines written to it end in "\n". It matches the signature of
// marlin.Opener.
func (c *Client) Open(port string, baud int) (io.ReadWriteCloser, error) {
	return c.OpenTerm(port, baud, "\n")
}

// OpenTerm is Open for a port whose lines end in term.
func (c *Client) OpenTerm(port string, baud int, term string) (io.ReadWriteCloser, error) {
	if term == "" {
		return nil, fmt.Errorf("spjs: empty line terminator")
	}
	r, w := io.Pipe()
	p := &Port{c: c, name: port, term: []byte(term), r: r, w: w}

	c.mx.Lock()
	if c.ports[port] != nil {
		c.mx.Unlock()
		return nil, fmt.Errorf("spjs: port %s already open", port)
	}
	c.ports[port] = p
	c.mx.Unlock()

	err := c.WriteString(fmt.Sprintf("open %s %d", port, baud))
	if err != nil {
		p.unregister()
		return nil, err
	}
	return p, nil
}

func (p *Port) deliver(data string) {
	_, err := p.w.Write([]byte(data))
	if err != nil {
		// reader is gone, the port was closed
		p.unregister()
	}
}

func (p *Port) unregister() {
	p.c.mx.Lock()
	if p.c.ports[p.name] == p {
		delete(p.c.ports, p.name)
	}
	p.c.mx.Unlock()
}

func (p *Port) Read(b []byte) (int, error) { return p.r.Read(b) }

// Write sends every complete line of b in one sendjson frame, each with
// its terminator as written. A trailing partial line is held until the
// rest of it is written.
func (p *Port) Write(b []byte) (int, error) {
	p.wMx.Lock()
	defer p.wMx.Unlock()

	p.buf = append(p.buf, b...)
	j := JSON{Port: p.name}
	var used int
	for {
		i := bytes.Index(p.buf[used:], p.term)
		if i < 0 {
			break
		}
		end := used + i + len(p.term)
		j.Data = append(j.Data, Data{
			Data: string(p.buf[used:end]),
			ID:   nextID(),
		})
		used = end
	}
	p.buf = append(p.buf[:0], p.buf[used:]...)
	if len(j.Data) == 0 {
		return len(b), nil
	}
	err := p.c.SendJSON(j)
	if err != nil {
		return 0, err
	}
	return len(b), nil
}

// Close closes the port on the server and ends pending reads.
func (p *Port) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.unregister()
		p.w.CloseWithError(io.EOF)
		p.r.Close()
		err = p.c.WriteString("close " + p.name)
	})
	return err
}
