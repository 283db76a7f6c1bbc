package gcode

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Parser reads blocks from a stream of Marlin-style G-code, one block
// per line.
type Parser struct {
	br   *bufio.Reader
	line int
}

func NewParser(r io.Reader) *Parser {
	if br, ok := r.(*bufio.Reader); ok {
		return &Parser{br: br}
	}

	return &Parser{br: bufio.NewReader(r)}
}

// stripLine removes comments, an N line number and a *checksum.
func stripLine(s string) string {
	s = strings.SplitN(s, ";", 2)[0]
	for {
		i := strings.IndexByte(s, '(')
		if i < 0 {
			break
		}
		j := strings.IndexByte(s[i:], ')')
		if j < 0 {
			s = s[:i]
			break
		}
		s = s[:i] + s[i+j+1:]
	}
	if i := strings.IndexByte(s, '*'); i >= 0 {
		s = s[:i]
	}
	s = strings.ToUpper(strings.Join(strings.Fields(s), ""))
	if strings.HasPrefix(s, "N") {
		s = strings.TrimLeft(s[1:], "0123456789")
	}
	return s
}

// ParseLine parses a single line. A line without any words returns a
// nil Block.
func ParseLine(s string) (Block, error) {
	s = stripLine(s)
	var b Block
	for len(s) > 0 {
		w := s[0]
		if w < 'A' || w > 'Z' {
			return nil, fmt.Errorf("unexpected %q", s)
		}
		end := 1
		for end < len(s) && (s[end] < 'A' || s[end] > 'Z') {
			end++
		}
		arg, err := strconv.ParseFloat(s[1:end], 64)
		if err != nil {
			return nil, fmt.Errorf("word %c: bad number %q", w, s[1:end])
		}
		b = append(b, Word{W: w, Arg: arg})
		s = s[end:]
	}
	return b, nil
}

// Read returns the next non-empty block, or io.EOF.
func (p *Parser) Read() (Block, error) {
	for {
		s, err := p.br.ReadString('\n')
		if err == io.EOF && s != "" {
			err = nil
		}
		if err != nil {
			return nil, err
		}
		p.line++

		b, err := ParseLine(s)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", p.line, err)
		}
		if len(b) == 0 {
			continue
		}
		return b, nil
	}
}
