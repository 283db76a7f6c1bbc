package gcode

import (
	"errors"
	"io"
	"strings"
)

// Parse returns every block in data.
func Parse(data string) ([]Block, error) {
	p := NewParser(strings.NewReader(data))
	var res []Block
	for {
		b, err := p.Read()
		if errors.Is(err, io.EOF) {
			return res, nil
		}
		if err != nil {
			return nil, err
		}
		res = append(res, b)
	}
}

// MustParse is like Parse but panics on error. It is meant for
// literal programs.
func MustParse(data string) []Block {
	b, err := Parse(data)
	if err != nil {
		panic(err)
	}
	return b
}
