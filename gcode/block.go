package gcode

import (
	"errors"
	"fmt"
	"strings"
)

// A Block is the list of words on one line.
type Block []Word

var (
	ErrInvalidWord   = errors.New("invalid word in block")
	ErrRepeatedWord  = errors.New("word was repeated in a block")
	ErrModalConflict = errors.New("multiple words from same modal group")
)

// Arg returns the argument of the first word with letter w.
func (b Block) Arg(w byte) (float64, bool) {
	for _, g := range b {
		if g.W == w {
			return g.Arg, true
		}
	}
	return 0, false
}

// Args returns the words that carry parameters rather than select a mode.
func (b Block) Args() Block {
	res := make(Block, 0, len(b))
	for _, g := range b {
		if g.ModalGroup() == ModalGroupNone {
			res = append(res, g)
		}
	}
	return res
}

// HasWord reports whether w appears in the block.
func (b Block) HasWord(w Word) bool {
	for _, g := range b {
		if g == w {
			return true
		}
	}
	return false
}

// String renders the block as a single space-separated protocol line,
// without a terminator.
func (b Block) String() string {
	parts := make([]string, len(b))
	for i, w := range b {
		parts[i] = w.String()
	}
	return strings.Join(parts, " ")
}

// Validate checks that no letter other than G repeats and that no two
// words share a modal group.
func (b Block) Validate() error {
	var seenWord [256]bool
	var seenGroup [256]bool

	for _, g := range b {
		if !g.IsValid() {
			return fmt.Errorf("%w: %q", ErrInvalidWord, g.W)
		}
		if g.W != 'G' && seenWord[g.W] {
			return fmt.Errorf("%w: %c", ErrRepeatedWord, g.W)
		}
		seenWord[g.W] = true

		m := g.ModalGroup()
		if m == ModalGroupNone {
			continue
		}
		if seenGroup[m] {
			return fmt.Errorf("%w: %s", ErrModalConflict, g)
		}
		seenGroup[m] = true
	}

	return nil
}
