package machine

import (
	"errors"
	"fmt"

	"github.com/mastercactapus/graver/machine/marlin"
)

var (
	// ErrConfiguration is the class of invalid setting values.
	ErrConfiguration = errors.New("invalid configuration")

	ErrInvalidPort       = fmt.Errorf("%w: port path cannot be empty", ErrConfiguration)
	ErrInvalidBaudRate   = fmt.Errorf("%w: baud rate must be strictly positive", ErrConfiguration)
	ErrInvalidTimeout    = fmt.Errorf("%w: timeout cannot be negative", ErrConfiguration)
	ErrInvalidTerminator = fmt.Errorf("%w: line terminator cannot be empty", ErrConfiguration)
	ErrInvalidOKToken    = fmt.Errorf("%w: ok token cannot be empty", ErrConfiguration)
	ErrInvalidFeedRate   = fmt.Errorf("%w: feed rate must be strictly positive", ErrConfiguration)
	ErrInvalidToolSize   = fmt.Errorf("%w: tool size must be strictly positive", ErrConfiguration)

	// ErrConnectionState is the class of operations attempted while the
	// connection is open and must be closed, or the reverse.
	ErrConnectionState = errors.New("invalid connection state")

	ErrAlreadyOpen    = fmt.Errorf("%w: a connection is already open, it must be closed first", ErrConnectionState)
	ErrConnectionOpen = fmt.Errorf("%w: connection settings cannot change while open", ErrConnectionState)

	// ErrArgument is the class of invalid operation arguments.
	ErrArgument = errors.New("invalid argument")

	ErrNoAxisData     = fmt.Errorf("%w: at least one axis vector must be specified", ErrArgument)
	ErrLengthMismatch = fmt.Errorf("%w: axis vectors must have the same length", ErrArgument)

	ErrTimeout      = marlin.ErrTimeout
	ErrInvalidReply = marlin.ErrInvalidReply
)
