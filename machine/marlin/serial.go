package marlin

import (
	"io"

	"github.com/tarm/serial"
	bugst "go.bug.st/serial"
)

// An Opener opens a raw byte channel to the named port.
type Opener func(port string, baud int) (io.ReadWriteCloser, error)

// OpenSerial opens a local serial device.
func OpenSerial(port string, baud int) (io.ReadWriteCloser, error) {
	return serial.OpenPort(&serial.Config{Name: port, Baud: baud})
}

// ListPorts returns the serial ports available on this host.
func ListPorts() ([]string, error) {
	return bugst.GetPortsList()
}
