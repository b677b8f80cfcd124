// Package serial owns the physical channel to the power board: the port
// itself, the outgoing frame queue with write pacing, and the link watchdog.
package serial

import (
	"time"

	"github.com/pkg/errors"
	"github.com/tarm/serial"
)

// Port is the physical serial channel. Satisfied by tarm/serial ports and by
// test fakes.
type Port interface {
	Read(p []byte) (n int, err error)
	Write(p []byte) (n int, err error)
	Close() error
}

// Opener opens a fresh port. The manager calls it on start and after every
// link recycle.
type Opener func() (Port, error)

// NewOpener returns an Opener for a physical device.
func NewOpener(device string, baudRate int) Opener {
	return func() (Port, error) {
		port, err := serial.OpenPort(&serial.Config{
			Name:        device,
			Baud:        baudRate,
			ReadTimeout: time.Second,
		})
		if err != nil {
			return nil, errors.Wrapf(err, "serial: failed to open %s", device)
		}

		return port, nil
	}
}
