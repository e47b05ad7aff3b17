package modem

import (
	"context"
	"fmt"
	"io"

	"go.bug.st/serial"
)

//go:generate go run go.uber.org/mock/mockgen@v0.4.0 -destination=mock_transport.go -package=modem . Transport,Dialer

// Transport represents an established, bidirectional byte stream to a
// modem.
//
// A Transport is assumed to be already connected and ready for use. The
// ingest loop owns the read half, the client owns the write half; Close may
// be called from either side and must unblock a pending Read. Typical
// implementations are serial ports, TCP connections to emulators, or
// in-memory fakes used for testing.
type Transport interface {
	io.ReadWriteCloser
}

// Dialer opens a Transport to a modem.
//
// Dialer abstracts how the connection is created (serial port, TCP-based
// emulator, or test double) and is used during client construction only.
type Dialer interface {
	// Dial creates and returns a connected Transport. It may perform
	// blocking operations and should respect cancellation and deadlines
	// provided by the context.
	Dial(ctx context.Context) (Transport, error)
}

// SerialDialer opens a modem over a local serial port using go.bug.st/serial.
type SerialDialer struct {
	PortName string
	BaudRate int
}

func (d SerialDialer) Dial(ctx context.Context) (Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mode := &serial.Mode{
		BaudRate: d.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(d.PortName, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", d.PortName, err)
	}
	return port, nil
}
