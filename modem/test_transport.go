package modem

import (
	"context"
	"io"
	"sync"
)

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context) (Transport, error)

func (f DialerFunc) Dial(ctx context.Context) (Transport, error) { return f(ctx) }

// TestTransport is a test helper that simulates a blocking transport using
// channels. Reads block until data is queued with SendData (like a real
// serial port would), and the client's writes are captured on the Writes
// channel so tests can assert the on-wire bytes. The channel holds 16
// writes; further writes are dropped while it is full.
type TestTransport struct {
	mu        sync.Mutex
	readChan  chan []byte
	writeChan chan []byte
	closed    bool
}

// NewTestTransport creates a new test transport. Exported for use in tests.
func NewTestTransport() *TestTransport {
	return &TestTransport{
		readChan:  make(chan []byte, 16),
		writeChan: make(chan []byte, 16),
	}
}

func (t *TestTransport) Read(p []byte) (int, error) {
	data, ok := <-t.readChan
	if !ok {
		return 0, io.EOF
	}
	return copy(p, data), nil
}

func (t *TestTransport) Write(p []byte) (int, error) {
	cp := make([]byte, len(p))
	copy(cp, p)
	select {
	case t.writeChan <- cp:
	default:
	}
	return len(p), nil
}

func (t *TestTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.readChan)
	return nil
}

// SendData queues data to be read by the transport, simulating bytes
// arriving from the modem.
func (t *TestTransport) SendData(data string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.readChan <- []byte(data)
	}
}

// Writes exposes the captured client writes.
func (t *TestTransport) Writes() <-chan []byte {
	return t.writeChan
}
