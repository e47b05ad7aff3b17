package modem

import (
	"time"
)

// Command describes one AT command the client can transmit. Implementations
// are typically small value types produced by a code generator or written
// by hand per modem family; the client only consumes this surface.
type Command interface {
	// AppendWire appends the full on-wire form of the command, including
	// the "AT" prefix and the transmit terminator, to dst and returns the
	// extended slice.
	AppendWire(dst []byte) []byte

	// MaxLen is an upper bound on the wire length, used to size the
	// client's scratch buffer.
	MaxLen() int

	// ExpectsResponse reports whether a final result code follows this
	// command. Commands such as a data-mode payload terminator may not
	// produce one.
	ExpectsResponse() bool

	// Timeout bounds the wait for the final result code. Zero selects the
	// client's default timeout.
	Timeout() time.Duration

	// Abortable reports whether the client may transmit the abort byte
	// when the timeout expires.
	Abortable() bool

	// Attempts is the total number of tries for retriable failures. Values
	// below 1 mean a single attempt.
	Attempts() int
}

// ResponseParser is implemented by commands that decode the information
// text of a successful response into typed fields. The client calls Parse
// after a successful final code; a parse failure surfaces as
// ErrInvalidResponse.
type ResponseParser interface {
	Parse(body []byte) error
}

// Raw is a Command for a literal AT command line. The terminator is
// appended on the wire; Cmd must not include it.
type Raw struct {
	Cmd        string
	Terminator string // defaults to "\r\n"

	NoResponse  bool
	RespTimeout time.Duration
	CanAbort    bool
	Tries       int
}

func (r Raw) AppendWire(dst []byte) []byte {
	dst = append(dst, r.Cmd...)
	if r.Terminator == "" {
		return append(dst, "\r\n"...)
	}
	return append(dst, r.Terminator...)
}

func (r Raw) MaxLen() int            { return len(r.Cmd) + max(len(r.Terminator), 2) }
func (r Raw) ExpectsResponse() bool  { return !r.NoResponse }
func (r Raw) Timeout() time.Duration { return r.RespTimeout }
func (r Raw) Abortable() bool        { return r.CanAbort }
func (r Raw) Attempts() int          { return r.Tries }

// payload is the data-mode write that follows a prompt: raw bytes with no
// terminator, answered by the final code of the originating command.
type payload struct {
	data    []byte
	timeout time.Duration
}

func (p payload) AppendWire(dst []byte) []byte { return append(dst, p.data...) }
func (p payload) MaxLen() int                  { return len(p.data) }
func (p payload) ExpectsResponse() bool        { return true }
func (p payload) Timeout() time.Duration       { return p.timeout }
func (p payload) Abortable() bool              { return false }
func (p payload) Attempts() int                { return 1 }
