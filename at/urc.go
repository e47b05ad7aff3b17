package at

import (
	"bytes"
	"errors"
)

var (
	// ErrNoMatch reports that the buffer does not hold the frame a matcher
	// or custom hook is looking for.
	ErrNoMatch = errors.New("no match")
	// ErrIncomplete reports that the buffer holds the start of a matching
	// frame but more bytes are needed to complete it.
	ErrIncomplete = errors.New("incomplete frame")
)

// Matcher recognizes unsolicited result codes at the front of the ingest
// buffer. Match returns the URC body (terminators stripped) and the number
// of leading bytes the frame occupies, ErrIncomplete when a matching frame
// is split across reads, or ErrNoMatch.
//
// A matcher for a multi-line URC decides completeness itself: it keeps
// returning ErrIncomplete until its declared terminator is buffered and
// then returns the whole block as one frame.
type Matcher interface {
	Match(buf []byte) (urc []byte, n int, err error)
}

// PrefixMatcher matches single-line URCs of the form
//
//	<EOL><token><EOL>
//	<EOL><token>:<parameters><EOL>
//
// for each configured token, in order. The first token whose frame is cut
// off inside the token or right after it wins with ErrIncomplete. A frame
// whose parameters are not yet terminated yields ErrNoMatch.
type PrefixMatcher struct {
	Tokens []string
}

func (m *PrefixMatcher) Match(buf []byte) ([]byte, int, error) {
	le := lineEnding(buf)
	if le == 0 {
		return nil, 0, ErrNoMatch
	}
	rest := buf[le:]

	for _, tok := range m.Tokens {
		t := []byte(tok)
		if !bytes.HasPrefix(rest, t) {
			if len(rest) < len(t) && bytes.HasPrefix(t, rest) {
				return nil, 0, ErrIncomplete
			}
			continue
		}
		after := rest[len(t):]
		if len(after) == 0 {
			return nil, 0, ErrIncomplete
		}
		switch after[0] {
		case ':':
			i := bytes.Index(after[1:], []byte(CRLF))
			if i < 0 {
				return nil, 0, ErrNoMatch
			}
			frame := rest[:len(t)+1+i+2]
			return trimWhitespace(frame), le + len(frame), nil
		case '\r':
			if len(after) == 1 {
				return nil, 0, ErrIncomplete
			}
			if after[1] == '\n' {
				return trimWhitespace(t), le + len(t) + 2, nil
			}
		}
	}
	return nil, 0, ErrNoMatch
}

// lineEnding returns the length of the terminator opening buf: 2 for CRLF,
// 1 for a bare LF, 0 otherwise.
func lineEnding(buf []byte) int {
	if bytes.HasPrefix(buf, []byte(CRLF)) {
		return 2
	}
	if len(buf) > 0 && buf[0] == '\n' {
		return 1
	}
	return 0
}
