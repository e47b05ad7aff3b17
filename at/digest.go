package at

import (
	"bytes"
	"errors"
)

// MatchFunc recognizes a custom success or error frame at the front of the
// buffer, returning the frame body and the bytes it occupies, ErrIncomplete,
// or ErrNoMatch.
type MatchFunc func(buf []byte) (body []byte, n int, err error)

// PromptFunc recognizes a custom data-mode prompt, returning the prompt
// byte and the bytes it occupies, ErrIncomplete, or ErrNoMatch.
type PromptFunc func(buf []byte) (prompt byte, n int, err error)

// Digester classifies the front of the ingest buffer into frames.
//
// Digest is a pure function of the buffer contents and the digester's
// configuration: it performs no I/O, allocates nothing, and never mutates
// the buffer. The caller applies the consumed count.
//
// The buffer can contain ('...' meaning arbitrary data):
//
//	...AT<CMD>\r\r\n<RESPONSE>\r\n<RESPONSE CODE>\r\n...   (echo enabled)
//	...<CMD>: <PARAMETERS>\r\n<RESPONSE CODE>\r\n...       (echo disabled)
//	...<URC>\r\n...
//	...<URC>: <PARAMETERS>\r\n...
//	...<PROMPT>
//
// Echo and leading whitespace are folded into the consumed prefix, so the
// digester works identically whether echo is enabled on the modem or not.
type Digester struct {
	matcher       Matcher
	prompts       []byte
	eol           []byte
	customSuccess MatchFunc
	customError   MatchFunc
	customPrompt  PromptFunc

	okToken      []byte
	connectToken []byte
	cmeToken     []byte
	cmsToken     []byte
	modemToken   []byte
	naToken      []byte
	genericErrs  []genericError
	connTokens   [][]byte
}

type genericError struct {
	token  []byte
	result Result
}

// DigestOption configures a Digester.
type DigestOption func(*Digester)

// WithMatcher installs the URC matcher consulted before any response
// classification.
func WithMatcher(m Matcher) DigestOption {
	return func(d *Digester) { d.matcher = m }
}

// WithPromptBytes replaces the default data-mode prompt bytes ('>', '@').
func WithPromptBytes(prompts ...byte) DigestOption {
	return func(d *Digester) { d.prompts = prompts }
}

// WithLineEnding replaces the default "\r\n" receive terminator, for modems
// that emit "\n\r" or single-character endings.
func WithLineEnding(eol string) DigestOption {
	return func(d *Digester) { d.eol = []byte(eol) }
}

// WithCustomSuccess installs a success matcher tried before the generic
// OK/CONNECT recognition.
func WithCustomSuccess(f MatchFunc) DigestOption {
	return func(d *Digester) { d.customSuccess = f }
}

// WithCustomError installs an error matcher tried before the generic error
// family. Matches are reported as ResultCustom.
func WithCustomError(f MatchFunc) DigestOption {
	return func(d *Digester) { d.customError = f }
}

// WithCustomPrompt installs a prompt matcher tried before the generic
// prompt recognition.
func WithCustomPrompt(f PromptFunc) DigestOption {
	return func(d *Digester) { d.customPrompt = f }
}

// NewDigester returns a Digester with the standard AT grammar.
func NewDigester(opts ...DigestOption) *Digester {
	d := &Digester{
		prompts: []byte{'>', '@'},
		eol:     []byte(CRLF),
	}
	for _, opt := range opts {
		opt(d)
	}

	tok := func(parts ...string) []byte {
		var t []byte
		t = append(t, d.eol...)
		for _, p := range parts {
			t = append(t, p...)
		}
		return t
	}
	d.okToken = tok(OK, string(d.eol))
	d.connectToken = tok(Connect)
	d.cmeToken = tok(CmeError)
	d.cmsToken = tok(CmsError)
	d.modemToken = tok(ModemError)
	d.naToken = tok("NA", string(d.eol))
	d.genericErrs = []genericError{
		{tok(ERROR, string(d.eol)), ResultError},
		{tok(Aborted, string(d.eol)), ResultAborted},
		{tok(CommandNotSupport, string(d.eol)), ResultError},
	}
	for _, verdict := range []string{NoCarrier, Busy, NoAnswer, NoDialtone} {
		d.connTokens = append(d.connTokens, tok(verdict, string(d.eol)))
	}
	return d
}

// Digest classifies the leading bytes of buf and returns the frame plus the
// number of bytes the caller must discard. A KindNone frame with a non-zero
// count means only whitespace and echo were consumed; a KindNone frame with
// a zero count means more bytes are needed.
func (d *Digester) Digest(input []byte) (Frame, int) {
	// 1. Fold leading space and echo into the consumed prefix.
	buf := trimStartSpace(input)
	skip := len(input) - len(buf)
	if len(buf) >= 2 {
		if i := bytes.Index(buf, d.eol); i > 0 {
			skip += i
			buf = buf[i:]
		}
	}
	none := Frame{Kind: KindNone}

	// 2. URCs take precedence so a known URC is never swallowed into a
	// pending response body.
	if d.matcher != nil {
		urc, n, err := d.matcher.Match(buf)
		switch {
		case err == nil:
			return Frame{Kind: KindURC, Body: urc}, skip + n
		case errors.Is(err, ErrIncomplete):
			return none, skip
		}
	}

	// 3. Success responses.
	if d.customSuccess != nil {
		body, n, err := d.customSuccess(buf)
		switch {
		case err == nil:
			return Frame{Kind: KindResponse, Result: ResultOk, Body: body}, skip + n
		case errors.Is(err, ErrIncomplete):
			return none, skip
		}
	}
	if f, n, ok := d.successResponse(buf); ok {
		return f, skip + n
	}

	// Prompts carry no terminator, so they are recognized only against the
	// very end of the buffer, as its first non-whitespace byte.
	if d.customPrompt != nil {
		p, n, err := d.customPrompt(buf)
		switch {
		case err == nil:
			return Frame{Kind: KindPrompt, Prompt: p}, skip + n
		case errors.Is(err, ErrIncomplete):
			return none, skip
		}
	}
	if f, n, ok := d.promptResponse(buf); ok {
		return f, skip + n
	}

	// 4. Error responses.
	if d.customError != nil {
		body, n, err := d.customError(buf)
		switch {
		case err == nil:
			return Frame{Kind: KindResponse, Result: ResultCustom, Code: body}, skip + n
		case errors.Is(err, ErrIncomplete):
			return none, skip
		}
	}
	if f, n, ok := d.errorResponse(buf); ok {
		return f, skip + n
	}

	// Recover from '<EOL> <garbage> <EOL> <valid frame>' by retrying past
	// the opening terminator; echo folding only consumes garbage before one.
	if bytes.HasPrefix(buf, d.eol) && len(buf) > 2*len(d.eol) {
		f, n := d.Digest(buf[len(d.eol):])
		if f.Kind != KindNone {
			return f, skip + len(d.eol) + n
		}
	}

	return none, skip
}

func (d *Digester) successResponse(buf []byte) (Frame, int, bool) {
	if i := bytes.Index(buf, d.okToken); i >= 0 {
		f := Frame{Kind: KindResponse, Result: ResultOk, Body: trimWhitespace(buf[:i])}
		return f, i + len(d.okToken), true
	}
	// CONNECT, bare or with speed parameters, is a success verdict.
	if i := bytes.Index(buf, d.connectToken); i >= 0 {
		rest := buf[i+len(d.connectToken):]
		switch {
		case bytes.HasPrefix(rest, d.eol):
			f := Frame{Kind: KindResponse, Result: ResultOk, Body: trimWhitespace(buf[:i])}
			return f, i + len(d.connectToken) + len(d.eol), true
		case len(rest) > 0 && rest[0] == ' ':
			if j := bytes.Index(rest, d.eol); j >= 0 {
				f := Frame{Kind: KindResponse, Result: ResultOk, Body: trimWhitespace(buf[:i]), Code: trimWhitespace(rest[:j])}
				return f, i + len(d.connectToken) + j + len(d.eol), true
			}
		}
	}
	return Frame{}, 0, false
}

func (d *Digester) promptResponse(buf []byte) (Frame, int, bool) {
	start := 0
	for start < len(buf) && isSpace(buf[start]) {
		start++
	}
	if start == len(buf) || bytes.IndexByte(d.prompts, buf[start]) < 0 {
		return Frame{}, 0, false
	}
	ws := start + 1
	for ws < len(buf) && isSpace(buf[ws]) {
		ws++
	}
	if ws != len(buf) {
		return Frame{}, 0, false
	}
	return Frame{Kind: KindPrompt, Prompt: buf[start]}, ws, true
}

func (d *Digester) errorResponse(buf []byte) (Frame, int, bool) {
	if code, n, ok := d.numericError(buf, d.cmeToken); ok {
		return Frame{Kind: KindResponse, Result: ResultCmeError, Code: code}, n, true
	}
	if code, n, ok := d.numericError(buf, d.cmsToken); ok {
		return Frame{Kind: KindResponse, Result: ResultCmsError, Code: code}, n, true
	}
	if msg, n, ok := d.textError(buf, d.cmeToken); ok {
		return Frame{Kind: KindResponse, Result: ResultCmeError, Code: msg}, n, true
	}
	if msg, n, ok := d.textError(buf, d.cmsToken); ok {
		return Frame{Kind: KindResponse, Result: ResultCmsError, Code: msg}, n, true
	}
	if code, n, ok := d.numericError(buf, d.modemToken); ok {
		return Frame{Kind: KindResponse, Result: ResultCmeError, Code: code}, n, true
	}
	for _, g := range d.genericErrs {
		if i := bytes.Index(buf, g.token); i >= 0 {
			f := Frame{Kind: KindResponse, Result: g.result, Body: trimWhitespace(buf[:i])}
			return f, i + len(g.token), true
		}
	}
	for _, token := range d.connTokens {
		if j := bytes.Index(buf, token); j >= 0 {
			f := Frame{
				Kind:   KindResponse,
				Result: ResultConnectionError,
				Body:   trimWhitespace(buf[:j]),
				Code:   trimWhitespace(token),
			}
			return f, j + len(token), true
		}
	}
	// Samsung Z810 reports not-available as a bare "NA".
	if bytes.HasPrefix(buf, d.naToken) {
		return Frame{Kind: KindResponse, Result: ResultCmeError, Code: buf[len(d.eol) : len(d.naToken)-len(d.eol)]}, len(d.naToken), true
	}
	return Frame{}, 0, false
}

// numericError matches "{token}\s*(\d+)<EOL>" anywhere in buf and returns
// the digits.
func (d *Digester) numericError(buf, token []byte) ([]byte, int, bool) {
	i := bytes.Index(buf, token)
	if i < 0 {
		return nil, 0, false
	}
	j := i + len(token)
	for j < len(buf) && isSpace(buf[j]) {
		j++
	}
	k := j
	for k < len(buf) && buf[k] >= '0' && buf[k] <= '9' {
		k++
	}
	if k == j {
		return nil, 0, false
	}
	le := lineEnding(buf[k:])
	if le == 0 {
		return nil, 0, false
	}
	return buf[j:k], k + le, true
}

// textError matches "{token}([^\r][^\r\n]*)?<EOL>" anywhere in buf and
// returns the trimmed message.
func (d *Digester) textError(buf, token []byte) ([]byte, int, bool) {
	i := bytes.Index(buf, token)
	if i < 0 {
		return nil, 0, false
	}
	after := buf[i+len(token):]
	if len(after) == 0 || after[0] == '\r' || after[0] == '\n' {
		return nil, 0, false
	}
	j := bytes.Index(after, d.eol)
	if j < 0 {
		return nil, 0, false
	}
	return trimWhitespace(after[:j]), i + len(token) + j + len(d.eol), true
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\r' || b == '\n'
}

func trimStartSpace(x []byte) []byte {
	for len(x) > 0 && x[0] == ' ' {
		x = x[1:]
	}
	return x
}

func trimWhitespace(x []byte) []byte {
	start := 0
	for start < len(x) && isSpace(x[start]) {
		start++
	}
	end := len(x)
	for end > start && isSpace(x[end-1]) {
		end--
	}
	return x[start:end]
}
