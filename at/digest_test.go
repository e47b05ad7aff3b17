package at_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FactbirdHQ/atat/at"
)

func testMatcher() at.Matcher {
	return &at.PrefixMatcher{Tokens: []string{"+UUSORD", "+CIEV", "+CMTI"}}
}

func TestDigestEchoFolding(t *testing.T) {
	d := at.NewDigester()

	tests := []struct {
		name     string
		input    string
		consumed int
	}{
		{"bare terminator", "\r\n", 0},
		{"lone cr", "\r", 0},
		{"lone lf", "\n", 0},
		{"ends with cr only", "this string ends just with <CR>\r", 0},
		{"terminator then partial", "\r\nthis is valid", 0},
		{"one byte echo", "a\r\nthis is valid", 1},
		{"full line echo", "all this string is to be considered echo\r\nthis is valid", 40},
		{"echo before empty line", "a\r\n", 1},
		{"leading spaces", "   \r\npartial", 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, n := d.Digest([]byte(tt.input))
			assert.Equal(t, at.KindNone, frame.Kind)
			assert.Equal(t, tt.consumed, n)
		})
	}
}

func TestDigestSuccess(t *testing.T) {
	d := at.NewDigester(at.WithMatcher(testMatcher()))

	tests := []struct {
		name     string
		input    string
		body     string
		code     string
		consumed int
	}{
		{"bare ok", "\r\nOK\r\n", "", "", 6},
		{"ok with echo", "AT\r\r\nOK\r\n", "", "", 9},
		{"single line response", "AT+CSQ\r\r\n+CSQ: 17,99\r\n\r\nOK\r\n", "+CSQ: 17,99", "", 28},
		{"multi line response", "ATI\r\r\nQuectel\r\nBG96\r\n\r\nOK\r\n", "Quectel\r\nBG96", "", 27},
		{"no echo response", "\r\n+CGMI: u-blox\r\n\r\nOK\r\n", "+CGMI: u-blox", "", 23},
		{"connect", "ATD*99#\r\r\nCONNECT\r\n", "", "", 19},
		{"connect with speed", "ATD*99#\r\r\nCONNECT 115200\r\n", "", "115200", 26},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, n := d.Digest([]byte(tt.input))
			require.Equal(t, at.KindResponse, frame.Kind)
			assert.Equal(t, at.ResultOk, frame.Result)
			assert.Equal(t, tt.body, string(frame.Body))
			assert.Equal(t, tt.code, string(frame.Code))
			assert.Equal(t, tt.consumed, n)
		})
	}
}

func TestDigestErrors(t *testing.T) {
	d := at.NewDigester(at.WithMatcher(testMatcher()))

	tests := []struct {
		name     string
		input    string
		result   at.Result
		code     string
		consumed int
	}{
		{"bare error", "\r\nERROR\r\n", at.ResultError, "", 9},
		{"error with trailing data", "\r\nERROR\r\n\r\noooops\r\n", at.ResultError, "", 9},
		{"aborted", "\r\nABORTED\r\n", at.ResultAborted, "", 11},
		{"command not support", "\r\nCOMMAND NOT SUPPORT\r\n", at.ResultError, "", 23},
		{"cme numeric", "\r\n+CME ERROR: 112\r\n", at.ResultCmeError, "112", 19},
		{"cme numeric after echo", "AT+CFUN=1\r\r\n+CME ERROR: 100\r\n", at.ResultCmeError, "100", 29},
		{"cme text", "\r\n+CME ERROR: raspberry\r\n", at.ResultCmeError, "raspberry", 25},
		{"cme empty text", "\r\n+CME ERROR: \r\n", at.ResultCmeError, "", 16},
		{"cms numeric", "\r\n+CMS ERROR: 332\r\n", at.ResultCmsError, "332", 19},
		{"cms text", "\r\n+CMS ERROR: bananas\r\n", at.ResultCmsError, "bananas", 23},
		{"modem error", "\r\nMODEM ERROR: 5\r\n", at.ResultCmeError, "5", 18},
		{"samsung na", "\r\nNA\r\n", at.ResultCmeError, "NA", 6},
		{"no carrier", "\r\nNO CARRIER\r\n", at.ResultConnectionError, "NO CARRIER", 14},
		{"no carrier with trailing data", "\r\nNO CARRIER\r\n\r\nSomething extra\r\n", at.ResultConnectionError, "NO CARRIER", 14},
		{"busy", "\r\nBUSY\r\n", at.ResultConnectionError, "BUSY", 8},
		{"no answer", "\r\nNO ANSWER\r\n", at.ResultConnectionError, "NO ANSWER", 13},
		{"no dialtone", "\r\nNO DIALTONE\r\n", at.ResultConnectionError, "NO DIALTONE", 15},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, n := d.Digest([]byte(tt.input))
			require.Equal(t, at.KindResponse, frame.Kind)
			assert.Equal(t, tt.result, frame.Result)
			assert.Equal(t, tt.code, string(frame.Code))
			assert.Equal(t, tt.consumed, n)
		})
	}
}

func TestDigestNoMatch(t *testing.T) {
	d := at.NewDigester(at.WithMatcher(testMatcher()))

	// Complete lines that match nothing stay buffered as pending
	// information text until a final code arrives.
	tests := []string{
		"\r\nUNKNOWN COMMAND\r\n",
		"\r\n+CME ERROR:\r\n",
		"\r\nMODEM ERROR: apple\r\n",
		"\r\nMODEM ERROR: \r\n",
	}

	for _, input := range tests {
		t.Run(input, func(t *testing.T) {
			frame, n := d.Digest([]byte(input))
			assert.Equal(t, at.KindNone, frame.Kind)
			assert.Equal(t, 0, n)
		})
	}
}

func TestDigestURC(t *testing.T) {
	d := at.NewDigester(at.WithMatcher(testMatcher()))

	tests := []struct {
		name     string
		input    string
		urc      string
		consumed int
	}{
		{"urc with params", "\r\n+UUSORD: 0,16\r\n", "+UUSORD: 0,16", 17},
		{"bare urc", "\r\n+CIEV\r\n", "+CIEV", 9},
		{"urc before response", "\r\n+CMTI: \"SM\",1\r\n\r\nOK\r\n", "+CMTI: \"SM\",1", 17},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, n := d.Digest([]byte(tt.input))
			require.Equal(t, at.KindURC, frame.Kind)
			assert.Equal(t, tt.urc, string(frame.Body))
			assert.Equal(t, tt.consumed, n)
		})
	}
}

func TestDigestURCIncomplete(t *testing.T) {
	d := at.NewDigester(at.WithMatcher(testMatcher()))

	// A split URC must never be misread as information text.
	for _, input := range []string{"\r\n+UUS", "\r\n+UUSORD", "\r\n+UUSORD: 0,1"} {
		t.Run(input, func(t *testing.T) {
			frame, n := d.Digest([]byte(input))
			assert.Equal(t, at.KindNone, frame.Kind)
			assert.Equal(t, 0, n)
		})
	}
}

func TestDigestPrompt(t *testing.T) {
	d := at.NewDigester()

	tests := []struct {
		name     string
		input    string
		prompt   byte
		consumed int
	}{
		{"bare gt", "\r\n> ", '>', 4},
		{"at sign", "AT+USOWR=0,4\r\r\n@ ", '@', 17},
		{"gt without space", "\r\n>", '>', 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, n := d.Digest([]byte(tt.input))
			require.Equal(t, at.KindPrompt, frame.Kind)
			assert.Equal(t, tt.prompt, frame.Prompt)
			assert.Equal(t, tt.consumed, n)
		})
	}
}

func TestDigestCustomHooks(t *testing.T) {
	t.Run("custom success", func(t *testing.T) {
		d := at.NewDigester(at.WithCustomSuccess(func(buf []byte) ([]byte, int, error) {
			token := []byte("\r\nSHUTDOWN OK\r\n")
			if len(buf) >= len(token) && string(buf[:len(token)]) == string(token) {
				return nil, len(token), nil
			}
			return nil, 0, at.ErrNoMatch
		}))

		frame, n := d.Digest([]byte("\r\nSHUTDOWN OK\r\n"))
		require.Equal(t, at.KindResponse, frame.Kind)
		assert.Equal(t, at.ResultOk, frame.Result)
		assert.Equal(t, 15, n)
	})

	t.Run("custom error", func(t *testing.T) {
		d := at.NewDigester(at.WithCustomError(func(buf []byte) ([]byte, int, error) {
			token := []byte("\r\n+USOCR: fault\r\n")
			if len(buf) >= len(token) && string(buf[:len(token)]) == string(token) {
				return buf[2 : len(token)-2], len(token), nil
			}
			return nil, 0, at.ErrNoMatch
		}))

		frame, n := d.Digest([]byte("\r\n+USOCR: fault\r\n"))
		require.Equal(t, at.KindResponse, frame.Kind)
		assert.Equal(t, at.ResultCustom, frame.Result)
		assert.Equal(t, "+USOCR: fault", string(frame.Code))
		assert.Equal(t, 17, n)
	})
}

func TestDigestGarbageRecovery(t *testing.T) {
	d := at.NewDigester(at.WithMatcher(testMatcher()))

	// Garbage between terminators must not mask a following URC.
	frame, n := d.Digest([]byte("\r\n#!garbage\r\n+UUSORD: 3,16\r\n"))
	require.Equal(t, at.KindURC, frame.Kind)
	assert.Equal(t, "+UUSORD: 3,16", string(frame.Body))
	assert.Equal(t, 28, n)
}

func TestDigestAlternateLineEnding(t *testing.T) {
	d := at.NewDigester(at.WithLineEnding("\n\r"))

	frame, n := d.Digest([]byte("\n\r+CSQ: 9,99\n\r\n\rOK\n\r"))
	require.Equal(t, at.KindResponse, frame.Kind)
	assert.Equal(t, at.ResultOk, frame.Result)
	assert.Equal(t, "+CSQ: 9,99", string(frame.Body))
	assert.Equal(t, 20, n)
}

// collectFrames pushes the trace through a bounded buffer in chunks of the
// given size and records every classification the digester emits.
func collectFrames(t *testing.T, d *at.Digester, trace []byte, chunk int) []at.Frame {
	t.Helper()
	buf := at.NewBuffer(256)
	var frames []at.Frame

	feed := func() {
		for {
			frame, n := d.Digest(buf.Window())
			if frame.Kind == at.KindNone {
				if n == 0 {
					return
				}
				buf.Discard(n)
				continue
			}
			// Copy the views; they die with the next Discard.
			cp := frame
			cp.Body = append([]byte(nil), frame.Body...)
			cp.Code = append([]byte(nil), frame.Code...)
			frames = append(frames, cp)
			buf.Discard(n)
		}
	}

	for off := 0; off < len(trace); off += chunk {
		end := min(off+chunk, len(trace))
		_, err := buf.Write(trace[off:end])
		require.NoError(t, err)
		feed()
	}
	return frames
}

func TestDigestFragmentationInvariance(t *testing.T) {
	trace := []byte("AT+CSQ\r\r\n+CSQ: 17,99\r\n\r\nOK\r\n" +
		"\r\n+UUSORD: 0,16\r\n" +
		"AT\r\r\nOK\r\n" +
		"\r\n+CIEV\r\n" +
		"AT+CFUN=1\r\r\n+CME ERROR: 100\r\n" +
		"ATD123;\r\r\nNO CARRIER\r\n")

	d := at.NewDigester(at.WithMatcher(testMatcher()))
	want := collectFrames(t, d, trace, len(trace))

	require.Len(t, want, 6)

	for chunk := 1; chunk <= 16; chunk++ {
		got := collectFrames(t, d, trace, chunk)
		require.Equal(t, len(want), len(got), "chunk size %d", chunk)
		for i := range want {
			assert.Equal(t, want[i].Kind, got[i].Kind, "chunk size %d frame %d", chunk, i)
			assert.Equal(t, want[i].Result, got[i].Result, "chunk size %d frame %d", chunk, i)
			assert.Equal(t, string(want[i].Body), string(got[i].Body), "chunk size %d frame %d", chunk, i)
			assert.Equal(t, string(want[i].Code), string(got[i].Code), "chunk size %d frame %d", chunk, i)
		}
	}
}
