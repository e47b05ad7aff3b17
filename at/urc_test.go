package at_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FactbirdHQ/atat/at"
)

func TestPrefixMatcher(t *testing.T) {
	m := &at.PrefixMatcher{Tokens: []string{"+UUSORD", "RING"}}

	tests := []struct {
		name     string
		input    string
		urc      string
		consumed int
		err      error
	}{
		{"with params", "\r\n+UUSORD: 0,16\r\n", "+UUSORD: 0,16", 17, nil},
		{"bare token", "\r\nRING\r\n", "RING", 8, nil},
		{"trailing data stays", "\r\nRING\r\n\r\nRING\r\n", "RING", 8, nil},
		{"lf only terminator accepted in front", "\n+UUSORD: 1,2\r\n", "+UUSORD: 1,2", 15, nil},
		{"no front terminator", "+UUSORD: 0,16\r\n", "", 0, at.ErrNoMatch},
		{"other line", "\r\n+CSQ: 17,99\r\n", "", 0, at.ErrNoMatch},
		{"split token", "\r\n+UUS", "", 0, at.ErrIncomplete},
		{"token only", "\r\nRING", "", 0, at.ErrIncomplete},
		{"params not terminated", "\r\n+UUSORD: 0", "", 0, at.ErrNoMatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			urc, n, err := m.Match([]byte(tt.input))
			if tt.err != nil {
				require.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.urc, string(urc))
			assert.Equal(t, tt.consumed, n)
		})
	}
}

func TestPrefixMatcherOrder(t *testing.T) {
	// The first token whose frame is present but truncated wins, so a
	// split URC is never handed to the response classifiers.
	m := &at.PrefixMatcher{Tokens: []string{"+CMT", "+CMTI"}}

	urc, _, err := m.Match([]byte("\r\n+CMTI: \"SM\",1\r\n"))
	require.NoError(t, err)
	// "+CMT" is a prefix of "+CMTI" but the next byte is not ':' or CR,
	// so matching falls through to the longer token.
	assert.Equal(t, "+CMTI: \"SM\",1", string(urc))
}
