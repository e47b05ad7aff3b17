package modem

import (
	"log/slog"
	"time"

	"github.com/FactbirdHQ/atat/at"
)

// Config holds every policy the client and ingest loop run under. Use
// NewConfigBuilder to construct one; the zero value is not valid.
type Config struct {
	// Dialer opens the transport during New. Required.
	Dialer Dialer
	// Logger receives structured ingest and client events. Defaults to
	// slog.Default().
	Logger *slog.Logger

	// DefaultTimeout bounds commands that declare no timeout of their own.
	DefaultTimeout time.Duration
	// AbortTimeout bounds the wait for a terminal outcome after the abort
	// byte has been transmitted.
	AbortTimeout time.Duration
	// Cooldown is the pause enforced after every outcome before the next
	// command goes on the wire, letting buffered URCs arrive first. May be
	// zero.
	Cooldown time.Duration
	// RetryBackoff is slept between attempts of a retriable command.
	RetryBackoff time.Duration
	// ReadBackoff is slept after a transient transport read failure.
	ReadBackoff time.Duration

	// BufferCapacity sizes the ingest ring buffer. A response line longer
	// than this is a framing error.
	BufferCapacity int
	// URCCapacity is the number of URC frames the channel holds.
	URCCapacity int
	// URCFrameMax is the maximum size of a single URC frame.
	URCFrameMax int
	// URCOverflow selects the policy when the URC channel is full.
	URCOverflow OverflowPolicy

	// TerminatorRx is the line terminator the modem emits.
	TerminatorRx string
	// TerminatorTx is appended to raw command lines sent with SendRaw.
	TerminatorTx string
	// PromptBytes are the data-mode prompt sentinels.
	PromptBytes []byte

	// Matcher recognizes URCs ahead of response classification.
	Matcher at.Matcher
	// CustomSuccess, CustomError and CustomPrompt extend the digester's
	// grammar for manufacturer-specific final codes.
	CustomSuccess at.MatchFunc
	CustomError   at.MatchFunc
	CustomPrompt  at.PromptFunc

	// AbortOnTimeout transmits the abort byte when an abortable command
	// times out.
	AbortOnTimeout bool
	// AbortByte is the single byte transmitted to abort a running command.
	// Any non-terminator byte works per V.250.
	AbortByte byte
	// WaitForIdle queues Send calls behind the in-flight command instead
	// of failing them with ErrBusy.
	WaitForIdle bool
}

func (c *Config) validate() error {
	if c.Dialer == nil {
		return ErrNoDialer
	}
	return nil
}

// ConfigBuilder assembles a Config starting from the defaults, so explicit
// zero values (a zero cooldown, say) survive.
type ConfigBuilder struct {
	cfg Config
}

// NewConfigBuilder returns a builder primed with the default policies.
func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{cfg: Config{
		DefaultTimeout: time.Second,
		AbortTimeout:   time.Second,
		Cooldown:       20 * time.Millisecond,
		ReadBackoff:    100 * time.Millisecond,
		BufferCapacity: 1024,
		URCCapacity:    64,
		URCFrameMax:    256,
		URCOverflow:    DropNewest,
		TerminatorRx:   at.CRLF,
		TerminatorTx:   at.CRLF,
		PromptBytes:    []byte{'>', '@'},
		AbortOnTimeout: true,
		AbortByte:      0x1b,
	}}
}

func (b *ConfigBuilder) WithDialer(d Dialer) *ConfigBuilder {
	b.cfg.Dialer = d
	return b
}

func (b *ConfigBuilder) WithLogger(l *slog.Logger) *ConfigBuilder {
	b.cfg.Logger = l
	return b
}

func (b *ConfigBuilder) WithDefaultTimeout(d time.Duration) *ConfigBuilder {
	b.cfg.DefaultTimeout = d
	return b
}

func (b *ConfigBuilder) WithAbortTimeout(d time.Duration) *ConfigBuilder {
	b.cfg.AbortTimeout = d
	return b
}

func (b *ConfigBuilder) WithCooldown(d time.Duration) *ConfigBuilder {
	b.cfg.Cooldown = d
	return b
}

func (b *ConfigBuilder) WithRetryBackoff(d time.Duration) *ConfigBuilder {
	b.cfg.RetryBackoff = d
	return b
}

func (b *ConfigBuilder) WithReadBackoff(d time.Duration) *ConfigBuilder {
	b.cfg.ReadBackoff = d
	return b
}

func (b *ConfigBuilder) WithBufferCapacity(n int) *ConfigBuilder {
	b.cfg.BufferCapacity = n
	return b
}

func (b *ConfigBuilder) WithURCCapacity(n int) *ConfigBuilder {
	b.cfg.URCCapacity = n
	return b
}

func (b *ConfigBuilder) WithURCFrameMax(n int) *ConfigBuilder {
	b.cfg.URCFrameMax = n
	return b
}

func (b *ConfigBuilder) WithURCOverflow(p OverflowPolicy) *ConfigBuilder {
	b.cfg.URCOverflow = p
	return b
}

func (b *ConfigBuilder) WithTerminatorRx(t string) *ConfigBuilder {
	b.cfg.TerminatorRx = t
	return b
}

func (b *ConfigBuilder) WithTerminatorTx(t string) *ConfigBuilder {
	b.cfg.TerminatorTx = t
	return b
}

func (b *ConfigBuilder) WithPromptBytes(prompts ...byte) *ConfigBuilder {
	b.cfg.PromptBytes = prompts
	return b
}

func (b *ConfigBuilder) WithMatcher(m at.Matcher) *ConfigBuilder {
	b.cfg.Matcher = m
	return b
}

func (b *ConfigBuilder) WithCustomSuccess(f at.MatchFunc) *ConfigBuilder {
	b.cfg.CustomSuccess = f
	return b
}

func (b *ConfigBuilder) WithCustomError(f at.MatchFunc) *ConfigBuilder {
	b.cfg.CustomError = f
	return b
}

func (b *ConfigBuilder) WithCustomPrompt(f at.PromptFunc) *ConfigBuilder {
	b.cfg.CustomPrompt = f
	return b
}

func (b *ConfigBuilder) WithAbortOnTimeout(on bool) *ConfigBuilder {
	b.cfg.AbortOnTimeout = on
	return b
}

func (b *ConfigBuilder) WithAbortByte(a byte) *ConfigBuilder {
	b.cfg.AbortByte = a
	return b
}

func (b *ConfigBuilder) WithWaitForIdle(on bool) *ConfigBuilder {
	b.cfg.WaitForIdle = on
	return b
}

// Build validates the configuration.
func (b *ConfigBuilder) Build() (Config, error) {
	if err := b.cfg.validate(); err != nil {
		return Config{}, err
	}
	return b.cfg, nil
}
