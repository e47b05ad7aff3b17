package modem

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/FactbirdHQ/atat/at"
)

// Client is the request/response half of the AT runtime. It serializes one
// in-flight command at a time, writes it to the transport, and waits on the
// response slot for the outcome the ingest loop publishes. Unsolicited
// result codes flow past it into the URC channel.
//
// The client owns the transport's write half; the ingest loop (Loop) owns
// the read half. The response slot is the only state they share.
type Client struct {
	transport Transport
	cfg       Config
	digester  *at.Digester
	slot      responseSlot
	urc       *urcChannel
	logger    *slog.Logger

	// sendMu serializes Send callers; the slot still guards against any
	// out-of-band producer.
	sendMu  sync.Mutex
	scratch []byte

	cooldownMu    sync.Mutex
	cooldownUntil time.Time

	closed      atomic.Bool
	loopRunning atomic.Bool
}

// Stats are the runtime's drop counters. None of these ever loses an event
// silently: every discarded frame lands in exactly one of them.
type Stats struct {
	// URCDropped counts URC frames lost to the overflow policy.
	URCDropped uint32
	// Cancelled counts outcomes that arrived after the client withdrew.
	Cancelled uint32
	// Stray counts final codes and prompts seen with no command in flight.
	Stray uint32
}

// New dials the transport and returns a ready client. Loop must be started
// before the first Send.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	transport, err := cfg.Dialer.Dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial transport: %w", err)
	}

	opts := []at.DigestOption{
		at.WithLineEnding(cfg.TerminatorRx),
		at.WithPromptBytes(cfg.PromptBytes...),
	}
	if cfg.Matcher != nil {
		opts = append(opts, at.WithMatcher(cfg.Matcher))
	}
	if cfg.CustomSuccess != nil {
		opts = append(opts, at.WithCustomSuccess(cfg.CustomSuccess))
	}
	if cfg.CustomError != nil {
		opts = append(opts, at.WithCustomError(cfg.CustomError))
	}
	if cfg.CustomPrompt != nil {
		opts = append(opts, at.WithCustomPrompt(cfg.CustomPrompt))
	}

	logger := cfg.Logger
	return &Client{
		transport: transport,
		cfg:       cfg,
		digester:  at.NewDigester(opts...),
		urc:       newURCChannel(cfg.URCCapacity, cfg.URCFrameMax, cfg.URCOverflow, logger.With("component", "urc")),
		logger:    logger,
		scratch:   make([]byte, 0, 128),
	}, nil
}

// URC returns the channel of unsolicited result codes. Frames are owned by
// the receiver. The channel may drop frames per the configured overflow
// policy; Stats().URCDropped counts them.
func (c *Client) URC() <-chan []byte {
	return c.urc.C()
}

// Stats returns the current drop counters.
func (c *Client) Stats() Stats {
	return Stats{
		URCDropped: c.urc.Dropped(),
		Cancelled:  c.slot.cancelled.Load(),
		Stray:      c.slot.stray.Load(),
	}
}

// Send transmits cmd and waits for its outcome. The returned body is the
// concatenated information text between echo and final code, terminators
// normalized; it is owned by the caller.
//
// Retriable failures are repeated up to the command's attempt count with
// the configured backoff.
func (c *Client) Send(ctx context.Context, cmd Command) ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}

	attempts := cmd.Attempts()
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			c.logger.Debug("retrying command", "attempt", attempt)
			if !sleepCtx(ctx, c.cfg.RetryBackoff) {
				return nil, ctx.Err()
			}
		}
		body, err := c.sendOnce(ctx, cmd)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !Retriable(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

// SendRaw transmits a literal command line (terminator appended) and
// returns the response body as a string.
func (c *Client) SendRaw(ctx context.Context, cmd string) (string, error) {
	body, err := c.Send(ctx, Raw{Cmd: cmd, Terminator: c.cfg.TerminatorTx})
	return string(body), err
}

// SendData transmits a data-mode payload after a prompt, with no
// terminator, and waits for the final code of the originating command.
func (c *Client) SendData(ctx context.Context, data []byte, timeout time.Duration) ([]byte, error) {
	return c.Send(ctx, payload{data: data, timeout: timeout})
}

func (c *Client) sendOnce(ctx context.Context, cmd Command) ([]byte, error) {
	if c.cfg.WaitForIdle {
		c.sendMu.Lock()
	} else if !c.sendMu.TryLock() {
		return nil, ErrBusy
	}
	defer c.sendMu.Unlock()

	if !c.waitCooldown(ctx) {
		return nil, ctx.Err()
	}

	if err := c.slot.acquire(); err != nil {
		return nil, err
	}

	timeout := cmd.Timeout()
	if timeout <= 0 {
		timeout = c.cfg.DefaultTimeout
	}
	deadline := time.Now().Add(timeout)

	if need := cmd.MaxLen(); cap(c.scratch) < need {
		c.scratch = make([]byte, 0, need)
	}
	wire := cmd.AppendWire(c.scratch[:0])
	if len(wire) < 64 {
		c.logger.Debug("sending command", "wire", string(wire))
	} else {
		c.logger.Debug("sending command with long payload", "len", len(wire))
	}

	if err := c.writeAll(ctx, wire, deadline); err != nil {
		c.slot.release()
		return nil, err
	}

	if !cmd.ExpectsResponse() {
		c.slot.release()
		c.startCooldown()
		return nil, nil
	}

	out, err := c.await(ctx, cmd, deadline)
	c.startCooldown()
	if err != nil {
		return nil, err
	}
	if out.err != nil {
		return nil, out.err
	}
	if p, ok := cmd.(ResponseParser); ok && out.prompt == 0 {
		if perr := p.Parse(out.body); perr != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, perr)
		}
	}
	return out.body, nil
}

// await blocks until the slot holds this command's outcome or the deadline
// expires. A data-mode prompt counts as a successful, empty outcome.
func (c *Client) await(ctx context.Context, cmd Command, deadline time.Time) (outcome, error) {
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case <-c.slot.readyCh():
		return c.slot.consume(), nil

	case <-ctx.Done():
		c.slot.cancel()
		return outcome{}, ctx.Err()

	case <-timer.C:
		// Prefer an outcome that raced with the deadline.
		if out, ok := c.slot.tryConsume(); ok {
			return out, nil
		}
		if cmd.Abortable() && c.cfg.AbortOnTimeout {
			return c.abortPending(ctx)
		}
		c.slot.cancel()
		return outcome{}, ErrTimeout
	}
}

// abortPending transmits the abort byte and waits up to the abort timeout
// for a terminal outcome, typically ABORTED.
func (c *Client) abortPending(ctx context.Context) (outcome, error) {
	c.logger.Debug("command timed out, transmitting abort byte")
	if _, err := c.transport.Write([]byte{c.cfg.AbortByte}); err != nil {
		c.slot.cancel()
		return outcome{}, &IOError{Op: "write", Err: err}
	}

	timer := time.NewTimer(c.cfg.AbortTimeout)
	defer timer.Stop()
	select {
	case <-c.slot.readyCh():
		return c.slot.consume(), nil
	case <-ctx.Done():
		c.slot.cancel()
		return outcome{}, ctx.Err()
	case <-timer.C:
		c.slot.cancel()
		return outcome{}, ErrTimeout
	}
}

// Abort transmits the abort byte for the command currently in flight. On an
// idle client it is a no-op.
func (c *Client) Abort() error {
	if c.closed.Load() {
		return ErrClosed
	}
	if c.slot.idle() {
		return nil
	}
	if _, err := c.transport.Write([]byte{c.cfg.AbortByte}); err != nil {
		return &IOError{Op: "write", Err: err}
	}
	return nil
}

// writeAll pushes the whole wire image to the transport, retrying partial
// writes until the deadline.
func (c *Client) writeAll(ctx context.Context, p []byte, deadline time.Time) error {
	for len(p) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !time.Now().Before(deadline) {
			return ErrWriteTimeout
		}
		n, err := c.transport.Write(p)
		p = p[n:]
		if err != nil {
			return &IOError{Op: "write", Err: err}
		}
	}
	return nil
}

func (c *Client) startCooldown() {
	if c.cfg.Cooldown <= 0 {
		return
	}
	c.cooldownMu.Lock()
	c.cooldownUntil = time.Now().Add(c.cfg.Cooldown)
	c.cooldownMu.Unlock()
}

// waitCooldown sleeps off the remainder of the post-response cooldown so
// buffered URCs drain before the next command hits the wire.
func (c *Client) waitCooldown(ctx context.Context) bool {
	c.cooldownMu.Lock()
	remaining := time.Until(c.cooldownUntil)
	c.cooldownMu.Unlock()
	if remaining <= 0 {
		return ctx.Err() == nil
	}
	return sleepCtx(ctx, remaining)
}

// Close shuts down the client and closes the transport, which unblocks the
// ingest loop's pending read.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	return c.transport.Close()
}
