package modem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/FactbirdHQ/atat/at"
)

// Loop is the ingest task. It must be running (typically in its own
// goroutine) before Send calls can complete: it is the ONLY reader of the
// transport, feeding the digester and dispatching classified frames to the
// URC channel or the response slot.
//
// Loop runs until the context is cancelled or the transport reaches EOF /
// is closed. A transient read error fails the in-flight command, is logged,
// and the loop keeps going after a short backoff.
//
// Usage:
//
//	client, err := modem.New(ctx, config)
//	if err != nil { return err }
//	go client.Loop(ctx)
//
//	resp, err := client.SendRaw(ctx, "AT")
func (c *Client) Loop(ctx context.Context) error {
	if !c.loopRunning.CompareAndSwap(false, true) {
		return ErrLoopRunning
	}
	defer c.loopRunning.Store(false)

	buf := at.NewBuffer(c.cfg.BufferCapacity)
	chunks := make(chan []byte, 4)
	fatal := make(chan error, 1)

	rctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go c.readLoop(rctx, chunks, fatal)

	for {
		select {
		case <-ctx.Done():
			c.slot.fail(ctx.Err())
			return ctx.Err()

		case err := <-fatal:
			c.slot.fail(&IOError{Op: "read", Err: err})
			if errors.Is(err, io.EOF) || c.closed.Load() {
				return io.EOF
			}
			return fmt.Errorf("transport read: %w", err)

		case chunk := <-chunks:
			for len(chunk) > 0 {
				n := min(len(chunk), buf.Free())
				if n > 0 {
					buf.Write(chunk[:n])
					chunk = chunk[n:]
				}
				c.digestAll(ctx, buf)
				if buf.Free() == 0 {
					// Full with no complete frame: the line cannot ever
					// terminate within capacity.
					c.logger.Error("ingest buffer overflow before terminator", "capacity", buf.Cap())
					c.slot.fail(fmt.Errorf("%w: buffer overflow before terminator", ErrParse))
					buf.Reset()
				}
			}
		}
	}
}

// digestAll runs the digester until it needs more bytes, dispatching every
// classified frame. Frames reference the buffer window, so dispatch happens
// before the consumed prefix is discarded.
func (c *Client) digestAll(ctx context.Context, buf *at.Buffer) {
	for {
		frame, n := c.digester.Digest(buf.Window())
		if frame.Kind == at.KindNone {
			if n == 0 {
				return
			}
			buf.Discard(n)
			continue
		}
		c.dispatch(ctx, frame)
		buf.Discard(n)
	}
}

func (c *Client) dispatch(ctx context.Context, f at.Frame) {
	switch f.Kind {
	case at.KindURC:
		c.logger.Debug("urc received", "urc", string(f.Body))
		c.urc.publish(ctx, f.Body)

	case at.KindPrompt:
		if c.slot.publish(outcome{prompt: f.Prompt}) {
			c.logger.Debug("prompt received", "prompt", string(f.Prompt))
		} else {
			c.logger.Warn("stray prompt discarded", "prompt", string(f.Prompt))
		}

	case at.KindResponse:
		out := outcome{err: resultError(f)}
		if out.err == nil && len(f.Body) > 0 {
			out.body = make([]byte, len(f.Body))
			copy(out.body, f.Body)
		}
		if c.slot.publish(out) {
			if out.err != nil {
				c.logger.Debug("error response received", "result", f.Result.String(), "code", string(f.Code))
			} else if len(out.body) == 0 {
				c.logger.Debug("OK received")
			} else {
				c.logger.Debug("response received", "body", string(out.body))
			}
		} else {
			c.logger.Warn("stray final code discarded", "result", f.Result.String())
		}
	}
}

// resultError maps a response frame's verdict onto the error taxonomy.
func resultError(f at.Frame) error {
	switch f.Result {
	case at.ResultOk:
		return nil
	case at.ResultError:
		return ErrError
	case at.ResultAborted:
		return ErrAborted
	case at.ResultCmeError:
		return &CmeError{Code: string(f.Code)}
	case at.ResultCmsError:
		return &CmsError{Code: string(f.Code)}
	case at.ResultConnectionError:
		return &ConnectionError{Verdict: string(f.Code)}
	case at.ResultCustom:
		return &CustomError{Msg: string(f.Code)}
	}
	return ErrParse
}

// readLoop pulls bytes off the transport and hands copies to Loop. EOF and
// reads failing after Close are fatal; other errors fail the in-flight
// command and reading resumes after a backoff.
func (c *Client) readLoop(ctx context.Context, chunks chan<- []byte, fatal chan<- error) {
	scratch := make([]byte, 256)
	for {
		n, err := c.transport.Read(scratch)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, scratch[:n])
			select {
			case chunks <- chunk:
			case <-ctx.Done():
				return
			}
		}
		switch {
		case err == nil:
			if n == 0 {
				// Zero-byte read with no error; avoid spinning.
				if !sleepCtx(ctx, c.cfg.ReadBackoff) {
					return
				}
			}
		case errors.Is(err, io.EOF), c.closed.Load(), ctx.Err() != nil:
			select {
			case fatal <- err:
			default:
			}
			return
		default:
			c.logger.Warn("transport read failed", "error", err)
			c.slot.fail(&IOError{Op: "read", Err: err})
			if !sleepCtx(ctx, c.cfg.ReadBackoff) {
				return
			}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
