// Package link implements the per-link forwarder: a concurrent copy
// from one plug's stream to another plug's sink, with cooperative
// termination on a shared quit signal and optional traffic recording.
package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/arkedge/patchbay/plug"
)

// Recorder is the optional per-link traffic recording sink. It mirrors
// dump.Recorder without this package depending on the dump package
// directly, keeping the forwarding loop ignorant of the on-disk
// format.
type Recorder interface {
	Write(payload []byte) error
	Close() error
}

// ForwardError reports an in-flight I/O failure on one side of a link.
// It is not fatal to the process by itself — the orchestrator treats
// it as the trigger for an orderly, global shutdown (spec §7).
type ForwardError struct {
	Source string
	Dest   string
	Side   string // "source" or "dest"
	Cause  error
}

func (e *ForwardError) Error() string {
	return fmt.Sprintf("link %s->%s: %s error: %v", e.Source, e.Dest, e.Side, e.Cause)
}

func (e *ForwardError) Unwrap() error { return e.Cause }

// Result is what a link hands back once it stops forwarding: its
// source/dest names, both taken halves (for the registry to reclaim),
// and the error that ended it, if any.
type Result struct {
	SourceName   string
	SourceStream plug.Stream
	DestName     string
	DestSink     plug.Sink
	Err          error
}

// Forward runs one link's Forwarding -> Draining -> Returned state
// machine until quit fires, the source ends, or either side errors.
// It never returns an error itself: failures are reported on Result.Err
// so the caller can always reclaim both halves regardless of outcome.
func Forward(ctx context.Context, logger *slog.Logger, sourceName string, stream plug.Stream, destName string, sink plug.Sink, quit <-chan struct{}, recorder Recorder) Result {
	result := Result{SourceName: sourceName, SourceStream: stream, DestName: destName, DestSink: sink}

	for {
		msg, err := nextOrQuit(ctx, stream, quit)
		if err == errQuit {
			break
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			logger.Warn("link source error", "source", sourceName, "dest", destName, "err", err)
			result.Err = &ForwardError{Source: sourceName, Dest: destName, Side: "source", Cause: err}
			break
		}

		if recorder != nil {
			if err := recorder.Write(msg); err != nil {
				logger.Warn("link recorder error", "source", sourceName, "dest", destName, "err", err)
				break
			}
		}

		if err := sink.Send(ctx, msg); err != nil {
			logger.Warn("link dest error", "source", sourceName, "dest", destName, "err", err)
			result.Err = &ForwardError{Source: sourceName, Dest: destName, Side: "dest", Cause: err}
			break
		}
	}

	if recorder != nil {
		if err := recorder.Close(); err != nil {
			logger.Warn("link recorder close error", "source", sourceName, "dest", destName, "err", err)
		}
	}

	// The sink is deliberately not closed here: shutdown closes every
	// plug's sink in a uniform order (spec §4.5).
	return result
}

var errQuit = errors.New("link: quit signal observed")

// nextOrQuit races the next message from stream against the quit
// signal and ctx cancellation, as spec §4.5 requires: if either fires
// first, the link breaks without waiting for the pending read. That
// read keeps running in the background; a message it later returns is
// discarded.
func nextOrQuit(ctx context.Context, stream plug.Stream, quit <-chan struct{}) ([]byte, error) {
	type result struct {
		msg []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		msg, err := stream.Next(ctx)
		done <- result{msg, err}
	}()

	select {
	case <-quit:
		return nil, errQuit
	case <-ctx.Done():
		return nil, errQuit
	case r := <-done:
		return r.msg, r.err
	}
}
