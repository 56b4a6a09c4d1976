// Package plug adapts a declared plug URL (spawned subprocess or
// remote websocket) to a uniform pair of binary message halves: a
// Stream to read from and a Sink to write to.
package plug

import (
	"context"
	"fmt"
	"net/url"
)

// Sink accepts binary messages destined for a plug.
type Sink interface {
	// Send delivers a single message. It blocks until the message has
	// been handed to the transport (backpressure is inherited from the
	// transport: a slow sink blocks its caller, which is how the link
	// forwarder's "no internal queue" behavior comes about).
	Send(ctx context.Context, msg []byte) error
	// Close signals end-of-input to the plug.
	Close() error
}

// Stream yields binary messages produced by a plug. Next returns
// io.EOF when the plug's output has ended.
type Stream interface {
	Next(ctx context.Context) ([]byte, error)
}

// Backend is the process or connection underlying a plug handle.
type Backend interface {
	// Wait resolves when the plug has exited naturally. For remote
	// sockets this resolves immediately: there is no process to wait
	// for.
	Wait(ctx context.Context) error
	// Kill force-terminates the plug. Best-effort for sockets.
	Kill() error
}

// Handle is everything the orchestrator needs from one connected plug:
// its backend (for shutdown) and its sink/stream halves.
type Handle struct {
	Name    string
	Backend Backend
	Sink    Sink
	Stream  Stream
}

// ConnectError wraps any transport failure encountered while bringing
// a plug up, with the offending plug name attached.
type ConnectError struct {
	Name  string
	Cause error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connecting plug %q: %v", e.Name, e.Cause)
}

func (e *ConnectError) Unwrap() error { return e.Cause }

// SpawnError wraps a subprocess launch failure, with the offending
// plug name attached.
type SpawnError struct {
	Name  string
	Cause error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawning plug %q: %v", e.Name, e.Cause)
}

func (e *SpawnError) Unwrap() error { return e.Cause }

// BadURLError reports a plug URL that is syntactically valid but
// violates scheme-specific constraints (e.g. an exec: URL carrying
// userinfo, host, a port, a query, or a fragment).
type BadURLError struct {
	Name   string
	Scheme string
	Reason string
}

func (e *BadURLError) Error() string {
	return fmt.Sprintf("plug %q: bad %s url: %s", e.Name, e.Scheme, e.Reason)
}

// UnsupportedSchemeError reports a plug URL whose scheme is none of
// exec, ws, wss.
type UnsupportedSchemeError struct {
	Name   string
	Scheme string
}

func (e *UnsupportedSchemeError) Error() string {
	return fmt.Sprintf("plug %q: unsupported scheme %q", e.Name, e.Scheme)
}

// Connect brings up the plug named name at the given URL, returning a
// live Handle or a *ConnectError / *SpawnError / *BadURLError /
// *UnsupportedSchemeError.
func Connect(ctx context.Context, name string, u *url.URL) (*Handle, error) {
	switch u.Scheme {
	case "exec":
		return connectExec(ctx, name, u)
	case "ws", "wss":
		return connectWS(ctx, name, u)
	default:
		return nil, &UnsupportedSchemeError{Name: name, Scheme: u.Scheme}
	}
}
