// Package registry holds the orchestrator's keyed store of connected
// plug handles, mediating the ownership hand-off of sink/stream halves
// to links and collecting them back on shutdown.
//
// A Registry is owned by a single goroutine — the orchestrator — for
// its entire lifetime; the mutex here only guards against the
// concurrent close_and_wait fan-out at shutdown, not against use from
// multiple unrelated goroutines (spec §5).
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/arkedge/patchbay/plug"
)

// entry holds one plug's handle plus its two takeable halves. A nil
// slot means either "never filled" or "taken and not yet returned".
type entry struct {
	handle *plug.Handle
	sink   plug.Sink
	stream plug.Stream
}

// Registry is the orchestrator's map from plug name to connected
// handle.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	order   []string // insertion order, for deterministic close fan-out logging
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Insert adds a newly connected plug's handle to the registry. Must be
// called at most once per plug name.
func (r *Registry) Insert(h *plug.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[h.Name]; exists {
		panic(fmt.Sprintf("registry: plug %q inserted twice", h.Name))
	}
	r.entries[h.Name] = &entry{handle: h, sink: h.Sink, stream: h.Stream}
	r.order = append(r.order, h.Name)
}

// TakeStream removes and returns the stream half of the named plug.
// The second return value is false if the plug is unknown or its
// stream has already been taken.
func (r *Registry) TakeStream(name string) (plug.Stream, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[name]
	if !ok || e.stream == nil {
		return nil, false
	}
	s := e.stream
	e.stream = nil
	return s, true
}

// TakeSink removes and returns the sink half of the named plug. The
// second return value is false if the plug is unknown or its sink has
// already been taken.
func (r *Registry) TakeSink(name string) (plug.Sink, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[name]
	if !ok || e.sink == nil {
		return nil, false
	}
	s := e.sink
	e.sink = nil
	return s, true
}

// Returned is what a link hands back once it stops forwarding: its
// taken halves, addressed by the plug names they came from.
type Returned struct {
	SourceName   string
	SourceStream plug.Stream
	DestName     string
	DestSink     plug.Sink
}

// ReturnLink moves a finished link's halves back into their original
// slots. It panics on a name mismatch or an already-filled slot: both
// indicate a framework bug (a link built from a half that didn't come
// from this registry, or returned twice), never a user error — see
// spec §4.4 / DESIGN NOTES "Panics-as-bugs".
func (r *Registry) ReturnLink(ret Returned) {
	r.mu.Lock()
	defer r.mu.Unlock()

	src, ok := r.entries[ret.SourceName]
	if !ok {
		panic(fmt.Sprintf("registry: ReturnLink: unknown source plug %q", ret.SourceName))
	}
	if src.stream != nil {
		panic(fmt.Sprintf("registry: ReturnLink: source plug %q stream slot already filled", ret.SourceName))
	}
	src.stream = ret.SourceStream

	dst, ok := r.entries[ret.DestName]
	if !ok {
		panic(fmt.Sprintf("registry: ReturnLink: unknown dest plug %q", ret.DestName))
	}
	if dst.sink != nil {
		panic(fmt.Sprintf("registry: ReturnLink: dest plug %q sink slot already filled", ret.DestName))
	}
	dst.sink = ret.DestSink
}

// ExitTimeoutError reports that a plug did not exit within its grace
// period and was force-killed.
type ExitTimeoutError struct {
	Name string
}

func (e *ExitTimeoutError) Error() string {
	return fmt.Sprintf("plug %q did not exit within the grace period", e.Name)
}

// CloseAndWait closes every plug's sink (if still present), then waits
// for its backend to exit, all within gracePeriod; on timeout it kills
// the backend instead. This method consumes the registry: it is the
// last thing the orchestrator does with it. Timeouts are reported
// (never as a fatal error) via onTimeout, matching spec §8 invariant 9.
func (r *Registry) CloseAndWait(ctx context.Context, gracePeriod time.Duration, onTimeout func(*ExitTimeoutError)) {
	r.mu.Lock()
	names := append([]string(nil), r.order...)
	r.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		name := name
		g.Go(func() error {
			r.closeOne(gctx, name, gracePeriod, onTimeout)
			return nil
		})
	}
	_ = g.Wait() // closeOne never returns an error; errors are reported via onTimeout
}

func (r *Registry) closeOne(ctx context.Context, name string, gracePeriod time.Duration, onTimeout func(*ExitTimeoutError)) {
	r.mu.Lock()
	e := r.entries[name]
	sink := e.sink
	e.sink = nil
	backend := e.handle.Backend
	r.mu.Unlock()

	if sink != nil {
		_ = sink.Close()
	}

	waitCtx, cancel := context.WithTimeout(ctx, gracePeriod)
	defer cancel()

	err := backend.Wait(waitCtx)
	if err != nil && waitCtx.Err() != nil {
		if onTimeout != nil {
			onTimeout(&ExitTimeoutError{Name: name})
		}
		_ = backend.Kill()
	}
}
