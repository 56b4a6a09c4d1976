// Package orchestrator implements the patchbay's top-level run: bring
// every declared plug up, forward messages along every link
// concurrently, and shut the whole topology down the moment any one
// link ends.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/arkedge/patchbay/dump"
	"github.com/arkedge/patchbay/link"
	"github.com/arkedge/patchbay/plug"
	"github.com/arkedge/patchbay/registry"
	"github.com/arkedge/patchbay/spaghetti"
)

// DefaultGracePeriod matches spec §6's CLI default of 10 seconds.
const DefaultGracePeriod = 10 * time.Second

// Options configures a single orchestrator run.
type Options struct {
	// GracePeriod bounds how long shutdown waits for a plug to exit on
	// its own before it is force-killed. Zero means DefaultGracePeriod.
	GracePeriod time.Duration
	// Logger receives lifecycle and warning events. A nil Logger falls
	// back to slog.Default().
	Logger *slog.Logger
	// DumpDir, if non-empty, turns on per-link recording: every link
	// writes "<source>_<dest>.dat" under this directory.
	DumpDir string
}

func (o Options) gracePeriod() time.Duration {
	if o.GracePeriod <= 0 {
		return DefaultGracePeriod
	}
	return o.GracePeriod
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// Run executes the six-step orchestrator algorithm from spec §4.6
// against a validated topology. It returns the first error encountered
// while bringing plugs up or while forwarding; shutdown errors are
// logged, never returned, and never override that first error.
func Run(ctx context.Context, cfg spaghetti.Config[spaghetti.Validated], opts Options) error {
	logger := opts.logger()
	gracePeriod := opts.gracePeriod()

	reg := registry.New()

	if err := connectAll(ctx, logger, cfg, reg); err != nil {
		reg.CloseAndWait(ctx, gracePeriod, func(te *registry.ExitTimeoutError) {
			logger.Warn("plug exit timeout during startup teardown", "plug", te.Name)
		})
		return err
	}

	links, err := buildLinks(cfg, reg, opts.DumpDir)
	if err != nil {
		// Taking is infallible for a valid config on a freshly built
		// registry; reaching here is a framework bug, not a runtime
		// condition to recover from.
		panic(fmt.Sprintf("orchestrator: building links: %v", err))
	}

	firstErr := raceLinks(ctx, logger, reg, links)

	reg.CloseAndWait(ctx, gracePeriod, func(te *registry.ExitTimeoutError) {
		logger.Warn("plug did not exit within grace period, killing", "plug", te.Name)
	})

	return firstErr
}

// connectAll brings every plug up in a deterministic (sorted) order.
// On the first failure it returns immediately; the caller is
// responsible for tearing down whatever was already connected.
func connectAll(ctx context.Context, logger *slog.Logger, cfg spaghetti.Config[spaghetti.Validated], reg *registry.Registry) error {
	for _, name := range cfg.SortedPlugNames() {
		raw := cfg.Plugs[name]
		u, err := spaghetti.ParseURL(raw)
		if err != nil {
			return &plug.ConnectError{Name: name, Cause: err}
		}

		logger.Info("connecting plug", "plug", name, "url", raw)
		h, err := plug.Connect(ctx, name, u)
		if err != nil {
			return err
		}
		reg.Insert(h)
	}
	return nil
}

// linkSpec is a built, not-yet-forwarding link: both halves already
// taken from the registry.
type linkSpec struct {
	sourceName string
	stream     plug.Stream
	destName   string
	sink       plug.Sink
	recorder   link.Recorder
}

func buildLinks(cfg spaghetti.Config[spaghetti.Validated], reg *registry.Registry, dumpDir string) ([]linkSpec, error) {
	var specs []linkSpec
	for source, dest := range cfg.Links {
		stream, ok := reg.TakeStream(source)
		if !ok {
			return nil, fmt.Errorf("no stream available for source plug %q", source)
		}
		sink, ok := reg.TakeSink(dest)
		if !ok {
			return nil, fmt.Errorf("no sink available for dest plug %q", dest)
		}

		var rec link.Recorder
		if dumpDir != "" {
			path := filepath.Join(dumpDir, fmt.Sprintf("%s_%s.dat", source, dest))
			r, err := dump.NewRecorder(path)
			if err != nil {
				return nil, fmt.Errorf("creating dump recorder for link %s->%s: %w", source, dest, err)
			}
			rec = r
		}

		specs = append(specs, linkSpec{sourceName: source, stream: stream, destName: dest, sink: sink, recorder: rec})
	}
	return specs, nil
}

// raceLinks runs every link concurrently. The first one to finish
// triggers the shared quit broadcast; raceLinks then awaits the rest,
// returns every half to the registry, and reports the first error
// observed across all of them (spec §4.6 steps 3-5).
func raceLinks(ctx context.Context, logger *slog.Logger, reg *registry.Registry, specs []linkSpec) error {
	if len(specs) == 0 {
		return nil
	}

	quit := make(chan struct{})
	var closeOnce sync.Once

	results := make(chan link.Result, len(specs))
	var wg sync.WaitGroup
	for _, spec := range specs {
		spec := spec
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := link.Forward(ctx, logger, spec.sourceName, spec.stream, spec.destName, spec.sink, quit, spec.recorder)
			closeOnce.Do(func() { close(quit) })
			results <- res
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var firstErr error
	for res := range results {
		reg.ReturnLink(registry.Returned{
			SourceName:   res.SourceName,
			SourceStream: res.SourceStream,
			DestName:     res.DestName,
			DestSink:     res.DestSink,
		})
		if res.Err != nil && firstErr == nil {
			firstErr = res.Err
		}
	}

	return firstErr
}
