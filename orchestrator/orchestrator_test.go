package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arkedge/patchbay/link"
	"github.com/arkedge/patchbay/spaghetti"
	"github.com/arkedge/patchbay/wsframe"
)

// recordingHandler is a slog.Handler that keeps every record it sees,
// so a test can assert on a specific warning having been logged
// without caring about the text formatting any real handler applies.
type recordingHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{}
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r)
	return nil
}

func (h *recordingHandler) WithAttrs(_ []slog.Attr) slog.Handler { return h }
func (h *recordingHandler) WithGroup(_ string) slog.Handler      { return h }

func (h *recordingHandler) hasMessageContaining(substr string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range h.records {
		if strings.Contains(r.Message, substr) {
			return true
		}
	}
	return false
}

func validate(t *testing.T, plugs, links map[string]string) spaghetti.Config[spaghetti.Validated] {
	t.Helper()
	raw := spaghetti.Config[spaghetti.Raw]{Plugs: plugs, Links: links}
	cfg, err := raw.Validate()
	require.NoError(t, err)
	return cfg
}

// TestRun_RoundTrip covers spec §8 scenario E1: a single link carries a
// source plug's message to a destination plug's input, framed as one
// masked binary frame, and Run exits cleanly once the source ends.
func TestRun_RoundTrip(t *testing.T) {
	outPath := filepath.Join(t.TempDir(), "out.bin")

	// Emits one unmasked binary frame carrying "hi", then a close frame,
	// all from a single process with no input required.
	srcCmd := `printf '\202\002hi\210\000'`
	destCmd := fmt.Sprintf("cat > %s", outPath)

	cfg := validate(t, map[string]string{
		"a": "exec:" + srcCmd,
		"b": "exec:" + destCmd,
	}, map[string]string{"a": "b"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := Run(ctx, cfg, Options{GracePeriod: 2 * time.Second})
	require.NoError(t, err)

	// The destination is a plain `cat`, so the file holds the frame the
	// orchestrator wrote to its stdin; decode it to get the message back.
	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	r := wsframe.NewReader(bytes.NewReader(data))
	msg, err := r.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, []byte("hi"), msg)
	_, err = r.ReadMessage()
	require.ErrorIs(t, err, io.EOF)
}

// TestRun_LinkErrorPropagates covers spec §8 scenario E6: a malformed
// frame on one link surfaces as Run's returned error instead of being
// silently swallowed.
func TestRun_LinkErrorPropagates(t *testing.T) {
	outPath := filepath.Join(t.TempDir(), "out.bin")

	// Writes a single byte of what should have been a two-byte frame
	// header, then exits: the reader sees an unexpected EOF, not a clean
	// end of stream.
	srcCmd := `printf '\201'`
	destCmd := fmt.Sprintf("cat > %s", outPath)

	cfg := validate(t, map[string]string{
		"a": "exec:" + srcCmd,
		"b": "exec:" + destCmd,
	}, map[string]string{"a": "b"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := Run(ctx, cfg, Options{GracePeriod: 2 * time.Second})
	require.Error(t, err)

	var fwdErr *link.ForwardError
	require.ErrorAs(t, err, &fwdErr)
	require.Equal(t, "source", fwdErr.Side)
}

// TestRun_GracePeriodForceKill covers spec §8 scenario E5/E9: a plug
// that outlives its input being closed must be force-killed once the
// grace period elapses, rather than hanging shutdown indefinitely.
func TestRun_GracePeriodForceKill(t *testing.T) {
	outPath := filepath.Join(t.TempDir(), "out.bin")

	srcCmd := `printf '\202\002hi\210\000'`
	// Forwards its one message, then keeps running well past the grace
	// period regardless of its stdin having been closed.
	destCmd := fmt.Sprintf("cat > %s; sleep 30", outPath)

	cfg := validate(t, map[string]string{
		"a": "exec:" + srcCmd,
		"b": "exec:" + destCmd,
	}, map[string]string{"a": "b"})

	handler := newRecordingHandler()
	logger := slog.New(handler)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	err := Run(ctx, cfg, Options{GracePeriod: 200 * time.Millisecond, Logger: logger})
	elapsed := time.Since(start)

	require.NoError(t, err)
	require.Less(t, elapsed, 4*time.Second, "shutdown should not wait out the whole test context, only the grace period")
	require.True(t, handler.hasMessageContaining("killing"), "expected a grace-period timeout+kill log line for plug b")
}

// TestRun_ConnectFailureTearsDownAlreadyConnected covers spec §8 scenario
// E2/E4: a later plug failing to connect must not leave an earlier,
// already-connected plug running.
func TestRun_ConnectFailureTearsDownAlreadyConnected(t *testing.T) {
	// "a" connects first (sorted order) and only finishes once its stdin
	// is closed by teardown, leaving a marker file behind as proof.
	donePath := filepath.Join(t.TempDir(), "done")
	cfg := validate(t, map[string]string{
		"a": "exec:cat; touch " + donePath,
		"b": "bogus://unsupported",
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := Run(ctx, cfg, Options{GracePeriod: 2 * time.Second})
	require.Error(t, err)
	require.FileExists(t, donePath)
}
