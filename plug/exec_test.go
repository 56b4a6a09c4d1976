package plug

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

// TestConnect_BadExecURL covers spec §8 scenario E3: URL hygiene.
func TestConnect_BadExecURL(t *testing.T) {
	bad := []string{
		"exec://host/cmd",
		"exec:cmd?x=1",
		"exec:cmd#frag",
	}
	for _, raw := range bad {
		u := mustParseURL(t, raw)
		_, err := Connect(context.Background(), "p", u)
		var badURL *BadURLError
		require.ErrorAs(t, err, &badURL, "expected BadURLError for %q", raw)
	}
}

func TestConnect_Exec_RoundTrip(t *testing.T) {
	u := mustParseURL(t, "exec:cat")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h, err := Connect(ctx, "a", u)
	require.NoError(t, err)

	messages := [][]byte{{0x01}, {0x02, 0x03}, {}, {0x04, 0x05, 0x06}}
	for _, m := range messages {
		require.NoError(t, h.Sink.Send(ctx, m))
	}
	require.NoError(t, h.Sink.Close())

	for _, want := range messages {
		got, err := h.Stream.Next(ctx)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}

	require.NoError(t, h.Backend.Wait(ctx))
}

func TestConnect_UnsupportedScheme(t *testing.T) {
	u := mustParseURL(t, "file:///etc/passwd")
	_, err := Connect(context.Background(), "p", u)
	var unsupported *UnsupportedSchemeError
	require.ErrorAs(t, err, &unsupported)
}
