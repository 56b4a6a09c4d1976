package plug

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/exec"

	"github.com/arkedge/patchbay/wsframe"
)

// connectExec spawns `sh -c <command>` and overlays a binary message
// framing on its stdio, with the orchestrator acting as the masking
// client. Stderr is inherited so plug log lines interleave with the
// orchestrator's own logs, by design (spec §5).
func connectExec(ctx context.Context, name string, u *url.URL) (*Handle, error) {
	command, err := execCommand(name, u)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command("sh", "-c", command)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &SpawnError{Name: name, Cause: fmt.Errorf("creating stdin pipe: %w", err)}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &SpawnError{Name: name, Cause: fmt.Errorf("creating stdout pipe: %w", err)}
	}

	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Name: name, Cause: err}
	}

	return &Handle{
		Name:    name,
		Backend: &execBackend{cmd: cmd},
		Sink:    &execSink{w: wsframe.NewWriter(stdin, true), closer: stdin},
		Stream:  &execStream{r: wsframe.NewReader(stdout)},
	}, nil
}

// execCommand validates the exec: URL against spec §4.1: no userinfo,
// host, port, query, or fragment is permitted — only a shell command.
func execCommand(name string, u *url.URL) (string, error) {
	if u.User != nil {
		return "", &BadURLError{Name: name, Scheme: "exec", Reason: "userinfo not permitted"}
	}
	if u.Host != "" {
		return "", &BadURLError{Name: name, Scheme: "exec", Reason: "host/port not permitted"}
	}
	if u.RawQuery != "" {
		return "", &BadURLError{Name: name, Scheme: "exec", Reason: "query not permitted"}
	}
	if u.Fragment != "" {
		return "", &BadURLError{Name: name, Scheme: "exec", Reason: "fragment not permitted"}
	}
	command := u.Opaque
	if command == "" {
		command = u.Path
	}
	if command == "" {
		return "", &BadURLError{Name: name, Scheme: "exec", Reason: "missing command"}
	}
	return command, nil
}

type execBackend struct {
	cmd *exec.Cmd
}

func (b *execBackend) Wait(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- b.cmd.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *execBackend) Kill() error {
	if b.cmd.Process == nil {
		return nil
	}
	return b.cmd.Process.Kill()
}

type execSink struct {
	w      *wsframe.Writer
	closer io.Closer
}

func (s *execSink) Send(ctx context.Context, msg []byte) error {
	return s.w.WriteMessage(msg)
}

func (s *execSink) Close() error {
	return s.closer.Close()
}

type execStream struct {
	r *wsframe.Reader
}

func (s *execStream) Next(ctx context.Context) ([]byte, error) {
	return s.r.ReadMessage()
}
