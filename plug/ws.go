package plug

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"

	"github.com/gorilla/websocket"
)

// connectWS dials a real websocket handshake for ws:// and wss://
// plugs. Non-binary frames are silently dropped from the stream view,
// per spec §4.1.
func connectWS(ctx context.Context, name string, u *url.URL) (*Handle, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, &ConnectError{Name: name, Cause: err}
	}

	return &Handle{
		Name:    name,
		Backend: &wsBackend{conn: conn},
		Sink:    &wsSink{conn: conn},
		Stream:  &wsStream{conn: conn},
	}, nil
}

// wsBackend treats a remote socket's Wait as resolving immediately:
// there is no local process to wait for (spec §4.2).
type wsBackend struct {
	conn *websocket.Conn
}

func (b *wsBackend) Wait(ctx context.Context) error {
	return nil
}

func (b *wsBackend) Kill() error {
	return b.conn.Close()
}

type wsSink struct {
	conn *websocket.Conn
}

func (s *wsSink) Send(ctx context.Context, msg []byte) error {
	return s.conn.WriteMessage(websocket.BinaryMessage, msg)
}

func (s *wsSink) Close() error {
	_ = s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return s.conn.Close()
}

type wsStream struct {
	conn *websocket.Conn
}

func (s *wsStream) Next(ctx context.Context) ([]byte, error) {
	for {
		messageType, payload, err := s.conn.ReadMessage()
		if err != nil {
			if isCloseError(err) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("reading from websocket plug: %w", err)
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		return payload, nil
	}
}

func isCloseError(err error) bool {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return true
	}
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
