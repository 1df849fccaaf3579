package stream

import (
	"context"
	"errors"
	"net/http"

	"nhooyr.io/websocket"

	"github.com/tOgg1/pushdeck/internal/api"
)

// LocalCloseReason marks channels closed by Manager.Close.
const LocalCloseReason = "client closed"

// DefaultReadLimit bounds a single frame.
const DefaultReadLimit = 1 << 20

// Conn is one open push channel.
type Conn interface {
	// Read blocks until the next frame arrives or the channel fails.
	Read(ctx context.Context) ([]byte, error)

	// Close closes the channel with a normal-closure status and reason.
	Close(reason string) error
}

// Dialer opens push channels.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebsocketDialer dials the server's websocket stream endpoint.
type WebsocketDialer struct {
	HTTPClient *http.Client
	ReadLimit  int64
}

func (d WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	client := d.HTTPClient
	if client != nil && client.Timeout > 0 {
		// The dial deadline comes from ctx; a client timeout would also
		// bound the lifetime of the upgraded connection.
		c := *client
		c.Timeout = 0
		client = &c
	}
	c, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPClient: client})
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			return nil, &api.Error{Kind: dialKind(resp.StatusCode), Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode), Err: err}
		}
		return nil, &api.Error{Kind: api.KindNetworkUnavailable, Err: err}
	}
	limit := d.ReadLimit
	if limit <= 0 {
		limit = DefaultReadLimit
	}
	c.SetReadLimit(limit)
	return &wsConn{c: c}, nil
}

func dialKind(status int) api.Kind {
	switch {
	case status == http.StatusUnauthorized:
		return api.KindAuthRejected
	case status >= 500:
		return api.KindServerError
	case status >= 400:
		return api.KindClientError
	default:
		return api.KindNetworkUnavailable
	}
}

type wsConn struct {
	c *websocket.Conn
}

func (w *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.c.Read(ctx)
	return data, err
}

func (w *wsConn) Close(reason string) error {
	return w.c.Close(websocket.StatusNormalClosure, reason)
}

// IsLocalClose reports whether err ended a channel closed with
// LocalCloseReason.
func IsLocalClose(err error) bool {
	var ce websocket.CloseError
	if !errors.As(err, &ce) {
		return false
	}
	return ce.Code == websocket.StatusNormalClosure && ce.Reason == LocalCloseReason
}
