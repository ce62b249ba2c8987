package realtime

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/turtacn/contatto/pkg/constants"
	"github.com/turtacn/contatto/pkg/errors"
)

// Conn is one established real-time connection carrying text frames.
type Conn interface {
	ReadMessage() (string, error)
	WriteMessage(msg string) error
	Close() error
}

// Dialer opens a connection authenticated with token. A rejected token must be
// reported as an auth_failed error.
type Dialer interface {
	Dial(ctx context.Context, token string) (Conn, error)
}

// WebSocketDialer dials the vendor endpoint with gorilla/websocket.
type WebSocketDialer struct {
	endpoint  string
	userAgent string
	dialer    *websocket.Dialer
}

// NewWebSocketDialer creates a dialer for endpoint, e.g. wss://host/socket.io/.
func NewWebSocketDialer(endpoint, userAgent string, handshakeTimeout time.Duration) *WebSocketDialer {
	if handshakeTimeout <= 0 {
		handshakeTimeout = constants.DefaultConnectTimeout
	}
	return &WebSocketDialer{
		endpoint:  endpoint,
		userAgent: userAgent,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
	}
}

// ConnectURL builds <endpoint>?auth=Bearer+<token>&EIO=4&transport=websocket.
func ConnectURL(endpoint, token string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse realtime endpoint: %w", err)
	}
	q := u.Query()
	q.Set("auth", "Bearer "+token)
	q.Set("EIO", constants.EngineIOVersion)
	q.Set("transport", "websocket")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Dial implements Dialer.
func (d *WebSocketDialer) Dial(ctx context.Context, token string) (Conn, error) {
	target, err := ConnectURL(d.endpoint, token)
	if err != nil {
		return nil, errors.ErrTransport("invalid realtime endpoint").WithCause(err)
	}

	header := http.Header{}
	if d.userAgent != "" {
		header.Set("User-Agent", d.userAgent)
	}

	ws, resp, err := d.dialer.DialContext(ctx, target, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if stderrors.Is(err, websocket.ErrBadHandshake) && resp != nil &&
			(resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, errors.ErrAuthFailed("realtime upgrade rejected").
				WithCause(err).
				WithMetadata("status", resp.StatusCode)
		}
		return nil, errors.ErrTransport("realtime dial failed").WithCause(err)
	}
	return &wsConn{ws: ws}, nil
}

// wsConn adapts a gorilla connection. gorilla allows one concurrent reader and
// one concurrent writer; WriteControl and Close are safe from any goroutine.
type wsConn struct {
	ws        *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func (c *wsConn) ReadMessage() (string, error) {
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			return "", errors.ErrTransport("realtime read failed").WithCause(err)
		}
		if mt == websocket.TextMessage {
			return string(data), nil
		}
	}
}

func (c *wsConn) WriteMessage(msg string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		return errors.ErrTransport("realtime write failed").WithCause(err)
	}
	return nil
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}
