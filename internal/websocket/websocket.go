package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrBadHandshake is returned by Dial when the server answered the upgrade
// request with something other than a websocket upgrade.
var ErrBadHandshake = errors.New("websocket handshake rejected")

const (
	writeWait        = 10 * time.Second
	handshakeTimeout = 15 * time.Second
	maxMessageSize   = 64 << 20
)

// Conn is a client connection carrying JSON text frames. Reads must come
// from one goroutine; writes may come from any.
type Conn struct {
	conn      *websocket.Conn
	url       string
	writeMu   sync.Mutex
	closeOnce sync.Once
	logger    *slog.Logger
}

// Dial opens a connection to url
func Dial(ctx context.Context, url string, logger *slog.Logger) (*Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dialer := websocket.Dialer{
		HandshakeTimeout:  handshakeTimeout,
		EnableCompression: true,
	}
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if errors.Is(err, websocket.ErrBadHandshake) {
			status := 0
			if resp != nil {
				status = resp.StatusCode
			}
			return nil, fmt.Errorf("%w: %s (status %d)", ErrBadHandshake, url, status)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	conn.SetReadLimit(maxMessageSize)

	logger.Info("connected", "url", url)
	return &Conn{conn: conn, url: url, logger: logger}, nil
}

// ReadMessage blocks for the next text or binary frame
func (c *Conn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

// WriteJSON sends v as one text frame
func (c *Conn) WriteJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

// Close sends a close frame and releases the connection. Pending reads
// return an error. Close is idempotent and safe to call during a write.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))

		err = c.conn.Close()
		c.logger.Info("disconnected", "url", c.url)
	})
	return err
}
