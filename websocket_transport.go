package signalr

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketTransport implements Transport over a single gorilla/websocket
// connection. It generalizes the teacher's package-level Client.connect/
// send/read/stop into a per-instance, delegate-driven object; the
// record-separator framing is unchanged (message_format.go).
type WebSocketTransport struct {
	logger Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	delegate TransportDelegate
	closed   bool

	// writeMu serializes all writes to conn: gorilla/websocket permits
	// at most one concurrent writer.
	writeMu sync.Mutex

	readDone chan struct{}
}

// NewWebSocketTransport constructs a WebSocketTransport. logger may be
// nil, in which case logging is a no-op.
func NewWebSocketTransport(logger Logger) *WebSocketTransport {
	if logger == nil {
		logger = noopLogger{}
	}
	return &WebSocketTransport{logger: logger}
}

func (t *WebSocketTransport) SetDelegate(d TransportDelegate) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.delegate = d
}

func (t *WebSocketTransport) InherentKeepAlive() bool { return false }

// Start dials the WebSocket endpoint derived from url (http(s):// is
// rewritten to ws(s)://, matching the teacher's connect()) and begins
// the read loop. Start blocks until the dial completes; on success it
// reports readiness to the delegate before it returns.
func (t *WebSocketTransport) Start(ctx context.Context, rawURL string, opts StartTransportOptions) error {
	wsURL, err := toWebSocketURL(rawURL)
	if err != nil {
		return err
	}

	header := http.Header{}
	if opts.AccessToken != "" {
		header.Add("Authorization", fmt.Sprintf("Bearer %s", opts.AccessToken))
	}

	dialer := websocket.DefaultDialer
	conn, _, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		t.logger.Warn("websocket dial failed", "url", wsURL, "error", err)
		return err
	}

	t.mu.Lock()
	t.conn = conn
	t.readDone = make(chan struct{})
	delegate := t.delegate
	t.mu.Unlock()

	t.logger.Debug("websocket connected", "url", wsURL)
	if delegate != nil {
		delegate.OnTransportOpen()
	}

	go t.readLoop()
	return nil
}

func (t *WebSocketTransport) readLoop() {
	t.mu.Lock()
	conn := t.conn
	delegate := t.delegate
	done := t.readDone
	t.mu.Unlock()

	defer close(done)

	var closeErr error
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				closeErr = err
			}
			break
		}
		if delegate != nil {
			delegate.OnTransportReceive(mFormat.parse(data))
		}
	}

	t.finishClose(closeErr)
}

func (t *WebSocketTransport) finishClose(err error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	delegate := t.delegate
	t.mu.Unlock()

	t.logger.Debug("websocket closed", "error", err)
	if delegate != nil {
		delegate.OnTransportClose(err)
	}
}

// Send writes data as a single text frame, terminated with the
// record-separator framing the teacher's send() used.
func (t *WebSocketTransport) Send(ctx context.Context, data []byte) error {
	t.mu.Lock()
	conn := t.conn
	closed := t.closed
	t.mu.Unlock()

	if closed || conn == nil {
		return &StateError{Op: "send", State: StateStopped}
	}

	framed := mFormat.write(string(data))

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, []byte(framed))
}

// Close initiates a graceful close handshake and waits for the read
// loop to observe it (or any concurrent error) and report
// OnTransportClose exactly once.
func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	conn := t.conn
	done := t.readDone
	t.mu.Unlock()

	if conn == nil {
		t.finishClose(nil)
		return nil
	}

	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	t.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(writeWait))
	t.writeMu.Unlock()

	// Let the read loop see the peer's close reply before the socket is
	// torn down, so a completed handshake reports a nil error.
	if done != nil {
		select {
		case <-done:
		case <-time.After(writeWait):
		}
	}
	err := conn.Close()

	if done != nil {
		<-done
	}
	return err
}

func toWebSocketURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		u.Scheme = "ws"
	}
	return u.String(), nil
}

// writeWait bounds how long the close handshake's control frame write
// may block, matching the teacher's waitWait constant.
const writeWait = 10 * time.Second
