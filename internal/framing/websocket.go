package framing

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message or control frame to the peer.
	writeWait = 10 * time.Second
)

var (
	// ErrUpgradeRequired is returned when a plain HTTP request reaches the WebSocket endpoint.
	ErrUpgradeRequired = errors.New("websocket upgrade required")
	// ErrUnsupportedSubProtocol is returned when an upgrade does not request the relay's sub-protocol.
	ErrUnsupportedSubProtocol = errors.New("unsupported websocket sub-protocol")
)

type wsConn struct {
	ws  *websocket.Conn
	wmu sync.Mutex
}

// NewWebSocketConn maps text messages on ws to lines. Binary messages are
// skipped and pings are answered by the library's default handler. A normal,
// going-away or status-less close frame ends the stream with io.EOF; any other
// close, including a dropped connection, is an *IOError.
func NewWebSocketConn(ws *websocket.Conn) Conn {
	ws.SetReadLimit(MaxLineLength)
	return &wsConn{ws: ws}
}

func (w *wsConn) ReadLine() (string, error) {
	for {
		mt, data, err := w.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				return "", io.EOF
			}
			if errors.Is(err, websocket.ErrReadLimit) {
				return "", &IOError{Op: "reading data", Err: ErrLineTooLong}
			}
			return "", &IOError{Op: "reading data", Err: err}
		}
		if mt == websocket.TextMessage {
			return string(data), nil
		}
	}
}

func (w *wsConn) WriteLine(line string) error {
	w.wmu.Lock()
	defer w.wmu.Unlock()
	_ = w.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := w.ws.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
		return &IOError{Op: "writing data", Err: err}
	}
	return nil
}

func (w *wsConn) Ping() error {
	if err := w.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
		return &IOError{Op: "writing ping", Err: err}
	}
	return nil
}

func (w *wsConn) SetReadDeadline(t time.Time) error { return w.ws.SetReadDeadline(t) }
func (w *wsConn) RemoteAddr() string                { return w.ws.RemoteAddr().String() }

func (w *wsConn) Close() error {
	_ = w.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return w.ws.Close()
}

// Upgrader accepts WebSocket upgrades that request a fixed sub-protocol.
type Upgrader struct {
	subProtocol string
	ws          websocket.Upgrader
}

// NewUpgrader returns an Upgrader requiring subProtocol.
func NewUpgrader(subProtocol string) *Upgrader {
	return &Upgrader{
		subProtocol: subProtocol,
		ws: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			Subprotocols:    []string{subProtocol},
			// Listeners are gated by their credential, not by origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Upgrade performs the handshake. Requests that are not upgrades get 426,
// upgrades without the sub-protocol get 400; both are answered over HTTP
// before an error is returned.
func (u *Upgrader) Upgrade(w http.ResponseWriter, r *http.Request) (Conn, error) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, ErrUpgradeRequired.Error(), http.StatusUpgradeRequired)
		return nil, ErrUpgradeRequired
	}
	if !slices.Contains(websocket.Subprotocols(r), u.subProtocol) {
		http.Error(w, ErrUnsupportedSubProtocol.Error(), http.StatusBadRequest)
		return nil, ErrUnsupportedSubProtocol
	}
	ws, err := u.ws.Upgrade(w, r, nil)
	if err != nil {
		return nil, &IOError{Op: "upgrading to websocket", Err: err}
	}
	return NewWebSocketConn(ws), nil
}

// DialWebSocket opens a WebSocket connection to url requesting subProtocol.
func DialWebSocket(ctx context.Context, url, subProtocol string, tlsConfig *tls.Config) (Conn, error) {
	d := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		Subprotocols:     []string{subProtocol},
		TLSClientConfig:  tlsConfig,
	}
	ws, resp, err := d.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, &IOError{Op: "connecting", Err: err}
	}
	return NewWebSocketConn(ws), nil
}
