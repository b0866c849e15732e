package transport

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/devdisp/protocol"
)

const wsCloseGracePeriod = time.Second

// WebSocketTransport carries protocol frames as binary WebSocket messages.
// The WebSocket layer provides the frame boundaries, so no length prefix is
// needed.
type WebSocketTransport struct {
	handlerTable

	conn *websocket.Conn

	writeMu sync.Mutex
	closed  bool
	mu      sync.Mutex
}

// DialWebSocket connects to a display source at the given ws:// URL.
func DialWebSocket(url string) (*WebSocketTransport, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: dialing %s: %w", url, err)
	}
	logrus.WithFields(logrus.Fields{
		"function": "DialWebSocket",
		"url":      url,
	}).Debug("WebSocket connection established")
	return NewWebSocketTransport(conn), nil
}

// AcceptWebSocket upgrades an HTTP request into a transport, for the source
// side of the connection.
func AcceptWebSocket(w http.ResponseWriter, r *http.Request, upgrader *websocket.Upgrader) (*WebSocketTransport, error) {
	if upgrader == nil {
		upgrader = &websocket.Upgrader{}
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: upgrading connection: %w", err)
	}
	return NewWebSocketTransport(conn), nil
}

// NewWebSocketTransport wraps an established WebSocket connection.
func NewWebSocketTransport(conn *websocket.Conn) *WebSocketTransport {
	return &WebSocketTransport{
		handlerTable: newHandlerTable(),
		conn:         conn,
	}
}

// Send implements Transport.
func (wt *WebSocketTransport) Send(t protocol.MessageType, payload any) error {
	frame, err := protocol.Encode(t, payload)
	if err != nil {
		return err
	}

	wt.mu.Lock()
	closed := wt.closed
	wt.mu.Unlock()
	if closed {
		return ErrClosed
	}

	wt.writeMu.Lock()
	defer wt.writeMu.Unlock()
	if err := wt.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return fmt.Errorf("transport: writing websocket message: %w", err)
	}
	return nil
}

// RegisterHandler implements Transport.
func (wt *WebSocketTransport) RegisterHandler(t protocol.MessageType, handler MessageHandler) {
	wt.register(t, handler)
}

// OnClose implements Transport.
func (wt *WebSocketTransport) OnClose(handler CloseHandler) {
	wt.setCloseHandler(handler)
}

// Start implements Transport.
func (wt *WebSocketTransport) Start() {
	go wt.readLoop()
}

func (wt *WebSocketTransport) readLoop() {
	for {
		messageType, frame, err := wt.conn.ReadMessage()
		if err != nil {
			wt.finish(wt.closeError(err))
			return
		}
		if messageType != websocket.BinaryMessage {
			// The protocol is binary only; text frames are a peer bug.
			logrus.WithFields(logrus.Fields{
				"function":     "readLoop",
				"message_type": messageType,
			}).Warn("Ignoring non-binary websocket message")
			continue
		}
		wt.dispatch(frame)
	}
}

func (wt *WebSocketTransport) closeError(err error) error {
	wt.mu.Lock()
	defer wt.mu.Unlock()
	if wt.closed {
		return nil
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		return nil
	}
	return err
}

// Close implements Transport. It attempts a normal WebSocket close
// handshake before dropping the connection.
func (wt *WebSocketTransport) Close() error {
	wt.mu.Lock()
	if wt.closed {
		wt.mu.Unlock()
		return nil
	}
	wt.closed = true
	wt.mu.Unlock()

	wt.writeMu.Lock()
	deadline := time.Now().Add(wsCloseGracePeriod)
	_ = wt.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	wt.writeMu.Unlock()

	err := wt.conn.Close()
	wt.finish(nil)
	return err
}
