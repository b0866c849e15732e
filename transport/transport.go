package transport

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/devdisp/protocol"
)

var (
	// ErrClosed indicates a send on a transport that has already closed.
	ErrClosed = errors.New("transport: closed")
	// ErrFrameTooLarge indicates an incoming frame exceeded MaxFrameSize.
	ErrFrameTooLarge = errors.New("transport: frame exceeds maximum size")
)

// MaxFrameSize bounds a single protocol frame. Screen data for a 4K RGBA
// frame stays well under this.
const MaxFrameSize = 64 * 1024 * 1024

// MessageHandler processes one decoded protocol frame. Handlers run on the
// transport's reader goroutine; a handler that blocks stalls delivery.
type MessageHandler func(msg *protocol.Message)

// CloseHandler is invoked exactly once when the transport stops delivering
// messages. err is nil for a clean local close and carries the read error
// otherwise.
type CloseHandler func(err error)

// Transport delivers whole protocol frames, in order, between the two ends
// of one display session.
type Transport interface {
	// Send encodes and transmits one message. A nil payload sends a frame
	// with only the type byte.
	Send(t protocol.MessageType, payload any) error
	// RegisterHandler sets the handler for one message type, replacing any
	// previous handler. Must be called before Start.
	RegisterHandler(t protocol.MessageType, handler MessageHandler)
	// OnClose sets the close notification handler. Must be called before
	// Start.
	OnClose(handler CloseHandler)
	// Start launches the reader loop. Messages received before Start are
	// not buffered; register handlers first.
	Start()
	// Close tears the connection down. Safe to call more than once.
	Close() error
}

// handlerTable is the per-type dispatch shared by all transport
// implementations.
type handlerTable struct {
	mu       sync.RWMutex
	handlers map[protocol.MessageType]MessageHandler
	onClose  CloseHandler

	closeOnce sync.Once
}

func newHandlerTable() handlerTable {
	return handlerTable{handlers: make(map[protocol.MessageType]MessageHandler)}
}

func (h *handlerTable) register(t protocol.MessageType, handler MessageHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[t] = handler
}

func (h *handlerTable) setCloseHandler(handler CloseHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onClose = handler
}

// dispatch decodes one wire frame and runs its handler. Invalid frames and
// unhandled types are logged and skipped; one bad frame must not kill the
// session.
func (h *handlerTable) dispatch(frame []byte) {
	msg, err := protocol.DecodeEnvelope(frame)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "dispatch",
			"error":    err,
		}).Warn("Dropping undecodable frame")
		return
	}

	h.mu.RLock()
	handler := h.handlers[msg.Type]
	h.mu.RUnlock()

	if handler == nil {
		logrus.WithFields(logrus.Fields{
			"function":     "dispatch",
			"message_type": msg.Type.String(),
		}).Debug("No handler registered for message type")
		return
	}
	handler(msg)
}

// finish fires the close handler exactly once.
func (h *handlerTable) finish(err error) {
	h.closeOnce.Do(func() {
		h.mu.RLock()
		onClose := h.onClose
		h.mu.RUnlock()
		if onClose != nil {
			onClose(err)
		}
	})
}
