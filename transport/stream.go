package transport

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/devdisp/protocol"
)

// StreamTransport frames protocol messages over any reliable byte stream
// as [length u32 BE][frame]. This carries the USB accessory channel, where
// the platform hands us a plain read/write pipe, and doubles as the
// in-memory transport for tests via net.Pipe.
type StreamTransport struct {
	handlerTable

	conn io.ReadWriteCloser

	writeMu sync.Mutex
	closed  bool
	mu      sync.Mutex
}

// NewStreamTransport wraps an established byte stream. The caller keeps
// ownership of nothing: Close closes the underlying stream.
func NewStreamTransport(conn io.ReadWriteCloser) *StreamTransport {
	return &StreamTransport{
		handlerTable: newHandlerTable(),
		conn:         conn,
	}
}

// Send implements Transport.
func (st *StreamTransport) Send(t protocol.MessageType, payload any) error {
	frame, err := protocol.Encode(t, payload)
	if err != nil {
		return err
	}

	st.mu.Lock()
	closed := st.closed
	st.mu.Unlock()
	if closed {
		return ErrClosed
	}

	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(frame)))

	// One writer at a time so the length prefix and frame stay contiguous.
	st.writeMu.Lock()
	defer st.writeMu.Unlock()
	if _, err := st.conn.Write(length[:]); err != nil {
		return fmt.Errorf("transport: writing frame length: %w", err)
	}
	if _, err := st.conn.Write(frame); err != nil {
		return fmt.Errorf("transport: writing frame: %w", err)
	}
	return nil
}

// RegisterHandler implements Transport.
func (st *StreamTransport) RegisterHandler(t protocol.MessageType, handler MessageHandler) {
	st.register(t, handler)
}

// OnClose implements Transport.
func (st *StreamTransport) OnClose(handler CloseHandler) {
	st.setCloseHandler(handler)
}

// Start implements Transport.
func (st *StreamTransport) Start() {
	go st.readLoop()
}

func (st *StreamTransport) readLoop() {
	var length [4]byte
	for {
		if _, err := io.ReadFull(st.conn, length[:]); err != nil {
			st.finish(st.closeError(err))
			return
		}
		size := binary.BigEndian.Uint32(length[:])
		if size > MaxFrameSize {
			logrus.WithFields(logrus.Fields{
				"function":   "readLoop",
				"frame_size": size,
			}).Error("Incoming frame exceeds maximum size")
			_ = st.Close()
			st.finish(ErrFrameTooLarge)
			return
		}

		frame := make([]byte, size)
		if _, err := io.ReadFull(st.conn, frame); err != nil {
			st.finish(st.closeError(err))
			return
		}
		st.dispatch(frame)
	}
}

// closeError maps read errors after a local Close to nil so the close
// handler can distinguish "we hung up" from "the peer vanished".
func (st *StreamTransport) closeError(err error) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed {
		return nil
	}
	return err
}

// Close implements Transport.
func (st *StreamTransport) Close() error {
	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return nil
	}
	st.closed = true
	st.mu.Unlock()

	err := st.conn.Close()
	st.finish(nil)
	return err
}
