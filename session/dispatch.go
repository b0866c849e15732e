package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/devdisp/protocol"
)

// ChunkTypeKey marks a chunk as independently decodable.
const ChunkTypeKey = "key"

// EncodedChunk is one coded video unit handed to the decoder.
//
// The protocol does not carry per-frame timestamps today, so every chunk
// arrives with Timestamp 0 and type "key", treating each unit as
// independently decodable. Whether that is sufficient for decoders that
// buffer internally is an open question inherited from the protocol; the
// fields exist so a timestamp scheme can be added without reshaping the
// decoder contract.
type EncodedChunk struct {
	Type      string
	Timestamp int64
	Data      []byte
}

// Decoder is the decode collaborator a session drives. Configure is called
// before the first Decode and again on every encoding change; decoded
// frames surface through whatever mechanism the implementation chose at
// construction (callback, channel, direct rendering).
type Decoder interface {
	Configure(codecString string, width, height uint32) error
	Decode(chunk EncodedChunk) error
	Close() error
}

// ErrDecoderFatal wraps decode errors after which the decoder is unusable.
// A session treats such an error like an unintentional disconnect.
var ErrDecoderFatal = errors.New("decoder entered terminal state")

var (
	errNoSharedBuffer    = errors.New("session: shared-buffer screen data but no shared buffer configured")
	errSharedBufferShort = errors.New("session: screen-data length exceeds shared buffer")
)

// Dispatcher resolves screen-data notifications to byte slices and hands
// them to the active decoder. Until an encoding is activated, screen data
// is dropped, never queued.
type Dispatcher struct {
	decoder Decoder

	// The shared buffer is single-slot: the transport side must not signal
	// a new length before the previous dispatch call returned. Dispatch
	// holds mu for the whole call, which also makes the configuration swap
	// atomic with respect to decoding.
	mu     sync.Mutex
	buffer []byte
	active bool
}

// NewDispatcher creates a dispatcher for the given decoder. sharedBuffer
// may be nil when only inline screen data is expected.
func NewDispatcher(decoder Decoder, sharedBuffer []byte) *Dispatcher {
	return &Dispatcher{decoder: decoder, buffer: sharedBuffer}
}

// Activate configures the decoder with a rendered codec string and coded
// dimensions, then atomically makes it the configuration all subsequent
// dispatches decode against. On error the previous configuration stays in
// effect.
func (d *Dispatcher) Activate(codecString string, width, height uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.decoder.Configure(codecString, width, height); err != nil {
		return fmt.Errorf("session: configuring decoder for %q: %w", codecString, err)
	}
	d.active = true

	logrus.WithFields(logrus.Fields{
		"function":     "Activate",
		"codec_string": codecString,
		"width":        width,
		"height":       height,
	}).Debug("Decoder configured")
	return nil
}

// Dispatch resolves one screen-data message and decodes it. Screen data
// arriving before any encoding is active is dropped with a nil return.
func (d *Dispatcher) Dispatch(data *protocol.ScreenData) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.active {
		logrus.WithFields(logrus.Fields{
			"function": "Dispatch",
			"length":   data.Length,
		}).Debug("Dropping screen data, no encoding active")
		return nil
	}

	payload, err := d.resolve(data)
	if err != nil {
		return err
	}

	chunk := EncodedChunk{
		Type:      ChunkTypeKey,
		Timestamp: 0,
		Data:      payload,
	}
	if err := d.decoder.Decode(chunk); err != nil {
		return fmt.Errorf("session: decoding %d byte chunk: %w", len(payload), err)
	}
	return nil
}

// resolve turns a screen-data message into the concrete byte slice: inline
// bytes, or the leading Length bytes of the shared buffer.
func (d *Dispatcher) resolve(data *protocol.ScreenData) ([]byte, error) {
	if data.Inline() {
		return data.Data, nil
	}
	if d.buffer == nil {
		return nil, errNoSharedBuffer
	}
	if int(data.Length) > len(d.buffer) {
		return nil, fmt.Errorf("%w: %d > %d", errSharedBufferShort, data.Length, len(d.buffer))
	}
	return d.buffer[:data.Length], nil
}
