package devdisp

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/devdisp/codec"
	"github.com/opd-ai/devdisp/discovery"
	"github.com/opd-ai/devdisp/negotiation"
	"github.com/opd-ai/devdisp/protocol"
	"github.com/opd-ai/devdisp/session"
	"github.com/opd-ai/devdisp/transport"
)

// Options contains configuration options for creating a Client.
type Options struct {
	// DeviceName and DeviceResolution identify this client to sources.
	DeviceName       string
	DeviceResolution [2]uint32

	// Decoder is the application's decode collaborator. Required.
	Decoder session.Decoder
	// Oracle answers decode-capability queries. Required.
	Oracle negotiation.Oracle

	// Registry resolves codec families. Defaults to the built-in registry.
	Registry *codec.Registry
	// SharedBuffer, when non-nil, receives shared-buffer screen data.
	SharedBuffer []byte
	// Selection overrides the default first-match candidate selection.
	Selection negotiation.SelectionPolicy

	// DiscoveryTimeout bounds Discover when its context has no deadline.
	DiscoveryTimeout time.Duration
}

// NewOptions creates a new default Options.
func NewOptions() *Options {
	return &Options{
		DeviceName:       "devdisp client",
		DeviceResolution: [2]uint32{1920, 1080},
		DiscoveryTimeout: 3 * time.Second,
	}
}

// DecodedFrame is one decoded video frame surfaced through the client.
type DecodedFrame struct {
	Width     uint32
	Height    uint32
	Timestamp int64
	Data      []byte
}

// FrameSource is optionally implemented by decoders that push decoded
// frames back through the client. When the configured Decoder implements
// it, frames flow to the OnDecodedFrame callback.
type FrameSource interface {
	OnFrame(func(frame DecodedFrame))
}

// Callback types mirroring the session's event kinds.
type (
	ConnectionStatusCallback   func(previous, current session.State)
	DisconnectCallback         func(info session.DisconnectInfo)
	EncodingConfiguredCallback func(accepted negotiation.Accepted)
	DecodedFrameCallback       func(frame DecodedFrame)
	DecodeErrorCallback        func(err error)
)

// ErrNotConnected indicates an operation that needs an active session.
var ErrNotConnected = errors.New("devdisp: not connected")

// Client is a devdisp display client: it connects to a display source,
// negotiates an encoding and feeds received screen data to the decoder.
// One Client handles one connection at a time; Connect after a disconnect
// starts a fresh session.
type Client struct {
	options *Options

	mu      sync.Mutex
	session *session.Session

	connectionStatusCallback   ConnectionStatusCallback
	disconnectCallback         DisconnectCallback
	encodingConfiguredCallback EncodingConfiguredCallback
	decodedFrameCallback       DecodedFrameCallback
	decodeErrorCallback        DecodeErrorCallback
}

// New creates a new Client with the given options.
func New(options *Options) (*Client, error) {
	if options == nil {
		options = NewOptions()
	}
	if options.Decoder == nil {
		return nil, session.ErrNoDecoder
	}
	if options.Oracle == nil {
		return nil, session.ErrNoOracle
	}

	c := &Client{options: options}
	if source, ok := options.Decoder.(FrameSource); ok {
		source.OnFrame(c.emitFrame)
	}
	return c, nil
}

// Callback registration. Register before Connect.

func (c *Client) OnConnectionStatus(callback ConnectionStatusCallback) {
	c.connectionStatusCallback = callback
}

func (c *Client) OnDisconnect(callback DisconnectCallback) {
	c.disconnectCallback = callback
}

func (c *Client) OnEncodingConfigured(callback EncodingConfiguredCallback) {
	c.encodingConfiguredCallback = callback
}

func (c *Client) OnDecodedFrame(callback DecodedFrameCallback) {
	c.decodedFrameCallback = callback
}

func (c *Client) OnDecodeError(callback DecodeErrorCallback) {
	c.decodeErrorCallback = callback
}

// Discover browses the local network for display sources. When ctx has no
// deadline the options' DiscoveryTimeout applies.
func (c *Client) Discover(ctx context.Context) ([]discovery.HostEntry, error) {
	if _, ok := ctx.Deadline(); !ok && c.options.DiscoveryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.options.DiscoveryTimeout)
		defer cancel()
	}
	return discovery.Browse(ctx)
}

// Connect dials a display source over WebSocket and starts the session.
// addr is either a full ws:// or wss:// URL or a bare host:port, as
// returned by Discover.
func (c *Client) Connect(addr string) error {
	url := addr
	if !strings.Contains(url, "://") {
		url = "ws://" + url
	}
	tr, err := transport.DialWebSocket(url)
	if err != nil {
		return err
	}
	return c.ConnectTransport(tr)
}

// ConnectTransport starts a session over an already established transport,
// such as a USB accessory byte stream. The client owns the transport from
// here on.
func (c *Client) ConnectTransport(tr transport.Transport) error {
	s, err := session.New(tr, session.Config{
		DeviceName:       c.options.DeviceName,
		DeviceResolution: c.options.DeviceResolution,
		Registry:         c.options.Registry,
		Oracle:           c.options.Oracle,
		Decoder:          c.options.Decoder,
		SharedBuffer:     c.options.SharedBuffer,
		Selection:        c.options.Selection,
	})
	if err != nil {
		_ = tr.Close()
		return err
	}

	s.OnStateChange(func(previous, current session.State) {
		if c.connectionStatusCallback != nil {
			c.connectionStatusCallback(previous, current)
		}
	})
	s.OnDisconnect(func(info session.DisconnectInfo) {
		c.mu.Lock()
		if c.session == s {
			c.session = nil
		}
		c.mu.Unlock()
		if c.disconnectCallback != nil {
			c.disconnectCallback(info)
		}
	})
	s.OnEncodingConfigured(func(accepted negotiation.Accepted) {
		if c.encodingConfiguredCallback != nil {
			c.encodingConfiguredCallback(accepted)
		}
	})
	s.OnDecodeError(func(err error) {
		if c.decodeErrorCallback != nil {
			c.decodeErrorCallback(err)
		}
	})

	c.mu.Lock()
	previous := c.session
	c.session = s
	c.mu.Unlock()
	if previous != nil {
		// One connection at a time; a forgotten old session would keep
		// its transport goroutine alive.
		_ = previous.Close()
	}

	logrus.WithFields(logrus.Fields{
		"function":   "ConnectTransport",
		"session_id": s.ID(),
	}).Info("Client connected")

	s.Start()
	return nil
}

// State returns the current session state, or StateDisconnected when no
// session is active.
func (c *Client) State() session.State {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s == nil {
		return session.StateDisconnected
	}
	return s.State()
}

// ActiveEncoding returns the committed encoding of the current session, or
// nil before one is committed.
func (c *Client) ActiveEncoding() *negotiation.Accepted {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.ActiveEncoding()
}

// UpdateDisplayParameters pushes new display parameters to the connected
// source, e.g. after a rotation.
func (c *Client) UpdateDisplayParameters(params protocol.DisplayParameters) error {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s == nil {
		return ErrNotConnected
	}
	return s.UpdateDisplayParameters(params)
}

// Close ends the current session intentionally. Safe to call when not
// connected.
func (c *Client) Close() error {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.Close()
}

func (c *Client) emitFrame(frame DecodedFrame) {
	if c.decodedFrameCallback != nil {
		c.decodedFrameCallback(frame)
	}
}
