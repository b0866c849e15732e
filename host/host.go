package host

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/devdisp/protocol"
	"github.com/opd-ai/devdisp/transport"
)

var (
	// ErrInitKeyMismatch indicates the client echoed a different init key
	// than the one sent, so it cannot be trusted to be in sync.
	ErrInitKeyMismatch = errors.New("host: protocol init key mismatch")
	// ErrNoAcceptedEncoding indicates the client accepted nothing from the
	// offered configurations.
	ErrNoAcceptedEncoding = errors.New("host: client accepted no offered encoding")
	// ErrEncodingRejected indicates the client refused to activate the
	// chosen configuration.
	ErrEncodingRejected = errors.New("host: client rejected the chosen encoding")
	// ErrClosed indicates the connection ended while a request was waiting
	// for its reply.
	ErrClosed = errors.New("host: connection closed")
)

// DisplayParametersCallback observes client-initiated display parameter
// updates arriving outside a request/reply exchange.
type DisplayParametersCallback func(params protocol.DisplayParameters)

// CloseCallback observes the end of the connection. err is nil on a clean
// local close.
type CloseCallback func(err error)

// Host drives the source side of one devdisp connection: the handshake,
// encoding negotiation and screen-data sending. Requests are strictly
// sequential; one request must complete before the next starts.
type Host struct {
	id      string
	tr      transport.Transport
	catalog *Catalog

	mu      sync.Mutex
	pending map[protocol.MessageType]chan *protocol.Message
	closed  bool

	onDisplayParameters DisplayParametersCallback
	onClose             CloseCallback
}

// NewHost builds a host over an established transport. A nil catalog means
// the default encoder catalog.
func NewHost(tr transport.Transport, catalog *Catalog) *Host {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	h := &Host{
		id:      uuid.NewString(),
		tr:      tr,
		catalog: catalog,
		pending: make(map[protocol.MessageType]chan *protocol.Message),
	}

	for _, mt := range []protocol.MessageType{
		protocol.MessageResponsePreInit,
		protocol.MessageResponseDeviceInformation,
		protocol.MessageResponseProtocolInit,
		protocol.MessageEncodingPreference,
		protocol.MessageSetEncodingAck,
	} {
		mt := mt
		tr.RegisterHandler(mt, func(msg *protocol.Message) { h.deliver(mt, msg) })
	}
	tr.RegisterHandler(protocol.MessageDisplayParametersUpdate, h.handleDisplayParameters)
	tr.RegisterHandler(protocol.MessageClose, h.handlePeerClose)
	tr.OnClose(h.handleTransportClosed)
	return h
}

// ID returns the connection identifier used in logs.
func (h *Host) ID() string { return h.id }

// Catalog returns the encoder catalog this host offers from.
func (h *Host) Catalog() *Catalog { return h.catalog }

// OnDisplayParameters registers the callback for client-initiated display
// parameter updates. Register before Start.
func (h *Host) OnDisplayParameters(cb DisplayParametersCallback) {
	h.onDisplayParameters = cb
}

// OnClose registers the connection-end callback. Register before Start.
func (h *Host) OnClose(cb CloseCallback) {
	h.onClose = cb
}

// Start begins handling replies. Call after callback registration.
func (h *Host) Start() {
	h.tr.Start()
}

// Close tears the connection down, telling the client first.
func (h *Host) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	if err := h.tr.Send(protocol.MessageClose, protocol.Close{}); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Close",
			"host_id":  h.id,
			"error":    err,
		}).Debug("Could not send Close message before teardown")
	}
	return h.tr.Close()
}

// PreInit asks the connection whether a devdisp client is on the other
// end. A reply, regardless of content, means yes.
func (h *Host) PreInit(ctx context.Context) error {
	_, err := h.request(ctx, protocol.MessageRequestPreInit, nil, protocol.MessageResponsePreInit)
	return err
}

// DeviceInformation fetches the client's device name and native
// resolution, for selection UIs.
func (h *Host) DeviceInformation(ctx context.Context) (protocol.DeviceInfo, error) {
	msg, err := h.request(ctx, protocol.MessageRequestDeviceInformation, nil, protocol.MessageResponseDeviceInformation)
	if err != nil {
		return protocol.DeviceInfo{}, err
	}
	var info protocol.DeviceInfo
	if err := msg.Decode(&info); err != nil {
		return protocol.DeviceInfo{}, err
	}
	return info, nil
}

// InitializeProtocol sends a fresh init key and verifies the client echoes
// it verbatim before any screen data flows.
func (h *Host) InitializeProtocol(ctx context.Context) error {
	key := uuid.NewString()
	msg, err := h.request(ctx, protocol.MessageRequestProtocolInit,
		protocol.ProtocolInit{InitKey: key}, protocol.MessageResponseProtocolInit)
	if err != nil {
		return err
	}
	var echo protocol.ProtocolInit
	if err := msg.Decode(&echo); err != nil {
		return err
	}
	if echo.InitKey != key {
		return fmt.Errorf("%w: sent %q, got %q", ErrInitKeyMismatch, key, echo.InitKey)
	}
	return nil
}

// DisplayParameters asks the client for the parameters the virtual display
// should be created with.
func (h *Host) DisplayParameters(ctx context.Context) (protocol.DisplayParameters, error) {
	msg, err := h.request(ctx, protocol.MessageRequestDisplayParameters, nil, protocol.MessageDisplayParametersUpdate)
	if err != nil {
		return protocol.DisplayParameters{}, err
	}
	var params protocol.DisplayParameters
	if err := msg.Decode(&params); err != nil {
		return protocol.DisplayParameters{}, err
	}
	return params, nil
}

// NegotiateEncoding offers configurations and returns the subset the
// client accepted, in the client's preference order.
func (h *Host) NegotiateEncoding(ctx context.Context, offered []protocol.EncoderConfiguration) ([]protocol.EncoderConfiguration, error) {
	msg, err := h.request(ctx, protocol.MessageRequestPreferredEncoding,
		protocol.EncodingOffer{Configurations: offered}, protocol.MessageEncodingPreference)
	if err != nil {
		return nil, err
	}
	var preference protocol.EncodingPreference
	if err := msg.Decode(&preference); err != nil {
		return nil, err
	}
	return preference.Accepted, nil
}

// SetEncoding commits the session to one configuration. ErrEncodingRejected
// means the client could not activate it; trying the next accepted
// configuration is reasonable.
func (h *Host) SetEncoding(ctx context.Context, config protocol.EncoderConfiguration) error {
	msg, err := h.request(ctx, protocol.MessageSetEncoding, config, protocol.MessageSetEncodingAck)
	if err != nil {
		return err
	}
	var ack protocol.SetEncodingAck
	if err := msg.Decode(&ack); err != nil {
		return err
	}
	if !ack.OK {
		return ErrEncodingRejected
	}
	return nil
}

// Connect runs the full handshake: pre-init, device information, protocol
// init, display parameters, encoding negotiation from the catalog, then
// committing the first accepted configuration that the client activates.
// On success the returned configuration is live and SendScreenData may be
// called.
func (h *Host) Connect(ctx context.Context) (protocol.EncoderConfiguration, error) {
	var none protocol.EncoderConfiguration

	if err := h.PreInit(ctx); err != nil {
		return none, fmt.Errorf("host: pre-init: %w", err)
	}

	info, err := h.DeviceInformation(ctx)
	if err != nil {
		return none, fmt.Errorf("host: device information: %w", err)
	}
	logrus.WithFields(logrus.Fields{
		"function":    "Connect",
		"host_id":     h.id,
		"device_name": info.Name,
		"resolution":  info.Resolution,
	}).Info("Device identified")

	if err := h.InitializeProtocol(ctx); err != nil {
		return none, fmt.Errorf("host: protocol init: %w", err)
	}

	params, err := h.DisplayParameters(ctx)
	if err != nil {
		return none, fmt.Errorf("host: display parameters: %w", err)
	}

	offer := h.catalog.Offer(params.Resolution[0], params.Resolution[1])
	accepted, err := h.NegotiateEncoding(ctx, offer)
	if err != nil {
		return none, fmt.Errorf("host: encoding negotiation: %w", err)
	}
	if len(accepted) == 0 {
		return none, ErrNoAcceptedEncoding
	}

	// The client may still fail to activate an accepted configuration;
	// fall through the preference order until one sticks.
	for _, config := range accepted {
		err = h.SetEncoding(ctx, config)
		if err == nil {
			logrus.WithFields(logrus.Fields{
				"function":       "Connect",
				"host_id":        h.id,
				"encoder_name":   config.EncoderName,
				"encoder_family": config.EncoderFamily,
			}).Info("Encoding committed")
			return config, nil
		}
		if !errors.Is(err, ErrEncodingRejected) {
			return none, fmt.Errorf("host: set encoding: %w", err)
		}
	}
	return none, fmt.Errorf("host: set encoding: %w", err)
}

// SendScreenData ships one coded video unit inline.
func (h *Host) SendScreenData(data []byte) error {
	return h.tr.Send(protocol.MessageScreenData, protocol.ScreenData{
		Length: uint32(len(data)),
		Data:   data,
	})
}

// SignalScreenData tells the client the leading length bytes of the shared
// buffer hold the next coded video unit.
func (h *Host) SignalScreenData(length uint32) error {
	return h.tr.Send(protocol.MessageScreenData, protocol.ScreenData{Length: length, Shared: true})
}

// --- request/reply plumbing ---

func (h *Host) request(ctx context.Context, send protocol.MessageType, payload any, reply protocol.MessageType) (*protocol.Message, error) {
	ch := make(chan *protocol.Message, 1)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrClosed
	}
	h.pending[reply] = ch
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.pending, reply)
		h.mu.Unlock()
	}()

	if err := h.tr.Send(send, payload); err != nil {
		return nil, err
	}

	select {
	case msg, ok := <-ch:
		if !ok {
			return nil, ErrClosed
		}
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// deliver routes a reply to its outstanding request. The send happens
// under h.mu so a concurrent teardown cannot close the channel between
// lookup and send, and is non-blocking so a duplicate reply from a buggy
// peer is dropped instead of wedging the reader goroutine.
func (h *Host) deliver(mt protocol.MessageType, msg *protocol.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	ch := h.pending[mt]
	if ch == nil {
		logrus.WithFields(logrus.Fields{
			"function":     "deliver",
			"host_id":      h.id,
			"message_type": mt.String(),
		}).Warn("Reply with no request outstanding, dropping")
		return
	}
	select {
	case ch <- msg:
	default:
		logrus.WithFields(logrus.Fields{
			"function":     "deliver",
			"host_id":      h.id,
			"message_type": mt.String(),
		}).Warn("Duplicate reply for outstanding request, dropping")
	}
}

// handleDisplayParameters routes a display parameter update either to an
// outstanding request or, when client-initiated, to the callback. The
// request path follows the same locked, non-blocking send discipline as
// deliver.
func (h *Host) handleDisplayParameters(msg *protocol.Message) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	if ch := h.pending[protocol.MessageDisplayParametersUpdate]; ch != nil {
		select {
		case ch <- msg:
		default:
		}
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()

	var params protocol.DisplayParameters
	if err := msg.Decode(&params); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleDisplayParameters",
			"host_id":  h.id,
			"error":    err,
		}).Warn("Dropping malformed display parameter update")
		return
	}
	if h.onDisplayParameters != nil {
		h.onDisplayParameters(params)
	}
}

func (h *Host) handlePeerClose(msg *protocol.Message) {
	var closeMsg protocol.Close
	if len(msg.Payload) > 0 {
		_ = msg.Decode(&closeMsg)
	}
	logrus.WithFields(logrus.Fields{
		"function": "handlePeerClose",
		"host_id":  h.id,
		"reason":   closeMsg.Reason,
	}).Info("Client requested close")
	_ = h.tr.Close()
}

// handleTransportClosed unblocks every waiting request, then notifies.
func (h *Host) handleTransportClosed(err error) {
	h.mu.Lock()
	h.closed = true
	for mt, ch := range h.pending {
		close(ch)
		delete(h.pending, mt)
	}
	h.mu.Unlock()

	if h.onClose != nil {
		h.onClose(err)
	}
}
