package session

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/devdisp/codec"
	"github.com/opd-ai/devdisp/negotiation"
	"github.com/opd-ai/devdisp/protocol"
	"github.com/opd-ai/devdisp/transport"
)

// DisconnectInfo describes why a session ended. Intentional is true only
// when the local side requested the close; a peer-initiated Close message
// or a dropped transport both count as unintentional, which is the signal
// an external retry policy keys on.
type DisconnectInfo struct {
	Intentional bool
	Reason      *uint32 // reason code from a peer Close message, if any
	Err         error   // transport or decoder error, if any
}

// Callback types for per-event-kind notification. All callbacks run on the
// session's message goroutine; keep them short.
type (
	ConnectCallback            func()
	StateChangeCallback        func(previous, current State)
	DisconnectCallback         func(info DisconnectInfo)
	EncodingConfiguredCallback func(accepted negotiation.Accepted)
	DecodeErrorCallback        func(err error)
)

// Config carries the collaborators and device identity one session needs.
type Config struct {
	// DeviceName and DeviceResolution answer RequestDeviceInformation.
	DeviceName       string
	DeviceResolution [2]uint32

	// DisplayParameters answers RequestDisplayParameters. When nil, the
	// device name and resolution are reused.
	DisplayParameters func() protocol.DisplayParameters

	// Registry resolves codec families. Defaults to codec.DefaultRegistry.
	Registry *codec.Registry

	// Oracle answers decode-capability queries. Required.
	Oracle negotiation.Oracle

	// Decoder is the decode collaborator. Required.
	Decoder Decoder

	// SharedBuffer, when non-nil, is the pre-agreed buffer that
	// shared-buffer screen data refers into.
	SharedBuffer []byte

	// Selection overrides the engine's candidate selection policy.
	Selection negotiation.SelectionPolicy
}

var (
	// ErrNoDecoder indicates a session config without a decoder.
	ErrNoDecoder = errors.New("session: config requires a Decoder")
	// ErrNoOracle indicates a session config without a capability oracle.
	ErrNoOracle = errors.New("session: config requires an Oracle")
)

// Session drives the client side of one devdisp connection.
type Session struct {
	id         string
	tr         transport.Transport
	engine     *negotiation.Engine
	dispatcher *Dispatcher
	config     Config

	mu             sync.Mutex
	state          State
	candidates     []negotiation.Accepted // nil until the first negotiation completes
	active         *negotiation.Accepted
	localClose     bool
	finalized      bool
	negotiationGen uint64 // bumps per offer; stale negotiations discard their results

	negotiationCtx    context.Context
	cancelNegotiation context.CancelFunc

	finalizeOnce sync.Once

	onConnect            ConnectCallback
	onStateChange        StateChangeCallback
	onDisconnect         DisconnectCallback
	onEncodingConfigured EncodingConfiguredCallback
	onDecodeError        DecodeErrorCallback
}

// New builds a session over an established transport. The session owns the
// transport from here on. Call the OnX registration methods, then Start.
func New(tr transport.Transport, config Config) (*Session, error) {
	if config.Decoder == nil {
		return nil, ErrNoDecoder
	}
	if config.Oracle == nil {
		return nil, ErrNoOracle
	}
	if config.Registry == nil {
		config.Registry = codec.DefaultRegistry()
	}

	var opts []negotiation.Option
	if config.Selection != nil {
		opts = append(opts, negotiation.WithSelection(config.Selection))
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:                uuid.NewString(),
		tr:                tr,
		engine:            negotiation.NewEngine(config.Registry, config.Oracle, opts...),
		dispatcher:        NewDispatcher(config.Decoder, config.SharedBuffer),
		config:            config,
		state:             StateConnecting,
		negotiationCtx:    ctx,
		cancelNegotiation: cancel,
	}

	tr.RegisterHandler(protocol.MessageRequestPreInit, s.handleRequestPreInit)
	tr.RegisterHandler(protocol.MessageRequestDeviceInformation, s.handleRequestDeviceInformation)
	tr.RegisterHandler(protocol.MessageRequestProtocolInit, s.handleRequestProtocolInit)
	tr.RegisterHandler(protocol.MessageRequestDisplayParameters, s.handleRequestDisplayParameters)
	tr.RegisterHandler(protocol.MessageRequestPreferredEncoding, s.handleRequestPreferredEncoding)
	tr.RegisterHandler(protocol.MessageSetEncoding, s.handleSetEncoding)
	tr.RegisterHandler(protocol.MessageScreenData, s.handleScreenData)
	tr.RegisterHandler(protocol.MessageClose, s.handlePeerClose)
	tr.OnClose(s.handleTransportClosed)

	return s, nil
}

// ID returns the session identifier used in logs.
func (s *Session) ID() string { return s.id }

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// NegotiationAttempted reports whether at least one negotiation has run.
// This distinguishes "no compatible encoding found" from "not yet asked".
func (s *Session) NegotiationAttempted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.candidates != nil
}

// Candidates returns the result set of the most recent negotiation. Each
// negotiation replaces the set wholesale.
func (s *Session) Candidates() []negotiation.Accepted {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]negotiation.Accepted, len(s.candidates))
	copy(out, s.candidates)
	return out
}

// ActiveEncoding returns the currently committed encoding, or nil before
// SetEncoding arrives.
func (s *Session) ActiveEncoding() *negotiation.Accepted {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return nil
	}
	active := *s.active
	return &active
}

// Callback registration. Register before Start; registration after the
// session finalized has no effect.

func (s *Session) OnConnect(cb ConnectCallback)                       { s.onConnect = cb }
func (s *Session) OnStateChange(cb StateChangeCallback)               { s.onStateChange = cb }
func (s *Session) OnDisconnect(cb DisconnectCallback)                 { s.onDisconnect = cb }
func (s *Session) OnEncodingConfigured(cb EncodingConfiguredCallback) { s.onEncodingConfigured = cb }
func (s *Session) OnDecodeError(cb DecodeErrorCallback)               { s.onDecodeError = cb }

// Start begins handling messages. The transport-level connect event moves
// the session from Connecting to AwaitingDeviceInfo.
func (s *Session) Start() {
	s.setState(StateAwaitingDeviceInfo)
	if s.onConnect != nil {
		s.onConnect()
	}
	s.tr.Start()

	logrus.WithFields(logrus.Fields{
		"function":   "Start",
		"session_id": s.id,
	}).Info("Session started")
}

// Close requests an intentional teardown. The disconnect notification
// fires once the transport confirms closure.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.finalized || s.localClose {
		s.mu.Unlock()
		return nil
	}
	s.localClose = true
	s.mu.Unlock()

	s.setState(StateClosing)

	// Best effort: tell the peer before dropping the transport.
	if err := s.tr.Send(protocol.MessageClose, protocol.Close{}); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "Close",
			"session_id": s.id,
			"error":      err,
		}).Debug("Could not send Close message before teardown")
	}
	return s.tr.Close()
}

// UpdateDisplayParameters pushes new display parameters to the source.
// Valid any time after the handshake reaches AwaitingDeviceInfo.
func (s *Session) UpdateDisplayParameters(params protocol.DisplayParameters) error {
	return s.tr.Send(protocol.MessageDisplayParametersUpdate, params)
}

// --- message handlers (transport reader goroutine) ---

func (s *Session) handleRequestPreInit(*protocol.Message) {
	s.reply(protocol.MessageResponsePreInit, nil)
}

func (s *Session) handleRequestDeviceInformation(*protocol.Message) {
	s.reply(protocol.MessageResponseDeviceInformation, protocol.DeviceInfo{
		Name:       s.config.DeviceName,
		Resolution: s.config.DeviceResolution,
	})
}

func (s *Session) handleRequestProtocolInit(msg *protocol.Message) {
	var init protocol.ProtocolInit
	if err := msg.Decode(&init); err != nil {
		s.logDecodeFailure("handleRequestProtocolInit", err)
		return
	}
	// The key is echoed verbatim; the source verifies it.
	s.reply(protocol.MessageResponseProtocolInit, init)
}

func (s *Session) handleRequestDisplayParameters(*protocol.Message) {
	params := s.displayParameters()
	s.reply(protocol.MessageDisplayParametersUpdate, params)
	s.transition(StateAwaitingDeviceInfo, StateNegotiating)
}

func (s *Session) displayParameters() protocol.DisplayParameters {
	if s.config.DisplayParameters != nil {
		return s.config.DisplayParameters()
	}
	return protocol.DisplayParameters{
		Name:       s.config.DeviceName,
		Resolution: s.config.DeviceResolution,
	}
}

// handleRequestPreferredEncoding runs negotiation off the message loop:
// capability probes may be slow platform calls and must not stall screen
// data or teardown handling. The source waits for the preference reply
// before sending anything that depends on it, so ordering is preserved
// where it matters.
func (s *Session) handleRequestPreferredEncoding(msg *protocol.Message) {
	var offer protocol.EncodingOffer
	if err := msg.Decode(&offer); err != nil {
		s.logDecodeFailure("handleRequestPreferredEncoding", err)
		return
	}

	s.mu.Lock()
	s.negotiationGen++
	gen := s.negotiationGen
	s.mu.Unlock()

	go func() {
		accepted := s.engine.Negotiate(s.negotiationCtx, offer.Configurations)
		if s.negotiationCtx.Err() != nil {
			// Session is gone; discard late results.
			return
		}

		s.mu.Lock()
		if gen != s.negotiationGen {
			// A newer offer superseded this negotiation while it ran;
			// its results and reply belong to the newer one.
			s.mu.Unlock()
			logrus.WithFields(logrus.Fields{
				"function":   "handleRequestPreferredEncoding",
				"session_id": s.id,
			}).Debug("Discarding superseded negotiation results")
			return
		}
		s.candidates = accepted
		s.mu.Unlock()

		preference := protocol.EncodingPreference{
			Accepted: make([]protocol.EncoderConfiguration, 0, len(accepted)),
		}
		for _, a := range accepted {
			preference.Accepted = append(preference.Accepted, a.Configuration)
		}

		if len(accepted) == 0 {
			logrus.WithFields(logrus.Fields{
				"function":   "handleRequestPreferredEncoding",
				"session_id": s.id,
			}).Warn("No compatible encoding found, reporting empty preference")
		}
		s.reply(protocol.MessageEncodingPreference, preference)
	}()
}

func (s *Session) handleSetEncoding(msg *protocol.Message) {
	var chosen protocol.EncoderConfiguration
	if err := msg.Decode(&chosen); err != nil {
		s.logDecodeFailure("handleSetEncoding", err)
		return
	}

	accepted, err := s.resolveEncoding(chosen)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":       "handleSetEncoding",
			"session_id":     s.id,
			"encoder_name":   chosen.EncoderName,
			"encoder_family": chosen.EncoderFamily,
			"error":          err,
		}).Error("Cannot activate chosen encoding")
		s.reply(protocol.MessageSetEncodingAck, protocol.SetEncodingAck{OK: false})
		return
	}

	// Configure before the Streaming transition completes so screen data
	// never races a half-applied configuration.
	if err := s.dispatcher.Activate(accepted.CodecString, accepted.Width(), accepted.Height()); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":     "handleSetEncoding",
			"session_id":   s.id,
			"codec_string": accepted.CodecString,
			"error":        err,
		}).Error("Decoder rejected chosen encoding")
		s.reply(protocol.MessageSetEncodingAck, protocol.SetEncodingAck{OK: false})
		return
	}

	s.mu.Lock()
	s.active = &accepted
	s.mu.Unlock()

	s.setState(StateStreaming)
	s.reply(protocol.MessageSetEncodingAck, protocol.SetEncodingAck{OK: true})

	if s.onEncodingConfigured != nil && !s.isFinalized() {
		s.onEncodingConfigured(accepted)
	}
}

// resolveEncoding maps a SetEncoding payload onto a negotiated candidate,
// or renders it directly when the source skipped negotiation.
func (s *Session) resolveEncoding(chosen protocol.EncoderConfiguration) (negotiation.Accepted, error) {
	s.mu.Lock()
	candidates := s.candidates
	s.mu.Unlock()

	for _, candidate := range candidates {
		if candidate.Configuration.EncoderName == chosen.EncoderName &&
			candidate.Configuration.EncoderFamily == chosen.EncoderFamily {
			return candidate, nil
		}
	}

	defs := s.config.Registry.Lookup(chosen.EncoderFamily)
	if len(defs) == 0 {
		return negotiation.Accepted{}, errors.New("session: unknown encoder family " + chosen.EncoderFamily)
	}
	codecString, err := defs[0].CodecString(codec.Parameters(chosen.Parameters))
	if err != nil {
		return negotiation.Accepted{}, err
	}
	return negotiation.Accepted{
		Configuration: chosen,
		Definition:    defs[0],
		CodecString:   codecString,
	}, nil
}

func (s *Session) handleScreenData(msg *protocol.Message) {
	var data protocol.ScreenData
	if err := msg.Decode(&data); err != nil {
		s.logDecodeFailure("handleScreenData", err)
		return
	}

	if err := s.dispatcher.Dispatch(&data); err != nil {
		if s.onDecodeError != nil && !s.isFinalized() {
			s.onDecodeError(err)
		}
		if errors.Is(err, ErrDecoderFatal) {
			// An unusable decoder ends the session like a dropped
			// transport would.
			logrus.WithFields(logrus.Fields{
				"function":   "handleScreenData",
				"session_id": s.id,
				"error":      err,
			}).Error("Decoder unusable, tearing session down")
			s.finalize(err)
			_ = s.tr.Close()
		}
	}
}

func (s *Session) handlePeerClose(msg *protocol.Message) {
	var closeMsg protocol.Close
	if err := msg.Decode(&closeMsg); err != nil && len(msg.Payload) > 0 {
		s.logDecodeFailure("handlePeerClose", err)
	}

	logrus.WithFields(logrus.Fields{
		"function":   "handlePeerClose",
		"session_id": s.id,
		"reason":     closeMsg.Reason,
	}).Info("Peer requested close")

	s.finalizeWithReason(nil, closeMsg.Reason)
	_ = s.tr.Close()
}

func (s *Session) handleTransportClosed(err error) {
	s.finalize(err)
}

// --- teardown ---

func (s *Session) finalize(err error) {
	s.finalizeWithReason(err, nil)
}

// finalizeWithReason ends the session exactly once: cancels in-flight
// negotiation, closes the decoder, moves to Disconnected and emits the one
// disconnect notification. Every path out of a session funnels through
// here.
func (s *Session) finalizeWithReason(err error, reason *uint32) {
	s.finalizeOnce.Do(func() {
		s.mu.Lock()
		intentional := s.localClose
		previous := s.state
		s.state = StateDisconnected
		s.finalized = true
		s.mu.Unlock()

		s.cancelNegotiation()

		if closeErr := s.config.Decoder.Close(); closeErr != nil {
			logrus.WithFields(logrus.Fields{
				"function":   "finalizeWithReason",
				"session_id": s.id,
				"error":      closeErr,
			}).Warn("Decoder close failed during teardown")
		}

		if s.onStateChange != nil && previous != StateDisconnected {
			s.onStateChange(previous, StateDisconnected)
		}

		logrus.WithFields(logrus.Fields{
			"function":    "finalizeWithReason",
			"session_id":  s.id,
			"intentional": intentional,
			"error":       err,
		}).Info("Session disconnected")

		if s.onDisconnect != nil {
			s.onDisconnect(DisconnectInfo{
				Intentional: intentional,
				Reason:      reason,
				Err:         err,
			})
		}
	})
}

// --- helpers ---

func (s *Session) isFinalized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalized
}

func (s *Session) setState(next State) {
	s.mu.Lock()
	if s.finalized || s.state == next {
		s.mu.Unlock()
		return
	}
	previous := s.state
	s.state = next
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":   "setState",
		"session_id": s.id,
		"previous":   previous.String(),
		"current":    next.String(),
	}).Debug("Session state changed")

	if s.onStateChange != nil {
		s.onStateChange(previous, next)
	}
}

// transition moves from a specific state only; other current states are
// left alone (renegotiation re-enters Negotiating from Streaming via
// setState at the call sites that allow it).
func (s *Session) transition(from, to State) {
	s.mu.Lock()
	if s.finalized || s.state != from {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.setState(to)
}

func (s *Session) reply(t protocol.MessageType, payload any) {
	if err := s.tr.Send(t, payload); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":     "reply",
			"session_id":   s.id,
			"message_type": t.String(),
			"error":        err,
		}).Warn("Failed to send reply")
	}
}

func (s *Session) logDecodeFailure(function string, err error) {
	logrus.WithFields(logrus.Fields{
		"function":   function,
		"session_id": s.id,
		"error":      err,
	}).Warn("Dropping malformed message")
}
