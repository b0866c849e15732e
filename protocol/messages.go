package protocol

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// MessageType identifies one devdisp protocol message.
type MessageType byte

const (
	// Source -> client handshake and core messages.

	// MessageRequestPreInit asks a new connection whether it is a devdisp
	// client at all.
	MessageRequestPreInit MessageType = iota + 1
	// MessageRequestDeviceInformation asks the client for the name and
	// native resolution shown during device selection.
	MessageRequestDeviceInformation
	// MessageRequestProtocolInit asks the client to confirm it is ready to
	// receive screen data, echoing the init key.
	MessageRequestProtocolInit
	// MessageRequestDisplayParameters asks the client for the parameters
	// the virtual display should be created with.
	MessageRequestDisplayParameters
	// MessageRequestPreferredEncoding offers the host's candidate encoder
	// configurations for negotiation.
	MessageRequestPreferredEncoding
	// MessageSetEncoding commits the session to one encoder configuration.
	MessageSetEncoding
	// MessageScreenData carries one coded video unit.
	MessageScreenData

	// Client -> source responses and notifications.

	// MessageResponsePreInit tells the source "I intend to be selectable".
	MessageResponsePreInit
	// MessageResponseDeviceInformation carries the client's device info.
	MessageResponseDeviceInformation
	// MessageResponseProtocolInit echoes the init key back to the source.
	MessageResponseProtocolInit
	// MessageDisplayParametersUpdate carries the client's display
	// parameters, either as a reply or client-initiated at any later time.
	MessageDisplayParametersUpdate
	// MessageEncodingPreference carries the accepted subset of an offer.
	MessageEncodingPreference
	// MessageSetEncodingAck acknowledges a SetEncoding message.
	MessageSetEncodingAck

	// Either direction.

	// MessageClose requests an orderly teardown, with an optional reason.
	MessageClose
)

var messageTypeNames = map[MessageType]string{
	MessageRequestPreInit:            "RequestPreInit",
	MessageRequestDeviceInformation:  "RequestDeviceInformation",
	MessageRequestProtocolInit:       "RequestProtocolInit",
	MessageRequestDisplayParameters:  "RequestDisplayParameters",
	MessageRequestPreferredEncoding:  "RequestPreferredEncoding",
	MessageSetEncoding:               "SetEncoding",
	MessageScreenData:                "ScreenData",
	MessageResponsePreInit:           "ResponsePreInit",
	MessageResponseDeviceInformation: "ResponseDeviceInformation",
	MessageResponseProtocolInit:      "ResponseProtocolInit",
	MessageDisplayParametersUpdate:   "DisplayParametersUpdate",
	MessageEncodingPreference:        "EncodingPreference",
	MessageSetEncodingAck:            "SetEncodingAck",
	MessageClose:                     "Close",
}

// String returns the wire message name for logging.
func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("MessageType(%d)", byte(t))
}

// DeviceInfo is the pre-display device information shown to the user when
// selecting a device, before a full display session starts.
type DeviceInfo struct {
	Name       string    `cbor:"name"`
	Resolution [2]uint32 `cbor:"resolution"`
}

// DisplayParameters describes the virtual display the source should create
// for this client.
type DisplayParameters struct {
	Name       string    `cbor:"name"`
	Resolution [2]uint32 `cbor:"resolution"`
}

// ProtocolInit carries the init key the client must echo before screen data
// flows.
type ProtocolInit struct {
	InitKey string `cbor:"initKey"`
}

// EncoderConfiguration is one candidate way the source can encode the
// stream. EncoderFamily is a codec id resolvable in the codec registry;
// Parameters is the family-specific parameter map.
type EncoderConfiguration struct {
	EncoderName       string         `cbor:"encoderName"`
	EncoderFamily     string         `cbor:"encoderFamily"`
	EncodedResolution [2]uint32      `cbor:"encodedResolution"`
	Parameters        map[string]any `cbor:"parameters,omitempty"`
}

// EncodingOffer is the payload of RequestPreferredEncoding.
type EncodingOffer struct {
	Configurations []EncoderConfiguration `cbor:"configurations"`
}

// EncodingPreference is the payload of MessageEncodingPreference: the
// accepted subset of an offer, in preference order.
type EncodingPreference struct {
	Accepted []EncoderConfiguration `cbor:"accepted"`
}

// SetEncodingAck acknowledges a SetEncoding message.
type SetEncodingAck struct {
	OK bool `cbor:"ok"`
}

// ScreenData carries one coded video unit. Either Data holds the bytes
// inline, or Shared is set and Length refers to the leading bytes of the
// session's shared buffer. The explicit flag keeps the two cases apart
// even for a zero-length inline payload, which would otherwise be
// indistinguishable from a length-0 shared signal on the wire.
type ScreenData struct {
	Length uint32 `cbor:"length"`
	Data   []byte `cbor:"data,omitempty"`
	Shared bool   `cbor:"shared,omitempty"`
}

// Inline reports whether the payload bytes are carried in the message
// itself rather than through the shared buffer.
func (s *ScreenData) Inline() bool {
	return !s.Shared
}

// Close requests an orderly teardown. Reason is optional.
type Close struct {
	Reason *uint32 `cbor:"reason,omitempty"`
}

// Message is one decoded protocol frame: the type tag plus the raw CBOR
// payload bytes.
type Message struct {
	Type    MessageType
	Payload []byte
}

var (
	// ErrEmptyFrame indicates a frame without even a type byte.
	ErrEmptyFrame = errors.New("protocol: empty frame")
)

// Encode builds the wire frame for a message. A nil payload produces a
// frame with only the type byte.
func Encode(t MessageType, payload any) ([]byte, error) {
	if payload == nil {
		return []byte{byte(t)}, nil
	}
	body, err := cbor.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: encoding %s payload: %w", t, err)
	}
	frame := make([]byte, 1+len(body))
	frame[0] = byte(t)
	copy(frame[1:], body)
	return frame, nil
}

// DecodeEnvelope splits a wire frame into its type and payload bytes. The
// payload is not interpreted; call Message.Decode with the matching payload
// struct.
func DecodeEnvelope(frame []byte) (*Message, error) {
	if len(frame) == 0 {
		return nil, ErrEmptyFrame
	}
	return &Message{
		Type:    MessageType(frame[0]),
		Payload: frame[1:],
	}, nil
}

// Decode unmarshals the message payload into the given struct.
func (m *Message) Decode(into any) error {
	if err := cbor.Unmarshal(m.Payload, into); err != nil {
		return fmt.Errorf("protocol: decoding %s payload: %w", m.Type, err)
	}
	return nil
}
