// Package protocol defines the messages exchanged between a display source
// (the encoder-capable host) and a display client (the decoder-capable
// device) over a reliable byte-stream transport.
//
// Every message travels as one binary frame:
//
//	[message type (1 byte)][CBOR-encoded payload (variable)]
//
// Messages with no payload carry zero payload bytes. The transport layer is
// responsible for frame boundaries (WebSocket binary messages are already
// framed; raw byte streams use a length prefix, see package transport).
//
// The handshake runs PreInit -> DeviceInformation -> ProtocolInit before any
// core messages flow; the core messages carry display parameters, encoding
// negotiation and screen data.
package protocol
