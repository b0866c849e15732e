// Package session implements the client-side connection state machine of
// the devdisp protocol, plus the stream dispatch layer that feeds received
// screen data to the active decoder.
//
// One Session corresponds to one logical connection over one transport.
// Its life runs
//
//	Disconnected -> Connecting -> AwaitingDeviceInfo -> Negotiating ->
//	Streaming -> Disconnected
//
// with a transient Closing state on an explicit local close. All state is
// dropped when the transport closes; reconnection always builds a fresh
// Session.
//
// Event delivery guarantees enforced here, not left to consumers:
//
//   - messages are handled in transport delivery order;
//   - the disconnect notification fires exactly once, on every path out,
//     carrying whether the close was locally requested;
//   - after the disconnect notification no further session events are
//     delivered;
//   - the decoder configuration seen by screen-data dispatch is always a
//     completely applied one (configuration swap is atomic).
package session
