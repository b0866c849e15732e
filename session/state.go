package session

import "fmt"

// State is the connection state of one session.
type State uint8

const (
	// StateDisconnected is both the initial and the terminal state.
	StateDisconnected State = iota
	// StateConnecting means the transport exists but Start has not run.
	StateConnecting
	// StateAwaitingDeviceInfo means the handshake is under way: the source
	// may ask for pre-init, device information and protocol init.
	StateAwaitingDeviceInfo
	// StateNegotiating means display parameters have been exchanged and
	// encoding negotiation may run.
	StateNegotiating
	// StateStreaming means an encoding is active and screen data decodes.
	StateStreaming
	// StateClosing is the transient state entered on an explicit local
	// close, until the transport confirms closure.
	StateClosing
)

var stateNames = map[State]string{
	StateDisconnected:       "Disconnected",
	StateConnecting:         "Connecting",
	StateAwaitingDeviceInfo: "AwaitingDeviceInfo",
	StateNegotiating:        "Negotiating",
	StateStreaming:          "Streaming",
	StateClosing:            "Closing",
}

// String returns the state name.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}
