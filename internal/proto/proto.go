// Package proto defines the live-connection wire protocol shared by the
// realtime transport and the components that emit events through it.
package proto

import "encoding/json"

// Server → client events.
const (
	EventOnlineUsers  = "getOnlineUsers"
	EventIncomingCall = "incomingCall"
	EventCallAccepted = "callAccepted"
	EventCallDeclined = "callDeclined"
	EventCallError    = "callError"
	EventNewMessage   = "newMessage"
	EventError        = "error"
)

// Client → server events. iceCandidate and endCall travel in both
// directions under the same name.
const (
	EventCallUser     = "callUser"
	EventAcceptCall   = "acceptCall"
	EventDeclineCall  = "declineCall"
	EventIceCandidate = "iceCandidate"
	EventEndCall      = "endCall"
)

// Reasons carried by callError and error frames.
const (
	ReasonTargetOffline = "target_offline"
	ReasonCallerBusy    = "caller_busy"
	ReasonInvalidTarget = "invalid_target"
	ReasonBadFrame      = "bad_frame"
	ReasonUnknownEvent  = "unknown_event"
	ReasonBadPayload    = "bad_payload"
	ReasonRateLimited   = "rate_limited"
)

// Frame is one JSON text message on the live connection.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode builds the wire form of an outbound event.
func Encode(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: event, Data: data})
}

// CallUserMsg is the payload of callUser. From is informational only; the
// server always uses the identity the connection registered with.
type CallUserMsg struct {
	UserToCall string          `json:"userToCall" validate:"required"`
	SignalData json.RawMessage `json:"signalData" validate:"required"`
	From       string          `json:"from,omitempty"`
	Name       string          `json:"name,omitempty"`
}

// IncomingCallMsg is the payload of incomingCall.
type IncomingCallMsg struct {
	From   string          `json:"from"`
	Name   string          `json:"name"`
	Signal json.RawMessage `json:"signal"`
}

// AcceptCallMsg is the payload of acceptCall.
type AcceptCallMsg struct {
	To     string          `json:"to"`
	Signal json.RawMessage `json:"signal" validate:"required"`
}

// PeerMsg is the payload of declineCall and endCall.
type PeerMsg struct {
	To string `json:"to"`
}

// IceCandidateMsg is the client → server payload of iceCandidate.
type IceCandidateMsg struct {
	To        string          `json:"to" validate:"required"`
	Candidate json.RawMessage `json:"candidate" validate:"required"`
}

// CallErrorMsg reports a synchronous routing failure to the initiator.
type CallErrorMsg struct {
	To     string `json:"to,omitempty"`
	Reason string `json:"reason"`
}

// ErrorMsg reports a malformed or unknown frame.
type ErrorMsg struct {
	Reason string `json:"reason"`
	Event  string `json:"event,omitempty"`
}
