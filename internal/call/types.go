package call

import (
	"encoding/json"
	"errors"
)

// Peer is a live connection the coordinator can push events to.
type Peer interface {
	Send(event string, payload any) error
}

// Directory resolves a user to their current live connection. The presence
// registry satisfies this through a small adapter in app/run.go (the only
// place that imports both packages).
type Directory interface {
	Lookup(userID string) (Peer, bool)
}

// State is a participant's view of the call state machine.
type State string

const (
	StateIdle    State = "idle"
	StateCalling State = "calling"
	StateRinging State = "ringing"
	StateInCall  State = "in-call"
)

// Phase is the session-level state; per-participant states derive from it.
type Phase string

const (
	PhaseRinging Phase = "ringing"
	PhaseActive  Phase = "active"
)

// Signal is an opaque signaling payload (SDP offer/answer or ICE
// candidate). It is relayed verbatim and never parsed.
type Signal = json.RawMessage

var (
	ErrTargetOffline = errors.New("call: target offline")
	ErrCallerBusy    = errors.New("call: caller already in a call")
	ErrCalleeBusy    = errors.New("call: callee busy, auto-declined")
	ErrInvalidTarget = errors.New("call: invalid target")
	ErrNoPendingCall = errors.New("call: no pending call")
	ErrNoActiveCall  = errors.New("call: no active call")
)
