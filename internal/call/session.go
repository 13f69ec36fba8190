package call

import (
	"time"
)

// Session is one call attempt or established call between two users.
// Sessions are owned by the Manager and only mutated under its lock.
type Session struct {
	ID         string
	CallerID   string
	CallerName string
	CalleeID   string
	Phase      Phase
	Offer      Signal
	Answer     Signal
	CreatedAt  time.Time
	AnsweredAt time.Time

	ringTimer *time.Timer
}

// SessionStatus is a read-only copy of a session for debug output.
type SessionStatus struct {
	ID         string `json:"id"`
	CallerID   string `json:"caller_id"`
	CalleeID   string `json:"callee_id"`
	Phase      Phase  `json:"phase"`
	CreatedAt  int64  `json:"created_at"`
	AnsweredAt int64  `json:"answered_at,omitempty"`
}

func (s *Session) status() SessionStatus {
	st := SessionStatus{
		ID:        s.ID,
		CallerID:  s.CallerID,
		CalleeID:  s.CalleeID,
		Phase:     s.Phase,
		CreatedAt: s.CreatedAt.UnixMilli(),
	}
	if !s.AnsweredAt.IsZero() {
		st.AnsweredAt = s.AnsweredAt.UnixMilli()
	}
	return st
}

// stateOf returns userID's participant state in this session.
func (s *Session) stateOf(userID string) State {
	switch {
	case s.Phase == PhaseActive:
		return StateInCall
	case userID == s.CallerID:
		return StateCalling
	default:
		return StateRinging
	}
}

// counterpart returns the other participant.
func (s *Session) counterpart(userID string) string {
	if userID == s.CallerID {
		return s.CalleeID
	}
	return s.CallerID
}

func (s *Session) stopTimer() {
	if s.ringTimer != nil {
		s.ringTimer.Stop()
		s.ringTimer = nil
	}
}
