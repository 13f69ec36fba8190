// Package call brokers two-party call handshakes. It relays opaque
// signaling payloads between exactly two users and never touches media.
// Coupling to the transport is via the Directory interface only.
package call

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/tandem/internal/proto"
)

var log = logging.Logger("call")

// Manager is the authoritative call state machine. Every transition happens
// inside one critical section on mu, so racing operations on the same
// session (accept vs cancel, say) have exactly one winner. Relays to peers
// happen after mu is released.
type Manager struct {
	dir Directory

	mu          sync.Mutex
	byUser      map[string]*Session // both participants point at the same session
	ringTimeout time.Duration

	now func() time.Time
}

// New creates a Manager that routes through dir. ringTimeout <= 0 disables
// expiry of unanswered calls.
func New(dir Directory, ringTimeout time.Duration) *Manager {
	return &Manager{
		dir:         dir,
		byUser:      make(map[string]*Session),
		ringTimeout: ringTimeout,
		now:         time.Now,
	}
}

// SetRingTimeout changes the timeout applied to calls started afterwards.
func (m *Manager) SetRingTimeout(d time.Duration) {
	m.mu.Lock()
	m.ringTimeout = d
	m.mu.Unlock()
	log.Infof("CALL: ring timeout set to %s", d)
}

// InitiateCall starts ringing calleeID on behalf of callerID and relays the
// offer. A busy callee is auto-declined: the caller gets callDeclined and
// ErrCalleeBusy is returned without creating a session.
func (m *Manager) InitiateCall(callerID, calleeID, callerName string, offer Signal) (SessionStatus, error) {
	if calleeID == "" || calleeID == callerID {
		return SessionStatus{}, ErrInvalidTarget
	}
	callee, ok := m.dir.Lookup(calleeID)
	if !ok {
		log.Infof("CALL: %s → %s rejected, target offline", callerID, calleeID)
		return SessionStatus{}, fmt.Errorf("%w: %s", ErrTargetOffline, calleeID)
	}

	m.mu.Lock()
	if _, busy := m.byUser[callerID]; busy {
		m.mu.Unlock()
		return SessionStatus{}, ErrCallerBusy
	}
	if _, busy := m.byUser[calleeID]; busy {
		m.mu.Unlock()
		log.Infof("CALL: %s → %s auto-declined, callee busy", callerID, calleeID)
		m.notify(callerID, proto.EventCallDeclined, nil)
		return SessionStatus{}, ErrCalleeBusy
	}
	sess := &Session{
		ID:         uuid.NewString(),
		CallerID:   callerID,
		CallerName: callerName,
		CalleeID:   calleeID,
		Phase:      PhaseRinging,
		Offer:      offer,
		CreatedAt:  m.now(),
	}
	m.byUser[callerID] = sess
	m.byUser[calleeID] = sess
	m.armRingTimerLocked(sess)
	st := sess.status()
	m.mu.Unlock()

	err := callee.Send(proto.EventIncomingCall, proto.IncomingCallMsg{
		From:   callerID,
		Name:   callerName,
		Signal: offer,
	})
	if err != nil {
		m.mu.Lock()
		m.dropLocked(sess)
		m.mu.Unlock()
		log.Warnf("CALL [%s]: offer relay to %s failed: %v", sess.ID, calleeID, err)
		return SessionStatus{}, fmt.Errorf("%w: %v", ErrTargetOffline, err)
	}

	log.Infof("CALL [%s]: %s ringing %s", sess.ID, callerID, calleeID)
	return st, nil
}

// AcceptCall answers the call ringing at calleeID. callerID, when not
// empty, must match the ringing caller. Without a matching ringing session
// (the caller already canceled, say) nothing happens and ErrNoPendingCall
// is returned for logging.
func (m *Manager) AcceptCall(calleeID, callerID string, answer Signal) error {
	m.mu.Lock()
	sess := m.byUser[calleeID]
	if sess == nil || sess.Phase != PhaseRinging || sess.CalleeID != calleeID ||
		(callerID != "" && sess.CallerID != callerID) {
		m.mu.Unlock()
		log.Infof("CALL: accept from %s ignored, nothing ringing", calleeID)
		return ErrNoPendingCall
	}
	sess.Phase = PhaseActive
	sess.Answer = answer
	sess.AnsweredAt = m.now()
	sess.stopTimer()
	caller := sess.CallerID
	m.mu.Unlock()

	if err := m.notify(caller, proto.EventCallAccepted, answer); err != nil {
		// The caller vanished between ringing and answer: reset to idle.
		m.mu.Lock()
		m.dropLocked(sess)
		m.mu.Unlock()
		m.notify(calleeID, proto.EventEndCall, nil)
		return fmt.Errorf("%w: %v", ErrTargetOffline, err)
	}

	log.Infof("CALL [%s]: %s accepted call from %s", sess.ID, calleeID, caller)
	return nil
}

// DeclineCall rejects the call ringing at calleeID.
func (m *Manager) DeclineCall(calleeID string) error {
	return m.hangupPending(calleeID, func(s *Session) bool { return s.CalleeID == calleeID }, "declined")
}

// CancelCall withdraws the outbound call of callerID before it is answered.
func (m *Manager) CancelCall(callerID string) error {
	return m.hangupPending(callerID, func(s *Session) bool { return s.CallerID == callerID }, "canceled")
}

// Reject declines or cancels, whichever applies to userID's role in its
// ringing session.
func (m *Manager) Reject(userID string) error {
	return m.hangupPending(userID, func(*Session) bool { return true }, "rejected")
}

func (m *Manager) hangupPending(userID string, match func(*Session) bool, verb string) error {
	m.mu.Lock()
	sess := m.byUser[userID]
	if sess == nil || sess.Phase != PhaseRinging || !match(sess) {
		m.mu.Unlock()
		return ErrNoPendingCall
	}
	peer := sess.counterpart(userID)
	m.dropLocked(sess)
	m.mu.Unlock()

	log.Infof("CALL [%s]: %s %s", sess.ID, userID, verb)
	m.notify(peer, proto.EventCallDeclined, nil)
	return nil
}

// RelayIceCandidate forwards candidate verbatim from fromID to toID
// whenever toID is online, with or without a session between them;
// candidates routinely arrive after hangup. Otherwise it is dropped.
func (m *Manager) RelayIceCandidate(fromID, toID string, candidate Signal) error {
	if toID == "" || toID == fromID {
		return ErrInvalidTarget
	}
	err := m.notify(toID, proto.EventIceCandidate, candidate)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrTargetOffline):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrTargetOffline, err)
	}
}

// EndCall hangs up fromID's session in any phase and tells the counterpart.
func (m *Manager) EndCall(fromID string) error {
	if !m.terminate(fromID, "ended") {
		return ErrNoActiveCall
	}
	return nil
}

// Disconnect force-terminates userID's session because their connection
// went away. The counterpart is notified as if EndCall had been called.
func (m *Manager) Disconnect(userID string) {
	m.terminate(userID, "disconnected")
}

func (m *Manager) terminate(userID, reason string) bool {
	m.mu.Lock()
	sess := m.byUser[userID]
	if sess == nil {
		m.mu.Unlock()
		return false
	}
	peer := sess.counterpart(userID)
	m.dropLocked(sess)
	m.mu.Unlock()

	log.Infof("CALL [%s]: %s %s, notifying %s", sess.ID, userID, reason, peer)
	m.notify(peer, proto.EventEndCall, nil)
	return true
}

// StateOf returns userID's participant state.
func (m *Manager) StateOf(userID string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess := m.byUser[userID]
	if sess == nil {
		return StateIdle
	}
	return sess.stateOf(userID)
}

// Sessions lists every live session, oldest first.
func (m *Manager) Sessions() []SessionStatus {
	m.mu.Lock()
	out := make([]SessionStatus, 0, len(m.byUser)/2)
	for userID, sess := range m.byUser {
		if userID == sess.CallerID {
			out = append(out, sess.status())
		}
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out
}

// Close ends every session and notifies both participants.
func (m *Manager) Close() {
	m.mu.Lock()
	var ended []*Session
	for userID, sess := range m.byUser {
		if userID == sess.CallerID {
			sess.stopTimer()
			ended = append(ended, sess)
		}
	}
	m.byUser = make(map[string]*Session)
	m.mu.Unlock()

	for _, sess := range ended {
		m.notify(sess.CallerID, proto.EventEndCall, nil)
		m.notify(sess.CalleeID, proto.EventEndCall, nil)
	}
}

func (m *Manager) armRingTimerLocked(sess *Session) {
	if m.ringTimeout <= 0 {
		return
	}
	timeout := m.ringTimeout
	sess.ringTimer = time.AfterFunc(timeout, func() { m.expire(sess, timeout) })
}

// expire clears a session that is still ringing when its timer fires.
func (m *Manager) expire(sess *Session, after time.Duration) {
	m.mu.Lock()
	if m.byUser[sess.CallerID] != sess || sess.Phase != PhaseRinging {
		m.mu.Unlock()
		return
	}
	m.dropLocked(sess)
	m.mu.Unlock()

	log.Infof("CALL [%s]: %s → %s unanswered after %s", sess.ID, sess.CallerID, sess.CalleeID, after)
	m.notify(sess.CallerID, proto.EventCallDeclined, nil)
	m.notify(sess.CalleeID, proto.EventCallDeclined, nil)
}

// dropLocked removes sess from the index. Entries that already point at a
// newer session are left alone.
func (m *Manager) dropLocked(sess *Session) {
	sess.stopTimer()
	for _, id := range []string{sess.CallerID, sess.CalleeID} {
		if m.byUser[id] == sess {
			delete(m.byUser, id)
		}
	}
}

// notify pushes an event to userID's current connection. Failures are
// logged; the caller decides whether they matter.
func (m *Manager) notify(userID, event string, payload any) error {
	peer, ok := m.dir.Lookup(userID)
	if !ok {
		log.Debugf("CALL: %s for %s dropped, offline", event, userID)
		return ErrTargetOffline
	}
	if err := peer.Send(event, payload); err != nil {
		log.Warnf("CALL: %s to %s failed: %v", event, userID, err)
		return err
	}
	return nil
}
