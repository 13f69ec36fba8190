package realtime

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"

	"github.com/petervdpas/tandem/internal/call"
	"github.com/petervdpas/tandem/internal/presence"
	"github.com/petervdpas/tandem/internal/proto"
	"github.com/petervdpas/tandem/internal/util"
)

// Registry is the presence side of a connection's lifecycle.
type Registry interface {
	Register(userID string, h presence.Conn) presence.Conn
	Unregister(userID string, h presence.Conn) bool
}

// Calls is the call coordinator as seen by the transport.
type Calls interface {
	InitiateCall(callerID, calleeID, callerName string, offer call.Signal) (call.SessionStatus, error)
	AcceptCall(calleeID, callerID string, answer call.Signal) error
	Reject(userID string) error
	RelayIceCandidate(fromID, toID string, candidate call.Signal) error
	EndCall(fromID string) error
	Disconnect(userID string)
}

// Server upgrades /ws requests and routes inbound events.
type Server struct {
	reg      Registry
	calls    Calls
	opts     Options
	upgrader websocket.Upgrader
	validate *validator.Validate
	limiter  *rateLimiter

	mu     sync.Mutex
	conns  map[*Conn]struct{}
	closed bool
}

// NewServer builds the transport. allowedOrigins is checked against the
// Origin header of browser clients; requests without one are admitted.
func NewServer(reg Registry, calls Calls, allowedOrigins []string, opts Options) *Server {
	s := &Server{
		reg:      reg,
		calls:    calls,
		opts:     opts.withDefaults(),
		validate: validator.New(),
		conns:    make(map[*Conn]struct{}),
	}
	s.limiter = newRateLimiter(s.opts.EventsPerMinute, s.opts.GlobalEventsPerMinute)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || util.OriginAllowed(allowedOrigins, origin)
		},
	}
	return s
}

// ServeHTTP handles GET /ws?uid=<id>. The connection is registered under
// uid for its lifetime.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	uid, err := util.ValidateUserID(r.URL.Query().Get("uid"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("RT: upgrade for %s failed: %v", uid, err)
		return
	}
	c := newConn(ws, uid, s.opts)
	if !s.track(c) {
		ws.Close()
		return
	}
	defer s.untrack(c)

	go c.writePump()

	if prev := s.reg.Register(uid, c); prev != nil {
		if old, ok := prev.(*Conn); ok {
			old.Close()
		}
	}
	log.Infof("RT: %s connected (%s) from %s", uid, c.ID(), r.RemoteAddr)

	c.readPump(s.dispatch)

	c.Close()
	if s.reg.Unregister(uid, c) {
		s.calls.Disconnect(uid)
	}
	log.Infof("RT: %s disconnected (%s)", uid, c.ID())
}

// Close disconnects every client and refuses new ones.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	conns := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

func (s *Server) track(c *Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrack(c *Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

// dispatch runs on c's read goroutine, so one user's events are handled in
// the order they arrived.
func (s *Server) dispatch(c *Conn, raw []byte) {
	var f proto.Frame
	if err := json.Unmarshal(raw, &f); err != nil || f.Event == "" {
		c.Send(proto.EventError, proto.ErrorMsg{Reason: proto.ReasonBadFrame})
		return
	}

	uid := c.UserID()
	if !s.limiter.Allow(uid) {
		log.Debugf("RT: %s from %s dropped, rate limited", f.Event, uid)
		c.Send(proto.EventError, proto.ErrorMsg{Reason: proto.ReasonRateLimited, Event: f.Event})
		return
	}

	switch f.Event {
	case proto.EventCallUser:
		var m proto.CallUserMsg
		if !s.decode(c, f, &m) {
			return
		}
		// m.From is ignored; the connection's identity is authoritative.
		_, err := s.calls.InitiateCall(uid, m.UserToCall, m.Name, m.SignalData)
		if reason := callErrorReason(err); reason != "" {
			c.Send(proto.EventCallError, proto.CallErrorMsg{To: m.UserToCall, Reason: reason})
		}

	case proto.EventAcceptCall:
		var m proto.AcceptCallMsg
		if !s.decode(c, f, &m) {
			return
		}
		if err := s.calls.AcceptCall(uid, m.To, m.Signal); err != nil {
			log.Debugf("RT: acceptCall from %s: %v", uid, err)
		}

	case proto.EventDeclineCall:
		var m proto.PeerMsg
		if !s.decode(c, f, &m) {
			return
		}
		if err := s.calls.Reject(uid); err != nil {
			log.Debugf("RT: declineCall from %s: %v", uid, err)
		}

	case proto.EventIceCandidate:
		var m proto.IceCandidateMsg
		if !s.decode(c, f, &m) {
			return
		}
		if err := s.calls.RelayIceCandidate(uid, m.To, m.Candidate); err != nil {
			log.Debugf("RT: iceCandidate %s → %s: %v", uid, m.To, err)
		}

	case proto.EventEndCall:
		var m proto.PeerMsg
		if !s.decode(c, f, &m) {
			return
		}
		if err := s.calls.EndCall(uid); err != nil {
			log.Debugf("RT: endCall from %s: %v", uid, err)
		}

	default:
		c.Send(proto.EventError, proto.ErrorMsg{Reason: proto.ReasonUnknownEvent, Event: f.Event})
	}
}

// decode unmarshals and validates the frame payload into v. On failure the
// client gets an error frame and false is returned.
func (s *Server) decode(c *Conn, f proto.Frame, v any) bool {
	data := f.Data
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	if err := json.Unmarshal(data, v); err != nil {
		c.Send(proto.EventError, proto.ErrorMsg{Reason: proto.ReasonBadPayload, Event: f.Event})
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		log.Debugf("RT: %s from %s rejected: %v", f.Event, c.UserID(), err)
		c.Send(proto.EventError, proto.ErrorMsg{Reason: proto.ReasonBadPayload, Event: f.Event})
		return false
	}
	return true
}

// callErrorReason maps routing failures to callError reasons. A busy callee
// is answered with callDeclined instead and yields "".
func callErrorReason(err error) string {
	switch {
	case err == nil, errors.Is(err, call.ErrCalleeBusy):
		return ""
	case errors.Is(err, call.ErrTargetOffline):
		return proto.ReasonTargetOffline
	case errors.Is(err, call.ErrCallerBusy):
		return proto.ReasonCallerBusy
	case errors.Is(err, call.ErrInvalidTarget):
		return proto.ReasonInvalidTarget
	default:
		log.Warnf("RT: unexpected call error: %v", err)
		return proto.ReasonTargetOffline
	}
}
