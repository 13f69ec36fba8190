// Package presence tracks which users currently hold a live connection and
// publishes the online set whenever it changes.
package presence

import (
	"sort"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/samber/lo"
)

var log = logging.Logger("presence")

// Conn is a live transport handle. Send must not block on I/O.
type Conn interface {
	ID() string
	Send(event string, payload any) error
}

// Connection is the registry's record of one user's live connection.
type Connection struct {
	UserID      string
	Handle      Conn
	ConnectedAt time.Time
}

// ChangeKind tells listeners what happened to a user's registration.
type ChangeKind string

const (
	ChangeRegistered   ChangeKind = "registered"
	ChangeUnregistered ChangeKind = "unregistered"
)

// Change is delivered to OnChange listeners after the registry lock is released.
type Change struct {
	Kind     ChangeKind
	UserID   string
	Replaced bool // registered over an older connection of the same user
}

// Registry maps a user identity to exactly one live connection.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]Connection

	listenerMu sync.RWMutex
	listeners  []func(Change)

	now func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]Connection),
		now:   time.Now,
	}
}

// OnChange registers fn to be called for every registration change.
// Listeners run on the goroutine that mutated the registry, in the order
// they were added.
func (r *Registry) OnChange(fn func(Change)) {
	r.listenerMu.Lock()
	r.listeners = append(r.listeners, fn)
	r.listenerMu.Unlock()
}

// Register inserts or replaces the connection for userID and returns the
// superseded handle, if any. The old handle is not closed here; closing it
// is the transport's job.
func (r *Registry) Register(userID string, h Conn) Conn {
	r.mu.Lock()
	old, replaced := r.conns[userID]
	r.conns[userID] = Connection{UserID: userID, Handle: h, ConnectedAt: r.now()}
	r.mu.Unlock()

	var prev Conn
	if replaced && old.Handle.ID() != h.ID() {
		prev = old.Handle
		log.Infof("PRESENCE: %s reconnected (%s supersedes %s)", userID, h.ID(), old.Handle.ID())
	} else {
		log.Infof("PRESENCE: %s online via %s", userID, h.ID())
	}
	r.notify(Change{Kind: ChangeRegistered, UserID: userID, Replaced: replaced})
	return prev
}

// Unregister removes userID only if the stored handle is h. A disconnect
// callback from a superseded connection is therefore a no-op. Reports
// whether a mapping was removed.
func (r *Registry) Unregister(userID string, h Conn) bool {
	r.mu.Lock()
	cur, ok := r.conns[userID]
	if !ok || cur.Handle.ID() != h.ID() {
		r.mu.Unlock()
		if ok {
			log.Debugf("PRESENCE: ignoring stale disconnect of %s (%s)", userID, h.ID())
		}
		return false
	}
	delete(r.conns, userID)
	r.mu.Unlock()

	log.Infof("PRESENCE: %s offline after %s", userID, r.now().Sub(cur.ConnectedAt).Round(time.Second))
	r.notify(Change{Kind: ChangeUnregistered, UserID: userID})
	return true
}

// Lookup returns the live handle for userID; found=false means offline.
func (r *Registry) Lookup(userID string) (Conn, bool) {
	r.mu.RLock()
	c, ok := r.conns[userID]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return c.Handle, true
}

// Snapshot returns the sorted set of online user ids.
func (r *Registry) Snapshot() []string {
	r.mu.RLock()
	ids := lo.Keys(r.conns)
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Connections returns every live handle.
func (r *Registry) Connections() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.MapToSlice(r.conns, func(_ string, c Connection) Conn { return c.Handle })
}

func (r *Registry) notify(c Change) {
	r.listenerMu.RLock()
	listeners := make([]func(Change), len(r.listeners))
	copy(listeners, r.listeners)
	r.listenerMu.RUnlock()
	for _, fn := range listeners {
		fn(c)
	}
}
