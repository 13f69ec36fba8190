package presence

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	id string

	mu     sync.Mutex
	events []sent
	err    error
}

type sent struct {
	Event   string
	Payload any
}

func newFakeConn() *fakeConn { return &fakeConn{id: uuid.NewString()} }

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(event string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.events = append(c.events, sent{event, payload})
	return nil
}

func (c *fakeConn) sent() []sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]sent, len(c.events))
	copy(out, c.events)
	return out
}

func TestRegistry_Register_And_Lookup(t *testing.T) {
	req := require.New(t)
	reg := NewRegistry()
	alice := newFakeConn()

	// Given nobody is connected
	_, found := reg.Lookup("alice")
	req.False(found)

	// When alice registers
	reg.Register("alice", alice)

	// Then she is online
	h, found := reg.Lookup("alice")
	req.True(found)
	req.Equal(alice, h)
	req.Equal([]string{"alice"}, reg.Snapshot())
}

func TestRegistry_Register_Replaces_Previous_Connection(t *testing.T) {
	req := require.New(t)
	reg := NewRegistry()
	first, second := newFakeConn(), newFakeConn()

	var changes []Change
	reg.OnChange(func(c Change) { changes = append(changes, c) })

	req.Nil(reg.Register("alice", first))
	prev := reg.Register("alice", second)

	req.Equal(first, prev)
	h, _ := reg.Lookup("alice")
	req.Equal(second, h)
	req.Len(reg.Snapshot(), 1)
	req.Equal([]Change{
		{Kind: ChangeRegistered, UserID: "alice"},
		{Kind: ChangeRegistered, UserID: "alice", Replaced: true},
	}, changes)
}

func TestRegistry_Unregister_Stale_Handle_Is_Ignored(t *testing.T) {
	req := require.New(t)
	reg := NewRegistry()
	stale, fresh := newFakeConn(), newFakeConn()

	var changes []Change
	reg.OnChange(func(c Change) { changes = append(changes, c) })

	// Given alice reconnected before her old socket's close callback fired
	reg.Register("alice", stale)
	reg.Register("alice", fresh)
	changes = nil

	// When the old socket's disconnect arrives
	removed := reg.Unregister("alice", stale)

	// Then the fresh registration survives and nobody is told she left
	req.False(removed)
	h, found := reg.Lookup("alice")
	req.True(found)
	req.Equal(fresh, h)
	req.Empty(changes)

	// And the fresh socket's disconnect removes her
	req.True(reg.Unregister("alice", fresh))
	req.Empty(reg.Snapshot())
	req.Equal([]Change{{Kind: ChangeUnregistered, UserID: "alice"}}, changes)
}

func TestRegistry_Unregister_Unknown_User(t *testing.T) {
	reg := NewRegistry()
	require.False(t, reg.Unregister("ghost", newFakeConn()))
}

// The snapshot always equals the users whose latest operation was a
// Register not followed by a matching Unregister.
func TestRegistry_Snapshot_Matches_Model(t *testing.T) {
	req := require.New(t)
	rng := rand.New(rand.NewSource(42))
	users := []string{"a", "b", "c", "d", "e"}

	for round := 0; round < 50; round++ {
		reg := NewRegistry()
		model := map[string]*fakeConn{}
		var handles []struct {
			user string
			conn *fakeConn
		}

		for op := 0; op < 200; op++ {
			u := users[rng.Intn(len(users))]
			if rng.Intn(2) == 0 {
				c := newFakeConn()
				reg.Register(u, c)
				model[u] = c
				handles = append(handles, struct {
					user string
					conn *fakeConn
				}{u, c})
				continue
			}
			if len(handles) == 0 {
				continue
			}
			h := handles[rng.Intn(len(handles))]
			removed := reg.Unregister(h.user, h.conn)
			if cur, ok := model[h.user]; ok && cur == h.conn {
				req.True(removed)
				delete(model, h.user)
			} else {
				req.False(removed)
			}
		}

		want := make([]string, 0, len(model))
		for u := range model {
			want = append(want, u)
		}
		sort.Strings(want)
		req.Equal(want, reg.Snapshot(), "round %d", round)
	}
}

func TestRegistry_Concurrent_Access(t *testing.T) {
	req := require.New(t)
	reg := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := fmt.Sprintf("user-%d", i)
			c := newFakeConn()
			reg.Register(user, c)
			_, _ = reg.Lookup(user)
			_ = reg.Snapshot()
			if i%2 == 0 {
				reg.Unregister(user, c)
			}
		}(i)
	}
	wg.Wait()

	req.Len(reg.Snapshot(), 25)
	req.Len(reg.Connections(), 25)
}
