package presence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/petervdpas/tandem/internal/proto"
)

func lastSnapshot(c *fakeConn) ([]string, bool) {
	events := c.sent()
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Event == proto.EventOnlineUsers {
			return events[i].Payload.([]string), true
		}
	}
	return nil, false
}

func TestBroadcaster_Publish_Sends_Full_Snapshot_To_Everyone(t *testing.T) {
	req := require.New(t)
	reg := NewRegistry()
	b := NewBroadcaster(reg)
	alice, bob := newFakeConn(), newFakeConn()
	reg.Register("alice", alice)
	reg.Register("bob", bob)

	b.Publish()

	for _, c := range []*fakeConn{alice, bob} {
		snap, ok := lastSnapshot(c)
		req.True(ok)
		req.Equal([]string{"alice", "bob"}, snap)
	}
}

func TestBroadcaster_Run_Follows_Registry_Changes(t *testing.T) {
	req := require.New(t)
	reg := NewRegistry()
	b := NewBroadcaster(reg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	alice, bob := newFakeConn(), newFakeConn()

	// When alice then bob come online
	reg.Register("alice", alice)
	reg.Register("bob", bob)

	// Then alice eventually sees both
	req.Eventually(func() bool {
		snap, ok := lastSnapshot(alice)
		return ok && len(snap) == 2
	}, time.Second, 5*time.Millisecond)

	// When bob leaves
	reg.Unregister("bob", bob)

	// Then alice eventually sees only herself
	req.Eventually(func() bool {
		snap, ok := lastSnapshot(alice)
		return ok && len(snap) == 1 && snap[0] == "alice"
	}, time.Second, 5*time.Millisecond)
}

func TestBroadcaster_Failed_Send_Does_Not_Stop_Fanout(t *testing.T) {
	req := require.New(t)
	reg := NewRegistry()
	b := NewBroadcaster(reg)
	broken, ok := newFakeConn(), newFakeConn()
	broken.err = errors.New("closed")
	reg.Register("broken", broken)
	reg.Register("ok", ok)

	b.Publish()

	snap, found := lastSnapshot(ok)
	req.True(found)
	req.Equal([]string{"broken", "ok"}, snap)
}
