package presence

import (
	"context"

	"github.com/petervdpas/tandem/internal/proto"
)

// Broadcaster publishes the full online set to every connection whenever
// the registry changes. Bursts of changes collapse into one publish that
// always reflects the latest snapshot.
type Broadcaster struct {
	reg  *Registry
	wake chan struct{}
}

// NewBroadcaster subscribes to reg. Call Run to start publishing.
func NewBroadcaster(reg *Registry) *Broadcaster {
	b := &Broadcaster{
		reg:  reg,
		wake: make(chan struct{}, 1),
	}
	reg.OnChange(func(Change) { b.trigger() })
	return b
}

func (b *Broadcaster) trigger() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// Run publishes on every wake-up until ctx is done.
func (b *Broadcaster) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.wake:
			b.Publish()
		}
	}
}

// Publish sends the current snapshot to every connected client.
func (b *Broadcaster) Publish() {
	online := b.reg.Snapshot()
	conns := b.reg.Connections()
	failed := 0
	for _, c := range conns {
		if err := c.Send(proto.EventOnlineUsers, online); err != nil {
			failed++
			log.Debugf("PRESENCE: snapshot to %s failed: %v", c.ID(), err)
		}
	}
	log.Debugf("PRESENCE: published %d online users to %d/%d connections", len(online), len(conns)-failed, len(conns))
}
