package realtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRateLimiter_Disabled(t *testing.T) {
	req := require.New(t)
	r := newRateLimiter(0, 0)
	req.Nil(r)
	for i := 0; i < 1000; i++ {
		req.True(r.Allow("alice"))
	}
}

func TestRateLimiter_Per_User_Window(t *testing.T) {
	req := require.New(t)
	now := time.Unix(1_700_000_000, 0)
	r := newRateLimiter(3, 0)
	r.now = func() time.Time { return now }

	// Given alice used her whole window
	for i := 0; i < 3; i++ {
		req.True(r.Allow("alice"))
	}

	// Then she is limited but bob is not
	req.False(r.Allow("alice"))
	req.True(r.Allow("bob"))

	// When the window slides past her first events
	now = now.Add(time.Minute + time.Second)

	// Then she may send again
	req.True(r.Allow("alice"))
}

func TestRateLimiter_Global_Window(t *testing.T) {
	req := require.New(t)
	r := newRateLimiter(0, 2)

	req.True(r.Allow("alice"))
	req.True(r.Allow("bob"))
	req.False(r.Allow("carol"))
}

func TestRateLimiter_Sweeps_Idle_Users(t *testing.T) {
	req := require.New(t)
	now := time.Unix(1_700_000_000, 0)
	r := newRateLimiter(1, 0)
	r.now = func() time.Time { return now }

	// Given alice sent once and went quiet
	req.True(r.Allow("alice"))
	req.Len(r.perUser, 1)

	// When a full window passes and bob sends
	now = now.Add(time.Minute + time.Second)
	req.True(r.Allow("bob"))

	// Then alice's empty window is gone
	req.Len(r.perUser, 1)
	req.Contains(r.perUser, "bob")
}
