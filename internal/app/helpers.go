package app

import (
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/petervdpas/tandem/internal/call"
	"github.com/petervdpas/tandem/internal/chat"
	"github.com/petervdpas/tandem/internal/presence"
)

// callDirectory and chatDirectory adapt the presence registry to the
// lookup interfaces of the call and chat packages, which do not import
// presence.
type callDirectory struct{ reg *presence.Registry }

func (d callDirectory) Lookup(userID string) (call.Peer, bool) {
	c, ok := d.reg.Lookup(userID)
	if !ok {
		return nil, false
	}
	return c, true
}

type chatDirectory struct{ reg *presence.Registry }

func (d chatDirectory) Lookup(userID string) (chat.Peer, bool) {
	c, ok := d.reg.Lookup(userID)
	if !ok {
		return nil, false
	}
	return c, true
}

func WaitTCP(addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		c, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
		if err == nil {
			_ = c.Close()
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("timeout waiting for %s", addr)
}

func logBanner(dataDir, cfgPath, dsn string) {
	log.Info("────────────────────────────────────────")
	log.Info("tandem coordination server")
	log.Infof(" Data folder : %s", dataDir)
	log.Infof(" Config file : %s", cfgPath)
	log.Infof(" Storage     : %s", redactDSN(dsn))
	log.Info("────────────────────────────────────────")
}

// redactDSN hides a password in a postgres URL.
func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	if _, has := u.User.Password(); has {
		return u.Redacted()
	}
	return dsn
}
