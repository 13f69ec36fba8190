package viewer

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/tandem/internal/viewer/routes"
)

var log = logging.Logger("viewer")

// Viewer is everything the HTTP surface serves.
type Viewer struct {
	Messages routes.Messages
	Presence routes.Presence
	Calls    routes.Calls
	Logs     *LogBuffer
	Live     http.Handler
	Health   func(ctx context.Context) error

	AllowedOrigins []string
}

// Handler builds the full route tree with CORS applied.
func Handler(v Viewer) http.Handler {
	mux := http.NewServeMux()

	deps := routes.Deps{
		Messages: v.Messages,
		Presence: v.Presence,
		Calls:    v.Calls,
		Live:     v.Live,
		Health:   v.Health,
	}
	if v.Logs != nil {
		deps.Logs = v.Logs
	}
	routes.Register(mux, deps)

	return routes.WithCORS(v.AllowedOrigins, noCache(mux))
}

// Server is a running HTTP listener.
type Server struct {
	srv *http.Server
	ln  net.Listener
}

// Start listens on addr and serves v in the background.
func Start(addr string, v Viewer) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s := &Server{
		srv: &http.Server{
			Handler:           Handler(v),
			ReadHeaderTimeout: 10 * time.Second,
		},
		ln: ln,
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("VIEWER: serve: %v", err)
		}
	}()
	log.Infof("VIEWER: listening on http://%s", ln.Addr())
	return s, nil
}

// Addr is the bound listen address.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Shutdown stops accepting requests and waits for in-flight ones.
// Upgraded WebSocket connections are not tracked here; close them through
// the realtime server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
