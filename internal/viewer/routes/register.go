package routes

import (
	"context"
	"net/http"

	"github.com/petervdpas/tandem/internal/call"
	"github.com/petervdpas/tandem/internal/chat"
)

type Logs interface {
	ServeLogsJSON(w http.ResponseWriter, r *http.Request)
	ServeLogsSSE(w http.ResponseWriter, r *http.Request)
}

// Messages is the message relay as seen by HTTP.
type Messages interface {
	SendMessage(ctx context.Context, senderID, receiverID, text, image string) (*chat.Message, error)
	FetchHistory(ctx context.Context, a, b string) ([]*chat.Message, error)
}

// Presence lists online users.
type Presence interface {
	Snapshot() []string
}

// Calls exposes live call sessions for debugging.
type Calls interface {
	Sessions() []call.SessionStatus
}

type Deps struct {
	Messages Messages
	Presence Presence
	Calls    Calls
	Logs     Logs

	// Live is the WebSocket endpoint mounted at /ws.
	Live http.Handler

	// Health reports whether backing services are reachable.
	Health func(ctx context.Context) error
}

func Register(mux *http.ServeMux, d Deps) {
	registerHealthRoutes(mux, d)
	registerAPILogRoutes(mux, d)

	if d.Messages != nil {
		registerMessageRoutes(mux, d.Messages)
	}
	if d.Presence != nil {
		registerPresenceRoutes(mux, d.Presence)
	}
	if d.Calls != nil {
		registerCallRoutes(mux, d.Calls)
	}
	if d.Live != nil {
		mux.Handle("GET /ws", d.Live)
	}
}
