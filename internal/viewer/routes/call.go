package routes

import (
	"net/http"
)

func registerCallRoutes(mux *http.ServeMux, calls Calls) {
	// GET /api/call/debug — live session status for testing without a UI.
	handleGet(mux, "/api/call/debug", func(w http.ResponseWriter, r *http.Request) {
		sessions := calls.Sessions()
		writeJSON(w, map[string]any{
			"session_count": len(sessions),
			"sessions":      sessions,
		})
	})
}
