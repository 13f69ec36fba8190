package routes

import "net/http"

func registerPresenceRoutes(mux *http.ServeMux, p Presence) {
	handleGet(mux, "/api/online", func(w http.ResponseWriter, r *http.Request) {
		users := p.Snapshot()
		if users == nil {
			users = []string{}
		}
		writeJSON(w, users)
	})
}
