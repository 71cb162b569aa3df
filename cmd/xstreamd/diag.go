package main

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// newDiagRouter builds the diagnostics HTTP surface: GET /debug/pairings
// and GET /debug/streams.
func newDiagRouter(reg *registry) *chi.Mux {
	r := chi.NewRouter()
	r.Get("/debug/pairings", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, reg.snapshotPairings())
	})
	r.Get("/debug/streams", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, reg.snapshotStreams())
	})
	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
