package server

import "net/http"

// routes builds the HTTP mux for the REST and WS surface.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /command", s.handleCommand)
	mux.HandleFunc("GET /state", s.handleState)
	mux.HandleFunc("GET /universes/{u}/frame", s.handleUniverseFrame)
	mux.HandleFunc("GET /sacn/sources", s.handleSACNSources)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)
	mux.Handle("GET /metrics", s.metrics.Handler())

	mux.HandleFunc("GET /scenes", s.handleScenesList)
	mux.HandleFunc("POST /scenes/{id}", s.handleSceneSave)
	mux.HandleFunc("PUT /scenes/{id}", s.handleSceneSave)
	mux.HandleFunc("DELETE /scenes/{id}", s.handleSceneDelete)
	mux.HandleFunc("GET /show", s.handleShowGet)
	mux.HandleFunc("PUT /show", s.handleShowPut)

	mux.HandleFunc("GET /ws", s.handleWebSocket)

	return mux
}
