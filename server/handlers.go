package server

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"

	"github.com/atrep123/dmx-core/dmx"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// handleCommand serves POST /command: the full pipeline with a JSON ack.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxMessageSize))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	ack := s.router.Process("rest", clientAddr(r), raw)
	status := http.StatusOK
	if !ack.Accepted {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, ack)
}

// handleState serves GET /state with a weak rev-based ETag and 304 handling.
// ?sparse=1 adds a zero-suppressed projection.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	rev, ts := s.engine.RevTS()
	etag := fmt.Sprintf(`W/"rev-%d"`, rev)
	w.Header().Set("ETag", etag)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	resp := StateResponse{
		TS:        ts,
		Rev:       rev,
		Universes: s.engine.Snapshot(),
	}
	if r.URL.Query().Get("sparse") == "1" {
		resp.UniversesSparse = s.engine.SparseSnapshot()
		resp.Sparse = true
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleUniverseFrame serves GET /universes/{u}/frame as a dense 512-int
// array. ?sacn=1 returns the sACN layer instead of the output.
func (s *Server) handleUniverseFrame(w http.ResponseWriter, r *http.Request) {
	u, err := strconv.Atoi(r.PathValue("u"))
	if err != nil || u < 0 {
		http.Error(w, "invalid universe", http.StatusBadRequest)
		return
	}
	var frame [dmx.FrameSize]byte
	if r.URL.Query().Get("sacn") == "1" {
		frame = s.engine.SACNFrame(u)
	} else {
		frame = s.engine.OutputFrame(u)
	}
	out := make([]int, dmx.FrameSize)
	for i, v := range frame {
		out[i] = int(v)
	}
	writeJSON(w, http.StatusOK, out)
}

// handleSACNSources serves GET /sacn/sources diagnostics.
func (s *Server) handleSACNSources(w http.ResponseWriter, _ *http.Request) {
	if s.sacnRecv == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, s.sacnRecv.SourceDiagnostics())
}

// handleHealthz always answers ok while the process lives.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// handleReadyz answers 200 only when the engine is up and the broker session
// (when enabled) is live. Commits apply synchronously, so the ingest queue
// depth is structurally zero.
func (s *Server) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	mqttOK := s.mqtt == nil || s.mqtt.Connected()
	queueDepth := 0
	ready := s.ready && mqttOK

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, ReadyResponse{
		Ready:         ready,
		MQTTConnected: s.mqtt != nil && s.mqtt.Connected(),
		QueueDepth:    queueDepth,
	})
}

// Scenes and show snapshots pass through the KV store untouched.

func (s *Server) handleScenesList(w http.ResponseWriter, _ *http.Request) {
	scenes, err := s.store.LoadScenes()
	if err != nil {
		http.Error(w, "failed to load scenes", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, scenes)
}

func (s *Server) handleSceneSave(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		http.Error(w, "scene id required", http.StatusBadRequest)
		return
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxMessageSize))
	if err != nil || len(raw) == 0 || !json.Valid(raw) {
		http.Error(w, "invalid scene payload", http.StatusBadRequest)
		return
	}
	if err := s.store.SaveScene(id, raw); err != nil {
		http.Error(w, "failed to save scene", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved", "id": id})
}

func (s *Server) handleSceneDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.DeleteScene(id); err != nil {
		http.Error(w, "failed to delete scene", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id})
}

func (s *Server) handleShowGet(w http.ResponseWriter, _ *http.Request) {
	show, ok := s.store.LoadShow()
	if !ok {
		http.Error(w, "no show snapshot", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(show)
}

func (s *Server) handleShowPut(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxMessageSize))
	if err != nil || len(raw) == 0 || !json.Valid(raw) {
		http.Error(w, "invalid show payload", http.StatusBadRequest)
		return
	}
	if err := s.store.SaveShow(raw); err != nil {
		http.Error(w, "failed to save show", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}
