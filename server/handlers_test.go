package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atrep123/dmx-core/config"
	"github.com/atrep123/dmx-core/dmx"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		App:    config.AppConfig{Name: "dmx-core-test"},
		Server: config.ServerConfig{Host: "127.0.0.1", Port: 0, AllowedOrigins: []string{"*"}, WSSendTimeout: 200, WSInboundRate: 120},
		Output: config.OutputConfig{Mode: config.OutputNull},
		Fades:  config.FadeConfig{Enabled: true, TickHz: 44},
		Ingest: config.IngestConfig{
			RateLimitPerSec: 1000,
			DedupeTTLSec:    60,
			DedupeCapacity:  64,
			DedupePath:      filepath.Join(dir, "cmd_seen.json"),
		},
		Data: config.DataConfig{Dir: filepath.Join(dir, "data")},
	}
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s, err := New(testConfig(t), zap.NewNop().Sugar())
	require.NoError(t, err)

	// The hub goroutine stays down: REST handlers never need it.
	s.ready = true

	ts := httptest.NewServer(s.routes())
	t.Cleanup(func() {
		ts.Close()
		s.cancel()
		s.wg.Wait()
	})
	return s, ts
}

func postCommand(t *testing.T, ts *httptest.Server, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(ts.URL+"/command", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestPostCommandAndState(t *testing.T) {
	_, ts := newTestServer(t)

	resp := postCommand(t, ts, `{"type":"dmx.patch","id":"A","universe":0,"items":[{"ch":1,"val":10},{"ch":2,"val":20},{"ch":3,"val":30}]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var ack struct {
		Ack      string `json:"ack"`
		Accepted bool   `json:"accepted"`
	}
	decodeBody(t, resp, &ack)
	assert.True(t, ack.Accepted)
	assert.Equal(t, "A", ack.Ack)

	stateResp, err := http.Get(ts.URL + "/state")
	require.NoError(t, err)
	var state StateResponse
	decodeBody(t, stateResp, &state)
	assert.Equal(t, int64(1), state.Rev)
	assert.Equal(t, 10, state.Universes[0][1])
	assert.Equal(t, 20, state.Universes[0][2])
	assert.Equal(t, 30, state.Universes[0][3])
}

func TestPostCommandValidationStatus(t *testing.T) {
	_, ts := newTestServer(t)

	resp := postCommand(t, ts, `{"type":"dmx.patch","universe":0,"items":[]}`)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestStateETag304(t *testing.T) {
	_, ts := newTestServer(t)
	postCommand(t, ts, `{"type":"dmx.set","universe":0,"channel":1,"value":5}`).Body.Close()

	first, err := http.Get(ts.URL + "/state")
	require.NoError(t, err)
	first.Body.Close()
	etag := first.Header.Get("ETag")
	require.Equal(t, `W/"rev-1"`, etag)

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/state", nil)
	req.Header.Set("If-None-Match", etag)
	second, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	second.Body.Close()
	assert.Equal(t, http.StatusNotModified, second.StatusCode)

	// Any commit invalidates the tag.
	postCommand(t, ts, `{"type":"dmx.set","universe":0,"channel":1,"value":6}`).Body.Close()
	third, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	third.Body.Close()
	assert.Equal(t, http.StatusOK, third.StatusCode)
	assert.Equal(t, `W/"rev-2"`, third.Header.Get("ETag"))
}

func TestStateSparse(t *testing.T) {
	_, ts := newTestServer(t)
	postCommand(t, ts, `{"type":"dmx.set","universe":0,"channel":7,"value":70}`).Body.Close()

	resp, err := http.Get(ts.URL + "/state?sparse=1")
	require.NoError(t, err)
	var state StateResponse
	decodeBody(t, resp, &state)
	assert.True(t, state.Sparse)
	assert.Equal(t, map[int]int{7: 70}, state.UniversesSparse[0])
}

func TestUniverseFrameEndpoint(t *testing.T) {
	_, ts := newTestServer(t)
	postCommand(t, ts, `{"type":"dmx.set","universe":0,"channel":1,"value":42}`).Body.Close()

	resp, err := http.Get(ts.URL + "/universes/0/frame")
	require.NoError(t, err)
	var frame []int
	decodeBody(t, resp, &frame)
	require.Len(t, frame, dmx.FrameSize)
	assert.Equal(t, 42, frame[0])

	// The sACN layer is empty.
	resp, err = http.Get(ts.URL + "/universes/0/frame?sacn=1")
	require.NoError(t, err)
	var sacnFrame []int
	decodeBody(t, resp, &sacnFrame)
	assert.Equal(t, 0, sacnFrame[0])

	bad, err := http.Get(ts.URL + "/universes/x/frame")
	require.NoError(t, err)
	bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestHealthAndReady(t *testing.T) {
	s, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	var health HealthResponse
	decodeBody(t, resp, &health)
	assert.Equal(t, "ok", health.Status)

	ready, err := http.Get(ts.URL + "/readyz")
	require.NoError(t, err)
	ready.Body.Close()
	assert.Equal(t, http.StatusOK, ready.StatusCode)

	s.ready = false
	notReady, err := http.Get(ts.URL + "/readyz")
	require.NoError(t, err)
	notReady.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, notReady.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	_, ts := newTestServer(t)
	postCommand(t, ts, `{"type":"dmx.set","universe":0,"channel":1,"value":1}`).Body.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	body := string(raw)
	assert.Contains(t, body, "dmx_core_cmds_total")
	assert.Contains(t, body, `proto="rest"`)
}

func TestSceneAndShowEndpoints(t *testing.T) {
	_, ts := newTestServer(t)

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/scenes/warm", strings.NewReader(`{"name":"Warm"}`))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	list, err := http.Get(ts.URL + "/scenes")
	require.NoError(t, err)
	var scenes map[string]any
	decodeBody(t, list, &scenes)
	assert.Contains(t, scenes, "warm")

	del, _ := http.NewRequest(http.MethodDelete, ts.URL+"/scenes/warm", nil)
	resp, err = http.DefaultClient.Do(del)
	require.NoError(t, err)
	resp.Body.Close()

	missingShow, err := http.Get(ts.URL + "/show")
	require.NoError(t, err)
	missingShow.Body.Close()
	assert.Equal(t, http.StatusNotFound, missingShow.StatusCode)

	put, _ := http.NewRequest(http.MethodPut, ts.URL+"/show", strings.NewReader(`{"cues":[]}`))
	resp, err = http.DefaultClient.Do(put)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDedupeTTLOverHTTP(t *testing.T) {
	s, ts := newTestServer(t)
	_ = s

	postCommand(t, ts, `{"type":"dmx.patch","id":"X","universe":0,"items":[{"ch":1,"val":10}]}`).Body.Close()
	postCommand(t, ts, `{"type":"dmx.patch","id":"X","universe":0,"items":[{"ch":1,"val":20}]}`).Body.Close()

	// The retry acks success but does not re-apply.
	assert.Equal(t, 10, s.engine.OutputValue(0, 1))
}

