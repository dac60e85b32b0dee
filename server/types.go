package server

import (
	"time"

	"github.com/atrep123/dmx-core/dmx"
)

const (
	// MaxClients is the maximum number of concurrent WebSocket subscribers
	MaxClients = 100
	// ClientSendQueueSize is the per-subscriber outgoing mailbox depth
	ClientSendQueueSize = 256
	// ShutdownTimeout bounds the graceful drain on exit
	ShutdownTimeout = 10 * time.Second
)

// StateUpdate is the delta broadcast sent to every subscriber after a commit.
// full=true carries a complete 512-channel frame (connect-time snapshot).
type StateUpdate struct {
	Type     string    `json:"type"` // "state.update"
	Rev      int64     `json:"rev"`
	TS       int64     `json:"ts"`
	Universe int       `json:"universe"`
	Delta    dmx.Delta `json:"delta"`
	Full     bool      `json:"full"`
}

// StateResponse answers GET /state.
type StateResponse struct {
	TS              int64               `json:"ts"`
	Rev             int64               `json:"rev"`
	Universes       map[int]map[int]int `json:"universes"`
	UniversesSparse map[int]map[int]int `json:"universesSparse,omitempty"`
	Sparse          bool                `json:"sparse,omitempty"`
}

// HealthResponse answers GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse answers GET /readyz.
type ReadyResponse struct {
	Ready         bool `json:"ready"`
	MQTTConnected bool `json:"mqttConnected"`
	QueueDepth    int  `json:"queueDepth"`
}
