// Package server hosts the HTTP/WS front-channel, the subscriber hub, and
// the supervisor that wires the whole pipeline together.
package server

import (
	"context"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/atrep123/dmx-core/config"
	"github.com/atrep123/dmx-core/dmx"
	"github.com/atrep123/dmx-core/fixtures"
	"github.com/atrep123/dmx-core/ingest"
	"github.com/atrep123/dmx-core/input"
	"github.com/atrep123/dmx-core/metrics"
	"github.com/atrep123/dmx-core/mqttio"
	"github.com/atrep123/dmx-core/output"
	"github.com/atrep123/dmx-core/persist"
	"github.com/atrep123/dmx-core/sacn"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Server owns every component of the pipeline and the WebSocket hub.
type Server struct {
	cfg     *config.Config
	log     *zap.SugaredLogger
	metrics *metrics.Metrics

	engine    *dmx.Engine
	fade      *dmx.FadeEngine
	router    *ingest.Router
	deduper   *ingest.Deduper
	limiter   *ingest.RateLimiter
	scheduler *output.Scheduler
	sacnRecv  *sacn.Receiver
	mqtt      *mqttio.Client
	mapper    *fixtures.Mapper
	dmxIn     *input.SerialDMXInput
	store     *persist.Store

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Hub state. The run loop owns registration and unregistration; commit
	// fan-out snapshots the clients map under clientsMu and writes each
	// mailbox directly, so a delta reaches every mailbox before the
	// committing call returns.
	clientsMu  sync.Mutex
	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client

	ready bool
}

// New builds the full component graph from configuration. Nothing is started
// until Start.
func New(cfg *config.Config, log *zap.SugaredLogger) (*Server, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:        cfg,
		log:        log,
		metrics:    metrics.New(),
		ctx:        ctx,
		cancel:     cancel,
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}

	store, err := persist.NewStore(cfg.Data.Dir)
	if err != nil {
		cancel()
		return nil, err
	}
	s.store = store

	s.engine = dmx.NewEngine()
	s.restoreLegacyState()

	s.deduper = ingest.NewDeduper(cfg.Ingest.DedupeTTLSec, cfg.Ingest.DedupeCapacity, cfg.Ingest.DedupePath, log)
	s.limiter = ingest.NewRateLimiter(cfg.Ingest.RateLimitPerSec)

	if sender := s.buildSender(); sender != nil {
		fps := cfg.OLA.FPS
		var mapping map[int]int
		if cfg.Output.Mode == config.OutputOLA {
			mapping = cfg.OLAMapping()
		} else {
			fps = cfg.Enttec.FPS
		}
		s.scheduler = output.NewScheduler(sender, fps, mapping, s.metrics, log)
	}

	if cfg.Fades.Enabled {
		s.fade = dmx.NewFadeEngine(s.engine, s.metrics, log, cfg.Fades.TickHz, s.commitFanout)
	}

	if cfg.Fixtures.Enabled {
		mapper, err := fixtures.NewMapper(cfg.Fixtures.ProfilesDir, cfg.Fixtures.PatchFile, s.metrics, log)
		if err != nil {
			cancel()
			return nil, err
		}
		s.mapper = mapper
	}

	var resolver ingest.FixtureResolver
	if s.mapper != nil {
		resolver = s.mapper
	}
	var fader ingest.Fader
	if s.fade != nil {
		fader = s.fade
	}
	s.router = ingest.NewRouter(
		s.engine, fader, resolver, s.limiter, s.deduper,
		s.metrics, log, cfg.Fades.Enabled, s.commitFanout,
	)

	if cfg.SACN.Enabled {
		s.sacnRecv = sacn.NewReceiver(cfg.SACN, s.metrics, log, s.applySACN)
	}

	if cfg.MQTT.Enabled {
		s.mqtt = mqttio.New(cfg.MQTT, s.metrics, log, func(payload []byte) {
			// Fire-and-forget: MQTT commands produce no acks.
			s.router.Process("mqtt", "broker", payload)
		})
	}

	if cfg.DMXInput.Enabled {
		s.dmxIn = input.NewSerialDMXInput(cfg.DMXInput.Port, cfg.DMXInput.Baud, log, s.onDMXInputChannel)
	}

	return s, nil
}

func (s *Server) buildSender() output.Sender {
	switch s.cfg.Output.Mode {
	case config.OutputOLA:
		return output.NewOLASender(s.cfg.OLA.BaseURL, s.cfg.OLA.TimeoutMS)
	case config.OutputEnttec:
		return output.NewEnttecSender(s.cfg.Enttec.Port, s.cfg.Enttec.Baud, s.cfg.Enttec.ReconnectAttempts, s.log)
	default:
		return nil
	}
}

// restoreLegacyState seeds universe 0 channels 1..3 from the persisted RGB
// snapshot.
func (s *Server) restoreLegacyState() {
	state, ok := s.store.LoadLegacyState()
	if !ok {
		return
	}
	s.engine.ApplyLocalPatch(0, []dmx.Change{
		{Ch: 1, Val: state.R},
		{Ch: 2, Val: state.G},
		{Ch: 3, Val: state.B},
	})
	s.log.Infow("Restored legacy RGB state", "r", state.R, "g", state.G, "b", state.B)
}

// applySACN is the receiver sink: composites land in the engine and fan out
// like any other commit.
func (s *Server) applySACN(u int, frame [dmx.FrameSize]byte) {
	delta, rev, ts := s.engine.ApplySACNComposite(u, frame[:])
	if len(delta) > 0 {
		s.commitFanout(u, delta, rev, ts)
	}
}

// onDMXInputChannel feeds serial DMX input through the regular pipeline.
func (s *Server) onDMXInputChannel(ch, val int) {
	s.router.ProcessCommand("dmx-input", s.cfg.DMXInput.Port, &ingest.Command{
		Type:     ingest.TypeSet,
		Src:      "dmx-input",
		Universe: 0,
		Channel:  ch,
		Value:    val,
	})
}

// commitFanout runs after every commit with a non-empty output delta:
// broadcast to subscribers first, then schedule downstream output, republish
// retained state, and mirror the legacy RGB view.
func (s *Server) commitFanout(u int, delta dmx.Delta, rev, ts int64) {
	update := StateUpdate{
		Type:     "state.update",
		Rev:      rev,
		TS:       ts,
		Universe: u,
		Delta:    delta,
		Full:     false,
	}
	if payload, err := json.Marshal(update); err == nil {
		s.SendPayload(payload)
	}

	if s.scheduler != nil {
		s.scheduler.ApplyPatch(u, delta)
		// Transport write stays off the commit path.
		go s.scheduler.MaybeSend(s.ctx, u)
	}

	if s.mqtt != nil {
		if err := s.mqtt.PublishState(update); err != nil {
			s.log.Debugw("MQTT state publish failed", "error", err)
		}
	}

	s.store.SaveLegacyState(u, delta, rev, ts, s.engine.OutputFrame(0), "server")
}

// SendPayload writes one payload into every subscriber mailbox before
// returning, so a commit's delta is queued ahead of whatever the caller
// sends next (the ack, for WS commands).
func (s *Server) SendPayload(payload []byte) {
	s.fanOut(payload)
}

// runHub owns client registration and unregistration.
func (s *Server) runHub() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			s.closeAllClients()
			return
		case client := <-s.register:
			s.clientsMu.Lock()
			s.clients[client] = struct{}{}
			count := len(s.clients)
			s.clientsMu.Unlock()
			s.metrics.WSClients.Set(float64(count))
			s.log.Infow("WS subscriber registered", "client_id", client.id, "clients", count)
		case client := <-s.unregister:
			s.dropClient(client)
		}
	}
}

// fanOut writes the payload into every mailbox without blocking. A full
// mailbox marks the subscriber slow; it is dropped instead of delaying the
// rest.
func (s *Server) fanOut(payload []byte) {
	s.clientsMu.Lock()
	subscribers := make([]*Client, 0, len(s.clients))
	for client := range s.clients {
		subscribers = append(subscribers, client)
	}
	s.clientsMu.Unlock()

	for _, client := range subscribers {
		select {
		case client.send <- payload:
		default:
			s.log.Warnw("WS subscriber too slow, disconnecting", "client_id", client.id)
			s.dropClient(client)
		}
	}
}

func (s *Server) dropClient(client *Client) {
	s.clientsMu.Lock()
	_, ok := s.clients[client]
	if ok {
		delete(s.clients, client)
	}
	count := len(s.clients)
	s.clientsMu.Unlock()
	if !ok {
		return
	}
	client.close()
	s.metrics.WSClients.Set(float64(count))
	s.log.Infow("WS subscriber unregistered", "client_id", client.id, "clients", count)
}

func (s *Server) closeAllClients() {
	s.clientsMu.Lock()
	clients := make([]*Client, 0, len(s.clients))
	for client := range s.clients {
		clients = append(clients, client)
	}
	s.clients = make(map[*Client]struct{})
	s.clientsMu.Unlock()
	for _, client := range clients {
		client.close()
	}
	s.metrics.WSClients.Set(0)
}

// ClientCount returns the number of live subscribers.
func (s *Server) ClientCount() int {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	return len(s.clients)
}
