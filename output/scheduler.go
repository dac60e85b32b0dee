// Package output drives downstream DMX transports: an FPS-clamped,
// identical-frame-suppressing scheduler in front of either the OLA HTTP
// bridge or an Enttec DMX-USB-PRO serial device.
package output

import (
	"bytes"
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atrep123/dmx-core/dmx"
	"github.com/atrep123/dmx-core/errors"
	"github.com/atrep123/dmx-core/metrics"
)

// Sender is one transport back-end. Implementations must be safe for
// concurrent frames of different universes.
type Sender interface {
	// SendFrame writes one 512-slot frame for the (already mapped)
	// transport universe.
	SendFrame(ctx context.Context, universe int, frame []byte) error
	// Close releases the transport.
	Close() error
}

// TransportError tags a send failure with the code reported in the
// by-code error metric ("timeout", "error", or an HTTP status).
type TransportError struct {
	Code string
	Err  error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Err.Error()
	}
	return e.Code
}

func (e *TransportError) Unwrap() error { return e.Err }

type universeFrame struct {
	mu              sync.Mutex
	frame           [dmx.FrameSize]byte
	lastSent        []byte
	nextSend        time.Time
	emaFPS          float64
	haveEMA         bool
	queueSuppressed int
}

// Scheduler owns one frame store per engine universe and forwards changed
// frames to the back-end, at most fps times per second per universe.
// Transport writes happen outside the frame lock so a slow endpoint never
// stalls commits.
type Scheduler struct {
	sender   Sender
	interval time.Duration
	mapping  map[int]int // engine universe -> transport universe
	metrics  *metrics.Metrics
	log      *zap.SugaredLogger

	mu        sync.Mutex
	universes map[int]*universeFrame
}

// NewScheduler builds a scheduler in front of sender. mapping may be nil for
// identity.
func NewScheduler(sender Sender, fps int, mapping map[int]int, m *metrics.Metrics, log *zap.SugaredLogger) *Scheduler {
	if fps <= 0 {
		fps = 44
	}
	return &Scheduler{
		sender:    sender,
		interval:  time.Second / time.Duration(fps),
		mapping:   mapping,
		metrics:   m,
		log:       log,
		universes: make(map[int]*universeFrame),
	}
}

func (s *Scheduler) resolve(u int) *universeFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	uf, ok := s.universes[u]
	if !ok {
		uf = &universeFrame{}
		s.universes[u] = uf
	}
	return uf
}

func (s *Scheduler) transportUniverse(u int) int {
	if s.mapping != nil {
		if mapped, ok := s.mapping[u]; ok {
			return mapped
		}
	}
	return u
}

// ApplyPatch mutates the pending frame. Returns true if any byte changed.
func (s *Scheduler) ApplyPatch(u int, items dmx.Delta) bool {
	uf := s.resolve(u)
	uf.mu.Lock()
	defer uf.mu.Unlock()
	changed := false
	for _, it := range items {
		idx := it.Ch - 1
		if idx < 0 || idx >= dmx.FrameSize {
			continue
		}
		if uf.frame[idx] != byte(it.Val) {
			uf.frame[idx] = byte(it.Val)
			changed = true
		}
	}
	return changed
}

// MaybeSend forwards the pending frame unless the rate guard or the
// identical-frame suppression holds it back.
func (s *Scheduler) MaybeSend(ctx context.Context, u int) {
	s.send(ctx, u, false)
}

// Flush pushes a final frame for the universe ignoring the rate guard.
// Shutdown path only.
func (s *Scheduler) Flush(ctx context.Context, u int) {
	s.send(ctx, u, true)
}

// FlushAll sends a best-effort final frame for every known universe.
func (s *Scheduler) FlushAll(ctx context.Context) {
	s.mu.Lock()
	unis := make([]int, 0, len(s.universes))
	for u := range s.universes {
		unis = append(unis, u)
	}
	s.mu.Unlock()
	for _, u := range unis {
		flushCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
		s.Flush(flushCtx, u)
		cancel()
	}
}

func (s *Scheduler) send(ctx context.Context, u int, force bool) {
	uf := s.resolve(u)
	label := metrics.U(u)

	uf.mu.Lock()
	now := time.Now()
	if !force && now.Before(uf.nextSend) {
		s.metrics.OLAFramesSkipped.WithLabelValues(label, "rate").Inc()
		uf.queueSuppressed++
		s.metrics.OLAQueueDepth.WithLabelValues(label).Set(float64(uf.queueSuppressed))
		uf.mu.Unlock()
		return
	}
	if uf.lastSent != nil && bytes.Equal(uf.lastSent, uf.frame[:]) {
		s.metrics.OLAFramesSkipped.WithLabelValues(label, "identical").Inc()
		uf.mu.Unlock()
		return
	}
	uf.nextSend = now.Add(s.interval)
	snapshot := make([]byte, dmx.FrameSize)
	copy(snapshot, uf.frame[:])
	uf.lastSent = snapshot
	uf.mu.Unlock()

	// Transport write happens outside the frame lock.
	start := time.Now()
	err := s.sender.SendFrame(ctx, s.transportUniverse(u), snapshot)
	elapsed := time.Since(start)

	if err != nil {
		code := "error"
		var te *TransportError
		if errors.As(err, &te) {
			code = te.Code
		}
		s.metrics.OLAHTTPErrors.WithLabelValues(label).Inc()
		s.metrics.OLAHTTPErrorsByCode.WithLabelValues(label, code).Inc()
		s.log.Debugw("Output send failed", "universe", u, "code", code, "error", err)
		return
	}

	instFPS := 1.0 / math.Max(elapsed.Seconds(), 1e-3)
	uf.mu.Lock()
	if !uf.haveEMA {
		uf.emaFPS = instFPS
		uf.haveEMA = true
	} else {
		uf.emaFPS = 0.8*uf.emaFPS + 0.2*instFPS
	}
	ema := uf.emaFPS
	uf.queueSuppressed = 0
	uf.mu.Unlock()

	s.metrics.OLALastFPS.WithLabelValues(label).Set(ema)
	s.metrics.OLAFramesTotal.WithLabelValues(label).Inc()
	s.metrics.OLAQueueDepth.WithLabelValues(label).Set(0)
}

// Snapshot returns a copy of the pending frame (diagnostics).
func (s *Scheduler) Snapshot(u int) [dmx.FrameSize]byte {
	uf := s.resolve(u)
	uf.mu.Lock()
	defer uf.mu.Unlock()
	return uf.frame
}

// Close shuts the back-end down.
func (s *Scheduler) Close() error {
	return s.sender.Close()
}
