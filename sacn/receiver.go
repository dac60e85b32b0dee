package sacn

import (
	"context"
	"encoding/hex"
	"net"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atrep123/dmx-core/config"
	"github.com/atrep123/dmx-core/metrics"
)

// readDeadline bounds each blocking UDP read so cancellation is observed
// promptly.
const readDeadline = 500 * time.Millisecond

type sourceKey struct {
	universe int
	cid      [16]byte
}

type source struct {
	name       string
	priority   int
	lastSeq    uint8
	lastSeenMS int64
	frame      [512]byte
}

// CompositeSink receives the merged per-universe frame after every accepted
// datagram.
type CompositeSink func(u int, frame [512]byte)

// Receiver listens on UDP 5568 and maintains the source table. The table is
// owned by the receive goroutine; SourceDiagnostics takes the same lock the
// loop holds while mutating.
type Receiver struct {
	cfg     config.SACNConfig
	filter  UniverseFilter
	metrics *metrics.Metrics
	log     *zap.SugaredLogger
	sink    CompositeSink

	mu      sync.Mutex
	sources map[sourceKey]*source

	conn *net.UDPConn

	nowMS func() int64
}

// NewReceiver builds a receiver; Listen must be called before Run.
func NewReceiver(cfg config.SACNConfig, m *metrics.Metrics, log *zap.SugaredLogger, sink CompositeSink) *Receiver {
	return &Receiver{
		cfg:     cfg,
		filter:  ParseUniverses(cfg.Universes),
		metrics: m,
		log:     log,
		sink:    sink,
		sources: make(map[sourceKey]*source),
		nowMS:   func() int64 { return time.Now().UnixMilli() },
	}
}

// Listen binds the UDP socket. With join_multicast set and a non-empty allow
// list, the socket joins the multicast group (239.255.0.0/16 addressing) of
// the lowest allowed universe only; the groups of the other allowed
// universes are not joined.
func (r *Receiver) Listen() error {
	addr := &net.UDPAddr{IP: net.ParseIP(r.cfg.BindAddr), Port: r.cfg.Port}
	if r.cfg.JoinMulticast && len(r.filter) > 0 {
		// Multicast reception still delivers unicast to the same socket.
		conn, err := net.ListenMulticastUDP("udp4", nil, &net.UDPAddr{
			IP:   multicastGroup(firstUniverse(r.filter)),
			Port: r.cfg.Port,
		})
		if err != nil {
			return err
		}
		r.conn = conn
		return nil
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return err
	}
	r.conn = conn
	return nil
}

// multicastGroup maps a universe to its E1.31 multicast address
// 239.255.hi.lo.
func multicastGroup(u int) net.IP {
	return net.IPv4(239, 255, byte(u>>8), byte(u&0xFF))
}

func firstUniverse(f UniverseFilter) int {
	min := -1
	for u := range f {
		if min < 0 || u < min {
			min = u
		}
	}
	if min < 0 {
		return 0
	}
	return min
}

// Run reads datagrams until ctx is cancelled.
func (r *Receiver) Run(ctx context.Context) {
	defer r.conn.Close()
	r.log.Infow("sACN receiver listening", "addr", r.conn.LocalAddr().String())
	buf := make([]byte, 1144)
	for {
		if ctx.Err() != nil {
			return
		}
		_ = r.conn.SetReadDeadline(time.Now().Add(readDeadline))
		n, _, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			r.log.Warnw("sACN read error", "error", err)
			continue
		}
		r.HandleDatagram(buf[:n])
	}
}

// HandleDatagram parses one packet and, when accepted, updates the source
// table and pushes a fresh composite downstream. Malformed packets are
// dropped silently; out-of-order packets are dropped with a metric.
func (r *Receiver) HandleDatagram(data []byte) {
	pkt, err := Parse(data)
	if err != nil {
		return
	}
	if !r.filter.Allows(pkt.Universe) {
		return
	}
	r.metrics.SACNPacketsTotal.WithLabelValues(metrics.U(pkt.Universe)).Inc()

	r.mu.Lock()
	defer r.mu.Unlock()

	nowMS := r.nowMS()
	key := sourceKey{universe: pkt.Universe, cid: pkt.CID}
	src, ok := r.sources[key]
	if !ok {
		src = &source{lastSeq: pkt.Seq}
		r.sources[key] = src
	} else if int(pkt.Seq-src.lastSeq) > 128 {
		// Wraparound-safe ordering: more than half the sequence space
		// behind means out-of-order. Equal sequence is a duplicate
		// refresh and passes.
		r.metrics.SACNOOOTotal.WithLabelValues(metrics.U(pkt.Universe)).Inc()
		return
	}
	src.name = pkt.SourceName
	src.lastSeq = pkt.Seq
	src.lastSeenMS = nowMS
	src.priority = pkt.Priority
	src.frame = pkt.DMX

	comp, maxPrio := r.compositeLocked(pkt.Universe, nowMS)

	count := 0
	for k := range r.sources {
		if k.universe == pkt.Universe {
			count++
		}
	}
	r.metrics.SACNSources.WithLabelValues(metrics.U(pkt.Universe)).Set(float64(count))
	r.metrics.SACNPriorityCurrent.WithLabelValues(metrics.U(pkt.Universe)).Set(float64(maxPrio))

	if r.sink != nil {
		r.sink(pkt.Universe, comp)
	}
}

// compositeLocked purges stale sources and merges the rest: the highest
// priority tier wins, HTP inside the tier. Requires r.mu held.
func (r *Receiver) compositeLocked(u int, nowMS int64) ([512]byte, int) {
	timeout := int64(r.cfg.SourceTimeoutMS)
	var live []*source
	for k, s := range r.sources {
		if k.universe != u {
			continue
		}
		if nowMS-s.lastSeenMS > timeout {
			delete(r.sources, k)
			continue
		}
		live = append(live, s)
	}

	var comp [512]byte
	if len(live) == 0 {
		return comp, 0
	}
	maxPrio := 0
	for _, s := range live {
		if s.priority > maxPrio {
			maxPrio = s.priority
		}
	}
	for _, s := range live {
		if s.priority != maxPrio {
			continue
		}
		for i := range comp {
			if s.frame[i] > comp[i] {
				comp[i] = s.frame[i]
			}
		}
	}
	return comp, maxPrio
}

// SourceInfo is one row of the diagnostics table served at /sacn/sources.
type SourceInfo struct {
	Universe   int    `json:"universe"`
	CID        string `json:"cid"`
	Name       string `json:"name"`
	Priority   int    `json:"priority"`
	LastSeq    int    `json:"lastSeq"`
	LastSeenMS int64  `json:"lastSeenMs"`
	AgeMS      int64  `json:"ageMs"`
}

// SourceDiagnostics snapshots the source table, stably ordered by universe
// then CID.
func (r *Receiver) SourceDiagnostics() []SourceInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	nowMS := r.nowMS()
	out := make([]SourceInfo, 0, len(r.sources))
	for k, s := range r.sources {
		out = append(out, SourceInfo{
			Universe:   k.universe,
			CID:        hex.EncodeToString(k.cid[:]),
			Name:       s.name,
			Priority:   s.priority,
			LastSeq:    int(s.lastSeq),
			LastSeenMS: s.lastSeenMS,
			AgeMS:      nowMS - s.lastSeenMS,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Universe != out[j].Universe {
			return out[i].Universe < out[j].Universe
		}
		return out[i].CID < out[j].CID
	})
	return out
}

// SetClock overrides the wall clock. Tests only.
func (r *Receiver) SetClock(nowMS func() int64) {
	r.nowMS = nowMS
}
