package ingest

import (
	"time"

	"go.uber.org/zap"

	"github.com/atrep123/dmx-core/dmx"
	"github.com/atrep123/dmx-core/errors"
	"github.com/atrep123/dmx-core/fixtures"
	"github.com/atrep123/dmx-core/internal/ulid"
	"github.com/atrep123/dmx-core/metrics"
)

// Fader is the fade-path surface the router needs.
type Fader interface {
	AddFade(u int, items []dmx.Change, durationMS, nowMS int64, easing dmx.Easing)
	CancelChannels(u int, chans []int, reason string) int
}

// FixtureResolver resolves fixture.set attribute maps to channel patches.
type FixtureResolver interface {
	Resolve(fixtureID string, attrs map[string]fixtures.AttrValue) (int, []dmx.Change, error)
}

// CommitSink runs after every mutation that changed output: broadcast,
// output scheduling, retained-state publication and persistence hang off it.
type CommitSink func(u int, delta dmx.Delta, rev, ts int64)

// Router binds the pipeline: canonicalize -> rate-limit -> dedupe -> fade or
// immediate path -> commit fan-out. One Router serves every front-channel.
type Router struct {
	engine   *dmx.Engine
	fader    Fader
	fixtures FixtureResolver
	limiter  *RateLimiter
	deduper  *Deduper
	metrics  *metrics.Metrics
	log      *zap.SugaredLogger
	onCommit CommitSink

	fadesEnabled bool
}

// NewRouter wires the pipeline stages. fixtures and fader may be nil when
// the corresponding feature is disabled.
func NewRouter(
	engine *dmx.Engine,
	fader Fader,
	resolver FixtureResolver,
	limiter *RateLimiter,
	deduper *Deduper,
	m *metrics.Metrics,
	log *zap.SugaredLogger,
	fadesEnabled bool,
	onCommit CommitSink,
) *Router {
	return &Router{
		engine:       engine,
		fader:        fader,
		fixtures:     resolver,
		limiter:      limiter,
		deduper:      deduper,
		metrics:      m,
		log:          log,
		onCommit:     onCommit,
		fadesEnabled: fadesEnabled && fader != nil,
	}
}

// Process decodes and runs one raw command payload.
func (r *Router) Process(proto, client string, raw []byte) Ack {
	cmd, err := DecodeCommand(raw)
	if err != nil {
		r.metrics.CmdsTotal.WithLabelValues(proto, "invalid", "false").Inc()
		return Ack{
			Accepted: false,
			Reason:   ReasonValidationFailed,
			Errors:   []FieldError{{Path: "", Msg: err.Error()}},
			TS:       time.Now().UnixMilli(),
		}
	}
	return r.ProcessCommand(proto, client, cmd)
}

// ProcessCommand runs the pipeline for a decoded command. The returned ack is
// written back to the caller on acked channels (REST, WS); MQTT drops it.
func (r *Router) ProcessCommand(proto, client string, cmd *Command) Ack {
	start := time.Now()
	ack := r.process(proto, client, cmd)
	ack.Ack = cmd.ID
	ack.TS = time.Now().UnixMilli()

	r.metrics.CmdsTotal.WithLabelValues(proto, cmdTypeLabel(cmd.Type), acceptedLabel(ack.Accepted)).Inc()
	r.metrics.AckLatency.Observe(float64(time.Since(start).Milliseconds()))
	return ack
}

func (r *Router) process(proto, client string, cmd *Command) Ack {
	// fixture.set resolves through the patch table first; everything else
	// canonicalizes directly.
	var (
		universe int
		items    []dmx.Change
	)
	switch cmd.Type {
	case TypeSet, TypePatch, TypeFade:
		canonical, rej := Canonicalize(cmd)
		if rej != nil {
			return Ack{Accepted: false, Reason: rej.Reason, Errors: rej.Errors}
		}
		universe = cmd.Universe
		items = canonical
	case TypeFixtureSet:
		if r.fixtures == nil {
			return Ack{Accepted: false, Reason: ReasonUnavailable}
		}
		if cmd.FixtureID == "" || len(cmd.Attrs) == 0 {
			return Ack{Accepted: false, Reason: ReasonValidationFailed,
				Errors: []FieldError{{Path: "fixtureId", Msg: "fixtureId and attrs are required"}}}
		}
		attrs := make(map[string]fixtures.AttrValue, len(cmd.Attrs))
		for name, v := range cmd.Attrs {
			attrs[name] = fixtures.AttrValue{Value: v.Value, Is16: v.Is16}
		}
		u, resolved, err := r.fixtures.Resolve(cmd.FixtureID, attrs)
		if err != nil {
			if errors.Is(err, fixtures.ErrFixtureNotFound) {
				return Ack{Accepted: false, Reason: ReasonNotFound}
			}
			return Ack{Accepted: false, Reason: ReasonValidationFailed,
				Errors: []FieldError{{Path: "attrs", Msg: err.Error()}}}
		}
		universe = u
		items = resolved
	default:
		return Ack{Accepted: false, Reason: ReasonValidationFailed,
			Errors: []FieldError{{Path: "type", Msg: "unknown command type"}}}
	}

	r.metrics.PatchSize.Set(float64(len(items)))

	if !r.limiter.Allow(proto, client, universe) {
		return Ack{Accepted: false, Reason: ReasonRateLimited}
	}

	if cmd.ID != "" && !r.deduper.Accept(ulid.FromString(cmd.ID)) {
		// Silent drop: the retry is acknowledged as a success without
		// re-applying.
		r.metrics.DedupHits.Inc()
		return Ack{Accepted: true}
	}

	if cmd.Type == TypeFade && r.fadesEnabled {
		r.fader.AddFade(universe, items, cmd.DurationMS, time.Now().UnixMilli(), dmx.Easing(cmd.Easing))
		return Ack{Accepted: true}
	}

	// Immediate path. A direct patch takes the channels away from any
	// running fade before it commits (LTP).
	if r.fader != nil {
		chans := make([]int, len(items))
		for i, it := range items {
			chans[i] = it.Ch
		}
		r.fader.CancelChannels(universe, chans, dmx.CancelReasonLTP)
	}

	delta, rev, ts := r.engine.ApplyLocalPatch(universe, items)
	if len(delta) > 0 && r.onCommit != nil {
		r.onCommit(universe, delta, rev, ts)
	}
	return Ack{Accepted: true}
}

func cmdTypeLabel(t string) string {
	switch t {
	case TypeSet, TypePatch, TypeFade, TypeFixtureSet:
		return t
	default:
		return "invalid"
	}
}

func acceptedLabel(accepted bool) string {
	if accepted {
		return "true"
	}
	return "false"
}
