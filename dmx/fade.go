package dmx

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atrep123/dmx-core/metrics"
)

// CancelReasonLTP marks channels removed because a direct patch took
// precedence; CancelReasonDone marks channels whose fade ran to completion.
const (
	CancelReasonLTP  = "ltp"
	CancelReasonDone = "done"
)

// FadeJob interpolates a set of channels of one universe from their captured
// start values to their targets.
type FadeJob struct {
	targets     map[int]int
	startValues map[int]int
	startMS     int64
	durationMS  int64
	easing      Easing
	queuedAt    map[int]time.Time
}

func (j *FadeJob) valueAt(ch int, nowMS int64) int {
	sv := j.startValues[ch]
	tv, ok := j.targets[ch]
	if !ok {
		tv = sv
	}
	if j.durationMS <= 0 {
		return tv
	}
	t := float64(nowMS-j.startMS) / float64(j.durationMS)
	return interpolate(j.easing, sv, tv, t)
}

func (j *FadeJob) done(nowMS int64) bool {
	return nowMS >= j.startMS+j.durationMS
}

// CommitSink receives the outcome of a fade tick that changed output.
type CommitSink func(u int, delta Delta, rev, ts int64)

// FadeEngine drives periodic interpolation toward scheduled targets. A single
// ticker goroutine walks the job table; AddFade and CancelChannels may be
// called from any goroutine.
type FadeEngine struct {
	engine  *Engine
	metrics *metrics.Metrics
	log     *zap.SugaredLogger
	tickHz  int

	mu   sync.Mutex // guards jobs; held across a whole tick
	jobs map[int][]*FadeJob

	onCommit CommitSink
}

// NewFadeEngine wires the interpolator to the state engine. onCommit runs
// after every tick that produced a non-empty output delta (broadcast and
// output scheduling hang off it).
func NewFadeEngine(engine *Engine, m *metrics.Metrics, log *zap.SugaredLogger, tickHz int, onCommit CommitSink) *FadeEngine {
	if tickHz <= 0 {
		tickHz = 44
	}
	return &FadeEngine{
		engine:   engine,
		metrics:  m,
		log:      log,
		tickHz:   tickHz,
		jobs:     make(map[int][]*FadeJob),
		onCommit: onCommit,
	}
}

// AddFade schedules a new job. Start values are captured from the current
// output frame so a fade continues from whatever the viewer currently sees.
func (f *FadeEngine) AddFade(u int, items []Change, durationMS int64, nowMS int64, easing Easing) {
	if !ValidEasing(string(easing)) {
		easing = EasingLinear
	}
	job := &FadeJob{
		targets:     make(map[int]int, len(items)),
		startValues: make(map[int]int, len(items)),
		startMS:     nowMS,
		durationMS:  durationMS,
		easing:      easing,
		queuedAt:    make(map[int]time.Time, len(items)),
	}
	now := time.Now()
	for _, it := range items {
		job.targets[it.Ch] = it.Val
		job.startValues[it.Ch] = f.engine.OutputValue(u, it.Ch)
		job.queuedAt[it.Ch] = now
	}

	f.mu.Lock()
	f.jobs[u] = append(f.jobs[u], job)
	f.metrics.FadesStarted.WithLabelValues(metrics.U(u)).Add(float64(len(job.targets)))
	f.refreshGaugesLocked(u)
	f.mu.Unlock()
}

// CancelChannels removes the listed channels from every job of the universe
// (LTP). Jobs left without targets are discarded. Returns the number of
// channel cancellations.
func (f *FadeEngine) CancelChannels(u int, chans []int, reason string) int {
	if len(chans) == 0 {
		return 0
	}
	drop := make(map[int]struct{}, len(chans))
	for _, ch := range chans {
		drop[ch] = struct{}{}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	lst := f.jobs[u]
	if len(lst) == 0 {
		return 0
	}
	cancelled := 0
	remain := lst[:0]
	for _, job := range lst {
		for ch := range drop {
			if _, ok := job.targets[ch]; ok {
				delete(job.targets, ch)
				delete(job.startValues, ch)
				delete(job.queuedAt, ch)
				cancelled++
			}
		}
		if len(job.targets) > 0 {
			remain = append(remain, job)
		}
	}
	f.jobs[u] = remain
	f.refreshGaugesLocked(u)
	if cancelled > 0 {
		f.metrics.FadesCancelled.WithLabelValues(metrics.U(u), reason).Add(float64(cancelled))
	}
	return cancelled
}

// ActiveChannels lists channels currently targeted by any job of the
// universe.
func (f *FadeEngine) ActiveChannels(u int) []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []int
	for _, job := range f.jobs[u] {
		for ch := range job.targets {
			out = append(out, ch)
		}
	}
	return out
}

// refreshGaugesLocked requires the job lock held.
func (f *FadeEngine) refreshGaugesLocked(u int) {
	chCount, jobCount := 0, len(f.jobs[u])
	for _, job := range f.jobs[u] {
		chCount += len(job.targets)
	}
	f.metrics.FadeActive.WithLabelValues(metrics.U(u)).Set(float64(chCount))
	f.metrics.FadeJobsActive.WithLabelValues(metrics.U(u)).Set(float64(jobCount))
}

// Run drives the ticker until ctx is cancelled. The in-flight tick completes
// before the loop exits.
func (f *FadeEngine) Run(ctx context.Context) {
	interval := time.Second / time.Duration(f.tickHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	f.log.Infow("Fade ticker started", "tick_hz", f.tickHz)
	for {
		select {
		case <-ctx.Done():
			f.log.Infow("Fade ticker stopped")
			return
		case <-ticker.C:
			f.Tick(time.Now().UnixMilli())
		}
	}
}

// Tick evaluates every job once. Exported so tests can step time explicitly.
func (f *FadeEngine) Tick(nowMS int64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for u, lst := range f.jobs {
		if len(lst) == 0 {
			continue
		}
		tickStart := time.Now()

		deltas := make(map[int]int)
		var order []int
		remaining := lst[:0]
		doneChannels := 0
		for _, job := range lst {
			for ch := range job.targets {
				if qt, ok := job.queuedAt[ch]; ok {
					delay := time.Since(qt).Milliseconds()
					f.metrics.FadeQueueDelayMS.WithLabelValues(metrics.U(u)).Observe(float64(delay))
					delete(job.queuedAt, ch)
				}
				if _, seen := deltas[ch]; !seen {
					order = append(order, ch)
				}
				// Latest job wins on collision.
				deltas[ch] = job.valueAt(ch, nowMS)
			}
			if job.done(nowMS) {
				doneChannels += len(job.targets)
			} else {
				remaining = append(remaining, job)
			}
		}
		f.jobs[u] = remaining
		f.refreshGaugesLocked(u)

		if len(deltas) > 0 {
			items := make([]Change, 0, len(deltas))
			for _, ch := range order {
				items = append(items, Change{Ch: ch, Val: deltas[ch]})
			}
			delta, rev, ts := f.engine.ApplyLocalPatch(u, items)
			if len(delta) > 0 && f.onCommit != nil {
				f.onCommit(u, delta, rev, ts)
			}
		}

		elapsed := time.Since(tickStart).Milliseconds()
		f.metrics.FadeTicksTotal.WithLabelValues(metrics.U(u)).Inc()
		f.metrics.FadeTickMS.Observe(float64(elapsed))
		if doneChannels > 0 {
			f.metrics.FadesCancelled.WithLabelValues(metrics.U(u), CancelReasonDone).Add(float64(doneChannels))
		}
	}
}
