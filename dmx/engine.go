// Package dmx holds the canonical per-universe DMX state and the fade engine.
//
// Layers per universe:
//   - local: state from local commands and fades
//   - sacn: composite merged from sACN sources
//   - output: max(local, sacn) per channel, published to subscribers and
//     downstream transports
package dmx

import (
	"sync"
	"time"
)

// FrameSize is the number of slots in a DMX universe.
const FrameSize = 512

// Change is one channel update. Channels are 1-indexed on the wire.
type Change struct {
	Ch  int `json:"ch"`
	Val int `json:"val"`
}

// Delta is an ordered list of output-frame changes since the previous
// revision.
type Delta []Change

type universe struct {
	mu     sync.Mutex
	local  [FrameSize]byte
	sacn   [FrameSize]byte
	output [FrameSize]byte
}

// Engine owns the layered frames. Mutations for a given universe are
// serialized by the per-universe mutex; rev/ts form a total order across
// universes under their own lock.
type Engine struct {
	mu        sync.RWMutex
	universes map[int]*universe

	revMu sync.Mutex
	rev   int64
	ts    int64
}

// NewEngine creates an engine with universe 0 pre-allocated.
func NewEngine() *Engine {
	e := &Engine{
		universes: map[int]*universe{0: {}},
	}
	e.ts = time.Now().UnixMilli()
	return e
}

func (e *Engine) frame(u int) *universe {
	e.mu.RLock()
	uni, ok := e.universes[u]
	e.mu.RUnlock()
	if ok {
		return uni
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if uni, ok = e.universes[u]; ok {
		return uni
	}
	uni = &universe{}
	e.universes[u] = uni
	return uni
}

// ApplyLocalPatch mutates the local layer with last-writer-wins semantics and
// recomputes the output. Out-of-range channels or values are skipped; the
// canonicalizer has already rejected them on the command path.
func (e *Engine) ApplyLocalPatch(u int, items []Change) (Delta, int64, int64) {
	uni := e.frame(u)
	uni.mu.Lock()
	defer uni.mu.Unlock()

	latest := make(map[int]int, len(items))
	for _, it := range items {
		if it.Ch >= 1 && it.Ch <= FrameSize && it.Val >= 0 && it.Val <= 255 {
			latest[it.Ch] = it.Val
		}
	}
	changed := false
	for ch, val := range latest {
		idx := ch - 1
		if uni.local[idx] != byte(val) {
			uni.local[idx] = byte(val)
			changed = true
		}
	}
	if !changed {
		rev, ts := e.RevTS()
		return nil, rev, ts
	}
	return e.recomputeLocked(uni)
}

// ApplySACNComposite replaces the sACN layer byte-for-byte and recomputes the
// output. Frames shorter than 512 bytes are right-padded with zeros.
func (e *Engine) ApplySACNComposite(u int, frame []byte) (Delta, int64, int64) {
	uni := e.frame(u)
	uni.mu.Lock()
	defer uni.mu.Unlock()

	changed := false
	for i := 0; i < FrameSize; i++ {
		var v byte
		if i < len(frame) {
			v = frame[i]
		}
		if uni.sacn[i] != v {
			uni.sacn[i] = v
			changed = true
		}
	}
	if !changed {
		rev, ts := e.RevTS()
		return nil, rev, ts
	}
	return e.recomputeLocked(uni)
}

// RecomputeOutput recomputes output = max(local, sacn) for a universe and
// returns the delta against the previous output frame.
func (e *Engine) RecomputeOutput(u int) (Delta, int64, int64) {
	uni := e.frame(u)
	uni.mu.Lock()
	defer uni.mu.Unlock()
	return e.recomputeLocked(uni)
}

// recomputeLocked requires uni.mu held. rev increments once per non-empty
// delta, never per channel.
func (e *Engine) recomputeLocked(uni *universe) (Delta, int64, int64) {
	var delta Delta
	for i := 0; i < FrameSize; i++ {
		v := uni.local[i]
		if uni.sacn[i] > v {
			v = uni.sacn[i]
		}
		if uni.output[i] != v {
			uni.output[i] = v
			delta = append(delta, Change{Ch: i + 1, Val: int(v)})
		}
	}
	e.revMu.Lock()
	defer e.revMu.Unlock()
	if len(delta) > 0 {
		e.rev++
		e.ts = time.Now().UnixMilli()
	}
	return delta, e.rev, e.ts
}

// RevTS returns the current revision and its wall-clock millisecond stamp.
func (e *Engine) RevTS() (int64, int64) {
	e.revMu.Lock()
	defer e.revMu.Unlock()
	return e.rev, e.ts
}

// OutputValue returns the current output level of one channel.
func (e *Engine) OutputValue(u, ch int) int {
	if ch < 1 || ch > FrameSize {
		return 0
	}
	uni := e.frame(u)
	uni.mu.Lock()
	defer uni.mu.Unlock()
	return int(uni.output[ch-1])
}

// Snapshot returns a dense copy of every output frame.
func (e *Engine) Snapshot() map[int]map[int]int {
	e.mu.RLock()
	unis := make(map[int]*universe, len(e.universes))
	for u, uni := range e.universes {
		unis[u] = uni
	}
	e.mu.RUnlock()

	out := make(map[int]map[int]int, len(unis))
	for u, uni := range unis {
		uni.mu.Lock()
		chans := make(map[int]int, FrameSize)
		for i, v := range uni.output {
			chans[i+1] = int(v)
		}
		uni.mu.Unlock()
		out[u] = chans
	}
	return out
}

// SparseSnapshot is Snapshot with zero-valued channels omitted.
func (e *Engine) SparseSnapshot() map[int]map[int]int {
	full := e.Snapshot()
	for u, chans := range full {
		for ch, v := range chans {
			if v == 0 {
				delete(chans, ch)
			}
		}
		full[u] = chans
	}
	return full
}

// OutputFrame returns a dense copy of one output frame.
func (e *Engine) OutputFrame(u int) [FrameSize]byte {
	uni := e.frame(u)
	uni.mu.Lock()
	defer uni.mu.Unlock()
	return uni.output
}

// SACNFrame returns a dense copy of the sACN layer (diagnostics).
func (e *Engine) SACNFrame(u int) [FrameSize]byte {
	uni := e.frame(u)
	uni.mu.Lock()
	defer uni.mu.Unlock()
	return uni.sacn
}

// Universes lists every universe that has been touched.
func (e *Engine) Universes() []int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]int, 0, len(e.universes))
	for u := range e.universes {
		out = append(out, u)
	}
	return out
}
