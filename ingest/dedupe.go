package ingest

import (
	"container/list"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atrep123/dmx-core/errors"
)

// Deduper is a TTL+capacity LRU of command ids. A hit within the TTL drops
// the retried command; the window is not refreshed by the retry. The cache
// persists best-effort as {id: unix_ts} JSON.
type Deduper struct {
	ttl      time.Duration
	capacity int
	path     string
	log      *zap.SugaredLogger

	mu      sync.Mutex
	order   *list.List // oldest at front; values are *dedupeEntry
	entries map[string]*list.Element

	now func() time.Time
}

type dedupeEntry struct {
	id       string
	insertTS time.Time
}

// NewDeduper builds the cache and restores the persisted map, dropping
// expired entries and enforcing capacity.
func NewDeduper(ttlSec, capacity int, path string, log *zap.SugaredLogger) *Deduper {
	d := &Deduper{
		ttl:      time.Duration(ttlSec) * time.Second,
		capacity: capacity,
		path:     path,
		log:      log,
		order:    list.New(),
		entries:  make(map[string]*list.Element),
		now:      time.Now,
	}
	d.load()
	return d
}

// Accept reports whether the command should be processed. Empty ids always
// pass.
func (d *Deduper) Accept(id string) bool {
	if id == "" {
		return true
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if elem, ok := d.entries[id]; ok {
		entry := elem.Value.(*dedupeEntry)
		if now.Sub(entry.insertTS) < d.ttl {
			return false
		}
		// Expired: refresh in place.
		entry.insertTS = now
		d.order.MoveToBack(elem)
	} else {
		d.entries[id] = d.order.PushBack(&dedupeEntry{id: id, insertTS: now})
	}
	d.pruneLocked(now)
	d.saveLocked()
	return true
}

// Len returns the live entry count.
func (d *Deduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// pruneLocked sweeps expired entries and evicts oldest beyond capacity.
// Requires d.mu held.
func (d *Deduper) pruneLocked(now time.Time) {
	for elem := d.order.Front(); elem != nil; {
		next := elem.Next()
		if now.Sub(elem.Value.(*dedupeEntry).insertTS) >= d.ttl {
			d.removeLocked(elem)
		}
		elem = next
	}
	for len(d.entries) > d.capacity {
		d.removeLocked(d.order.Front())
	}
}

func (d *Deduper) removeLocked(elem *list.Element) {
	entry := d.order.Remove(elem).(*dedupeEntry)
	delete(d.entries, entry.id)
}

// load restores persisted entries. Missing or corrupt files are ignored.
func (d *Deduper) load() {
	if d.path == "" {
		return
	}
	raw, err := os.ReadFile(d.path)
	if err != nil {
		return
	}
	var persisted map[string]int64
	if err := json.Unmarshal(raw, &persisted); err != nil {
		d.log.Warnw("Ignoring corrupt dedupe cache", "path", d.path, "error", err)
		return
	}
	now := d.now()
	// Oldest first so LRU eviction keeps the most recent ids.
	type kv struct {
		id string
		ts time.Time
	}
	entries := make([]kv, 0, len(persisted))
	for id, ts := range persisted {
		entries = append(entries, kv{id: id, ts: time.Unix(ts, 0)})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ts.Before(entries[j].ts) })
	for _, e := range entries {
		if now.Sub(e.ts) >= d.ttl {
			continue
		}
		d.entries[e.id] = d.order.PushBack(&dedupeEntry{id: e.id, insertTS: e.ts})
	}
	d.pruneLocked(now)
}

// saveLocked writes the cache to disk. Best-effort: failures log and move
// on. Requires d.mu held.
func (d *Deduper) saveLocked() {
	if d.path == "" {
		return
	}
	persisted := make(map[string]int64, len(d.entries))
	for elem := d.order.Front(); elem != nil; elem = elem.Next() {
		entry := elem.Value.(*dedupeEntry)
		persisted[entry.id] = entry.insertTS.Unix()
	}
	raw, err := json.Marshal(persisted)
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(d.path), 0o755); err != nil {
		d.log.Debugw("Dedupe persist skipped", "error", err)
		return
	}
	if err := os.WriteFile(d.path, raw, 0o644); err != nil {
		d.log.Debugw("Dedupe persist failed", "error", errors.Wrap(err, "write dedupe cache"))
	}
}

// Persist flushes the cache on shutdown.
func (d *Deduper) Persist() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.saveLocked()
}
