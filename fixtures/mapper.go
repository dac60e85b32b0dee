package fixtures

import (
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/atrep123/dmx-core/dmx"
	"github.com/atrep123/dmx-core/errors"
	"github.com/atrep123/dmx-core/metrics"
)

// ErrFixtureNotFound maps to the not_found ack reason on the command path.
var ErrFixtureNotFound = errors.New("fixture not found")

// AttrValue carries either an 8-bit level or an explicit 16-bit value.
type AttrValue struct {
	Value int
	Is16  bool
}

// Mapper resolves fixture.set attribute maps into channel patches. The
// instance table swaps atomically on reload.
type Mapper struct {
	metrics *metrics.Metrics
	log     *zap.SugaredLogger

	profilesDir string
	patchFile   string

	mu        sync.RWMutex
	instances map[string]*Instance
}

// NewMapper loads profiles and patch once; Reload refreshes them.
func NewMapper(profilesDir, patchFile string, m *metrics.Metrics, log *zap.SugaredLogger) (*Mapper, error) {
	mapper := &Mapper{
		metrics:     m,
		log:         log,
		profilesDir: profilesDir,
		patchFile:   patchFile,
		instances:   map[string]*Instance{},
	}
	if err := mapper.Reload(); err != nil {
		return nil, err
	}
	return mapper, nil
}

// Reload re-reads profiles and patch from disk. On failure the previous
// table stays active.
func (m *Mapper) Reload() error {
	profiles, err := LoadProfiles(m.profilesDir)
	if err != nil {
		m.metrics.FixtureReloadTotal.WithLabelValues("error").Inc()
		return err
	}
	instances, err := LoadPatch(m.patchFile, profiles)
	if err != nil {
		var overlap *OverlapError
		if errors.As(err, &overlap) {
			m.metrics.FixtureOverlapsTotal.Inc()
		}
		m.metrics.FixtureReloadTotal.WithLabelValues("error").Inc()
		return err
	}

	m.mu.Lock()
	m.instances = instances
	m.mu.Unlock()
	m.metrics.FixtureReloadTotal.WithLabelValues("ok").Inc()
	m.log.Infow("Fixture tables loaded", "profiles", len(profiles), "fixtures", len(instances))
	return nil
}

// Lookup returns the instance for an id.
func (m *Mapper) Lookup(id string) (*Instance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fx, ok := m.instances[id]
	return fx, ok
}

// split16 breaks a 16-bit value into coarse/fine bytes.
func split16(value16 int) (coarse, fine int) {
	v := value16
	if v < 0 {
		v = 0
	}
	if v > 65535 {
		v = 65535
	}
	return (v >> 8) & 0xFF, v & 0xFF
}

// upscale8 spreads an 8-bit level across 16 bits (v * 257).
func upscale8(v8 int) int {
	if v8 < 0 {
		v8 = 0
	}
	if v8 > 255 {
		v8 = 255
	}
	return v8 * 257
}

// Resolve maps attribute values to a channel patch for one fixture.
// Unknown attributes are skipped; an unknown fixture id returns
// ErrFixtureNotFound. The universe the patch applies to is returned
// alongside the items.
func (m *Mapper) Resolve(fixtureID string, attrs map[string]AttrValue) (int, []dmx.Change, error) {
	fx, ok := m.Lookup(fixtureID)
	if !ok {
		m.metrics.FixtureApplyTotal.WithLabelValues("error", "not_found").Inc()
		return 0, nil, errors.Wrapf(ErrFixtureNotFound, "fixture %s", fixtureID)
	}

	var items []dmx.Change
	for attr, spec := range attrs {
		binding, ok := fx.attrMap[attr]
		if !ok {
			continue
		}
		invert := fx.invert[attr]
		if binding.coarse > 0 {
			v16 := spec.Value
			if !spec.Is16 {
				v16 = upscale8(spec.Value)
			}
			if invert {
				v16 = 65535 - clamp16(v16)
			}
			coarse, fine := split16(v16)
			items = append(items,
				dmx.Change{Ch: binding.coarse, Val: coarse},
				dmx.Change{Ch: binding.fine, Val: fine},
			)
		} else {
			v := clamp8(spec.Value)
			if spec.Is16 {
				// 16-bit value onto an 8-bit channel keeps the coarse byte.
				coarse, _ := split16(spec.Value)
				v = coarse
			}
			if invert {
				v = 255 - v
			}
			items = append(items, dmx.Change{Ch: binding.index, Val: v})
		}
		m.metrics.FixtureAttrsTotal.WithLabelValues(attr).Inc()
	}
	if len(items) == 0 {
		m.metrics.FixtureApplyTotal.WithLabelValues("error", "no_attrs").Inc()
		return fx.Universe, nil, errors.Newf("no resolvable attributes for fixture %s", fixtureID)
	}
	m.metrics.FixtureApplyTotal.WithLabelValues("ok", "").Inc()
	return fx.Universe, items, nil
}

func clamp8(v int) int {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return v
}

func clamp16(v int) int {
	if v < 0 {
		return 0
	}
	if v > 65535 {
		return 65535
	}
	return v
}

// Watch reloads fixture tables when the profiles dir or patch file changes.
// Runs until the watcher fails or w.Close is called via the returned closer.
func (m *Mapper) Watch() (func() error, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create fixture watcher")
	}
	_ = watcher.Add(m.profilesDir)
	_ = watcher.Add(m.patchFile)

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if err := m.Reload(); err != nil {
					m.log.Warnw("Fixture reload failed", "trigger", event.Name, "error", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				m.log.Warnw("Fixture watcher error", "error", err)
			}
		}
	}()
	return watcher.Close, nil
}
