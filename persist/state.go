package persist

import (
	"github.com/atrep123/dmx-core/dmx"
)

const legacyStateDoc = "state"

// LegacyState is the canonical R/G/B view kept for older clients: universe 0
// channels 1..3 plus the revision and source of the last change.
type LegacyState struct {
	R         int    `json:"r"`
	G         int    `json:"g"`
	B         int    `json:"b"`
	Seq       int64  `json:"seq"`
	UpdatedBy string `json:"updatedBy"`
	TS        int64  `json:"ts"`
}

// SaveLegacyState persists the RGB snapshot when a commit on universe 0
// touched channels 1..3. Returns true if a save happened.
func (s *Store) SaveLegacyState(u int, delta dmx.Delta, rev, ts int64, frame [dmx.FrameSize]byte, updatedBy string) bool {
	if u != 0 {
		return false
	}
	touched := false
	for _, it := range delta {
		if it.Ch >= 1 && it.Ch <= 3 {
			touched = true
			break
		}
	}
	if !touched {
		return false
	}
	state := LegacyState{
		R:         int(frame[0]),
		G:         int(frame[1]),
		B:         int(frame[2]),
		Seq:       rev,
		UpdatedBy: updatedBy,
		TS:        ts,
	}
	// Best-effort; a failed save never blocks the commit path.
	_ = s.Save(legacyStateDoc, state)
	return true
}

// LoadLegacyState restores the last RGB snapshot, or ok=false if none was
// ever saved.
func (s *Store) LoadLegacyState() (LegacyState, bool) {
	var state LegacyState
	if err := s.Load(legacyStateDoc, &state); err != nil {
		return LegacyState{}, false
	}
	return state, true
}
