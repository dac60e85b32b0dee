package persist

import (
	"encoding/json"
	"os"
	"sort"
)

const (
	scenesDoc = "scenes"
	showDoc   = "show"
)

// Scenes and show snapshots are opaque client blobs: the server stores and
// lists them without interpreting the payload beyond the id key.

// SceneSet maps scene id to its raw JSON payload.
type SceneSet map[string]json.RawMessage

// LoadScenes returns the stored scene set, empty if none.
func (s *Store) LoadScenes() (SceneSet, error) {
	var scenes SceneSet
	if err := s.Load(scenesDoc, &scenes); err != nil {
		if os.IsNotExist(err) {
			return SceneSet{}, nil
		}
		return nil, err
	}
	if scenes == nil {
		scenes = SceneSet{}
	}
	return scenes, nil
}

// SaveScene upserts one scene blob.
func (s *Store) SaveScene(id string, payload json.RawMessage) error {
	scenes, err := s.LoadScenes()
	if err != nil {
		return err
	}
	scenes[id] = payload
	return s.Save(scenesDoc, scenes)
}

// DeleteScene removes one scene. Unknown ids are a no-op.
func (s *Store) DeleteScene(id string) error {
	scenes, err := s.LoadScenes()
	if err != nil {
		return err
	}
	delete(scenes, id)
	return s.Save(scenesDoc, scenes)
}

// SceneIDs lists stored scene ids, sorted.
func (s *Store) SceneIDs() ([]string, error) {
	scenes, err := s.LoadScenes()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(scenes))
	for id := range scenes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// LoadShow returns the show snapshot blob, or ok=false if none was saved.
func (s *Store) LoadShow() (json.RawMessage, bool) {
	var show json.RawMessage
	if err := s.Load(showDoc, &show); err != nil {
		return nil, false
	}
	return show, len(show) > 0
}

// SaveShow stores the show snapshot blob.
func (s *Store) SaveShow(payload json.RawMessage) error {
	return s.Save(showDoc, payload)
}
