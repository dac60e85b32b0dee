// Package persist is the file-backed KV layer: the legacy RGB state
// snapshot, scenes, and show snapshots all round-trip through small JSON
// files under the data dir.
package persist

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/atrep123/dmx-core/errors"
)

// Store reads and writes named JSON documents in a directory.
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore creates the data dir if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create data dir %s", dir)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+".json")
}

// Load unmarshals the named document into v. Returns os.ErrNotExist when the
// document has never been saved.
func (s *Store) Load(name string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := os.ReadFile(s.path(name))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.Wrapf(err, "corrupt document %s", name)
	}
	return nil
}

// Save writes v atomically (temp file + rename).
func (s *Store) Save(name string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "failed to encode document %s", name)
	}
	tmp := s.path(name) + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write document %s", name)
	}
	if err := os.Rename(tmp, s.path(name)); err != nil {
		return errors.Wrapf(err, "failed to replace document %s", name)
	}
	return nil
}

// Delete removes the named document. Deleting a missing document is not an
// error.
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.path(name))
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to delete document %s", name)
	}
	return nil
}
