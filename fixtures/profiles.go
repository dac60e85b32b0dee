// Package fixtures maps named fixture attributes onto absolute DMX channels:
// YAML/JSON profiles describe channel layouts, a patch file binds profile
// instances to (universe, address), and the mapper resolves attribute values
// (8-bit or 16-bit) into channel patches.
package fixtures

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/atrep123/dmx-core/errors"
)

// ChannelDef describes one profile channel. Index fields are 1-based offsets
// from the fixture's start address.
type ChannelDef struct {
	Attr        string `yaml:"attr" json:"attr"`
	Index       int    `yaml:"index" json:"index"`
	Resolution  string `yaml:"resolution" json:"resolution"` // "8bit" (default) or "16bit"
	CoarseIndex int    `yaml:"coarse_index" json:"coarse_index"`
	FineIndex   int    `yaml:"fine_index" json:"fine_index"`
}

// Is16Bit reports whether the channel spans a coarse/fine pair.
func (c ChannelDef) Is16Bit() bool {
	return c.Resolution == "16bit" && c.CoarseIndex > 0 && c.FineIndex > 0
}

// Profile is a fixture type definition.
type Profile struct {
	ID       string       `yaml:"id" json:"id"`
	Name     string       `yaml:"name" json:"name"`
	Channels []ChannelDef `yaml:"channels" json:"channels"`
}

func (p *Profile) validate() error {
	if p.ID == "" {
		return errors.New("profile id must not be empty")
	}
	if len(p.Channels) == 0 {
		return errors.Newf("profile %s has no channels", p.ID)
	}
	for _, ch := range p.Channels {
		if ch.Attr == "" {
			return errors.Newf("profile %s: channel without attr", p.ID)
		}
		if !ch.Is16Bit() && ch.Index < 1 {
			return errors.Newf("profile %s: attr %s has no channel index", p.ID, ch.Attr)
		}
	}
	return nil
}

// LoadProfiles reads every .yaml/.yml/.json file in dir into a profile map
// keyed by id.
func LoadProfiles(dir string) (map[string]*Profile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]*Profile{}, nil
		}
		return nil, errors.Wrapf(err, "failed to read profiles dir %s", dir)
	}

	profiles := make(map[string]*Profile)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" && ext != ".json" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		profile, err := loadProfileFile(path)
		if err != nil {
			return nil, err
		}
		if _, dup := profiles[profile.ID]; dup {
			return nil, errors.Newf("duplicate profile id %s in %s", profile.ID, path)
		}
		profiles[profile.ID] = profile
	}
	return profiles, nil
}

func loadProfileFile(path string) (*Profile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read profile %s", path)
	}
	var profile Profile
	if strings.HasSuffix(strings.ToLower(path), ".json") {
		err = json.Unmarshal(raw, &profile)
	} else {
		err = yaml.Unmarshal(raw, &profile)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse profile %s", path)
	}
	if err := profile.validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid profile %s", path)
	}
	return &profile, nil
}
