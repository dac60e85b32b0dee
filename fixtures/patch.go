package fixtures

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/atrep123/dmx-core/errors"
)

// attrChannels is the absolute channel binding of one attribute: either a
// single index or a coarse/fine pair.
type attrChannels struct {
	index  int
	coarse int
	fine   int
}

// Instance binds a profile to a start address in a universe.
type Instance struct {
	ID       string
	Name     string
	Profile  *Profile
	Universe int
	Address  int

	invert   map[string]bool
	occupied map[int]struct{}
	attrMap  map[string]attrChannels
}

// Channels lists the absolute channels the instance occupies.
func (fx *Instance) Channels() []int {
	out := make([]int, 0, len(fx.occupied))
	for ch := range fx.occupied {
		out = append(out, ch)
	}
	return out
}

type patchFile struct {
	Fixtures []patchEntry `yaml:"fixtures" json:"fixtures"`
}

type patchEntry struct {
	ID       string          `yaml:"id" json:"id"`
	Name     string          `yaml:"name" json:"name"`
	Profile  string          `yaml:"profile" json:"profile"`
	Universe int             `yaml:"universe" json:"universe"`
	Address  int             `yaml:"address" json:"address"`
	Invert   map[string]bool `yaml:"invert" json:"invert"`
}

// LoadPatch reads the patch file and binds instances against profiles.
// Address overlaps within a universe are an error; the caller counts them in
// the overlap metric before failing.
func LoadPatch(path string, profiles map[string]*Profile) (map[string]*Instance, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]*Instance{}, nil
		}
		return nil, errors.Wrapf(err, "failed to read patch file %s", path)
	}

	var pf patchFile
	if strings.HasSuffix(strings.ToLower(path), ".json") {
		err = json.Unmarshal(data, &pf)
	} else {
		err = yaml.Unmarshal(data, &pf)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse patch file %s", path)
	}

	instances := make(map[string]*Instance, len(pf.Fixtures))
	occupiedPerUni := make(map[int]map[int]struct{})
	for _, entry := range pf.Fixtures {
		if entry.ID == "" {
			return nil, errors.New("patch entry without id")
		}
		prof, ok := profiles[entry.Profile]
		if !ok {
			return nil, errors.Newf("profile not found: %s", entry.Profile)
		}
		name := entry.Name
		if name == "" {
			name = entry.ID
		}
		fx := &Instance{
			ID:       entry.ID,
			Name:     name,
			Profile:  prof,
			Universe: entry.Universe,
			Address:  entry.Address,
			invert:   entry.Invert,
			occupied: make(map[int]struct{}),
			attrMap:  make(map[string]attrChannels),
		}
		if fx.invert == nil {
			fx.invert = map[string]bool{}
		}

		for _, chdef := range prof.Channels {
			if chdef.Is16Bit() {
				coarse := entry.Address + chdef.CoarseIndex - 1
				fine := entry.Address + chdef.FineIndex - 1
				if coarse < 1 || fine > 512 {
					return nil, errors.Newf("16-bit channel out of range at fixture %s", entry.ID)
				}
				fx.occupied[coarse] = struct{}{}
				fx.occupied[fine] = struct{}{}
				fx.attrMap[chdef.Attr] = attrChannels{coarse: coarse, fine: fine}
			} else {
				abs := entry.Address + chdef.Index - 1
				if abs < 1 || abs > 512 {
					return nil, errors.Newf("channel out of range at fixture %s", entry.ID)
				}
				fx.occupied[abs] = struct{}{}
				fx.attrMap[chdef.Attr] = attrChannels{index: abs}
			}
		}

		occ, ok := occupiedPerUni[entry.Universe]
		if !ok {
			occ = make(map[int]struct{})
			occupiedPerUni[entry.Universe] = occ
		}
		for ch := range fx.occupied {
			if _, clash := occ[ch]; clash {
				return nil, &OverlapError{Universe: entry.Universe, Channel: ch, FixtureID: entry.ID}
			}
		}
		for ch := range fx.occupied {
			occ[ch] = struct{}{}
		}
		instances[entry.ID] = fx
	}
	return instances, nil
}

// OverlapError reports two fixtures claiming the same channel.
type OverlapError struct {
	Universe  int
	Channel   int
	FixtureID string
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("address overlap in universe %d at channel %d (fixture %s)", e.Universe, e.Channel, e.FixtureID)
}
