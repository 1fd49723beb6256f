package profiles

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Set is an ordered collection of profiles. Selection walks the profiles in
// order and falls back to the generic profile.
type Set struct {
	profiles []*Profile
	byName   map[string]*Profile
	generic  *Profile
}

// NewSet compiles the given profiles. Duplicate names are an error. When no
// profile is named GenericName the built-in generic profile is added.
func NewSet(profiles ...*Profile) (*Set, error) {
	s := &Set{byName: make(map[string]*Profile)}
	for _, p := range profiles {
		if err := p.compile(); err != nil {
			return nil, err
		}
		if _, dup := s.byName[p.Name]; dup {
			return nil, fmt.Errorf("duplicate profile %q", p.Name)
		}
		s.byName[p.Name] = p
		if p.Name == GenericName {
			s.generic = p
			continue
		}
		s.profiles = append(s.profiles, p)
	}
	if s.generic == nil {
		g := genericProfile()
		if err := g.compile(); err != nil {
			return nil, err
		}
		s.generic = g
		s.byName[g.Name] = g
	}
	return s, nil
}

// Select returns the first profile whose signature matches st, or the
// generic profile.
func (s *Set) Select(st Structure) *Profile {
	for _, p := range s.profiles {
		if p.Signature.Match(st) {
			return p
		}
	}
	return s.generic
}

// Get returns a profile by name.
func (s *Set) Get(name string) (*Profile, bool) {
	p, ok := s.byName[name]
	return p, ok
}

// Generic returns the fallback profile.
func (s *Set) Generic() *Profile {
	return s.generic
}

// Names returns profile names in selection order, generic last.
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.profiles)+1)
	for _, p := range s.profiles {
		names = append(names, p.Name)
	}
	return append(names, s.generic.Name)
}

// Builtin returns the profiles shipped with takeoff.
func Builtin() *Set {
	s, err := NewSet(builtinProfiles()...)
	if err != nil {
		panic(fmt.Sprintf("builtin profiles: %v", err))
	}
	return s
}

type profileFile struct {
	Profiles []*Profile `yaml:"profiles"`
}

// Load reads profiles from YAML. File profiles are tried before the
// built-in ones and replace built-ins with the same name.
func Load(r io.Reader) (*Set, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f profileFile
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse profiles: %w", err)
	}

	override := make(map[string]bool, len(f.Profiles))
	all := make([]*Profile, 0, len(f.Profiles)+3)
	for _, p := range f.Profiles {
		if p == nil {
			continue
		}
		override[p.Name] = true
		all = append(all, p)
	}
	for _, p := range builtinProfiles() {
		if !override[p.Name] {
			all = append(all, p)
		}
	}
	return NewSet(all...)
}

// LoadFile reads profiles from a YAML file.
func LoadFile(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profiles file: %w", err)
	}
	return Load(bytes.NewReader(data))
}

func builtinProfiles() []*Profile {
	return []*Profile{
		{
			Name:        "sheet-indexed-set",
			Description: "Plan sets with a sheet index on the cover and discipline-prefixed sheet numbers",
			Signature: Signature{
				TextMarkers: []string{"sheet index", "drawing index", "index of drawings", "sheet list"},
				MinPages:    3,
			},
			PageHints: []string{"roof plan", "roof framing plan", "roof details", "roof drainage plan"},
			Guidance: "This set numbers sheets with discipline prefixes such as A-201. Sheet numbers are not page numbers: " +
				"always cite the page marker, never the sheet number.",
			LaborKeys: map[string]string{
				"roof_area":    "labor.roofing",
				"ridge_length": "labor.ridge",
			},
		},
		{
			Name:        "roof-plan-set",
			Description: "Plan sets with a bookmarked or titled roof plan sheet",
			Signature: Signature{
				OutlineTitles: []string{"roof plan"},
				TextMarkers:   []string{"roof plan"},
			},
			PageHints: []string{"roof plan", "roof framing plan", "roof details"},
			LaborKeys: map[string]string{
				"roof_area":    "labor.roofing",
				"ridge_length": "labor.ridge",
			},
		},
	}
}

func genericProfile() *Profile {
	return &Profile{
		Name:        GenericName,
		Description: "Any PDF; relevant pages are found by title only",
		PageHints:   []string{"roof plan", "roof framing plan", "roofing plan"},
		LaborKeys: map[string]string{
			"roof_area": "labor.roofing",
		},
	}
}
