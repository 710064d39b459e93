package profile

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// maxRules bounds a profile's mapping count; ten target fields exist.
const maxRules = 10

// Store resolves import profiles: user-customized YAML files in dir
// shadow built-in templates of the same name.
type Store struct {
	dir string
}

// NewStore creates a profile store rooted at dir. The directory is
// created lazily on first Save.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Resolve returns the profile with the given name, preferring a user
// file over a built-in template.
func (s *Store) Resolve(name string) (ImportProfile, error) {
	if name == "" {
		return ImportProfile{}, errors.New("profile name is empty")
	}

	p, err := s.loadFile(name)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return ImportProfile{}, err
	}

	if p, ok := Builtin(name); ok {
		return p, nil
	}
	return ImportProfile{}, fmt.Errorf("unknown profile %q", name)
}

// Save persists a user-customized profile as YAML.
func (s *Store) Save(p ImportProfile) error {
	if err := Validate(p); err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(p)
	if err != nil {
		return err
	}
	return os.WriteFile(s.path(p.Name), data, 0o600)
}

func (s *Store) loadFile(name string) (ImportProfile, error) {
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		return ImportProfile{}, err
	}

	var p ImportProfile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return ImportProfile{}, fmt.Errorf("profile %q: %w", name, err)
	}
	if p.Name == "" {
		p.Name = name
	}
	if err := Validate(p); err != nil {
		return ImportProfile{}, err
	}
	return p, nil
}

func (s *Store) path(name string) string {
	// Profile names come from config; keep the file name boring.
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
	return filepath.Join(s.dir, safe+".yaml")
}

// Validate checks structural soundness of a profile. Rule params are
// not validated here: a bad regex degrades to its fallback at apply
// time, so saving one is allowed.
func Validate(p ImportProfile) error {
	if p.Name == "" {
		return errors.New("profile name is empty")
	}
	if len(p.Rules) > maxRules {
		return fmt.Errorf("profile %q has %d rules, max %d", p.Name, len(p.Rules), maxRules)
	}

	for field, rule := range p.Rules {
		switch field {
		case FieldFlightNumber, FieldDeparture, FieldArrival, FieldScheduledOut,
			FieldScheduledIn, FieldAircraft, FieldRole, FieldCheckIn, FieldCheckOut,
			FieldTripNumber:
		default:
			return fmt.Errorf("profile %q: unknown target field %q", p.Name, field)
		}

		switch rule.Method {
		case MethodDirect, MethodRegex, MethodSplit, MethodMultiline, "":
		default:
			return fmt.Errorf("profile %q: unknown method %q for field %q", p.Name, rule.Method, field)
		}

		switch rule.Source {
		case SourceSummary, SourceDescription, SourceLocation, SourceUID:
		default:
			return fmt.Errorf("profile %q: unknown source %q for field %q", p.Name, rule.Source, field)
		}
	}

	return nil
}
