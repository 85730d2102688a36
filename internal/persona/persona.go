// Package persona loads character definitions from YAML descriptors. One
// file per persona; the filename (without extension) is the persona slug.
// Definitions are immutable after load; Reload is an explicit operation.
package persona

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Identity is who the persona is.
type Identity struct {
	// Name is the display name the persona answers to. Required.
	Name string `yaml:"name"`

	Pronouns string `yaml:"pronouns"`

	// Summary is a one-line self-description.
	Summary string `yaml:"summary"`
}

// Voice shapes how replies sound.
type Voice struct {
	Tone string `yaml:"tone"`

	// Quirks are recurring speech habits, woven into the system prompt.
	Quirks []string `yaml:"quirks"`

	// AvoidPhrases lists wordings the persona never uses.
	AvoidPhrases []string `yaml:"avoid_phrases"`
}

// Definition is one loaded character descriptor.
type Definition struct {
	// Slug is the file-derived identifier, not part of the document.
	Slug string `yaml:"-"`

	Identity Identity `yaml:"identity"`

	// Personality is freeform prose describing temperament and values.
	// Required.
	Personality string `yaml:"personality"`

	// CommunicationStyle is freeform prose describing register, pacing and
	// formality. Required.
	CommunicationStyle string `yaml:"communication_style"`

	Voice Voice `yaml:"voice"`

	// Background is the persona's history, used verbatim in prompts.
	Background string `yaml:"background"`

	// Knowledge lists subject areas the persona is fluent in.
	Knowledge []string `yaml:"knowledge"`
}

// Validate checks the required descriptor fields.
func (d *Definition) Validate() error {
	var errs []error
	if strings.TrimSpace(d.Identity.Name) == "" {
		errs = append(errs, fmt.Errorf("persona %q: identity.name is required", d.Slug))
	}
	if strings.TrimSpace(d.Personality) == "" {
		errs = append(errs, fmt.Errorf("persona %q: personality is required", d.Slug))
	}
	if strings.TrimSpace(d.CommunicationStyle) == "" {
		errs = append(errs, fmt.Errorf("persona %q: communication_style is required", d.Slug))
	}
	return errors.Join(errs...)
}

// Store holds the loaded definitions for one descriptor directory.
type Store struct {
	dir string

	mu   sync.RWMutex
	defs map[string]*Definition
}

// NewStore loads every descriptor under dir. It fails when the directory is
// unreadable, contains no descriptors, or any descriptor is invalid.
func NewStore(dir string) (*Store, error) {
	s := &Store{dir: dir}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Get returns the definition for slug.
func (s *Store) Get(slug string) (*Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.defs[slug]
	if !ok {
		return nil, fmt.Errorf("persona: unknown persona %q", slug)
	}
	return d, nil
}

// Slugs lists the loaded persona identifiers in directory order.
func (s *Store) Slugs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.defs))
	for slug := range s.defs {
		out = append(out, slug)
	}
	return out
}

// Reload re-reads the descriptor directory. On any error the previously
// loaded set stays in place.
func (s *Store) Reload() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("persona: read dir %s: %w", s.dir, err)
	}

	defs := make(map[string]*Definition)
	var errs []error
	for _, entry := range entries {
		if entry.IsDir() || !isDescriptor(entry) {
			continue
		}
		d, err := loadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		defs[d.Slug] = d
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	if len(defs) == 0 {
		return fmt.Errorf("persona: no descriptors found in %s", s.dir)
	}

	s.mu.Lock()
	s.defs = defs
	s.mu.Unlock()
	return nil
}

func isDescriptor(entry fs.DirEntry) bool {
	ext := filepath.Ext(entry.Name())
	return ext == ".yaml" || ext == ".yml"
}

func loadFile(path string) (*Definition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("persona: open %s: %w", path, err)
	}
	defer f.Close()

	var d Definition
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&d); err != nil {
		return nil, fmt.Errorf("persona: parse %s: %w", path, err)
	}
	d.Slug = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}
