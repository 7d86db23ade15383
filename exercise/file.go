package exercise

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// catalog is the on-disk layout of an exercise file
type catalog struct {
	Exercises []*Exercise `yaml:"exercises"`
}

// LoadFile reads a YAML catalog into a MemoryStore
func LoadFile(path string) (*MemoryStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read exercise catalog: %w", err)
	}
	store, err := Load(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return store, nil
}

// Load decodes a YAML catalog. Unknown fields are rejected.
func Load(r io.Reader) (*MemoryStore, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var c catalog
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse exercise catalog: %w", err)
	}

	store := &MemoryStore{exercises: make(map[string]*Exercise, len(c.Exercises))}
	for _, e := range c.Exercises {
		if _, dup := store.exercises[e.ID]; dup && e.ID != "" {
			return nil, fmt.Errorf("%w: duplicate exercise id %q", ErrInvalid, e.ID)
		}
		if err := store.Put(e); err != nil {
			return nil, err
		}
	}
	return store, nil
}
