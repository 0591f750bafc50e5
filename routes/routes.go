// Package routes loads the entity-to-route mapping used to roll per-gantry
// metrics up to route level.
package routes

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// Table provides lookup access to route assignments keyed by entity id.
type Table struct {
	routes map[string]string
}

// Purpose: Construct a lookup table keyed by normalized entity id.
// Key aspects: Uppercases and trims ids; rejects empty input.
// Upstream: LoadFile, tooling.
// Downstream: Table.Lookup.
func NewTable(mapping map[string]string) (*Table, error) {
	table := &Table{routes: make(map[string]string, len(mapping))}
	for id, route := range mapping {
		key := strings.ToUpper(strings.TrimSpace(id))
		route = strings.TrimSpace(route)
		if key == "" || route == "" {
			continue
		}
		table.routes[key] = route
	}
	if len(table.routes) == 0 {
		return nil, errors.New("routes: no usable entries")
	}
	return table, nil
}

// Purpose: Load an entity-to-route mapping file into a lookup table.
// Key aspects: YAML parser also accepts JSON; filters unusable entries.
// Upstream: analyzer startup or tooling.
// Downstream: NewTable.
func LoadFile(path string) (*Table, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("routes: read %s: %w", path, err)
	}
	var mapping map[string]string
	if err := yaml.Unmarshal(payload, &mapping); err != nil {
		return nil, fmt.Errorf("routes: parse %s: %w", path, err)
	}
	table, err := NewTable(mapping)
	if err != nil {
		return nil, fmt.Errorf("routes: %s contained no usable entries", path)
	}
	return table, nil
}

// Purpose: Return number of entries in the table.
// Key aspects: Safe on nil receiver.
// Upstream: Diagnostics.
// Downstream: None.
func (t *Table) Count() int {
	if t == nil {
		return 0
	}
	return len(t.routes)
}

// Purpose: Look up the route for an entity id.
// Key aspects: Normalizes the id; returns ("", false) when unmapped.
// Upstream: metrics route grouping.
// Downstream: Table.routes map.
func (t *Table) Lookup(entityID string) (string, bool) {
	if t == nil {
		return "", false
	}
	key := strings.ToUpper(strings.TrimSpace(entityID))
	if key == "" {
		return "", false
	}
	route, ok := t.routes[key]
	return route, ok
}

// Store provides atomic access to the latest route table so concurrent
// analysis runs share one mapping without locks.
type Store struct {
	ptr atomic.Pointer[Table]
}

// Purpose: Construct an empty atomic store for route tables.
// Key aspects: Uses atomic.Pointer for lock-free reads.
// Upstream: analyzer initialization.
// Downstream: Store.Set, Store.Lookup.
func NewStore() *Store {
	return &Store{}
}

// Purpose: Replace the stored route table atomically.
// Key aspects: Safe for concurrent readers.
// Upstream: mapping reload.
// Downstream: atomic pointer store.
func (s *Store) Set(table *Table) {
	if s == nil {
		return
	}
	s.ptr.Store(table)
}

// Purpose: Look up a route via the current table.
// Key aspects: Handles nil store/table safely.
// Upstream: metrics route grouping.
// Downstream: Table.Lookup.
func (s *Store) Lookup(entityID string) (string, bool) {
	if s == nil {
		return "", false
	}
	table := s.ptr.Load()
	if table == nil {
		return "", false
	}
	return table.Lookup(entityID)
}

// Purpose: Return number of entries in the current stored table.
// Key aspects: Safe on nil store/table.
// Upstream: Diagnostics.
// Downstream: Table.Count.
func (s *Store) Count() int {
	if s == nil {
		return 0
	}
	return s.ptr.Load().Count()
}

// Purpose: Write a route mapping to a JSON file for tooling round-trips.
// Key aspects: Ensures destination directory exists; writes indented JSON.
// Upstream: tooling.
// Downstream: os.WriteFile, json.MarshalIndent.
func WriteJSON(mapping map[string]string, path string) error {
	if len(mapping) == 0 {
		return errors.New("routes: no entries to write")
	}
	payload, err := json.MarshalIndent(mapping, "", "  ")
	if err != nil {
		return fmt.Errorf("routes: marshal json: %w", err)
	}
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("routes: mkdir %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return fmt.Errorf("routes: write file: %w", err)
	}
	return nil
}
