// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package workflow

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrGraphNotFound is returned by GraphStore.Get for unknown graph names.
var ErrGraphNotFound = errors.New("graph not found")

// GraphStore holds the loaded decision graphs, looked up by name only.
//
// Graphs are registered once at startup and are immutable afterward, so the
// store does no locking; the conversation core assumes a single in-flight
// turn (see the orchestrator package).
type GraphStore struct {
	graphs map[string]*Graph
	order  []string
}

// NewGraphStore returns an empty store.
func NewGraphStore() *GraphStore {
	return &GraphStore{graphs: make(map[string]*Graph)}
}

// Load parses a YAML definition and registers it under name. Re-loading an
// existing name replaces the graph; callers relying on saved positions get
// identical behavior because positions are keyed by name, not identity.
func (s *GraphStore) Load(name string, definition []byte) (*Graph, error) {
	g, err := ParseDefinition(name, definition)
	if err != nil {
		return nil, err
	}
	if _, exists := s.graphs[name]; !exists {
		s.order = append(s.order, name)
	}
	s.graphs[name] = g
	slog.Info("Loaded decision graph", "graph", name, "nodes", len(g.order), "entry", g.entry)
	return g, nil
}

// LoadDir loads every .yaml/.yml file in dir as a graph named after the file
// base name. Files are loaded in lexical order for deterministic Names().
func (s *GraphStore) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read graph directory %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, fname := range names {
		data, err := os.ReadFile(filepath.Join(dir, fname))
		if err != nil {
			return fmt.Errorf("failed to read graph file %s: %w", fname, err)
		}
		graphName := strings.TrimSuffix(fname, filepath.Ext(fname))
		if _, err := s.Load(graphName, data); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the named graph or ErrGraphNotFound.
func (s *GraphStore) Get(name string) (*Graph, error) {
	g, ok := s.graphs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrGraphNotFound, name)
	}
	return g, nil
}

// Has reports whether a graph is registered under name.
func (s *GraphStore) Has(name string) bool {
	_, ok := s.graphs[name]
	return ok
}

// Names returns the registered graph names in load order.
func (s *GraphStore) Names() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Resolve returns the node a ref points at, or false if the ref is zero or
// names an unknown graph or node.
func (s *GraphStore) Resolve(ref NodeRef) (*Node, bool) {
	if ref.IsZero() {
		return nil, false
	}
	g, ok := s.graphs[ref.Graph]
	if !ok {
		return nil, false
	}
	return g.Node(ref.Node)
}
