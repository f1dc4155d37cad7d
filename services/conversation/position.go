// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package conversation

import "github.com/AleutianAI/wayfinder/services/workflow"

// PositionTracker remembers the last visited node per graph, keyed by the
// stable graph name. Keying by name (never object identity) means two loads
// of the same graph name share progress; switching graphs never discards the
// other graph's saved position.
type PositionTracker struct {
	positions map[string]workflow.NodeRef
}

// NewPositionTracker returns an empty tracker.
func NewPositionTracker() *PositionTracker {
	return &PositionTracker{positions: make(map[string]workflow.NodeRef)}
}

// Get returns the saved position for a graph, if any.
func (t *PositionTracker) Get(graphName string) (workflow.NodeRef, bool) {
	ref, ok := t.positions[graphName]
	return ref, ok
}

// Set records ref as the current position of its graph.
func (t *PositionTracker) Set(ref workflow.NodeRef) {
	if ref.Graph == "" {
		return
	}
	t.positions[ref.Graph] = ref
}

// Snapshot returns a copy of the full position map, for state inspection.
func (t *PositionTracker) Snapshot() map[string]workflow.NodeRef {
	out := make(map[string]workflow.NodeRef, len(t.positions))
	for k, v := range t.positions {
		out[k] = v
	}
	return out
}
