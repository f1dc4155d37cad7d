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

import (
	"testing"

	"github.com/AleutianAI/wayfinder/services/workflow"
)

const testGraph = `
start:
  question: "Pick a color"
  options:
    red: red_response
    blue: blue_response
red_response:
  verdict: "Red is a warm color!"
blue_response:
  verdict: "Blue is a cool color!"
`

func newTestConversation(t *testing.T) *Conversation {
	t.Helper()
	store := workflow.NewGraphStore()
	if _, err := store.Load("test", []byte(testGraph)); err != nil {
		t.Fatalf("failed to load test graph: %v", err)
	}
	return New(store)
}

// =============================================================================
// CanUndo Tests
// =============================================================================

func TestCanUndo_EmptyLog(t *testing.T) {
	c := newTestConversation(t)
	if c.CanUndo() {
		t.Error("empty conversation should not allow undo")
	}
}

func TestCanUndo_Logic(t *testing.T) {
	c := newTestConversation(t)

	c.AppendBot("Hello")
	if c.CanUndo() {
		t.Error("bot-only log should not allow undo")
	}

	c.AppendUser("Hi")
	if c.CanUndo() {
		t.Error("trailing user message should not allow undo")
	}

	c.AppendBot("How can I help?")
	if !c.CanUndo() {
		t.Error("completed turn should allow undo")
	}

	c.AppendUser("Help me")
	if c.CanUndo() {
		t.Error("new trailing user message should not allow undo")
	}

	c.AppendBot("Sure!")
	if !c.CanUndo() {
		t.Error("completed second turn should allow undo")
	}
}

// =============================================================================
// Undo Tests
// =============================================================================

func TestUndo_NothingToUndo(t *testing.T) {
	c := newTestConversation(t)

	removed := c.Undo()
	if removed == nil || len(removed) != 0 {
		t.Errorf("Undo with nothing to undo = %v, want empty slice", removed)
	}
}

func TestUndo_RestoresStateExactly(t *testing.T) {
	c := newTestConversation(t)
	c.Greet()
	if _, err := c.Enter("test"); err != nil {
		t.Fatalf("Enter failed: %v", err)
	}
	c.AppendBot("Pick a color")

	lenBefore := c.log.Len()
	activeBefore := c.Active()

	// Simulate one completed turn: user chooses red, several bot messages.
	user := c.AppendUser("red")
	c.RecordTransition(workflow.NodeRef{Graph: "test", Node: "red_response"})
	bot1 := c.AppendBot("Got it.")
	bot2 := c.AppendBot("Red is a warm color!")

	if c.Active().Node != "red_response" {
		t.Fatalf("active node = %q, want red_response", c.Active().Node)
	}

	removed := c.Undo()

	// Returned ids are exactly the turn's appended messages.
	want := map[int64]bool{user.ID: true, bot1.ID: true, bot2.ID: true}
	if len(removed) != len(want) {
		t.Fatalf("removed %d ids, want %d", len(removed), len(want))
	}
	for _, id := range removed {
		if !want[id] {
			t.Errorf("unexpected removed id %d", id)
		}
	}

	// State restored exactly.
	if c.log.Len() != lenBefore {
		t.Errorf("log length = %d, want %d", c.log.Len(), lenBefore)
	}
	if c.Active() != activeBefore {
		t.Errorf("active = %+v, want %+v", c.Active(), activeBefore)
	}
	if pos, ok := c.positions.Get("test"); !ok || pos.Node != "start" {
		t.Errorf("tracked position = %+v, want start", pos)
	}
}

func TestUndo_MultipleTimes(t *testing.T) {
	c := newTestConversation(t)
	c.Greet()
	if _, err := c.Enter("test"); err != nil {
		t.Fatal(err)
	}
	c.AppendBot("Pick a color")

	c.AppendUser("red")
	c.RecordTransition(workflow.NodeRef{Graph: "test", Node: "red_response"})
	c.AppendBot("Red is a warm color!")

	first := c.Undo()
	if len(first) == 0 {
		t.Fatal("first undo should remove the completed turn")
	}

	// Only the greeting and the entry prompt remain.
	if c.CanUndo() {
		t.Error("no user messages remain, CanUndo should be false")
	}
	second := c.Undo()
	if len(second) != 0 {
		t.Errorf("second undo = %v, want empty", second)
	}
}

func TestUndo_NilSnapshotClearsActiveNode(t *testing.T) {
	c := newTestConversation(t)
	c.Greet()

	// User message before any graph was entered: snapshot is nil.
	c.AppendUser("hello there")
	if _, err := c.Enter("test"); err != nil {
		t.Fatal(err)
	}
	c.AppendBot("Pick a color")

	c.Undo()
	if !c.Active().IsZero() {
		t.Errorf("active = %+v, want zero ref", c.Active())
	}
}

// =============================================================================
// Message ID Tests
// =============================================================================

func TestMessageIDs_MonotonicAcrossUndo(t *testing.T) {
	c := newTestConversation(t)

	c.AppendBot("greeting") // id 1
	user := c.AppendUser("hi")
	c.AppendBot("reply")

	if user.ID != 2 {
		t.Fatalf("user id = %d, want 2", user.ID)
	}

	c.Undo() // removes ids 2, 3

	next := c.AppendUser("again")
	if next.ID != 4 {
		t.Errorf("id after undo = %d, want 4 (ids never reused)", next.ID)
	}

	var prev int64
	for _, m := range c.Messages() {
		if m.ID <= prev {
			t.Errorf("ids not strictly increasing: %d after %d", m.ID, prev)
		}
		prev = m.ID
	}
}

// =============================================================================
// Position Tracking Tests
// =============================================================================

func TestEnter_StartsAtEntryNode(t *testing.T) {
	c := newTestConversation(t)
	ref, err := c.Enter("test")
	if err != nil {
		t.Fatalf("Enter failed: %v", err)
	}
	if ref.Node != "start" {
		t.Errorf("entered node = %q, want start", ref.Node)
	}
	if c.Active() != ref {
		t.Errorf("active = %+v, want %+v", c.Active(), ref)
	}
}

func TestEnter_ResumesSavedPosition(t *testing.T) {
	store := workflow.NewGraphStore()
	if _, err := store.Load("test", []byte(testGraph)); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Load("other", []byte(testGraph)); err != nil {
		t.Fatal(err)
	}
	c := New(store)

	if _, err := c.Enter("test"); err != nil {
		t.Fatal(err)
	}
	c.RecordTransition(workflow.NodeRef{Graph: "test", Node: "red_response"})

	// Switching away must not discard test's saved position.
	if _, err := c.Enter("other"); err != nil {
		t.Fatal(err)
	}
	if c.Active().Graph != "other" {
		t.Fatalf("active graph = %q, want other", c.Active().Graph)
	}

	ref, err := c.Enter("test")
	if err != nil {
		t.Fatal(err)
	}
	if ref.Node != "red_response" {
		t.Errorf("resumed node = %q, want red_response", ref.Node)
	}
}

func TestEnter_UnknownGraph(t *testing.T) {
	c := newTestConversation(t)
	if _, err := c.Enter("missing"); err == nil {
		t.Fatal("expected error entering unknown graph, got nil")
	}
}

func TestPositions_KeyedByGraphName(t *testing.T) {
	store := workflow.NewGraphStore()
	if _, err := store.Load("test", []byte(testGraph)); err != nil {
		t.Fatal(err)
	}
	c := New(store)
	if _, err := c.Enter("test"); err != nil {
		t.Fatal(err)
	}
	c.RecordTransition(workflow.NodeRef{Graph: "test", Node: "red_response"})

	// A second load under the same name must share the saved position:
	// positions are keyed by name, not by graph identity.
	if _, err := store.Load("test", []byte(testGraph)); err != nil {
		t.Fatal(err)
	}
	ref, err := c.Enter("test")
	if err != nil {
		t.Fatal(err)
	}
	if ref.Node != "red_response" {
		t.Errorf("position after reload = %q, want red_response", ref.Node)
	}
}

func TestAppendUser_SnapshotsActiveNode(t *testing.T) {
	c := newTestConversation(t)

	noGraph := c.AppendUser("hello")
	if noGraph.Position != nil {
		t.Errorf("snapshot before entering a graph = %+v, want nil", noGraph.Position)
	}

	if _, err := c.Enter("test"); err != nil {
		t.Fatal(err)
	}
	withGraph := c.AppendUser("red")
	if withGraph.Position == nil || withGraph.Position.Node != "start" {
		t.Errorf("snapshot = %+v, want start", withGraph.Position)
	}
}
